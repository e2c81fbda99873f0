package lark

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
)

func TestTruncate(t *testing.T) {
	tests := []struct {
		name string
		text string
		max  int
	}{
		{name: "short text unchanged", text: "hello", max: 4000},
		{name: "exactly at cap unchanged", text: strings.Repeat("x", 100), max: 100},
		{name: "over cap truncated", text: strings.Repeat("x", 200), max: 100},
		{name: "multibyte runes counted not bytes", text: strings.Repeat("你", 200), max: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Truncate(tt.text, tt.max)
			if len([]rune(tt.text)) <= tt.max {
				if got != tt.text {
					t.Errorf("Truncate changed text under the cap: %q", got)
				}
				return
			}
			if n := len([]rune(got)); n != tt.max {
				t.Errorf("truncated length = %d runes, want exactly %d", n, tt.max)
			}
			if !strings.HasSuffix(got, "...(message truncated)") {
				t.Errorf("truncated text missing marker suffix: %q", got[len(got)-40:])
			}
		})
	}
}

func TestParseMessageContent(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		messageType string
		want        string
	}{
		{
			name:        "plain text",
			content:     `{"text":"hello world"}`,
			messageType: "text",
			want:        "hello world",
		},
		{
			name:        "text with mention placeholder kept",
			content:     `{"text":"@_user_1 what time is it"}`,
			messageType: "text",
			want:        "@_user_1 what time is it",
		},
		{
			name:        "image placeholder",
			content:     `{"image_key":"img_v2_xxx"}`,
			messageType: "image",
			want:        "[image]",
		},
		{
			name:        "file with name",
			content:     `{"file_key":"f1","file_name":"report.pdf"}`,
			messageType: "file",
			want:        "[file: report.pdf]",
		},
		{
			name:        "unknown type placeholder",
			content:     `{"duration":12}`,
			messageType: "audio",
			want:        "[audio message]",
		},
		{
			name:        "empty content",
			content:     "",
			messageType: "text",
			want:        "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseMessageContent(tt.content, tt.messageType); got != tt.want {
				t.Errorf("ParseMessageContent = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseMessageContent_PostFlattening(t *testing.T) {
	content := `{
		"zh_cn": {
			"title": "notes",
			"content": [
				[{"tag":"text","text":"first line "},{"tag":"a","href":"https://example.com","text":"link"}],
				[{"tag":"at","user_name":"Alice","user_id":"ou_x"},{"tag":"text","text":" please review"}],
				[{"tag":"img","image_key":"img_x"}]
			]
		}
	}`

	got := ParseMessageContent(content, "post")
	want := "first line https://example.com\n@Alice please review\n[image]"
	if got != want {
		t.Errorf("post flatten = %q, want %q", got, want)
	}
}

func TestNormalizeEvent(t *testing.T) {
	raw := `{
		"schema": "2.0",
		"header": {"event_id": "evt-123", "event_type": "im.message.receive_v1", "token": "tok"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_sender"}},
			"message": {
				"message_id": "om_abc",
				"chat_id": "oc_chat",
				"chat_type": "group",
				"message_type": "text",
				"content": "{\"text\":\"@_user_1 hi\"}",
				"mentions": [{"key": "@_user_1", "id": {"open_id": "ou_bot"}, "name": "Bot"}]
			}
		}
	}`

	var ev MessageEvent
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := ev.NormalizeEvent()
	if err != nil {
		t.Fatalf("NormalizeEvent: %v", err)
	}

	if got.EventID != "om_abc" {
		t.Errorf("EventID = %q, want om_abc", got.EventID)
	}
	if got.ChatID != "oc_chat" || got.ChatKind != bus.ChatGroup {
		t.Errorf("chat = %q/%q, want oc_chat/group", got.ChatID, got.ChatKind)
	}
	if got.SenderID != "ou_sender" {
		t.Errorf("SenderID = %q, want ou_sender", got.SenderID)
	}
	if got.Text != "@_user_1 hi" {
		t.Errorf("Text = %q", got.Text)
	}
	if len(got.Mentions) != 1 || got.Mentions[0].OpenID != "ou_bot" || got.Mentions[0].Key != "@_user_1" {
		t.Errorf("Mentions = %+v", got.Mentions)
	}

	if got.ConversationKey() != "ou_sender_oc_chat" {
		t.Errorf("ConversationKey = %q, want ou_sender_oc_chat", got.ConversationKey())
	}
}

func TestNormalizeEvent_MissingFields(t *testing.T) {
	var ev MessageEvent
	ev.Event.Message.ChatID = "oc_chat"
	if _, err := ev.NormalizeEvent(); err == nil {
		t.Error("missing message_id accepted, want error")
	}

	var ev2 MessageEvent
	ev2.Event.Message.MessageID = "om_abc"
	if _, err := ev2.NormalizeEvent(); err == nil {
		t.Error("missing chat_id accepted, want error")
	}

	var ev3 MessageEvent
	ev3.Event.Message.MessageID = "om_abc"
	ev3.Event.Message.ChatID = "oc_chat"
	got, err := ev3.NormalizeEvent()
	if err != nil {
		t.Fatalf("NormalizeEvent: %v", err)
	}
	if got.SenderID != "unknown" {
		t.Errorf("SenderID = %q, want unknown fallback", got.SenderID)
	}
	if got.ChatKind != bus.ChatDirect {
		t.Errorf("ChatKind = %q, want direct for p2p/absent chat_type", got.ChatKind)
	}
}
