package lark

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
)

// MessageEvent is the im.message.receive_v1 callback body.
type MessageEvent struct {
	Schema string `json:"schema"`
	Header struct {
		EventID   string `json:"event_id"`
		EventType string `json:"event_type"`
		Token     string `json:"token"`
	} `json:"header"`
	Event struct {
		Sender struct {
			SenderID struct {
				OpenID string `json:"open_id"`
			} `json:"sender_id"`
		} `json:"sender"`
		Message struct {
			MessageID   string `json:"message_id"`
			ChatID      string `json:"chat_id"`
			ChatType    string `json:"chat_type"` // "p2p" or "group"
			MessageType string `json:"message_type"`
			Content     string `json:"content"`
			Mentions    []struct {
				Key string `json:"key"`
				ID  struct {
					OpenID string `json:"open_id"`
				} `json:"id"`
				Name string `json:"name"`
			} `json:"mentions"`
		} `json:"message"`
	} `json:"event"`
}

// NormalizeEvent converts a raw callback into the pipeline's InboundEvent.
// Returns an error for events missing required fields; those are dropped
// silently by the caller.
func (e *MessageEvent) NormalizeEvent() (bus.InboundEvent, error) {
	msg := &e.Event.Message
	if msg.MessageID == "" {
		return bus.InboundEvent{}, fmt.Errorf("event missing message_id")
	}
	if msg.ChatID == "" {
		return bus.InboundEvent{}, fmt.Errorf("event missing chat_id")
	}

	senderID := e.Event.Sender.SenderID.OpenID
	if senderID == "" {
		senderID = "unknown"
	}

	kind := bus.ChatDirect
	if msg.ChatType == "group" {
		kind = bus.ChatGroup
	}

	mentions := make([]bus.Mention, 0, len(msg.Mentions))
	for _, m := range msg.Mentions {
		mentions = append(mentions, bus.Mention{
			Key:    m.Key,
			OpenID: m.ID.OpenID,
			Name:   m.Name,
		})
	}

	return bus.InboundEvent{
		EventID:  msg.MessageID,
		ChatID:   msg.ChatID,
		ChatKind: kind,
		SenderID: senderID,
		Text:     ParseMessageContent(msg.Content, msg.MessageType),
		Mentions: mentions,
	}, nil
}

// ParseMessageContent extracts plain text from the JSON-encoded content
// field. Text and post (rich text) messages are flattened; other types get
// a bracketed placeholder.
func ParseMessageContent(rawContent, messageType string) string {
	if rawContent == "" {
		return ""
	}

	switch messageType {
	case "text":
		var textMsg struct {
			Text string `json:"text"`
		}
		if err := json.Unmarshal([]byte(rawContent), &textMsg); err == nil {
			return textMsg.Text
		}
		return rawContent

	case "post":
		return parsePostContent(rawContent)

	case "image":
		return "[image]"

	case "file":
		var fileMsg struct {
			FileName string `json:"file_name"`
		}
		if err := json.Unmarshal([]byte(rawContent), &fileMsg); err == nil {
			return fmt.Sprintf("[file: %s]", fileMsg.FileName)
		}
		return "[file]"

	default:
		return fmt.Sprintf("[%s message]", messageType)
	}
}

func parsePostContent(rawContent string) string {
	var post map[string]interface{}
	if err := json.Unmarshal([]byte(rawContent), &post); err != nil {
		return rawContent
	}

	var langContent interface{}
	for _, lang := range []string{"zh_cn", "en_us"} {
		if lc, ok := post[lang]; ok {
			langContent = lc
			break
		}
	}
	if langContent == nil {
		for _, v := range post {
			langContent = v
			break
		}
	}

	langMap, ok := langContent.(map[string]interface{})
	if !ok {
		return rawContent
	}
	contentArr, ok := langMap["content"].([]interface{})
	if !ok {
		return rawContent
	}

	var textParts []string
	for _, para := range contentArr {
		paraArr, ok := para.([]interface{})
		if !ok {
			continue
		}
		var lineParts []string
		for _, elem := range paraArr {
			elemMap, ok := elem.(map[string]interface{})
			if !ok {
				continue
			}
			tag, _ := elemMap["tag"].(string)
			switch tag {
			case "text", "md":
				if t, ok := elemMap["text"].(string); ok {
					lineParts = append(lineParts, t)
				}
			case "at":
				if name, ok := elemMap["user_name"].(string); ok {
					lineParts = append(lineParts, "@"+name)
				}
			case "a":
				if href, ok := elemMap["href"].(string); ok {
					lineParts = append(lineParts, href)
				}
			case "img":
				lineParts = append(lineParts, "[image]")
			}
		}
		if len(lineParts) > 0 {
			textParts = append(textParts, strings.Join(lineParts, ""))
		}
	}

	return strings.Join(textParts, "\n")
}
