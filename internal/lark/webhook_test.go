package lark

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
)

func messageEventBody(messageID, token string) string {
	return `{
		"schema": "2.0",
		"header": {"event_id": "evt-1", "event_type": "im.message.receive_v1", "token": "` + token + `"},
		"event": {
			"sender": {"sender_id": {"open_id": "ou_sender"}},
			"message": {
				"message_id": "` + messageID + `",
				"chat_id": "oc_chat",
				"chat_type": "p2p",
				"message_type": "text",
				"content": "{\"text\":\"hello\"}"
			}
		}
	}`
}

func TestWebhook_URLVerificationChallenge(t *testing.T) {
	h := NewWebhookHandler("secret", nil, func(bus.InboundEvent) {
		t.Error("handshake must not submit an event")
	})

	body := `{"type":"url_verification","challenge":"ch-42","token":"whatever"}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Challenge != "ch-42" {
		t.Errorf("challenge = %q, want ch-42", resp.Challenge)
	}
}

func TestWebhook_TokenMismatchRejected(t *testing.T) {
	submitted := 0
	h := NewWebhookHandler("secret", nil, func(bus.InboundEvent) { submitted++ })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(messageEventBody("om_1", "wrong"))))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if submitted != 0 {
		t.Errorf("submitted %d events past a bad token", submitted)
	}
}

func TestWebhook_MessageEventSubmitted(t *testing.T) {
	var got []bus.InboundEvent
	h := NewWebhookHandler("secret", nil, func(ev bus.InboundEvent) { got = append(got, ev) })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(messageEventBody("om_1", "secret"))))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var ack struct {
		Code int `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil || ack.Code != 0 {
		t.Errorf("ack = %s, want code 0", rec.Body.String())
	}
	if len(got) != 1 {
		t.Fatalf("submitted %d events, want 1", len(got))
	}
	if got[0].EventID != "om_1" || got[0].Text != "hello" || got[0].ChatKind != bus.ChatDirect {
		t.Errorf("event = %+v", got[0])
	}
}

func TestWebhook_EmptyConfiguredTokenSkipsCheck(t *testing.T) {
	submitted := 0
	h := NewWebhookHandler("", nil, func(bus.InboundEvent) { submitted++ })

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
		strings.NewReader(messageEventBody("om_1", "anything"))))

	if rec.Code != http.StatusOK || submitted != 1 {
		t.Errorf("status = %d submitted = %d, want 200 and 1", rec.Code, submitted)
	}
}

func TestWebhook_MalformedEventAckedAndDropped(t *testing.T) {
	submitted := 0
	h := NewWebhookHandler("secret", nil, func(bus.InboundEvent) { submitted++ })

	// Valid token, message event missing message_id.
	body := `{
		"header": {"event_type": "im.message.receive_v1", "token": "secret"},
		"event": {"message": {"chat_id": "oc_chat", "message_type": "text", "content": "{}"}}
	}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 ack even for dropped events", rec.Code)
	}
	if submitted != 0 {
		t.Errorf("submitted %d events, want 0", submitted)
	}
}

func TestWebhook_RateLimitDropsExcess(t *testing.T) {
	submitted := 0
	// 1 event/minute with burst 5: the sixth rapid event is dropped.
	h := NewWebhookHandler("secret", NewSenderLimiter(1), func(bus.InboundEvent) { submitted++ })

	for i := 0; i < 8; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/webhook",
			strings.NewReader(messageEventBody("om_1", "secret"))))
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, rec.Code)
		}
	}
	if submitted != 5 {
		t.Errorf("submitted %d events, want burst of 5", submitted)
	}
}

func TestWebhook_HealthAndNonPOST(t *testing.T) {
	h := NewWebhookHandler("secret", nil, func(bus.InboundEvent) {})
	mux := h.Mux("/webhook")

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", rec.Code)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/webhook", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("GET webhook status = %d, want 200", rec.Code)
	}
}
