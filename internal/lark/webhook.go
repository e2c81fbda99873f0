package lark

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
)

const eventTypeMessageReceive = "im.message.receive_v1"

// maxTrackedSenders caps the rate-limiter map so rotating sender IDs
// cannot exhaust memory.
const maxTrackedSenders = 4096

// SenderLimiter applies a per-sender token bucket to inbound events.
type SenderLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

// NewSenderLimiter allows eventsPerMinute events per sender with a small
// burst. eventsPerMinute <= 0 disables limiting.
func NewSenderLimiter(eventsPerMinute int) *SenderLimiter {
	if eventsPerMinute <= 0 {
		return nil
	}
	return &SenderLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Every(time.Minute / time.Duration(eventsPerMinute)),
		burst:    5,
	}
}

// Allow reports whether the sender is within its rate.
func (l *SenderLimiter) Allow(senderID string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.limiters) >= maxTrackedSenders {
		for k := range l.limiters {
			delete(l.limiters, k)
			break
		}
	}
	lim, ok := l.limiters[senderID]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[senderID] = lim
	}
	return lim.Allow()
}

// WebhookHandler decodes Feishu event callbacks and hands normalized events
// to the submit callback. It answers the platform immediately: processing
// happens elsewhere.
type WebhookHandler struct {
	verificationToken string
	limiter           *SenderLimiter
	submit            func(bus.InboundEvent)
}

// NewWebhookHandler builds the handler. verificationToken may be empty, in
// which case the token check is skipped (local development).
func NewWebhookHandler(verificationToken string, limiter *SenderLimiter, submit func(bus.InboundEvent)) *WebhookHandler {
	return &WebhookHandler{
		verificationToken: verificationToken,
		limiter:           limiter,
		submit:            submit,
	}
}

// ServeHTTP handles URL verification challenges and message events.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	var envelope struct {
		Type      string `json:"type"`
		Challenge string `json:"challenge"`
		Token     string `json:"token"`
		Header    struct {
			EventType string `json:"event_type"`
			Token     string `json:"token"`
		} `json:"header"`
	}
	body := json.RawMessage{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid body"})
		return
	}

	// URL verification handshake.
	if envelope.Type == "url_verification" {
		slog.Info("lark url verification", "challenge", envelope.Challenge)
		writeJSON(w, http.StatusOK, map[string]string{"challenge": envelope.Challenge})
		return
	}

	if h.verificationToken != "" {
		token := envelope.Header.Token
		if token == "" {
			token = envelope.Token
		}
		if token != h.verificationToken {
			slog.Warn("lark webhook token mismatch")
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
			return
		}
	}

	if envelope.Header.EventType == eventTypeMessageReceive {
		var event MessageEvent
		if err := json.Unmarshal(body, &event); err != nil {
			slog.Debug("lark event decode failed", "error", err)
		} else if inbound, err := event.NormalizeEvent(); err != nil {
			slog.Debug("lark event dropped", "error", err)
		} else if !h.limiter.Allow(inbound.SenderID) {
			slog.Warn("lark event rate limited", "sender_id", inbound.SenderID)
		} else {
			h.submit(inbound)
		}
	}

	// Always ack promptly so the platform does not retry.
	writeJSON(w, http.StatusOK, map[string]int{"code": 0})
}

// Mux returns an http.Handler with the webhook mounted at path and at "/",
// plus a GET /health endpoint.
func (h *WebhookHandler) Mux(path string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/", h)
	if path != "" && path != "/" {
		mux.Handle(path, h)
	}
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
