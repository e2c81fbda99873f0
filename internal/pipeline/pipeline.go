// Package pipeline orchestrates one inbound event end to end: dedup,
// mention gating, context building, provider fallback, and the
// queued → thinking → answered card lifecycle.
package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/AI-Wallfacer/feishu-family-bot/internal/bus"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/dedup"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/history"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/lark"
	"github.com/AI-Wallfacer/feishu-family-bot/internal/providers"
)

const thinkingText = "🤔 Thinking..."

// Replier sends and edits outbound cards. Implementations absorb network
// failures: an error just means the user sees no or stale feedback.
type Replier interface {
	Send(ctx context.Context, sourceMessageID, text string) (string, error)
	Update(ctx context.Context, replyID, text string) error
}

// Completer produces the assistant reply for a conversation. It never
// fails: a provider outage yields a fixed fallback sentence.
type Completer interface {
	Complete(ctx context.Context, turns []providers.Turn) string
}

// Pipeline processes inbound events. All collaborators are injected so
// tests can substitute fakes.
type Pipeline struct {
	replier   Replier
	completer Completer
	history   *history.Store
	guard     *dedup.Guard
	botOpenID string
}

// New wires a pipeline. botOpenID gates group-chat mentions; when empty
// (bot probe failed at startup) group messages are never answered.
func New(replier Replier, completer Completer, hist *history.Store, guard *dedup.Guard, botOpenID string) *Pipeline {
	return &Pipeline{
		replier:   replier,
		completer: completer,
		history:   hist,
		guard:     guard,
		botOpenID: botOpenID,
	}
}

// Process runs one event through the pipeline. pendingReplyID carries the
// "queued" placeholder card left by the queue dispatcher, or "" when none
// exists. Nothing escapes: a malformed event or failing collaborator must
// never take down the worker loop.
func (p *Pipeline) Process(ctx context.Context, ev bus.InboundEvent, pendingReplyID string) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("pipeline run panicked", "event_id", ev.EventID, "panic", r)
		}
	}()

	runID := uuid.NewString()
	log := slog.With("run_id", runID, "event_id", ev.EventID)

	if !p.guard.SeenOrMark(ev.EventID) {
		log.Debug("event deduplicated")
		return
	}

	text := ev.Text
	if ev.ChatKind == bus.ChatGroup {
		if !p.mentioned(ev.Mentions) {
			log.Debug("group message without bot mention, skipping")
			return
		}
		text = stripMentions(text, ev.Mentions)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		log.Debug("empty message after mention strip, skipping")
		return
	}

	log.Info("processing message",
		"chat_kind", ev.ChatKind,
		"sender_id", ev.SenderID,
		"preview", previewText(text, 80),
	)

	// Thinking indicator: reuse the queue placeholder when one exists.
	thinkingID := pendingReplyID
	if thinkingID != "" {
		p.replier.Update(ctx, thinkingID, thinkingText)
	} else {
		thinkingID, _ = p.replier.Send(ctx, ev.EventID, thinkingText)
	}

	key := ev.ConversationKey()
	turns := p.history.AppendUser(key, text)

	reply := lark.Truncate(p.completer.Complete(ctx, turns), lark.MaxMessageLen)
	p.history.AppendAssistant(key, reply)

	if thinkingID != "" {
		if err := p.replier.Update(ctx, thinkingID, reply); err != nil {
			log.Warn("final card update failed", "error", err)
		}
	} else {
		// The thinking send failed; fall back to a fresh reply.
		if _, err := p.replier.Send(ctx, ev.EventID, reply); err != nil {
			log.Warn("final card send failed", "error", err)
		}
	}
	log.Info("answered", "reply_len", len(reply))
}

func (p *Pipeline) mentioned(mentions []bus.Mention) bool {
	if p.botOpenID == "" {
		return false
	}
	for _, m := range mentions {
		if m.OpenID == p.botOpenID {
			return true
		}
	}
	return false
}

// stripMentions removes every mention placeholder token so the model never
// sees "@_user_1" noise.
func stripMentions(text string, mentions []bus.Mention) string {
	for _, m := range mentions {
		if m.Key != "" {
			text = strings.ReplaceAll(text, m.Key, "")
		}
	}
	return strings.TrimSpace(text)
}

func previewText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
