package providers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// FallbackReply is returned verbatim when every configured (group, model)
// pair fails. Complete never surfaces a provider outage as an error.
const FallbackReply = "Sorry, all models are unavailable right now. Please try again later."

const anthropicAPIVersion = "2023-06-01"

// Router tries an ordered list of provider groups, and models within each
// group, until one returns a completion.
type Router struct {
	groups       []Group
	systemPrompt string
	maxTokens    int
	client       *http.Client
}

// NewRouter builds a router over the configured groups. The system prompt
// is prepended once to every request.
func NewRouter(groups []Group, systemPrompt string, maxTokens int) *Router {
	if maxTokens <= 0 {
		maxTokens = 4096
	}
	return &Router{
		groups:       groups,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		client:       &http.Client{Timeout: 60 * time.Second},
	}
}

// Complete asks each (group, model) pair in configured order for a reply to
// the conversation and short-circuits on the first success. A pair is never
// retried; transport errors, error payloads, and empty completions all just
// advance to the next candidate. With every pair exhausted the fixed
// fallback sentence is returned.
func (r *Router) Complete(ctx context.Context, turns []Turn) string {
	for _, group := range r.groups {
		for _, model := range group.Models {
			start := time.Now()
			text, err := r.call(ctx, group, model, turns)
			if err != nil {
				slog.Warn("model call failed, trying next",
					"group", group.Name,
					"model", model,
					"error", err,
				)
				continue
			}
			slog.Info("model call succeeded",
				"group", group.Name,
				"model", model,
				"duration", time.Since(start).Round(time.Millisecond),
			)
			return text
		}
	}

	slog.Error("all provider groups exhausted")
	return FallbackReply
}

func (r *Router) call(ctx context.Context, group Group, model string, turns []Turn) (string, error) {
	switch group.Shape {
	case ShapeContentArray:
		return r.callContentArray(ctx, group, model, turns)
	default:
		return r.callChoicesArray(ctx, group, model, turns)
	}
}
