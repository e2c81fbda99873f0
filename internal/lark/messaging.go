package lark

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// MaxMessageLen is the longest card text the platform accepts.
const MaxMessageLen = 4000

const truncationMarker = "\n\n...(message truncated)"

// Truncate caps text at maxLen runes. Truncated text ends with the
// truncation marker and the result is exactly maxLen runes long; text at or
// below the cap is returned unchanged.
func Truncate(text string, maxLen int) string {
	r := []rune(text)
	if len(r) <= maxLen {
		return text
	}
	marker := []rune(truncationMarker)
	return string(r[:maxLen-len(marker)]) + truncationMarker
}

// buildCard builds the interactive card payload carrying markdown text.
func buildCard(text string) string {
	card := map[string]interface{}{
		"elements": []map[string]interface{}{
			{
				"tag":     "markdown",
				"content": text,
			},
		},
	}
	data, _ := json.Marshal(card)
	return string(data)
}

// Reply posts an interactive card as a reply to messageID and returns the
// new message's ID, which can later be passed to Update.
func (c *Client) Reply(ctx context.Context, messageID, text string) (string, error) {
	path := "/open-apis/im/v1/messages/" + messageID + "/reply"
	body := map[string]string{
		"msg_type": "interactive",
		"content":  buildCard(Truncate(text, MaxMessageLen)),
	}
	resp, err := c.doJSON(ctx, "POST", path, body)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("reply message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var data struct {
		MessageID string `json:"message_id"`
	}
	json.Unmarshal(resp.Data, &data)
	return data.MessageID, nil
}

// Update replaces the displayed content of a previously sent card.
// Repeated updates with the same text are safe.
func (c *Client) Update(ctx context.Context, messageID, text string) error {
	path := "/open-apis/im/v1/messages/" + messageID
	body := map[string]string{
		"msg_type": "interactive",
		"content":  buildCard(Truncate(text, MaxMessageLen)),
	}
	resp, err := c.doJSON(ctx, "PATCH", path, body)
	if err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("update message: code=%d msg=%s", resp.Code, resp.Msg)
	}
	return nil
}

// GetBotInfo fetches the bot's own open_id from /open-apis/bot/v3/info.
// Needed once at startup for mention detection in groups.
func (c *Client) GetBotInfo(ctx context.Context) (string, error) {
	resp, err := c.doJSON(ctx, "GET", "/open-apis/bot/v3/info", nil)
	if err != nil {
		return "", err
	}
	if resp.Code != 0 {
		return "", fmt.Errorf("get bot info: code=%d msg=%s", resp.Code, resp.Msg)
	}
	var result struct {
		Bot struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	json.Unmarshal(resp.Data, &result)
	return result.Bot.OpenID, nil
}

// CardReplier adapts Client to the pipeline's reply contract.
type CardReplier struct {
	client *Client
}

// NewCardReplier wraps a Client for use by the pipeline.
func NewCardReplier(client *Client) *CardReplier {
	return &CardReplier{client: client}
}

// Send creates a card reply anchored to the inbound message. Failures are
// logged; the empty handle tells the caller no card exists yet.
func (r *CardReplier) Send(ctx context.Context, sourceMessageID, text string) (string, error) {
	replyID, err := r.client.Reply(ctx, sourceMessageID, text)
	if err != nil {
		slog.Warn("lark card send failed", "message_id", sourceMessageID, "error", err)
		return "", err
	}
	return replyID, nil
}

// Update replaces a card's content. Failures are logged and returned, but
// callers treat them as non-fatal: the user just sees stale feedback.
func (r *CardReplier) Update(ctx context.Context, replyID, text string) error {
	if err := r.client.Update(ctx, replyID, text); err != nil {
		slog.Warn("lark card update failed", "reply_id", replyID, "error", err)
		return err
	}
	return nil
}
