// Package bus defines the normalized message types exchanged between the
// webhook ingestion layer and the processing pipeline.
package bus

// ChatKind distinguishes direct chats from group chats.
type ChatKind string

const (
	ChatDirect ChatKind = "direct"
	ChatGroup  ChatKind = "group"
)

// Mention is a structured reference to a chat participant embedded in
// message text. Key is the "@_user_N" placeholder occupying the text.
type Mention struct {
	Key    string `json:"key"`
	OpenID string `json:"open_id"`
	Name   string `json:"name,omitempty"`
}

// InboundEvent is one chat message notification, already unwrapped from the
// platform envelope by the ingestion layer. Immutable once constructed.
type InboundEvent struct {
	EventID  string    `json:"event_id"` // platform message_id, dedup key
	ChatID   string    `json:"chat_id"`
	ChatKind ChatKind  `json:"chat_kind"`
	SenderID string    `json:"sender_id"` // sender open_id
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions,omitempty"`
}

// ConversationKey isolates context per (sender, chat) pair so that two
// people talking in the same group keep separate histories.
func (e InboundEvent) ConversationKey() string {
	return e.SenderID + "_" + e.ChatID
}
