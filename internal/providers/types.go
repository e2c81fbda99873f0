// Package providers implements chat-completion calls against OpenAI- and
// Anthropic-shaped endpoints, with ordered group/model fallback.
package providers

// Turn is one conversation message.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Shape of a provider group's response format, resolved at config load.
const (
	ShapeContentArray = "content-array" // Anthropic messages API
	ShapeChoicesArray = "choices-array" // OpenAI chat completions
)

// Group is one provider group: a credential plus an ordered candidate model
// list, tried as a unit before falling through to the next group.
// Static after load.
type Group struct {
	Name    string
	APIKey  string
	BaseURL string
	Shape   string
	Models  []string
}
