// Package config holds the bot configuration: Feishu app credentials,
// AI provider groups, dispatch policy, and server settings.
package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

// FlexibleStringSlice accepts ["a", "b"], "a,b", and [123] in JSON.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = strings.Split(s, ",")
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the family bot.
type Config struct {
	Feishu   FeishuConfig   `json:"feishu"`
	AI       AIConfig       `json:"ai"`
	Dispatch DispatchConfig `json:"dispatch"`
	Server   ServerConfig   `json:"server"`
}

// FeishuConfig holds the Feishu/Lark app identity and webhook settings.
type FeishuConfig struct {
	AppID             string `json:"app_id"`
	AppSecret         string `json:"app_secret"`
	VerificationToken string `json:"verification_token,omitempty"`
	EncryptKey        string `json:"encrypt_key,omitempty"`
	Domain            string `json:"domain,omitempty"` // "feishu" (default), "lark", or custom URL
}

// AIConfig configures the completion request and the provider groups
// tried in priority order.
type AIConfig struct {
	BaseURL      string        `json:"base_url,omitempty"` // default base for groups without their own
	MaxTokens    int           `json:"max_tokens,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Groups       []GroupConfig `json:"groups"`
}

// GroupConfig is one provider group: a credential plus an ordered model
// list, tried as a unit before falling through to the next group.
// Shape selects the response format at load time:
//
//	"content-array": Anthropic messages API, text at content[0].text
//	"choices-array": OpenAI chat completions, text at choices[0].message.content
type GroupConfig struct {
	Name    string              `json:"name"`
	APIKey  string              `json:"api_key"`
	BaseURL string              `json:"base_url,omitempty"`
	Shape   string              `json:"shape,omitempty"` // default "choices-array"
	Models  FlexibleStringSlice `json:"models"`
}

// DispatchConfig selects the event concurrency policy.
type DispatchConfig struct {
	Policy        string `json:"policy,omitempty"`         // "queue" (default) or "spawn"
	MaxConcurrent int    `json:"max_concurrent,omitempty"` // spawn policy ceiling (default 8)
	QueueSize     int    `json:"queue_size,omitempty"`     // queue policy buffer (default 64)
}

// ServerConfig holds the webhook HTTP listener settings.
type ServerConfig struct {
	Port        int    `json:"port,omitempty"`         // default 5000
	WebhookPath string `json:"webhook_path,omitempty"` // default "/webhook"; "/" always accepts too
	RateLimit   int    `json:"rate_limit,omitempty"`   // events/minute per sender (default 30, 0=off)
}

const (
	ShapeContentArray = "content-array"
	ShapeChoicesArray = "choices-array"

	PolicyQueue = "queue"
	PolicySpawn = "spawn"
)

// NormalizeModels splits stray comma-joined entries, trims whitespace, and
// drops empties left behind by accidental separators in static model lists.
func NormalizeModels(models []string) []string {
	out := make([]string, 0, len(models))
	for _, raw := range models {
		for _, m := range strings.Split(raw, ",") {
			m = strings.TrimSpace(m)
			if m != "" {
				out = append(out, m)
			}
		}
	}
	return out
}

// Validate checks required fields and normalizes the provider groups.
// Groups with no usable models or no credential are dropped with an error
// listing them, so a misconfigured group fails loudly at startup rather
// than silently at request time.
func (c *Config) Validate() error {
	if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
		return fmt.Errorf("feishu app_id and app_secret are required")
	}

	kept := make([]GroupConfig, 0, len(c.AI.Groups))
	for _, g := range c.AI.Groups {
		g.Models = NormalizeModels(g.Models)
		if len(g.Models) == 0 || g.APIKey == "" {
			slog.Warn("skipping unusable provider group",
				"group", g.Name,
				"models", len(g.Models),
				"has_key", g.APIKey != "",
			)
			continue
		}
		switch g.Shape {
		case ShapeContentArray, ShapeChoicesArray:
		case "":
			g.Shape = ShapeChoicesArray
		default:
			return fmt.Errorf("provider group %q: unknown shape %q", g.Name, g.Shape)
		}
		if g.BaseURL == "" {
			g.BaseURL = c.AI.BaseURL
		}
		if g.BaseURL == "" {
			return fmt.Errorf("provider group %q: no base_url and no ai.base_url default", g.Name)
		}
		kept = append(kept, g)
	}
	if len(kept) == 0 {
		return fmt.Errorf("no usable provider groups configured")
	}
	c.AI.Groups = kept

	switch c.Dispatch.Policy {
	case "", PolicyQueue, PolicySpawn:
	default:
		return fmt.Errorf("dispatch policy must be \"queue\" or \"spawn\", got %q", c.Dispatch.Policy)
	}
	return nil
}
