package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults. The system prompt and
// provider groups are expected to come from the config file or env.
func Default() *Config {
	return &Config{
		Feishu: FeishuConfig{
			Domain: "feishu",
		},
		AI: AIConfig{
			MaxTokens: 4096,
		},
		Dispatch: DispatchConfig{
			Policy:        "queue",
			MaxConcurrent: 8,
			QueueSize:     64,
		},
		Server: ServerConfig{
			Port:        5000,
			WebhookPath: "/webhook",
			RateLimit:   30,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: env-only deployments are supported.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values. Names follow the historical deployment
// (FEISHU_*, AI_*, SYSTEM_PROMPT, PORT).
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("FEISHU_APP_ID", &c.Feishu.AppID)
	envStr("FEISHU_APP_SECRET", &c.Feishu.AppSecret)
	envStr("FEISHU_VERIFICATION_TOKEN", &c.Feishu.VerificationToken)
	envStr("FEISHU_ENCRYPT_KEY", &c.Feishu.EncryptKey)
	envStr("FEISHU_DOMAIN", &c.Feishu.Domain)

	envStr("AI_API_BASE", &c.AI.BaseURL)
	envStr("SYSTEM_PROMPT", &c.AI.SystemPrompt)
	if v := os.Getenv("AI_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.AI.MaxTokens = n
		}
	}

	// Per-group API keys: AI_KEY_<GROUP NAME, upper-cased>.
	for i := range c.AI.Groups {
		key := "AI_KEY_" + envKeySuffix(c.AI.Groups[i].Name)
		envStr(key, &c.AI.Groups[i].APIKey)
	}

	envStr("DISPATCH_POLICY", &c.Dispatch.Policy)
	if v := os.Getenv("DISPATCH_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Dispatch.MaxConcurrent = n
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
}

func envKeySuffix(name string) string {
	out := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
