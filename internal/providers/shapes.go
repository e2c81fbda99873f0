package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// callContentArray posts to the Anthropic-style messages endpoint and
// extracts text from the content block array.
func (r *Router) callContentArray(ctx context.Context, group Group, model string, turns []Turn) (string, error) {
	body := map[string]interface{}{
		"model":      model,
		"max_tokens": r.maxTokens,
		"system":     r.systemPrompt,
		"messages":   turns,
	}

	data, err := r.post(ctx, group.BaseURL+"/v1/messages", body, func(req *http.Request) {
		req.Header.Set("x-api-key", group.APIKey)
		req.Header.Set("anthropic-version", anthropicAPIVersion)
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("provider error: %s: %s", resp.Error.Type, resp.Error.Message)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "" || block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return text.String(), nil
}

// callChoicesArray posts to the OpenAI-style chat completions endpoint and
// extracts text from the first choice. The system prompt rides as the first
// message since this shape has no top-level system field.
func (r *Router) callChoicesArray(ctx context.Context, group Group, model string, turns []Turn) (string, error) {
	messages := make([]Turn, 0, len(turns)+1)
	if r.systemPrompt != "" {
		messages = append(messages, Turn{Role: "system", Content: r.systemPrompt})
	}
	messages = append(messages, turns...)

	body := map[string]interface{}{
		"model":      model,
		"max_tokens": r.maxTokens,
		"messages":   messages,
	}

	data, err := r.post(ctx, group.BaseURL+"/v1/chat/completions", body, func(req *http.Request) {
		req.Header.Set("Authorization", "Bearer "+group.APIKey)
	})
	if err != nil {
		return "", err
	}

	var resp struct {
		Error   json.RawMessage `json:"error"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(resp.Error) > 0 && string(resp.Error) != "null" {
		return "", fmt.Errorf("provider error: %s", resp.Error)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("empty completion")
	}
	return resp.Choices[0].Message.Content, nil
}

func (r *Router) post(ctx context.Context, url string, body interface{}, setAuth func(*http.Request)) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	setAuth(req)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, preview(respBody, 200))
	}
	return respBody, nil
}

func preview(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n]
	}
	return s
}
