// Package providers implements the wire adapters registered with the llm
// provider registry.
package providers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/c360studio/sieve/llm"
)

// Anthropic implements the Anthropic messages API.
type Anthropic struct{}

const anthropicVersion = "2023-06-01"

// anthropicDefaultMaxTokens applies when the provider config leaves max
// tokens unset; the messages API requires an explicit value.
const anthropicDefaultMaxTokens = 4096

func init() {
	llm.RegisterProvider(&Anthropic{})
}

func (a *Anthropic) Name() string {
	return "anthropic"
}

// BuildURL constructs the messages endpoint.
func (a *Anthropic) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	return strings.TrimSuffix(baseURL, "/") + "/v1/messages"
}

// SetHeaders adds Anthropic authentication headers.
func (a *Anthropic) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("ANTHROPIC_API_KEY"); apiKey != "" {
		req.Header.Set("x-api-key", apiKey)
	}
	req.Header.Set("anthropic-version", anthropicVersion)
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildRequestBody creates the messages API request body. The system role
// is not a message in this API, so any system message is lifted into the
// top-level system field.
func (a *Anthropic) BuildRequestBody(model string, messages []llm.Message, temperature *float64, maxTokens int) ([]byte, error) {
	var system string
	var apiMessages []anthropicMessage

	for _, msg := range messages {
		if msg.Role == "system" {
			system = msg.Content
			continue
		}
		apiMessages = append(apiMessages, anthropicMessage{Role: msg.Role, Content: msg.Content})
	}

	if maxTokens <= 0 {
		maxTokens = anthropicDefaultMaxTokens
	}

	return json.Marshal(anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Messages:    apiMessages,
		System:      system,
		Temperature: temperature, // nil = backend default, 0 = deterministic
	})
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Model      string `json:"model"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// ParseResponse extracts text content from a messages API response,
// concatenating text blocks and skipping everything else.
func (a *Anthropic) ParseResponse(body []byte, _ string) (*llm.Response, error) {
	var resp anthropicResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse anthropic response: %w", err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}

	total := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return &llm.Response{
		Content:    content.String(),
		Model:      resp.Model,
		TokensUsed: total,
		Usage: llm.TokenUsage{
			PromptTokens:     resp.Usage.InputTokens,
			CompletionTokens: resp.Usage.OutputTokens,
			TotalTokens:      total,
		},
		FinishReason: resp.StopReason,
	}, nil
}
