package providers

import (
	"net/http"
	"os"

	"github.com/c360studio/sieve/llm"
)

// OpenAI implements the hosted OpenAI API. Separate from Ollama so each can
// carry its own default URL and auth, while sharing the wire format.
type OpenAI struct {
	Ollama
}

func init() {
	llm.RegisterProvider(&OpenAI{})
}

func (o *OpenAI) Name() string {
	return "openai"
}

// BuildURL constructs the OpenAI chat completions endpoint.
func (o *OpenAI) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return chatCompletionsURL(baseURL)
}

// SetHeaders adds OpenAI authentication headers.
func (o *OpenAI) SetHeaders(req *http.Request) {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
}
