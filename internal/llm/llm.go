// Package llm talks to an OpenAI-compatible chat completion API.
package llm

import (
	"github.com/comigor/notarobot/internal/config"
	"github.com/sashabaranov/go-openai"
)

// NewClient creates a new OpenAI client. An empty base URL keeps the
// library's default endpoint.
func NewClient(cfg config.LLMConfig) *openai.Client {
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = cfg.BaseURL
	}
	return openai.NewClientWithConfig(c)
}
