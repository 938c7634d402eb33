// Package openai encodes vision requests in the chat-completions shape with
// bearer-token auth.
package openai

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// Codec builds chat-shaped request bodies and headers.
type Codec struct {
	apiKey string
	api    models.APISettings
}

func NewCodec(apiKey string, api models.APISettings) *Codec {
	return &Codec{apiKey: apiKey, api: api}
}

func (c *Codec) Name() string { return string(models.ProviderChat) }

func (c *Codec) Encode(prompt, mimeType, data string) ([]byte, error) {
	body := chatRequest{
		Model: c.api.Model,
		Messages: []chatMessage{{
			Role: "user",
			Content: []contentPart{
				{Type: "text", Text: prompt},
				{Type: "image_url", ImageURL: &imageURL{URL: "data:" + mimeType + ";base64," + data}},
			},
		}},
		MaxTokens:   c.api.MaxTokens,
		Temperature: c.api.Temperature,
	}
	return json.Marshal(body)
}

func (c *Codec) SetHeaders(h http.Header) {
	h.Set("Authorization", "Bearer "+c.apiKey)
	h.Set("Content-Type", "application/json")
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}
