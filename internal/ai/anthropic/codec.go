// Package anthropic encodes vision requests in the content-block shape.
package anthropic

import (
	"encoding/json"
	"net/http"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// APIVersion is sent in the anthropic-version header.
const APIVersion = "2023-06-01"

// Codec builds content-block request bodies and headers.
type Codec struct {
	apiKey string
	api    models.APISettings
}

func NewCodec(apiKey string, api models.APISettings) *Codec {
	return &Codec{apiKey: apiKey, api: api}
}

func (c *Codec) Name() string { return string(models.ProviderContentBlock) }

func (c *Codec) Encode(prompt, mimeType, data string) ([]byte, error) {
	body := messagesRequest{
		Model:       c.api.Model,
		MaxTokens:   c.api.MaxTokens,
		Temperature: c.api.Temperature,
		Messages: []message{{
			Role: "user",
			Content: []block{
				{Type: "image", Source: &imageSource{Type: "base64", MediaType: mimeType, Data: data}},
				{Type: "text", Text: prompt},
			},
		}},
	}
	return json.Marshal(body)
}

func (c *Codec) SetHeaders(h http.Header) {
	h.Set("x-api-key", c.apiKey)
	h.Set("anthropic-version", APIVersion)
	h.Set("Content-Type", "application/json")
}

type messagesRequest struct {
	Model       string    `json:"model"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
	Messages    []message `json:"messages"`
}

type message struct {
	Role    string  `json:"role"`
	Content []block `json:"content"`
}

type block struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}
