package ai

import (
	"fmt"

	"github.com/kiranshivaraju/alttext/internal/ai/anthropic"
	"github.com/kiranshivaraju/alttext/internal/ai/openai"
	"github.com/kiranshivaraju/alttext/pkg/models"
)

// NewProvider builds a Generator for a batch's settings snapshot. The API key is
// passed separately because snapshots never carry credentials.
func NewProvider(settings models.Settings, apiKey string, images ImageSource) (models.DescriptionProvider, error) {
	var codec Codec
	switch settings.API.Provider {
	case models.ProviderChat:
		codec = openai.NewCodec(apiKey, settings.API)
	case models.ProviderContentBlock:
		codec = anthropic.NewCodec(apiKey, settings.API)
	default:
		return nil, fmt.Errorf("unknown provider kind %q: must be one of chat, content_block", settings.API.Provider)
	}

	return NewGenerator(codec, settings.API.Endpoint, images, settings.Processing.Timeout, settings.Prompts.DefaultTemplate), nil
}
