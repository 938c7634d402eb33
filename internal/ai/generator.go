package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// maxResponseBytes bounds how much of an API response is read.
const maxResponseBytes = 4 << 20

// Codec encodes a request in one provider's wire shape and sets its auth headers.
type Codec interface {
	Name() string
	Encode(prompt, mimeType, data string) ([]byte, error)
	SetHeaders(h http.Header)
}

// Generator implements models.DescriptionProvider over a vision API.
type Generator struct {
	codec         Codec
	endpoint      string
	images        ImageSource
	client        *http.Client
	timeout       time.Duration
	defaultPrompt string
}

// NewGenerator creates a Generator. timeout bounds each API POST.
func NewGenerator(codec Codec, endpoint string, images ImageSource, timeout time.Duration, defaultPrompt string) *Generator {
	return &Generator{
		codec:         codec,
		endpoint:      endpoint,
		images:        images,
		client:        &http.Client{},
		timeout:       timeout,
		defaultPrompt: defaultPrompt,
	}
}

func (g *Generator) Name() string { return g.codec.Name() }

// Describe fetches the image, sends it to the vision API and returns the trimmed
// description.
func (g *Generator) Describe(ctx context.Context, req models.DescribeRequest) (string, error) {
	prompt := req.Prompt
	if strings.TrimSpace(prompt) == "" {
		prompt = g.defaultPrompt
	}

	img, err := g.images.Fetch(ctx, req.ImageURL)
	if err != nil {
		return "", err
	}

	body, err := g.codec.Encode(prompt, img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
	if err != nil {
		return "", fmt.Errorf("encoding request: %w", err)
	}

	reqCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	g.codec.SetHeaders(httpReq.Header)

	start := time.Now()
	resp, err := g.client.Do(httpReq)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	slog.Debug("vision api call",
		"provider", g.codec.Name(),
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode != http.StatusOK {
		return "", &APIError{StatusCode: resp.StatusCode, Detail: embeddedMessage(respBody)}
	}

	return extractDescription(respBody)
}

// Compile-time check that Generator implements DescriptionProvider.
var _ models.DescriptionProvider = (*Generator)(nil)
