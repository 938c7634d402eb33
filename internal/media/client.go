package media

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"
)

// WordPressClient implements Library against the WordPress REST media endpoint.
type WordPressClient struct {
	baseURL     string
	username    string
	appPassword string
	client      *http.Client
}

// NewWordPressClient creates a new media library client. baseURL is the site root,
// e.g. https://example.com.
func NewWordPressClient(baseURL, username, appPassword string, timeout time.Duration) *WordPressClient {
	return &WordPressClient{
		baseURL:     baseURL,
		username:    username,
		appPassword: appPassword,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *WordPressClient) Lookup(ctx context.Context, ref string) (*Attachment, error) {
	u := fmt.Sprintf("%s/wp-json/wp/v2/media/%s?context=edit", c.baseURL, url.PathEscape(ref))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrMediaRequestError, resp.StatusCode)
	}

	var item wpMedia
	if err := json.NewDecoder(resp.Body).Decode(&item); err != nil {
		return nil, fmt.Errorf("decoding media response: %w", err)
	}

	return &Attachment{
		Ref:       ref,
		MediaType: item.MediaType,
		MimeType:  item.MimeType,
		SourceURL: item.SourceURL,
		AltText:   item.AltText,
	}, nil
}

func (c *WordPressClient) SetAltText(ctx context.Context, ref string, text string) error {
	u := fmt.Sprintf("%s/wp-json/wp/v2/media/%s", c.baseURL, url.PathEscape(ref))

	body, err := json.Marshal(map[string]string{"alt_text": text})
	if err != nil {
		return fmt.Errorf("encoding alt text: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrMediaRequestError, resp.StatusCode)
	}
	return nil
}

func (c *WordPressClient) setHeaders(req *http.Request) {
	if c.username != "" && c.appPassword != "" {
		req.SetBasicAuth(c.username, c.appPassword)
	}
	req.Header.Set("Accept", "application/json")
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrMediaUnreachable, err)
	}
	return fmt.Errorf("%w: %v", ErrMediaUnreachable, err)
}

type wpMedia struct {
	ID        int64  `json:"id"`
	MediaType string `json:"media_type"`
	MimeType  string `json:"mime_type"`
	SourceURL string `json:"source_url"`
	AltText   string `json:"alt_text"`
}

// Compile-time check that WordPressClient implements Library.
var _ Library = (*WordPressClient)(nil)
