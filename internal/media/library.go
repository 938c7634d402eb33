// Package media talks to the content-management library that owns the images and
// their alt-text labels.
package media

import (
	"context"
	"errors"
)

// Sentinel errors for media library failures.
var (
	ErrNotFound          = errors.New("attachment not found")
	ErrMediaUnreachable  = errors.New("media library unreachable")
	ErrMediaRequestError = errors.New("media library request error")
)

// Attachment is the subset of a library item the core needs.
type Attachment struct {
	Ref       string `json:"ref"`
	MediaType string `json:"media_type"`
	MimeType  string `json:"mime_type"`
	SourceURL string `json:"source_url"`
	AltText   string `json:"alt_text"`
}

// Library resolves image references and reads or writes their alt-text label.
type Library interface {
	Lookup(ctx context.Context, ref string) (*Attachment, error)
	SetAltText(ctx context.Context, ref string, text string) error
}
