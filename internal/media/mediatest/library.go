// Package mediatest provides an in-memory media.Library for tests.
package mediatest

import (
	"context"
	"fmt"
	"sync"

	"github.com/kiranshivaraju/alttext/internal/media"
)

// Library holds attachments keyed by ref. Lookup and SetAltText return the error
// registered for a ref in LookupErr or SetErr before consulting the map.
type Library struct {
	mu          sync.Mutex
	attachments map[string]*media.Attachment
	LookupErr   map[string]error
	SetErr      map[string]error
}

func NewLibrary(items ...*media.Attachment) *Library {
	l := &Library{
		attachments: make(map[string]*media.Attachment),
		LookupErr:   make(map[string]error),
		SetErr:      make(map[string]error),
	}
	for _, it := range items {
		l.attachments[it.Ref] = it
	}
	return l
}

// Image returns a JPEG attachment served from example.com.
func Image(ref string) *media.Attachment {
	return &media.Attachment{
		Ref:       ref,
		MediaType: "image",
		MimeType:  "image/jpeg",
		SourceURL: fmt.Sprintf("https://cdn.example.com/%s.jpg", ref),
	}
}

// Images builds an Image for each ref.
func Images(refs ...string) []*media.Attachment {
	out := make([]*media.Attachment, len(refs))
	for i, r := range refs {
		out[i] = Image(r)
	}
	return out
}

func (l *Library) Add(att *media.Attachment) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attachments[att.Ref] = att
}

func (l *Library) Lookup(_ context.Context, ref string) (*media.Attachment, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.LookupErr[ref]; err != nil {
		return nil, err
	}
	att, ok := l.attachments[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", media.ErrNotFound, ref)
	}
	cp := *att
	return &cp, nil
}

func (l *Library) SetAltText(_ context.Context, ref, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.SetErr[ref]; err != nil {
		return err
	}
	att, ok := l.attachments[ref]
	if !ok {
		return fmt.Errorf("%w: %s", media.ErrNotFound, ref)
	}
	att.AltText = text
	return nil
}

// AltText returns the label currently stored for ref.
func (l *Library) AltText(ref string) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	if att, ok := l.attachments[ref]; ok {
		return att.AltText
	}
	return ""
}

var _ media.Library = (*Library)(nil)
