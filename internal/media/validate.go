package media

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"strings"
)

// IsValidImage reports whether an attachment can be turned into a job: it must
// exist, be classified as an image, and expose an absolute http(s) URL.
func IsValidImage(att *Attachment) bool {
	if att == nil {
		return false
	}
	if att.MediaType != "image" && !strings.HasPrefix(att.MimeType, "image/") {
		return false
	}
	u, err := url.Parse(att.SourceURL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// FilterImages looks up each reference and keeps the valid images, in input order and
// without duplicates. Invalid or unresolvable references are dropped, not reported.
// The only side effects are read-only library lookups.
func FilterImages(ctx context.Context, lib Library, refs []string) []*Attachment {
	seen := make(map[string]bool, len(refs))
	var out []*Attachment
	for _, ref := range refs {
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			continue
		}
		seen[ref] = true

		att, err := lib.Lookup(ctx, ref)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("image lookup failed", "image_ref", ref, "error", err)
			}
			continue
		}
		if !IsValidImage(att) {
			continue
		}
		out = append(out, att)
	}
	return out
}
