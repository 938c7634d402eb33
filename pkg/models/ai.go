// Package models contains shared data models used across the alttext codebase.
package models

import "context"

// DescriptionProvider is the interface every vision integration implements.
// Never call a concrete codec directly; always go through this interface.
type DescriptionProvider interface {
	// Describe returns alt text for the image at req.ImageURL.
	Describe(ctx context.Context, req DescribeRequest) (string, error)
	// Name returns the provider identifier (e.g., "chat", "content_block").
	Name() string
}

// DescribeRequest is the input to a single generation.
type DescribeRequest struct {
	ImageURL string
	Prompt   string
}
