package ai

import (
	"errors"
	"fmt"
	"net/http"
)

// Image errors. Each maps to a distinct reported failure.
var (
	ErrImageURL             = errors.New("invalid or unreachable image url")
	ErrImageUnreadable      = errors.New("local image file unreadable")
	ErrImageFetchStatus     = errors.New("image fetch returned non-200 status")
	ErrImageEmpty           = errors.New("image body is empty")
	ErrImageTooLarge        = errors.New("image exceeds maximum size")
	ErrUnsupportedImageType = errors.New("unsupported image type")
)

// API errors.
var (
	ErrTransport         = errors.New("vision api transport failure")
	ErrMalformedResponse = errors.New("vision api returned malformed json")
	ErrNoDescription     = errors.New("no description found in vision api response")
)

// APIError is a non-200 response from the vision API.
type APIError struct {
	StatusCode int
	// Detail is the message embedded in the provider's JSON error body, if any.
	Detail string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("api error %d: %s", e.StatusCode, statusMessage(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *APIError) Permanent() bool {
	switch e.StatusCode {
	case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
		return true
	}
	return false
}

func statusMessage(code int) string {
	switch {
	case code == http.StatusBadRequest:
		return "bad request"
	case code == http.StatusUnauthorized:
		return "authentication failed, check the api key"
	case code == http.StatusForbidden:
		return "forbidden"
	case code == http.StatusTooManyRequests:
		return "rate limited"
	case code >= 500:
		return "server error"
	default:
		return "unexpected response"
	}
}

// IsPermanent reports whether err is a failure that a retry will not fix: an auth or
// request error from the API, or an image that can never be accepted.
func IsPermanent(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Permanent()
	}
	return errors.Is(err, ErrImageEmpty) ||
		errors.Is(err, ErrImageTooLarge) ||
		errors.Is(err, ErrUnsupportedImageType)
}
