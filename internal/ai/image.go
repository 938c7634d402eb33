package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// MaxImageBytes is the largest image accepted after fetch.
const MaxImageBytes = 20 << 20

var supportedMimeTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// Image is fetched image content with its sniffed MIME type.
type Image struct {
	Data     []byte
	MimeType string
}

// ImageSource resolves an image URL to validated bytes.
type ImageSource interface {
	Fetch(ctx context.Context, imageURL string) (*Image, error)
}

// ImageFetcher reads images from the local uploads directory when the URL points
// into it and falls back to an HTTP GET otherwise.
type ImageFetcher struct {
	uploadsURL string
	uploadsDir string
	client     *http.Client
}

// NewImageFetcher creates an ImageFetcher. uploadsURL and uploadsDir may be empty to
// disable the local shortcut.
func NewImageFetcher(uploadsURL, uploadsDir string, timeout time.Duration) *ImageFetcher {
	return &ImageFetcher{
		uploadsURL: strings.TrimRight(uploadsURL, "/"),
		uploadsDir: uploadsDir,
		client:     &http.Client{Timeout: timeout},
	}
}

func (f *ImageFetcher) Fetch(ctx context.Context, imageURL string) (*Image, error) {
	u, err := url.Parse(imageURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrImageURL, imageURL)
	}

	var data []byte
	if path, ok := f.localPath(imageURL); ok {
		data, err = readLocal(path)
	} else {
		data, err = f.fetchRemote(ctx, imageURL)
	}
	if err != nil {
		return nil, err
	}

	return validateImage(data)
}

// localPath maps a URL under uploadsURL to a file under uploadsDir. Paths that
// escape the directory are not mapped.
func (f *ImageFetcher) localPath(imageURL string) (string, bool) {
	if f.uploadsURL == "" || f.uploadsDir == "" || !strings.HasPrefix(imageURL, f.uploadsURL+"/") {
		return "", false
	}
	rel, err := url.PathUnescape(strings.TrimPrefix(imageURL, f.uploadsURL+"/"))
	if err != nil {
		return "", false
	}
	if i := strings.IndexAny(rel, "?#"); i >= 0 {
		rel = rel[:i]
	}
	root := filepath.Clean(f.uploadsDir)
	path := filepath.Join(root, filepath.FromSlash(rel))
	if !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", false
	}
	return path, true
}

func readLocal(path string) ([]byte, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageUnreadable, err)
	}
	return data, nil
}

func (f *ImageFetcher) fetchRemote(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrImageURL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrImageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrImageFetchStatus, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrImageURL, err)
	}
	return data, nil
}

// validateImage checks size and sniffs the content type from the bytes themselves.
func validateImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, ErrImageEmpty
	}
	if len(data) > MaxImageBytes {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrImageTooLarge, MaxImageBytes)
	}
	mime := http.DetectContentType(data)
	if !supportedMimeTypes[mime] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedImageType, mime)
	}
	return &Image{Data: data, MimeType: mime}, nil
}

// Compile-time check that ImageFetcher implements ImageSource.
var _ ImageSource = (*ImageFetcher)(nil)
