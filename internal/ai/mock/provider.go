package mock

import (
	"context"
	"sync"

	"github.com/kiranshivaraju/alttext/pkg/models"
)

// MockProvider satisfies models.DescriptionProvider for testing.
type MockProvider struct {
	Name_        string
	DescribeFunc func(ctx context.Context, req models.DescribeRequest) (string, error)

	mu    sync.Mutex
	calls []models.DescribeRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) Describe(ctx context.Context, req models.DescribeRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	m.mu.Unlock()

	if m.DescribeFunc != nil {
		return m.DescribeFunc(ctx, req)
	}
	return "", nil
}

// Calls returns every request seen so far, in order.
func (m *MockProvider) Calls() []models.DescribeRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DescribeRequest, len(m.calls))
	copy(out, m.calls)
	return out
}

// NewMockProvider returns a MockProvider that describes every image the same way.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock",
		DescribeFunc: func(_ context.Context, req models.DescribeRequest) (string, error) {
			return "A mock description of " + req.ImageURL, nil
		},
	}
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		DescribeFunc: func(_ context.Context, _ models.DescribeRequest) (string, error) {
			return "", err
		},
	}
}

// NewScriptedProvider returns a MockProvider whose outcome depends on the image URL.
// URLs missing from the map get a default description.
func NewScriptedProvider(errs map[string]error) *MockProvider {
	return &MockProvider{
		Name_: "mock-scripted",
		DescribeFunc: func(_ context.Context, req models.DescribeRequest) (string, error) {
			if err, ok := errs[req.ImageURL]; ok && err != nil {
				return "", err
			}
			return "Description of " + req.ImageURL, nil
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until the context is done.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		DescribeFunc: func(ctx context.Context, _ models.DescribeRequest) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

// Compile-time check that MockProvider implements DescriptionProvider.
var _ models.DescriptionProvider = (*MockProvider)(nil)
