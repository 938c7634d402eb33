package mock_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kiranshivaraju/alttext/internal/ai/mock"
	"github.com/kiranshivaraju/alttext/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMockProvider_Describe(t *testing.T) {
	p := mock.NewMockProvider()
	desc, err := p.Describe(context.Background(), models.DescribeRequest{ImageURL: "https://cdn.example.com/a.png"})

	require.NoError(t, err)
	assert.Equal(t, "A mock description of https://cdn.example.com/a.png", desc)
	assert.Equal(t, "mock", p.Name())
	require.Len(t, p.Calls(), 1)
}

func TestNewFailingProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewFailingProvider(boom)

	_, err := p.Describe(context.Background(), models.DescribeRequest{})
	assert.ErrorIs(t, err, boom)
}

func TestNewScriptedProvider(t *testing.T) {
	boom := errors.New("boom")
	p := mock.NewScriptedProvider(map[string]error{"bad": boom})

	_, err := p.Describe(context.Background(), models.DescribeRequest{ImageURL: "bad"})
	assert.ErrorIs(t, err, boom)

	desc, err := p.Describe(context.Background(), models.DescribeRequest{ImageURL: "good"})
	require.NoError(t, err)
	assert.Equal(t, "Description of good", desc)
}

func TestNewTimeoutProvider_ReturnsOnCancel(t *testing.T) {
	p := mock.NewTimeoutProvider()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := p.Describe(ctx, models.DescribeRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
