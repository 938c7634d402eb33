package models

import "time"

// ProviderKind selects the wire shape used to talk to the vision API.
type ProviderKind string

const (
	// ProviderChat is the vision chat shape with bearer-token auth. It is the default.
	ProviderChat ProviderKind = "chat"
	// ProviderContentBlock is the content-block shape with x-api-key auth.
	ProviderContentBlock ProviderKind = "content_block"
)

func (k ProviderKind) Valid() bool {
	return k == ProviderChat || k == ProviderContentBlock
}

// RetryPolicy decides whether a failed generation may be retried.
type RetryPolicy string

const (
	// RetryUniform retries every failure up to the configured maximum.
	RetryUniform RetryPolicy = "uniform"
	// RetryFailFastPermanent fails immediately on errors that cannot succeed on retry
	// (auth, forbidden, bad request, unsupported or oversize image).
	RetryFailFastPermanent RetryPolicy = "fail_fast_permanent"
)

func (p RetryPolicy) Valid() bool {
	return p == RetryUniform || p == RetryFailFastPermanent
}

// Settings is the configuration snapshot captured when a batch is created.
// Credentials are not part of it.
type Settings struct {
	API        APISettings        `json:"api"`
	Processing ProcessingSettings `json:"processing"`
	Prompts    PromptSettings     `json:"prompts"`
}

type APISettings struct {
	Endpoint    string       `json:"endpoint"`
	Model       string       `json:"model"`
	Provider    ProviderKind `json:"provider"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
}

type ProcessingSettings struct {
	BatchSize      int           `json:"batch_size"`
	RateLimitDelay time.Duration `json:"rate_limit_delay"`
	MaxRetries     int           `json:"max_retries"`
	Timeout        time.Duration `json:"timeout"`
	RetryPolicy    RetryPolicy   `json:"retry_policy"`
}

type PromptSettings struct {
	DefaultTemplate string `json:"default_template"`
}
