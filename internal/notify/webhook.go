package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Webhook defaults
const (
	DefaultWebhookRetries = 3
	DefaultWebhookTimeout = 10 * time.Second
	defaultRetryWait      = time.Second
	maxRetryWait          = 30 * time.Second
)

// WebhookConfig configures a generic JSON webhook
type WebhookConfig struct {
	Name    string
	URL     string
	Headers map[string]string
	Events  []string

	// Retries is the number of attempts after the first failure.
	Retries int

	// InitialWait is the first backoff delay. It doubles per attempt.
	InitialWait time.Duration

	Timeout time.Duration
	Clock   clock.Clock
}

// WebhookProvider POSTs each event as JSON
type WebhookProvider struct {
	config WebhookConfig
	events subscription
	client *http.Client
}

// NewWebhookProvider creates a webhook provider, filling in defaults
func NewWebhookProvider(cfg WebhookConfig) *WebhookProvider {
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.InitialWait <= 0 {
		cfg.InitialWait = defaultRetryWait
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	return &WebhookProvider{
		config: cfg,
		events: subscription(cfg.Events),
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

// Name returns "webhook:<name>"
func (p *WebhookProvider) Name() string {
	if p.config.Name != "" {
		return "webhook:" + p.config.Name
	}
	return "webhook"
}

// SupportsEvent reports whether t is one of the configured events
func (p *WebhookProvider) SupportsEvent(t EventType) bool {
	return p.events.supports(t)
}

// Validate checks the URL and event names
func (p *WebhookProvider) Validate(ctx context.Context) error {
	if p.config.URL == "" {
		return fmt.Errorf("%s: URL is required", p.Name())
	}
	parsed, err := url.Parse(p.config.URL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("%s: invalid URL %q", p.Name(), p.config.URL)
	}
	if err := p.events.validate(); err != nil {
		return fmt.Errorf("%s: %w", p.Name(), err)
	}
	return nil
}

// Send POSTs event, retrying transport errors and 5xx/429 responses with a
// doubling delay. Other 4xx responses are not retried.
func (p *WebhookProvider) Send(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to build payload: %w", err)
	}

	attempts := p.config.Retries + 1
	err = retry.Call(retry.CallArgs{
		Func: func() error {
			return p.post(ctx, payload)
		},
		IsFatalError: func(err error) bool {
			var perm *permanentError
			return errors.As(err, &perm) || ctx.Err() != nil
		},
		Attempts:    attempts,
		Delay:       p.config.InitialWait,
		MaxDelay:    maxRetryWait,
		BackoffFunc: retry.DoubleDelay,
		Clock:       p.config.Clock,
		Stop:        ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if retry.IsAttemptsExceeded(err) {
		return fmt.Errorf("%s failed after %d attempts: %w", p.Name(), attempts, retry.LastError(err))
	}
	if retry.IsRetryStopped(err) {
		return ctx.Err()
	}
	return fmt.Errorf("%s: %w", p.Name(), err)
}

// permanentError marks a failure that retrying will not change
type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

func (p *WebhookProvider) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(payload))
	if err != nil {
		return &permanentError{err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "keyrot")
	for key, value := range p.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	default:
		return &permanentError{err: fmt.Errorf("webhook returned status %d", resp.StatusCode)}
	}
}
