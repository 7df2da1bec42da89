package notify

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/lucasew/dumpkeeper/internal/httpclient"
	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

// TimestampLayout prefixes every webhook message.
const TimestampLayout = "01/02/2006, 03:04:05 PM"

// FailureThreshold is the number of consecutive failed deliveries that opens the breaker.
const FailureThreshold = 3

// WebhookOptions configures a Webhook.
type WebhookOptions struct {
	URL      string
	Username string
	CABundle string
	Timeout  time.Duration
	// Interval is the minimum spacing between two deliveries. Zero disables the limit.
	Interval time.Duration
	// BreakerTimeout is how long the breaker stays open before probing again.
	BreakerTimeout time.Duration
}

type payload struct {
	Username string `json:"username"`
	Content  string `json:"content"`
}

// Webhook posts messages to a chat webhook as {"username", "content"} JSON.
type Webhook struct {
	url      string
	username string
	client   *http.Client
	limiter  *rate.Limiter
	breaker  *gobreaker.CircuitBreaker[struct{}]
	now      func() time.Time
	logger   *slog.Logger
}

// NewWebhook creates a Webhook notifier.
func NewWebhook(opts WebhookOptions) (*Webhook, error) {
	if opts.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	client, err := httpclient.NewClient(opts.CABundle, opts.Timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook client: %w", err)
	}

	limit := rate.Inf
	if opts.Interval > 0 {
		limit = rate.Every(opts.Interval)
	}
	breakerTimeout := opts.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = time.Minute
	}

	logger := slog.Default().With("component", "notify.webhook")
	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "webhook",
		MaxRequests: 1,
		Timeout:     breakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("Webhook circuit breaker state changed", "from", from.String(), "to", to.String())
		},
	})

	return &Webhook{
		url:      opts.URL,
		username: opts.Username,
		client:   client,
		limiter:  rate.NewLimiter(limit, 1),
		breaker:  breaker,
		now:      time.Now,
		logger:   logger,
	}, nil
}

// Notify sends msg and logs any delivery failure.
func (w *Webhook) Notify(ctx context.Context, msg string) {
	if err := w.Send(ctx, msg); err != nil {
		w.logger.Warn("Failed to deliver notification", "msg", msg, "error", err)
	}
}

// Send delivers msg and reports the outcome.
func (w *Webhook) Send(ctx context.Context, msg string) error {
	if err := w.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	body, err := json.Marshal(payload{
		Username: w.username,
		Content:  fmt.Sprintf("`%s`: %s", w.now().Format(TimestampLayout), msg),
	})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	_, err = w.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, w.post(ctx, body)
	})
	return err
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
