// Package archive wraps the one outbound call to the archive backend with
// bounded retries and a circuit breaker. Every failure surfaces as a
// single classified error, ErrUnavailable.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/reportstack/report-manager/pkg/logger"
)

// ErrUnavailable is returned after retry exhaustion or while the circuit
// is open. The underlying cause stays in the error chain.
var ErrUnavailable = errors.New("archive service unavailable")

const archivePath = "/api/v1/archive/reports"

type Config struct {
	BaseURL string
	// Timeout bounds each individual outbound call.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts after the first.
	MaxRetries     uint64
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// BreakerMinRequests is the minimum rolling-window volume before the
	// failure ratio is evaluated.
	BreakerMinRequests uint32
	// BreakerFailureRatio opens the breaker when crossed.
	BreakerFailureRatio float64
	// BreakerInterval is the rolling window over which call outcomes are
	// counted.
	BreakerInterval time.Duration
	// BreakerCooldown is how long the breaker stays open before admitting
	// trial calls.
	BreakerCooldown time.Duration
	// BreakerTrialCalls is how many calls the half-open breaker permits.
	BreakerTrialCalls uint32
	// HTTPClient overrides the default instrumented client, for tests.
	HTTPClient *http.Client
}

func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:             baseURL,
		Timeout:             10 * time.Second,
		MaxRetries:          2,
		InitialBackoff:      200 * time.Millisecond,
		MaxBackoff:          2 * time.Second,
		BreakerMinRequests:  5,
		BreakerFailureRatio: 0.5,
		BreakerInterval:     30 * time.Second,
		BreakerCooldown:     15 * time.Second,
		BreakerTrialCalls:   1,
	}
}

// Client calls the archive backend. Safe for concurrent use.
type Client struct {
	cfg     Config
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
}

func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "archive-db",
		MaxRequests: cfg.BreakerTrialCalls,
		Interval:    cfg.BreakerInterval,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.BreakerMinRequests {
				return false
			}
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= cfg.BreakerFailureRatio
		},
	})

	return &Client{cfg: cfg, http: httpClient, breaker: breaker}
}

type archiveResponse struct {
	ArchiveRef string `json:"archiveRef"`
}

// Archive posts the type-tagged payload and returns the archive reference.
// Each attempt passes through the circuit breaker; an open breaker stops
// the retry loop immediately.
func (c *Client) Archive(ctx context.Context, requestID string, payload []byte) (string, error) {
	backoff := retry.WithCappedDuration(c.cfg.MaxBackoff, retry.NewExponential(c.cfg.InitialBackoff))
	backoff = retry.WithMaxRetries(c.cfg.MaxRetries, backoff)

	var ref string
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		out, err := c.breaker.Execute(func() (any, error) {
			return c.post(ctx, payload)
		})
		if err != nil {
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return err
			}
			return retry.RetryableError(err)
		}
		ref = out.(string)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	logger.WithContext(ctx).Info("archived report", "request_id", requestID, "archive_ref", ref)
	return ref, nil
}

func (c *Client) post(ctx context.Context, payload []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+archivePath, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("archive backend returned status %d", resp.StatusCode)
	}

	var result archiveResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("decode archive response: %w", err)
	}
	if result.ArchiveRef == "" {
		return "", errors.New("archive response missing archiveRef")
	}
	return result.ArchiveRef, nil
}
