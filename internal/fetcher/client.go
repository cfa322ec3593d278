package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/voyagen/ptepg/internal/logging"
	"github.com/voyagen/ptepg/internal/metrics"
)

const (
	headerOrigin = "https://www.meo.pt"

	endpointGrid          = "grid"
	endpointPrograms      = "programs"
	endpointProgramDetail = "program_detail"
	endpointChannelInfo   = "channel_info"

	maxResponseBytes = 16 << 20
)

// Limiter is the shared token bucket every outbound call acquires from.
type Limiter interface {
	Acquire(ctx context.Context) error
}

// Endpoints are the provider URLs.
type Endpoints struct {
	Grid           string
	Programs       string
	ProgramDetails string
	ChannelInfo    string
}

// Options configures a Client. Zero values fall back to sane defaults.
type Options struct {
	Endpoints      Endpoints
	UserAgent      string
	Timeout        time.Duration
	EnrichChannels bool
	// Location is the time zone the guide's wall-clock times are expressed in.
	Location *time.Location
	// BreakerTimeout is how long an open circuit waits before probing again.
	BreakerTimeout time.Duration
}

// Client talks to the MEO grid API. All calls go through one Limiter and one circuit breaker.
type Client struct {
	endpoints Endpoints
	userAgent string
	enrich    bool
	location  *time.Location
	http      *http.Client
	limiter   Limiter
	breaker   *gobreaker.CircuitBreaker[[]byte]
}

// NewClient returns a Client that acquires from limiter before every call.
func NewClient(limiter Limiter, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.BreakerTimeout <= 0 {
		opts.BreakerTimeout = 30 * time.Second
	}
	return &Client{
		endpoints: opts.Endpoints,
		userAgent: opts.UserAgent,
		enrich:    opts.EnrichChannels,
		location:  opts.Location,
		http:      &http.Client{Timeout: opts.Timeout},
		limiter:   limiter,
		breaker:   newBreaker(opts.BreakerTimeout),
	}
}

func newBreaker(timeout time.Duration) *gobreaker.CircuitBreaker[[]byte] {
	metrics.CircuitBreakerState.Set(0)
	return gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "meo-api",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= 0.8
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("upstream circuit state changed")
			metrics.CircuitBreakerState.Set(float64(to))
		},
	})
}

// call acquires a token, performs one request through the breaker and decodes the response
// into dst. body is JSON-encoded when non-nil. envelope, when set, reports whether dst holds
// the expected payload; a response that fails to decode or lacks it is malformed.
func (c *Client) call(ctx context.Context, endpoint, method, url string, body, dst any, envelope func() bool) error {
	if err := c.limiter.Acquire(ctx); err != nil {
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeUnavailable).Inc()
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal %s request: %w", endpoint, err)
		}
	}

	start := time.Now()
	data, err := c.breaker.Execute(func() ([]byte, error) {
		return c.do(ctx, method, url, payload)
	})
	metrics.UpstreamLatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeUnavailable).Inc()
		return fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.Is(err, ErrUpstreamRejected):
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeRejected).Inc()
		return err
	default:
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeUnavailable).Inc()
		return err
	}

	if err := decode(data, dst); err != nil {
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeMalformed).Inc()
		return err
	}
	if envelope != nil && !envelope() {
		metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeMalformed).Inc()
		return fmt.Errorf("%w: missing envelope", ErrUpstreamMalformed)
	}
	metrics.UpstreamCalls.WithLabelValues(endpoint, metrics.OutcomeOK).Inc()
	return nil
}

func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: NewRequest: %w", ErrUpstreamUnavailable, err)
	}
	req.Header.Set("Origin", headerOrigin)
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "*/*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: Do: %w", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: HTTP %d", ErrUpstreamRejected, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: ReadAll: %w", ErrUpstreamUnavailable, err)
	}
	return data, nil
}

// decode unmarshals data into dst, classifying failures as malformed.
func decode(data []byte, dst any) error {
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %w", ErrUpstreamMalformed, err)
	}
	return nil
}
