package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/http"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/ratelimit"
	"github.com/paperpolish/polish-int/internal/version"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// CardKeyProvider supplies the card key attached to every call.
type CardKeyProvider interface {
	Get() string
}

// StaticCardKey is a CardKeyProvider with a fixed key.
type StaticCardKey string

func (k StaticCardKey) Get() string { return string(k) }

// Timeouts holds the per-operation time budgets.
type Timeouts struct {
	Submit   time.Duration
	Queue    time.Duration
	List     time.Duration
	Detail   time.Duration
	Progress time.Duration
	Changes  time.Duration
	Export   time.Duration
	Delete   time.Duration
	Retry    time.Duration
}

// DefaultTimeouts returns the standard budgets. Submission gets the longest
// because admission may itself queue.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Submit:   constants.SubmitTimeout,
		Queue:    constants.QueueTimeout,
		List:     constants.ListTimeout,
		Detail:   constants.DetailTimeout,
		Progress: constants.ProgressTimeout,
		Changes:  constants.ChangesTimeout,
		Export:   constants.ExportTimeout,
		Delete:   constants.DeleteTimeout,
		Retry:    constants.RetryTimeout,
	}
}

// retryLogger implements retryablehttp.LeveledLogger on top of our logger.
type retryLogger struct {
	log *logging.Logger
}

// Error logs a failed attempt. Attempts cut short by a cancelled caller are
// logged at debug.
func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	if cancelled(keysAndValues) {
		l.log.Debug().Fields(keysAndValues).Msg(msg)
		return
	}
	l.log.Error().Fields(keysAndValues).Msg(msg)
}

func cancelled(keysAndValues []interface{}) bool {
	for _, v := range keysAndValues {
		if err, ok := v.(error); ok && errors.Is(err, context.Canceled) {
			return true
		}
	}
	return false
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.log.Warn().Fields(keysAndValues).Msg(msg)
}

// Client is the Remote Job Service Adapter. It holds no session state.
type Client struct {
	httpClient      *nethttp.Client // writes: sent exactly once
	queryClient     *nethttp.Client // reads: retried on transient failure
	baseURL         string
	cardKeys        CardKeyProvider
	queryLimiter    *ratelimit.Limiter
	mutationLimiter *ratelimit.Limiter
	timeouts        Timeouts
	logger          *logging.Logger
	onUnauthorized  func(error)

	retryMax     int
	retryWaitMin time.Duration
	retryWaitMax time.Duration
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeouts replaces the per-operation budgets.
func WithTimeouts(t Timeouts) Option {
	return func(c *Client) { c.timeouts = t }
}

// WithOnUnauthorized registers a hook run whenever the service rejects the
// card key.
func WithOnUnauthorized(fn func(error)) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithRateLimiters replaces the query and mutation limiters.
func WithRateLimiters(query, mutation *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.queryLimiter = query
		c.mutationLimiter = mutation
	}
}

// WithQueryRetries sets the retry policy for idempotent reads.
func WithQueryRetries(max int, waitMin, waitMax time.Duration) Option {
	return func(c *Client) {
		c.retryMax = max
		c.retryWaitMin = waitMin
		c.retryWaitMax = waitMax
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *nethttp.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a client for the service at cfg.BaseURL.
func NewClient(cfg *config.Config, keys CardKeyProvider, logger *logging.Logger, opts ...Option) (*Client, error) {
	base := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("service base URL is empty: set service.base_url or POLISH_BASE_URL")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid service base URL: %w", err)
	}
	if keys == nil {
		keys = StaticCardKey("")
	}

	c := &Client{
		baseURL:         base,
		cardKeys:        keys,
		queryLimiter:    ratelimit.NewQueryLimiter(),
		mutationLimiter: ratelimit.NewMutationLimiter(),
		timeouts:        DefaultTimeouts(),
		logger:          logging.OrDefault(logger).Component("api"),
		retryMax:        constants.QueryMaxRetries,
		retryWaitMin:    constants.RetryWaitMin,
		retryWaitMax:    constants.RetryWaitMax,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		hc, err := http.NewServiceClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to configure HTTP client: %w", err)
		}
		c.httpClient = hc
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = c.httpClient
	retryClient.RetryMax = c.retryMax
	retryClient.RetryWaitMin = c.retryWaitMin
	retryClient.RetryWaitMax = c.retryWaitMax
	retryClient.Logger = &retryLogger{log: c.logger}
	// Hand the last response back so the server's message survives.
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	c.queryClient = retryClient.StandardClient()

	return c, nil
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// doRequest performs one call: rate limit, encode, send, classify, decode.
// GET requests go through the retrying client; everything else is sent once.
func (c *Client) doRequest(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	limiter := c.queryLimiter
	httpClient := c.queryClient
	if method != nethttp.MethodGet {
		limiter = c.mutationLimiter
		httpClient = c.httpClient
	}

	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return errorFromTransport(op, err)
		}
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("%s: failed to marshal request body: %w", op, err)
		}
		reqBody = bytes.NewReader(data)
	}

	if query == nil {
		query = url.Values{}
	}
	if key := c.cardKeys.Get(); key != "" {
		query.Set("card_key", key)
	}
	target := c.baseURL + path
	if encoded := query.Encode(); encoded != "" {
		target += "?" + encoded
	}

	req, err := nethttp.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return fmt.Errorf("%s: failed to create request: %w", op, err)
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "polish-int/"+version.Version)
	req.Header.Set("X-Request-ID", requestID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := httpClient.Do(req)
	if err != nil {
		c.logger.Debug().Str("op", op).Str("request_id", requestID).Err(err).Msg("request failed")
		return errorFromTransport(op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("op", op).
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Str("request_id", requestID).
		Msg("request completed")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		apiErr := errorFromResponse(op, resp.StatusCode, data)
		if resp.StatusCode == nethttp.StatusTooManyRequests {
			c.throttled(op, resp.Header.Get("Retry-After"))
		}
		if apiErr.Kind == ErrUnauthorized && c.onUnauthorized != nil {
			c.onUnauthorized(apiErr)
		}
		return apiErr
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errorFromTransport(op, err)
		}
		return &Error{Op: op, Kind: ErrServer, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

// throttled holds both request budgets for as long as the service asked.
// The service throttles per card key, so reads and writes wait alike.
func (c *Client) throttled(op, header string) {
	d, ok := parseRetryAfter(header, time.Now())
	if !ok {
		d = constants.ThrottleHold
	}
	c.logger.Warn().Str("op", op).Dur("hold", d).Msg("throttled by service")
	for _, l := range []*ratelimit.Limiter{c.queryLimiter, c.mutationLimiter} {
		if l != nil {
			l.Hold(d)
		}
	}
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP
// date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return time.Duration(secs) * time.Second, true
	}
	if at, err := nethttp.ParseTime(v); err == nil {
		return max(at.Sub(now), 0), true
	}
	return 0, false
}

// withTimeout derives the operation's context.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
