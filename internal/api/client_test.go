package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paperpolish/polish-int/internal/config"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/mockserver"
	"github.com/paperpolish/polish-int/internal/models"
	"github.com/paperpolish/polish-int/internal/ratelimit"
)

const testKey = "CARD-KEY"

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	cfg := &config.Config{BaseURL: baseURL, ProxyMode: config.ProxyModeNone}
	opts = append([]Option{
		WithRateLimiters(nil, nil),
		WithQueryRetries(0, time.Millisecond, time.Millisecond),
	}, opts...)
	c, err := NewClient(cfg, StaticCardKey(testKey), logging.Nop(), opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return c
}

func newMock(t *testing.T, opts mockserver.Options) (*mockserver.Server, string) {
	t.Helper()
	srv := mockserver.New(opts)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts.URL + mockserver.PathPrefix
}

func TestNewClientRejectsEmptyBaseURL(t *testing.T) {
	_, err := NewClient(&config.Config{ProxyMode: "no-proxy"}, nil, logging.Nop())
	if err == nil || !strings.Contains(err.Error(), "base URL is empty") {
		t.Fatalf("NewClient() error = %v, want base URL error", err)
	}
}

func TestSessionLifecycle(t *testing.T) {
	srv, base := newMock(t, mockserver.Options{
		Transform: func(stage models.Stage, text string) string { return text + " revised" },
	})
	c := newTestClient(t, base)
	ctx := context.Background()

	sess, err := c.Submit(ctx, "Hello world.", models.ModePaperPolish)
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	if sess.Status != models.StatusQueued || sess.SessionID == "" {
		t.Fatalf("Submit() = %+v", sess)
	}

	q, err := c.QueryQueue(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("QueryQueue() error = %v", err)
	}
	if q.YourPosition == nil || *q.YourPosition != 1 {
		t.Errorf("YourPosition = %v, want 1", q.YourPosition)
	}

	srv.StepN(2)

	upd, err := c.GetProgress(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetProgress() error = %v", err)
	}
	if st, _ := upd.Status.Get(); st != models.StatusCompleted {
		t.Errorf("progress status = %s, want completed", st)
	}
	if !upd.ErrorMessage.Set || !upd.ErrorMessage.Null {
		t.Error("error_message should be present and null")
	}

	list, err := c.ListSessions(ctx, ListOptions{})
	if err != nil || len(list) != 1 {
		t.Fatalf("ListSessions() = %v, %v", list, err)
	}

	detail, err := c.GetDetail(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("GetDetail() error = %v", err)
	}
	if len(detail.Segments) != 1 || detail.Segments[0].Best().Text != "Hello world. revised" {
		t.Errorf("segments = %+v", detail.Segments)
	}

	changes, err := c.GetChanges(ctx, sess.SessionID)
	if err != nil || len(changes) != 1 || changes[0].Stage != models.StagePolish {
		t.Errorf("GetChanges() = %+v, %v", changes, err)
	}

	res, err := c.ExportSession(ctx, sess.SessionID, ExportOptions{Acknowledged: true})
	if err != nil {
		t.Fatalf("ExportSession() error = %v", err)
	}
	if res.Content != "Hello world. revised" || res.Filename != "optimized_"+sess.SessionID+".txt" {
		t.Errorf("ExportSession() = %+v", res)
	}

	if err := c.DeleteSession(ctx, sess.SessionID); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if _, err := c.GetDetail(ctx, sess.SessionID); !IsNotFound(err) {
		t.Errorf("GetDetail() after delete = %v, want not found", err)
	}
}

func TestSubmitValidationMakesNoCall(t *testing.T) {
	srv, base := newMock(t, mockserver.Options{})
	c := newTestClient(t, base)

	tests := []struct {
		name string
		text string
		mode models.Mode
	}{
		{"empty", "", models.ModePaperPolish},
		{"whitespace", "  \n\t ", models.ModePaperPolish},
		{"bad mode", "text", models.Mode("rewrite")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := c.Submit(context.Background(), tt.text, tt.mode)
			if !IsValidation(err) {
				t.Errorf("Submit() error = %v, want validation", err)
			}
		})
	}
	if n := srv.Calls(mockserver.RouteStart); n != 0 {
		t.Errorf("start called %d times, want 0", n)
	}
}

func TestExportRequiresAcknowledgment(t *testing.T) {
	srv, base := newMock(t, mockserver.Options{})
	c := newTestClient(t, base)

	_, err := c.ExportSession(context.Background(), "any", ExportOptions{Acknowledged: false, Format: "txt"})
	if !errors.Is(err, ErrAcknowledgmentRequired) {
		t.Fatalf("error = %v, want ErrAcknowledgmentRequired", err)
	}
	if !IsValidation(err) || !IsPreconditionFailed(err) {
		t.Error("missing acknowledgment must be both validation and precondition failure")
	}
	if n := srv.Calls(mockserver.RouteExport); n != 0 {
		t.Errorf("export called %d times, want 0", n)
	}
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name     string
		route    string
		status   int
		call     func(*Client) error
		wantKind error
		wantHook bool
		wantMsg  string
	}{
		{"unauthorized", mockserver.RouteList, 401, func(c *Client) error {
			_, err := c.ListSessions(context.Background(), ListOptions{})
			return err
		}, ErrUnauthorized, true, ""},
		{"usage limit", mockserver.RouteStart, 403, func(c *Client) error {
			_, err := c.Submit(context.Background(), "x", models.ModePaperPolish)
			return err
		}, ErrPreconditionFailed, false, "quota exhausted"},
		{"retry conflict", mockserver.RouteRetry, 400, func(c *Client) error {
			_, err := c.Retry(context.Background(), "s1")
			return err
		}, ErrPreconditionFailed, false, "quota exhausted"},
		{"submit bad request", mockserver.RouteStart, 400, func(c *Client) error {
			_, err := c.Submit(context.Background(), "x", models.ModePaperPolish)
			return err
		}, ErrValidation, false, "quota exhausted"},
		{"server error verbatim", mockserver.RouteDetail, 500, func(c *Client) error {
			_, err := c.GetDetail(context.Background(), "s1")
			return err
		}, ErrServer, false, "quota exhausted"},
		{"gateway timeout", mockserver.RouteProgress, 504, func(c *Client) error {
			_, err := c.GetProgress(context.Background(), "s1")
			return err
		}, ErrTimeout, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, base := newMock(t, mockserver.Options{})
			var hooked atomic.Int32
			c := newTestClient(t, base, WithOnUnauthorized(func(error) { hooked.Add(1) }))

			srv.InjectError(tt.route, tt.status, "quota exhausted", 1)
			err := tt.call(c)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("error = %v, want kind %v", err, tt.wantKind)
			}
			if (hooked.Load() > 0) != tt.wantHook {
				t.Errorf("unauthorized hook fired = %v, want %v", hooked.Load() > 0, tt.wantHook)
			}
			if tt.wantMsg != "" && UserMessage(err) != tt.wantMsg {
				t.Errorf("UserMessage() = %q, want %q", UserMessage(err), tt.wantMsg)
			}
		})
	}
}

func TestPreconditionsFromService(t *testing.T) {
	srv, base := newMock(t, mockserver.Options{})
	c := newTestClient(t, base)
	ctx := context.Background()

	sess, err := c.Submit(ctx, "one", models.ModePaperPolish)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Retry(ctx, sess.SessionID); !IsPreconditionFailed(err) {
		t.Errorf("Retry() on queued session = %v, want precondition failure", err)
	}
	if _, err := c.ExportSession(ctx, sess.SessionID, ExportOptions{Acknowledged: true}); !IsPreconditionFailed(err) {
		t.Errorf("ExportSession() on queued session = %v, want precondition failure", err)
	}

	srv.StepN(2)
	_, err = c.ExportSession(ctx, sess.SessionID, ExportOptions{Acknowledged: true, Format: "pdf"})
	if !errors.Is(err, ErrServer) {
		t.Errorf("pdf export = %v, want server error", err)
	}
}

func TestQueriesRetriedWritesNot(t *testing.T) {
	srv, base := newMock(t, mockserver.Options{})
	c := newTestClient(t, base, WithQueryRetries(2, time.Millisecond, 5*time.Millisecond))
	ctx := context.Background()

	srv.InjectError(mockserver.RouteList, http.StatusServiceUnavailable, "busy", 1)
	if _, err := c.ListSessions(ctx, ListOptions{}); err != nil {
		t.Fatalf("ListSessions() should succeed after retry, got %v", err)
	}
	if n := srv.Calls(mockserver.RouteList); n != 2 {
		t.Errorf("list calls = %d, want 2", n)
	}

	srv.InjectError(mockserver.RouteStart, http.StatusServiceUnavailable, "busy", 1)
	_, err := c.Submit(ctx, "text", models.ModePaperPolish)
	if !errors.Is(err, ErrServer) || !IsTransient(err) {
		t.Fatalf("Submit() = %v, want transient server error", err)
	}
	if n := srv.Calls(mockserver.RouteStart); n != 1 {
		t.Errorf("start calls = %d, want exactly 1", n)
	}
	if ids := srv.SessionIDs(); len(ids) != 0 {
		t.Errorf("sessions created = %d, want 0", len(ids))
	}
}

func TestPerOperationTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(time.Second):
		case <-r.Context().Done():
		}
	}))
	defer ts.Close()

	timeouts := DefaultTimeouts()
	timeouts.Progress = 20 * time.Millisecond
	c := newTestClient(t, ts.URL, WithTimeouts(timeouts))

	start := time.Now()
	_, err := c.GetProgress(context.Background(), "s1")
	if !errors.Is(err, ErrTimeout) || !IsTransient(err) {
		t.Fatalf("GetProgress() error = %v, want timeout", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("timeout took %v, budget not applied", time.Since(start))
	}
}

func TestRequestCarriesCardKeyAndRequestID(t *testing.T) {
	var gotKey, gotID, gotLimit string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.URL.Query().Get("card_key")
		gotLimit = r.URL.Query().Get("limit")
		gotID = r.Header.Get("X-Request-ID")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte("[]"))
	}))
	defer ts.Close()

	c := newTestClient(t, ts.URL)
	if _, err := c.ListSessions(context.Background(), ListOptions{Limit: 500}); err != nil {
		t.Fatal(err)
	}
	if gotKey != testKey {
		t.Errorf("card_key = %q, want %q", gotKey, testKey)
	}
	if gotID == "" {
		t.Error("X-Request-ID header missing")
	}
	if gotLimit != "100" {
		t.Errorf("limit = %q, want clamped to 100", gotLimit)
	}
}

func TestCancelledContextIsNotTimeout(t *testing.T) {
	_, base := newMock(t, mockserver.Options{})
	c := newTestClient(t, base)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.QueryQueue(ctx, "")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if IsTransient(err) {
		t.Error("cancellation should not be reported as transient")
	}
}

func TestCancelledQueryLogsNoError(t *testing.T) {
	started := make(chan struct{}, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started <- struct{}{}
		<-r.Context().Done()
	}))
	defer ts.Close()

	var buf bytes.Buffer
	cfg := &config.Config{BaseURL: ts.URL, ProxyMode: config.ProxyModeNone}
	c, err := NewClient(cfg, StaticCardKey(testKey), logging.New(logging.Options{Out: &buf}),
		WithRateLimiters(nil, nil),
		WithQueryRetries(2, time.Millisecond, time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	if _, err := c.GetProgress(ctx, "s1"); !errors.Is(err, context.Canceled) {
		t.Fatalf("GetProgress() error = %v, want context.Canceled", err)
	}
	if strings.Contains(buf.String(), "ERR") {
		t.Errorf("cancelled query logged an error:\n%s", buf.String())
	}
}

func TestRetryLoggerLevels(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"cancelled", &url.Error{Op: "Get", URL: "http://x", Err: context.Canceled}, false},
		{"connection refused", errors.New("dial tcp: connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := &retryLogger{log: logging.New(logging.Options{Out: &buf})}
			l.Error("request failed", "error", tt.err, "method", "GET")
			if got := strings.Contains(buf.String(), "ERR"); got != tt.wantErr {
				t.Errorf("error-level line = %v, want %v; log:\n%s", got, tt.wantErr, buf.String())
			}
		})
	}
}

func TestThrottleHoldsLaterCalls(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"detail":"too many requests"}`))
	}))
	t.Cleanup(ts.Close)

	query := ratelimit.New("query", 1000, 100)
	mutation := ratelimit.New("mutation", 1000, 100)
	c := newTestClient(t, ts.URL, WithRateLimiters(query, mutation))

	if _, err := c.QueryQueue(context.Background(), ""); err == nil {
		t.Fatal("QueryQueue() should fail on 429")
	}
	for name, l := range map[string]*ratelimit.Limiter{"query": query, "mutation": mutation} {
		if held := l.HeldFor(); held < time.Second || held > 2*time.Second {
			t.Errorf("%s limiter held for %v, want about 2s", name, held)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := c.QueryQueue(ctx, ""); err == nil {
		t.Fatal("QueryQueue() during the hold should fail")
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("requests sent = %d, want 1 while held", n)
	}
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		value  string
		want   time.Duration
		wantOK bool
	}{
		{"seconds", "30", 30 * time.Second, true},
		{"padded", " 5 ", 5 * time.Second, true},
		{"http date", now.Add(time.Minute).Format(http.TimeFormat), time.Minute, true},
		{"date in the past", now.Add(-time.Minute).Format(http.TimeFormat), 0, true},
		{"empty", "", 0, false},
		{"negative", "-3", 0, false},
		{"garbage", "soon", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := parseRetryAfter(tt.value, now)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("parseRetryAfter(%q) = %v, %v; want %v, %v", tt.value, got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
