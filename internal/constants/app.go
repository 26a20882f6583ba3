package constants

import (
	"time"
)

// Polling cadences
const (
	// QueuePollInterval - how often the shared queue snapshot is refetched (10 seconds)
	// Queue occupancy is shared across all clients and changes slowly, so this
	// stays coarser than progress polling.
	QueuePollInterval = 10 * time.Second

	// ProgressPollInterval - how often the active session's progress is refetched (3 seconds)
	ProgressPollInterval = 3 * time.Second

	// MinPollInterval - lower bound accepted from configuration (1 second)
	MinPollInterval = 1 * time.Second

	// MaxPollInterval - upper bound accepted from configuration (5 minutes)
	MaxPollInterval = 5 * time.Minute
)

// Per-operation timeout budgets.
// Submission gets the longest budget because admission may itself queue.
const (
	SubmitTimeout   = 60 * time.Second
	QueueTimeout    = 10 * time.Second
	ListTimeout     = 15 * time.Second
	DetailTimeout   = 20 * time.Second
	ProgressTimeout = 10 * time.Second
	ChangesTimeout  = 20 * time.Second
	ExportTimeout   = 30 * time.Second
	DeleteTimeout   = 10 * time.Second
	RetryTimeout    = 15 * time.Second
)

// Session listing
const (
	// DefaultSessionPageSize - sessions requested per list call (20)
	DefaultSessionPageSize = 20

	// MaxSessionPageSize - the service caps list pages at 100
	MaxSessionPageSize = 100
)

// Retry configuration for idempotent queries
const (
	// QueryMaxRetries - retries for GET requests (writes are never retried)
	QueryMaxRetries = 2

	// RetryWaitMin - minimum backoff between query retries
	RetryWaitMin = 500 * time.Millisecond

	// RetryWaitMax - maximum backoff between query retries
	RetryWaitMax = 4 * time.Second

	// ThrottleHold - pause after a 429 that carries no usable Retry-After
	ThrottleHold = 5 * time.Second
)

// Event System
const (
	// EventBusDefaultBuffer - default buffer size for event channels (256)
	EventBusDefaultBuffer = 256

	// EventBusMaxBuffer - maximum buffer size for high-throughput scenarios (2048)
	EventBusMaxBuffer = 2048
)

// Export
const (
	// DefaultExportFormat - the only format the service currently renders
	DefaultExportFormat = "txt"

	// SegmentSeparator - separator placed between segments in an exported document
	SegmentSeparator = "\n\n"
)

// Display
const (
	// ExcerptLength - characters of original text shown in session listings
	ExcerptLength = 100

	// ProgressBarWidth - width of terminal progress bars
	ProgressBarWidth = 40

	// ProgressBarThrottle - minimum time between single-bar redraws
	ProgressBarThrottle = 100 * time.Millisecond

	// DashboardRefreshRate - redraw rate of the watch dashboard (~3 times per second)
	DashboardRefreshRate = 300 * time.Millisecond

	// DashboardWidth - total width of dashboard rows
	DashboardWidth = 100
)

// HTTP Client Timeouts
const (
	// HTTPIdleConnTimeout - how long to keep idle connections open (90 seconds)
	HTTPIdleConnTimeout = 90 * time.Second

	// HTTPTLSHandshakeTimeout - timeout for TLS handshake (15 seconds)
	HTTPTLSHandshakeTimeout = 15 * time.Second

	// HTTPExpectContinueTimeout - timeout for 100-continue response (1 second)
	HTTPExpectContinueTimeout = 1 * time.Second

	// HTTPDialTimeout - timeout for establishing connection (10 seconds)
	HTTPDialTimeout = 10 * time.Second

	// HTTPDialKeepAlive - keep-alive period for dialer (30 seconds)
	HTTPDialKeepAlive = 30 * time.Second
)
