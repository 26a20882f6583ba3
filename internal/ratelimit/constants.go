package ratelimit

import "time"

// Client-side request budgets
//
// The optimization service is shared by every card-key holder and enforces its
// own concurrency limits. These budgets keep one client well below anything the
// service would notice, even when several terminals run `watch` at once.
const (
	// QueryRatePerSec covers status, progress, list, detail and changes calls.
	// The progress poller (1 per 3s) and queue tracker (1 per 10s) together use
	// well under half a token per second.
	QueryRatePerSec = 5.0

	// QueryBurstCapacity allows a watch startup (list + queue + detail) to go
	// out back-to-back.
	QueryBurstCapacity = 20

	// MutationRatePerSec covers submit, retry, export and delete.
	MutationRatePerSec = 0.5

	// MutationBurstCapacity allows a handful of interactive actions in a row.
	MutationBurstCapacity = 5
)

const (
	// MaxHold caps how long a Retry-After from the service can close a
	// limiter.
	MaxHold = 2 * time.Minute

	slowWait     = 2 * time.Second
	warnInterval = 10 * time.Second
)
