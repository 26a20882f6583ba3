package models

import "math"

// QueueStatus is a snapshot of service-wide admission capacity. The
// position and estimate are only present when the caller is waiting.
type QueueStatus struct {
	CurrentUsers      int      `json:"current_users"`
	MaxUsers          int      `json:"max_users"`
	QueueLength       int      `json:"queue_length"`
	YourPosition      *int     `json:"your_position,omitempty"`
	EstimatedWaitTime *float64 `json:"estimated_wait_time,omitempty"`
}

// Waiting reports whether the caller holds a queue position.
func (q *QueueStatus) Waiting() bool {
	return q.YourPosition != nil
}

// EstimatedWaitMinutes rounds the wait estimate up to whole minutes.
// It returns false when no estimate is available.
func (q *QueueStatus) EstimatedWaitMinutes() (int, bool) {
	if q.EstimatedWaitTime == nil {
		return 0, false
	}
	return int(math.Ceil(*q.EstimatedWaitTime / 60)), true
}

// AtCapacity reports whether all processing slots are taken.
func (q *QueueStatus) AtCapacity() bool {
	return q.MaxUsers > 0 && q.CurrentUsers >= q.MaxUsers
}
