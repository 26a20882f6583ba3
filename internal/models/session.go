// Package models defines data structures for optimization sessions.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Status is the server-reported lifecycle state of a session.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the session has stopped changing on its own.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// IsActive reports whether the service is still working on (or queueing) the session.
func (s Status) IsActive() bool {
	return s == StatusQueued || s == StatusProcessing
}

// Label returns the short display name of the status.
func (s Status) Label() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusProcessing:
		return "processing"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return string(s)
	}
}

// Mode selects the processing pipeline for a submission.
type Mode string

const (
	ModePaperPolish        Mode = "paper_polish"
	ModePaperPolishEnhance Mode = "paper_polish_enhance"
	ModeEmotionPolish      Mode = "emotion_polish"
)

// DefaultMode is used when a submission does not name a mode.
const DefaultMode = ModePaperPolishEnhance

// Modes returns every supported mode in display order.
func Modes() []Mode {
	return []Mode{ModePaperPolish, ModePaperPolishEnhance, ModeEmotionPolish}
}

// Valid reports whether m is one of the supported modes.
func (m Mode) Valid() bool {
	for _, known := range Modes() {
		if m == known {
			return true
		}
	}
	return false
}

// Description explains what the mode does.
func (m Mode) Description() string {
	switch m {
	case ModePaperPolish:
		return "paper polish only: improves academic tone and expression"
	case ModePaperPolishEnhance:
		return "paper polish, then originality enhance (two stages)"
	case ModeEmotionPolish:
		return "emotion polish: natural, human-sounding prose for articles"
	default:
		return string(m)
	}
}

// ParseMode converts user input to a Mode.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.TrimSpace(strings.ToLower(s)))
	if m == "" {
		return DefaultMode, nil
	}
	if !m.Valid() {
		return "", fmt.Errorf("unknown processing mode %q (supported: %s, %s, %s)",
			s, ModePaperPolish, ModePaperPolishEnhance, ModeEmotionPolish)
	}
	return m, nil
}

// Stage names a pipeline stage. The set is open-ended; unknown stages are
// displayed verbatim.
type Stage string

const (
	StagePolish        Stage = "polish"
	StageEnhance       Stage = "enhance"
	StageEmotionPolish Stage = "emotion_polish"
)

// Label returns the display name of the stage.
func (s Stage) Label() string {
	switch s {
	case StagePolish:
		return "paper polish"
	case StageEnhance:
		return "originality enhance"
	case StageEmotionPolish:
		return "emotion polish"
	default:
		return string(s)
	}
}

// Session is one optimization job as reported by the service.
type Session struct {
	ID              int64      `json:"id,omitempty"`
	SessionID       string     `json:"session_id"`
	Status          Status     `json:"status"`
	ProcessingMode  Mode       `json:"processing_mode,omitempty"`
	CurrentStage    Stage      `json:"current_stage"`
	CurrentPosition int        `json:"current_position"`
	TotalSegments   int        `json:"total_segments"`
	Progress        float64    `json:"progress"`
	OriginalText    string     `json:"original_text,omitempty"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	CreatedAt       Timestamp  `json:"created_at"`
	CompletedAt     *Timestamp `json:"completed_at,omitempty"`
}

// HasUnfinishedWork reports whether some segments have not been processed yet.
func (s *Session) HasUnfinishedWork() bool {
	return s.CurrentPosition < s.TotalSegments
}

// IsRetryable reports whether a resume can be requested: the session failed
// and there is unfinished work left.
func (s *Session) IsRetryable() bool {
	return s.Status == StatusFailed && s.HasUnfinishedWork()
}

// DisplayPosition returns the 1-based segment number being worked on, capped
// at the total.
func (s *Session) DisplayPosition() int {
	pos := s.CurrentPosition + 1
	if s.TotalSegments > 0 && pos > s.TotalSegments {
		pos = s.TotalSegments
	}
	return pos
}

// Excerpt returns the first n characters of the original text.
func (s *Session) Excerpt(n int) string {
	runes := []rune(strings.TrimSpace(s.OriginalText))
	if len(runes) <= n {
		return string(runes)
	}
	return string(runes[:n]) + "..."
}

// CheckInvariants returns human-readable descriptions of any broken
// invariants in the reported state. An empty result means the record is
// consistent.
func (s *Session) CheckInvariants() []string {
	var problems []string
	if s.Progress < 0 || s.Progress > 100 {
		problems = append(problems, fmt.Sprintf("progress %.1f outside 0-100", s.Progress))
	}
	if s.Status == StatusCompleted && math.Abs(s.Progress-100) > 1e-9 {
		problems = append(problems, fmt.Sprintf("completed with progress %.1f", s.Progress))
	}
	if s.Status != StatusCompleted && s.Progress >= 100 {
		problems = append(problems, fmt.Sprintf("progress 100 while %s", s.Status))
	}
	if !s.Status.IsTerminal() && s.TotalSegments > 0 && s.CurrentPosition >= s.TotalSegments {
		problems = append(problems, fmt.Sprintf("position %d not below total %d while %s",
			s.CurrentPosition, s.TotalSegments, s.Status))
	}
	if s.Status != StatusFailed && s.ErrorMessage != "" {
		problems = append(problems, "error message present while "+string(s.Status))
	}
	return problems
}

// SessionDetail is a session together with its segments.
type SessionDetail struct {
	Session
	Segments []Segment `json:"segments"`
}

// ProgressUpdate is the partial session returned by the progress endpoint.
// Only fields that were present in the response are merged.
type ProgressUpdate struct {
	SessionID       string         `json:"session_id"`
	Status          Field[Status]  `json:"status"`
	Progress        Field[float64] `json:"progress"`
	CurrentPosition Field[int]     `json:"current_position"`
	TotalSegments   Field[int]     `json:"total_segments"`
	CurrentStage    Field[Stage]   `json:"current_stage"`
	ErrorMessage    Field[string]  `json:"error_message"`
}

// ChangeRecord is one entry of the append-only audit trail of a session.
type ChangeRecord struct {
	ID            int64           `json:"id"`
	SegmentIndex  int             `json:"segment_index"`
	Stage         Stage           `json:"stage"`
	BeforeText    string          `json:"before_text"`
	AfterText     string          `json:"after_text"`
	ChangesDetail json.RawMessage `json:"changes_detail,omitempty"`
	CreatedAt     Timestamp       `json:"created_at"`
}
