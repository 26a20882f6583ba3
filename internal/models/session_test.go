package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestStatusIsTerminal(t *testing.T) {
	tests := []struct {
		status   Status
		terminal bool
		active   bool
	}{
		{StatusQueued, false, true},
		{StatusProcessing, false, true},
		{StatusCompleted, true, false},
		{StatusFailed, true, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
			if got := tt.status.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", DefaultMode, false},
		{"paper_polish", ModePaperPolish, false},
		{" Emotion_Polish ", ModeEmotionPolish, false},
		{"paper_polish_enhance", ModePaperPolishEnhance, false},
		{"rewrite", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMode(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStageLabelUnknownVerbatim(t *testing.T) {
	if got := Stage("translate").Label(); got != "translate" {
		t.Errorf("Label() = %q, want verbatim stage name", got)
	}
	if got := StageEnhance.Label(); got != "originality enhance" {
		t.Errorf("Label() = %q", got)
	}
}

func TestSessionIsRetryable(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		want    bool
	}{
		{"failed midway", Session{Status: StatusFailed, CurrentPosition: 2, TotalSegments: 5}, true},
		{"failed at end", Session{Status: StatusFailed, CurrentPosition: 5, TotalSegments: 5}, false},
		{"processing", Session{Status: StatusProcessing, CurrentPosition: 2, TotalSegments: 5}, false},
		{"completed", Session{Status: StatusCompleted, CurrentPosition: 5, TotalSegments: 5}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.session.IsRetryable(); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSessionCheckInvariants(t *testing.T) {
	ok := Session{Status: StatusProcessing, Progress: 40, CurrentPosition: 2, TotalSegments: 5}
	if p := ok.CheckInvariants(); len(p) != 0 {
		t.Errorf("unexpected problems: %v", p)
	}
	bad := Session{Status: StatusCompleted, Progress: 80, ErrorMessage: "boom"}
	if p := bad.CheckInvariants(); len(p) != 2 {
		t.Errorf("expected 2 problems, got %v", p)
	}
}

func TestSegmentBestPrecedence(t *testing.T) {
	tests := []struct {
		name     string
		seg      Segment
		wantKind TextKind
		wantText string
	}{
		{"original only", Segment{OriginalText: "a"}, TextOriginal, "a"},
		{"polished", Segment{OriginalText: "a", PolishedText: StrPtr("b")}, TextPolished, "b"},
		{"enhanced wins", Segment{OriginalText: "a", PolishedText: StrPtr("b"), EnhancedText: StrPtr("c")}, TextEnhanced, "c"},
		{"enhanced without polished", Segment{OriginalText: "a", EnhancedText: StrPtr("c")}, TextEnhanced, "c"},
		{"empty polished falls back", Segment{OriginalText: "a", PolishedText: StrPtr("")}, TextOriginal, "a"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.seg.Best()
			if got.Kind != tt.wantKind || got.Text != tt.wantText {
				t.Errorf("Best() = %v/%q, want %v/%q", got.Kind, got.Text, tt.wantKind, tt.wantText)
			}
		})
	}
}

func TestAssembleDocument(t *testing.T) {
	segs := []Segment{
		{SegmentIndex: 0, OriginalText: "one", PolishedText: StrPtr("ONE")},
		{SegmentIndex: 1, OriginalText: "two"},
		{SegmentIndex: 2, OriginalText: "three", EnhancedText: StrPtr("THREE")},
	}
	if got := AssembleDocument(segs, "\n\n"); got != "ONE\n\ntwo\n\nTHREE" {
		t.Errorf("AssembleDocument() = %q", got)
	}
	if got := AssembleDocument(nil, "\n\n"); got != "" {
		t.Errorf("AssembleDocument(nil) = %q, want empty", got)
	}
}

func TestSplitParagraphs(t *testing.T) {
	got := SplitParagraphs("first\n\n  \nsecond\r\nthird  ")
	want := []string{"first", "second", "third"}
	if len(got) != len(want) {
		t.Fatalf("SplitParagraphs() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("paragraph %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestProgressUpdateTracksPresence(t *testing.T) {
	var u ProgressUpdate
	if err := json.Unmarshal([]byte(`{"session_id":"s1","progress":42.5,"error_message":null}`), &u); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if v, ok := u.Progress.Get(); !ok || v != 42.5 {
		t.Errorf("Progress = %v/%v, want 42.5/true", v, ok)
	}
	if u.Status.Set {
		t.Error("absent status should not be Set")
	}
	if !u.ErrorMessage.Set || !u.ErrorMessage.Null {
		t.Errorf("null error_message should be Set and Null, got %+v", u.ErrorMessage)
	}
}

func TestTimestampFormats(t *testing.T) {
	tests := []string{
		`"2024-03-01T10:20:30Z"`,
		`"2024-03-01T10:20:30.123456"`,
		`"2024-03-01T10:20:30"`,
		`"2024-03-01 10:20:30"`,
	}
	for _, in := range tests {
		var ts Timestamp
		if err := json.Unmarshal([]byte(in), &ts); err != nil {
			t.Errorf("Unmarshal(%s): %v", in, err)
			continue
		}
		if ts.Year() != 2024 || ts.Month() != time.March || ts.Hour() != 10 {
			t.Errorf("Unmarshal(%s) = %v", in, ts.Time)
		}
	}
	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("expected error for unparseable timestamp")
	}
}

func TestQueueStatusWaitMinutes(t *testing.T) {
	q := QueueStatus{}
	if _, ok := q.EstimatedWaitMinutes(); ok {
		t.Error("expected no estimate")
	}
	wait := 61.0
	q.EstimatedWaitTime = &wait
	if m, ok := q.EstimatedWaitMinutes(); !ok || m != 2 {
		t.Errorf("EstimatedWaitMinutes() = %d/%v, want 2/true", m, ok)
	}
}
