package models

import "strings"

// TextKind identifies which rendition of a segment a text came from.
// Higher kinds take precedence when building the final document.
type TextKind int

const (
	TextOriginal TextKind = iota
	TextPolished
	TextEnhanced
)

func (k TextKind) String() string {
	switch k {
	case TextPolished:
		return "polished"
	case TextEnhanced:
		return "enhanced"
	default:
		return "original"
	}
}

// SegmentText is one rendition of a segment.
type SegmentText struct {
	Kind TextKind
	Text string
}

// Segment is one paragraph of the submitted text and its processed versions.
type Segment struct {
	ID           int64   `json:"id,omitempty"`
	SegmentIndex int     `json:"segment_index"`
	Stage        Stage   `json:"stage,omitempty"`
	Status       string  `json:"status,omitempty"`
	OriginalText string  `json:"original_text"`
	PolishedText *string `json:"polished_text"`
	EnhancedText *string `json:"enhanced_text"`
}

// Renditions returns the present renditions ordered from lowest to highest
// precedence. An empty processed text counts as absent.
func (s Segment) Renditions() []SegmentText {
	out := []SegmentText{{Kind: TextOriginal, Text: s.OriginalText}}
	if s.PolishedText != nil && *s.PolishedText != "" {
		out = append(out, SegmentText{Kind: TextPolished, Text: *s.PolishedText})
	}
	if s.EnhancedText != nil && *s.EnhancedText != "" {
		out = append(out, SegmentText{Kind: TextEnhanced, Text: *s.EnhancedText})
	}
	return out
}

// Best returns the highest-precedence rendition: enhanced, then polished,
// then original.
func (s Segment) Best() SegmentText {
	r := s.Renditions()
	return r[len(r)-1]
}

// AssembleDocument joins the best rendition of every segment with sep.
func AssembleDocument(segments []Segment, sep string) string {
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		parts = append(parts, seg.Best().Text)
	}
	return strings.Join(parts, sep)
}

// SplitParagraphs splits text on newlines, dropping blank lines. Each kept
// paragraph becomes one segment on the service side.
func SplitParagraphs(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

// StrPtr returns a pointer to s.
func StrPtr(s string) *string { return &s }
