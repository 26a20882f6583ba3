package mockserver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/paperpolish/polish-int/internal/models"
)

// queuedLocked returns queued sessions in queue order.
func (s *Server) queuedLocked() []*session {
	var out []*session
	for _, sess := range s.sessions {
		if sess.Status == models.StatusQueued {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ticket < out[j].ticket })
	return out
}

// stages returns the pipeline of a mode.
func stages(mode models.Mode) []models.Stage {
	switch mode {
	case models.ModePaperPolishEnhance:
		return []models.Stage{models.StagePolish, models.StageEnhance}
	case models.ModeEmotionPolish:
		return []models.Stage{models.StageEmotionPolish}
	default:
		return []models.Stage{models.StagePolish}
	}
}

// Step advances the service by one tick: every processing session handles
// one segment, then queued sessions are admitted while slots are free. A
// session admitted by a Step starts processing on the next one.
func (s *Server) Step() {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.sessions))
	for id, sess := range s.sessions {
		if sess.Status == models.StatusProcessing {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	for _, id := range ids {
		s.advanceLocked(s.sessions[id])
	}

	processing := 0
	for _, sess := range s.sessions {
		if sess.Status == models.StatusProcessing {
			processing++
		}
	}
	for _, sess := range s.queuedLocked() {
		if processing >= s.opts.MaxUsers {
			break
		}
		sess.Status = models.StatusProcessing
		processing++
	}
}

// StepN calls Step n times.
func (s *Server) StepN(n int) {
	for i := 0; i < n; i++ {
		s.Step()
	}
}

func (s *Server) advanceLocked(sess *session) {
	if sess.failAt >= 0 && sess.CurrentPosition == sess.failAt {
		sess.Status = models.StatusFailed
		sess.ErrorMessage = sess.failMsg
		now := models.NewTimestamp(s.opts.Now())
		sess.CompletedAt = &now
		sess.failAt = -1
		return
	}

	pipeline := stages(sess.ProcessingMode)
	stageIdx := 0
	for i, st := range pipeline {
		if st == sess.CurrentStage {
			stageIdx = i
		}
	}

	seg := &sess.segments[sess.CurrentPosition]
	before := seg.Best().Text
	after := s.opts.Transform(sess.CurrentStage, before)
	switch sess.CurrentStage {
	case models.StageEnhance:
		seg.EnhancedText = models.StrPtr(after)
	default:
		seg.PolishedText = models.StrPtr(after)
	}
	seg.Stage = sess.CurrentStage
	seg.Status = "completed"
	s.recordChangeLocked(sess.SessionID, seg.SegmentIndex, sess.CurrentStage, before, after)

	sess.CurrentPosition++
	if sess.CurrentPosition >= sess.TotalSegments {
		if stageIdx+1 < len(pipeline) {
			stageIdx++
			sess.CurrentStage = pipeline[stageIdx]
			sess.CurrentPosition = 0
		} else {
			sess.Status = models.StatusCompleted
			sess.Progress = 100
			now := models.NewTimestamp(s.opts.Now())
			sess.CompletedAt = &now
			return
		}
	}

	done := stageIdx*sess.TotalSegments + sess.CurrentPosition
	total := len(pipeline) * sess.TotalSegments
	p := float64(done) / float64(total) * 100
	if p >= 100 {
		p = 99.9
	}
	sess.Progress = p
}

func (s *Server) recordChangeLocked(id string, index int, stage models.Stage, before, after string) {
	s.changeID++
	s.changes[id] = append(s.changes[id], models.ChangeRecord{
		ID:           s.changeID,
		SegmentIndex: index,
		Stage:        stage,
		BeforeText:   before,
		AfterText:    after,
		CreatedAt:    models.NewTimestamp(s.opts.Now()),
	})
	if s.emitted[id] == nil {
		s.emitted[id] = make(map[changeKey]int)
	}
	s.emitted[id][changeKey{index, stage}]++
}

// FailAt makes session id fail when processing reaches position. The error
// message is reported verbatim. The fault fires once.
func (s *Server) FailAt(id string, position int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return fmt.Errorf("unknown session %s", id)
	}
	sess.failAt, sess.failMsg = position, message
	return nil
}

// FailNextAt arms FailAt for the next session that is created.
func (s *Server) FailNextAt(position int, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextFail = &failPlan{position: position, message: message}
}

// ChangeCount returns how many change records were emitted for one segment
// and stage, including records superseded by later ones.
func (s *Server) ChangeCount(id string, index int, stage models.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.emitted[id][changeKey{index, stage}]
}

// Session returns a snapshot of a session.
func (s *Server) Session(id string) (models.SessionDetail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return models.SessionDetail{}, false
	}
	return models.SessionDetail{
		Session:  sess.Session,
		Segments: append([]models.Segment(nil), sess.segments...),
	}, true
}

// SessionIDs returns all session ids in creation order.
func (s *Server) SessionIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		list = append(list, sess)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].seq < list[j].seq })
	ids := make([]string, len(list))
	for i, sess := range list {
		ids[i] = sess.SessionID
	}
	return ids
}

// Run calls Step every interval until ctx is done.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Step()
		}
	}
}
