// Package core orchestrates optimization sessions on top of the service
// client: the session registry, the single active-session lease, queue and
// progress polling, and the submission, retry and export controllers.
package core

import (
	"sort"
	"sync"

	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

type registryEntry struct {
	session  models.Session
	segments []models.Segment // nil until a detail fetch
}

// Registry is the client-side cache of known sessions and their last
// observed state. It is the only writer of session fields; readers get
// copies.
type Registry struct {
	mu      sync.RWMutex
	order   []string
	entries map[string]*registryEntry
	logger  *logging.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *logging.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*registryEntry),
		logger:  logging.OrDefault(logger).Component("registry"),
	}
}

// Replace rebuilds the registry from a full list. Order follows the list.
// Cached segments of sessions that are still present are kept.
func (r *Registry) Replace(list []models.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := make(map[string]*registryEntry, len(list))
	order := make([]string, 0, len(list))
	for _, s := range list {
		if s.SessionID == "" {
			continue
		}
		if _, dup := entries[s.SessionID]; dup {
			continue
		}
		e := &registryEntry{session: s}
		if old, ok := r.entries[s.SessionID]; ok {
			e.session = r.reconcile(old.session, s)
			e.segments = old.segments
		}
		entries[s.SessionID] = e
		order = append(order, s.SessionID)
	}
	r.entries = entries
	r.order = order
}

// Upsert stores a full session record, adding it in front when it is new.
func (r *Registry) Upsert(s models.Session) models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.upsertLocked(s)
}

func (r *Registry) upsertLocked(s models.Session) models.Session {
	e, ok := r.entries[s.SessionID]
	if !ok {
		e = &registryEntry{session: s}
		r.entries[s.SessionID] = e
		r.order = append([]string{s.SessionID}, r.order...)
	} else {
		e.session = r.reconcile(e.session, s)
	}
	return e.session
}

// MergeDetail stores a session together with its segments.
func (r *Registry) MergeDetail(d models.SessionDetail) models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	merged := r.upsertLocked(d.Session)
	segs := append([]models.Segment(nil), d.Segments...)
	sort.SliceStable(segs, func(i, j int) bool { return segs[i].SegmentIndex < segs[j].SegmentIndex })
	r.entries[d.SessionID].segments = segs
	return merged
}

// MergeProgress shallow-merges a progress update into the stored record.
// Fields absent from the update keep their last known value. An unknown
// session gets a record holding only the reported fields.
func (r *Registry) MergeProgress(u models.ProgressUpdate) models.Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[u.SessionID]
	if !ok {
		e = &registryEntry{session: models.Session{SessionID: u.SessionID}}
		r.entries[u.SessionID] = e
		r.order = append([]string{u.SessionID}, r.order...)
	}

	next := e.session
	if v, ok := u.Status.Get(); ok {
		next.Status = v
	}
	if v, ok := u.Progress.Get(); ok {
		next.Progress = v
	}
	if v, ok := u.CurrentPosition.Get(); ok {
		next.CurrentPosition = v
	}
	if v, ok := u.TotalSegments.Get(); ok {
		next.TotalSegments = v
	}
	if v, ok := u.CurrentStage.Get(); ok {
		next.CurrentStage = v
	}
	if u.ErrorMessage.Set {
		// null clears the message
		next.ErrorMessage, _ = u.ErrorMessage.Get()
	}

	e.session = r.reconcile(e.session, next)
	return e.session
}

// reconcile returns next, except that progress may not move backwards
// while both records are still active.
func (r *Registry) reconcile(prev, next models.Session) models.Session {
	if prev.Status.IsActive() && next.Status.IsActive() && next.Progress < prev.Progress {
		r.logger.Debug().
			Str("session_id", next.SessionID).
			Float64("reported", next.Progress).
			Float64("kept", prev.Progress).
			Msg("ignoring progress regression")
		next.Progress = prev.Progress
	}
	if problems := next.CheckInvariants(); len(problems) > 0 {
		r.logger.Debug().Str("session_id", next.SessionID).Strs("problems", problems).Msg("inconsistent session state reported")
	}
	return next
}

// Remove drops a session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; !ok {
		return false
	}
	delete(r.entries, id)
	for i, sid := range r.order {
		if sid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns a copy of one session.
func (r *Registry) Get(id string) (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return models.Session{}, false
	}
	return e.session, true
}

// Segments returns the cached segments of a session, ordered by index.
// The second result is false when no detail has been fetched.
func (r *Registry) Segments(id string) ([]models.Segment, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok || e.segments == nil {
		return nil, false
	}
	return append([]models.Segment(nil), e.segments...), true
}

// List returns all sessions in registry order.
func (r *Registry) List() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].session)
	}
	return out
}

// FirstActive returns the first queued or processing session.
func (r *Registry) FirstActive() (models.Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, id := range r.order {
		if s := r.entries[id].session; s.Status.IsActive() {
			return s, true
		}
	}
	return models.Session{}, false
}

// Len returns the number of known sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
