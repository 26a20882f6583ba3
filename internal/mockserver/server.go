// Package mockserver is an in-process fake of the optimization service.
// Processing advances only when Step is called (or on the interval passed to
// Run), so tests control every transition.
package mockserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/paperpolish/polish-int/internal/models"
)

// PathPrefix is where the API is mounted; clients use <server URL>/api as
// their base URL.
const PathPrefix = "/api"

// Options configures a Server.
type Options struct {
	// CardKeys lists accepted keys. Empty accepts any non-empty key.
	CardKeys []string
	// MaxUsers is the number of sessions processed concurrently.
	MaxUsers int
	// UsageLimit caps submissions per card key; 0 means unlimited.
	UsageLimit int
	// SecondsPerSession drives estimated_wait_time.
	SecondsPerSession float64
	// Transform produces the processed text of a segment for a stage.
	Transform func(stage models.Stage, text string) string
	// Now replaces the clock.
	Now func() time.Time
}

type injectedError struct {
	status int
	detail string
	times  int
}

type session struct {
	models.Session
	owner    string
	segments []models.Segment
	failAt   int
	failMsg  string
	seq      int // creation order
	ticket   int // queue order
}

// Server is the fake service.
type Server struct {
	mu       sync.Mutex
	opts     Options
	keys     map[string]bool
	usage    map[string]int
	sessions map[string]*session
	changes  map[string][]models.ChangeRecord
	emitted  map[string]map[changeKey]int
	inject   map[string]*injectedError
	calls    map[string]int
	nextFail *failPlan
	seq      int
	tickets  int
	changeID int64
	router   chi.Router
}

type changeKey struct {
	index int
	stage models.Stage
}

type failPlan struct {
	position int
	message  string
}

// New creates a server.
func New(opts Options) *Server {
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = 1
	}
	if opts.SecondsPerSession <= 0 {
		opts.SecondsPerSession = 60
	}
	if opts.Transform == nil {
		opts.Transform = DefaultTransform
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	s := &Server{
		opts:     opts,
		keys:     make(map[string]bool),
		usage:    make(map[string]int),
		sessions: make(map[string]*session),
		changes:  make(map[string][]models.ChangeRecord),
		emitted:  make(map[string]map[changeKey]int),
		inject:   make(map[string]*injectedError),
		calls:    make(map[string]int),
	}
	for _, k := range opts.CardKeys {
		s.keys[k] = true
	}
	s.router = s.routes()
	return s
}

// DefaultTransform tags the text with the stage that processed it.
func DefaultTransform(stage models.Stage, text string) string {
	return fmt.Sprintf("%s [%s]", text, stage)
}

// Handler returns the HTTP handler of the fake service.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Route(PathPrefix+"/optimization", func(api chi.Router) {
		api.Use(s.authMiddleware)
		api.Post("/start", s.handle("POST /start", s.startHandler))
		api.Get("/status", s.handle("GET /status", s.statusHandler))
		api.Get("/sessions", s.handle("GET /sessions", s.listHandler))
		api.Get("/sessions/{id}", s.handle("GET /sessions/{id}", s.detailHandler))
		api.Get("/sessions/{id}/progress", s.handle("GET /sessions/{id}/progress", s.progressHandler))
		api.Get("/sessions/{id}/changes", s.handle("GET /sessions/{id}/changes", s.changesHandler))
		api.Post("/sessions/{id}/export", s.handle("POST /sessions/{id}/export", s.exportHandler))
		api.Post("/sessions/{id}/retry", s.handle("POST /sessions/{id}/retry", s.retryHandler))
		api.Delete("/sessions/{id}", s.handle("DELETE /sessions/{id}", s.deleteHandler))
	})
	return r
}

// Route names accepted by InjectError and Calls.
const (
	RouteStart    = "POST /start"
	RouteStatus   = "GET /status"
	RouteList     = "GET /sessions"
	RouteDetail   = "GET /sessions/{id}"
	RouteProgress = "GET /sessions/{id}/progress"
	RouteChanges  = "GET /sessions/{id}/changes"
	RouteExport   = "POST /sessions/{id}/export"
	RouteRetry    = "POST /sessions/{id}/retry"
	RouteDelete   = "DELETE /sessions/{id}"
)

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("card_key")
		s.mu.Lock()
		ok := key != "" && (len(s.keys) == 0 || s.keys[key])
		s.mu.Unlock()
		if !ok {
			writeDetail(w, http.StatusUnauthorized, "invalid card key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// handle counts calls and applies injected errors before running h.
func (s *Server) handle(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[route]++
		inj := s.inject[route]
		if inj != nil && inj.times != 0 {
			if inj.times > 0 {
				inj.times--
			}
			status, detail := inj.status, inj.detail
			s.mu.Unlock()
			writeDetail(w, status, detail)
			return
		}
		s.mu.Unlock()
		h(w, r)
	}
}

// InjectError makes the next times calls to route fail with status and
// detail. A negative times fails every call until ClearErrors.
func (s *Server) InjectError(route string, status int, detail string, times int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject[route] = &injectedError{status: status, detail: detail, times: times}
}

// ClearErrors removes all injected errors.
func (s *Server) ClearErrors() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inject = make(map[string]*injectedError)
}

// Calls returns how many requests reached route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// RevokeKey stops accepting key.
func (s *Server) RevokeKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.keys) == 0 {
		// Switch to an explicit allow-list that excludes key.
		s.keys["\x00"] = true
	}
	delete(s.keys, key)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) owned(r *http.Request) (*session, bool) {
	id := chi.URLParam(r, "id")
	sess, ok := s.sessions[id]
	if !ok || sess.owner != r.URL.Query().Get("card_key") {
		return nil, false
	}
	return sess, true
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		OriginalText   string      `json:"original_text"`
		ProcessingMode models.Mode `json:"processing_mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	key := r.URL.Query().Get("card_key")

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.UsageLimit > 0 && s.usage[key] >= s.opts.UsageLimit {
		writeDetail(w, http.StatusForbidden, "card key usage limit reached")
		return
	}
	if !body.ProcessingMode.Valid() {
		writeDetail(w, http.StatusBadRequest, "invalid processing mode, supported: paper_polish, paper_polish_enhance, emotion_polish")
		return
	}
	paragraphs := models.SplitParagraphs(body.OriginalText)
	if len(paragraphs) == 0 {
		writeDetail(w, http.StatusBadRequest, "original_text is empty")
		return
	}

	stage := models.StagePolish
	if body.ProcessingMode == models.ModeEmotionPolish {
		stage = models.StageEmotionPolish
	}

	s.seq++
	sess := &session{
		Session: models.Session{
			ID:             int64(s.seq),
			SessionID:      uuid.NewString(),
			Status:         models.StatusQueued,
			ProcessingMode: body.ProcessingMode,
			CurrentStage:   stage,
			TotalSegments:  len(paragraphs),
			OriginalText:   body.OriginalText,
			CreatedAt:      models.NewTimestamp(s.opts.Now()),
		},
		owner:  key,
		failAt: -1,
		seq:    s.seq,
	}
	s.tickets++
	sess.ticket = s.tickets
	for i, p := range paragraphs {
		sess.segments = append(sess.segments, models.Segment{
			ID:           int64(s.seq*1000 + i),
			SegmentIndex: i,
			Stage:        stage,
			Status:       "pending",
			OriginalText: p,
		})
	}
	if s.nextFail != nil {
		sess.failAt, sess.failMsg = s.nextFail.position, s.nextFail.message
		s.nextFail = nil
	}
	s.sessions[sess.SessionID] = sess
	s.usage[key]++

	writeJSON(w, http.StatusOK, sess.Session)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("session_id")

	s.mu.Lock()
	defer s.mu.Unlock()

	processing, queued := 0, s.queuedLocked()
	for _, sess := range s.sessions {
		if sess.Status == models.StatusProcessing {
			processing++
		}
	}
	status := models.QueueStatus{
		CurrentUsers: processing,
		MaxUsers:     s.opts.MaxUsers,
		QueueLength:  len(queued),
	}
	for i, sess := range queued {
		if sess.SessionID == id {
			pos := i + 1
			wait := float64(pos) * s.opts.SecondsPerSession
			status.YourPosition = &pos
			status.EstimatedWaitTime = &wait
			break
		}
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listHandler(w http.ResponseWriter, r *http.Request) {
	limit := atoiDefault(r.URL.Query().Get("limit"), 20)
	offset := atoiDefault(r.URL.Query().Get("offset"), 0)
	if limit > 100 {
		limit = 100
	}
	key := r.URL.Query().Get("card_key")

	s.mu.Lock()
	defer s.mu.Unlock()

	var mine []*session
	for _, sess := range s.sessions {
		if sess.owner == key {
			mine = append(mine, sess)
		}
	}
	sort.Slice(mine, func(i, j int) bool { return mine[i].seq > mine[j].seq })

	out := []models.Session{}
	for i := offset; i < len(mine) && len(out) < limit; i++ {
		out = append(out, mine[i].Session)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) detailHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, models.SessionDetail{
		Session:  sess.Session,
		Segments: append([]models.Segment(nil), sess.segments...),
	})
}

func (s *Server) progressHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	var errMsg *string
	if sess.ErrorMessage != "" {
		errMsg = models.StrPtr(sess.ErrorMessage)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id":       sess.SessionID,
		"status":           sess.Status,
		"progress":         sess.Progress,
		"current_position": sess.CurrentPosition,
		"total_segments":   sess.TotalSegments,
		"current_stage":    sess.CurrentStage,
		"error_message":    errMsg,
	})
}

// changesHandler reports the latest change per (segment, stage).
func (s *Server) changesHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	latest := make(map[changeKey]models.ChangeRecord)
	for _, c := range s.changes[sess.SessionID] {
		latest[changeKey{c.SegmentIndex, c.Stage}] = c
	}
	out := make([]models.ChangeRecord, 0, len(latest))
	for _, c := range latest {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SegmentIndex != out[j].SegmentIndex {
			return out[i].SegmentIndex < out[j].SegmentIndex
		}
		return out[i].ID < out[j].ID
	})
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SessionID                    string `json:"session_id"`
		AcknowledgeAcademicIntegrity bool   `json:"acknowledge_academic_integrity"`
		ExportFormat                 string `json:"export_format"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "malformed body")
		return
	}
	if !body.AcknowledgeAcademicIntegrity {
		writeDetail(w, http.StatusBadRequest, "academic integrity acknowledgment required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != models.StatusCompleted {
		writeDetail(w, http.StatusBadRequest, "session is not completed")
		return
	}
	if body.ExportFormat != "txt" {
		writeDetail(w, http.StatusNotImplemented, "export format not supported yet")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"format":   "txt",
		"content":  models.AssembleDocument(sess.segments, "\n\n"),
		"filename": "optimized_" + sess.SessionID + ".txt",
	})
}

func (s *Server) retryHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	if sess.Status != models.StatusFailed {
		writeDetail(w, http.StatusBadRequest, "only failed sessions can be retried")
		return
	}
	sess.Status = models.StatusQueued
	sess.ErrorMessage = ""
	sess.CompletedAt = nil
	// Requeue behind sessions already waiting.
	s.tickets++
	sess.ticket = s.tickets
	writeJSON(w, http.StatusOK, map[string]string{"message": "requeued unfinished segments"})
}

func (s *Server) deleteHandler(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.owned(r)
	if !ok {
		writeDetail(w, http.StatusNotFound, "session not found")
		return
	}
	delete(s.sessions, sess.SessionID)
	delete(s.changes, sess.SessionID)
	writeJSON(w, http.StatusOK, map[string]string{"message": "session deleted"})
}

func atoiDefault(s string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return def
	}
	return n
}
