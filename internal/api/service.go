package api

import (
	"context"
	nethttp "net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/models"
)

// Service is the contract of the remote optimization service.
type Service interface {
	Submit(ctx context.Context, text string, mode models.Mode) (*models.Session, error)
	QueryQueue(ctx context.Context, sessionID string) (*models.QueueStatus, error)
	ListSessions(ctx context.Context, opts ListOptions) ([]models.Session, error)
	GetDetail(ctx context.Context, sessionID string) (*models.SessionDetail, error)
	GetProgress(ctx context.Context, sessionID string) (*models.ProgressUpdate, error)
	GetChanges(ctx context.Context, sessionID string) ([]models.ChangeRecord, error)
	ExportSession(ctx context.Context, sessionID string, opts ExportOptions) (*ExportResult, error)
	DeleteSession(ctx context.Context, sessionID string) error
	Retry(ctx context.Context, sessionID string) (string, error)
}

var _ Service = (*Client)(nil)

func sessionPath(sessionID string, suffix string) string {
	return "/optimization/sessions/" + url.PathEscape(sessionID) + suffix
}

func requireID(op, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return &Error{Op: op, Kind: ErrValidation, Message: "session id is required"}
	}
	return nil
}

// Submit creates a session. The text must contain more than whitespace.
func (c *Client) Submit(ctx context.Context, text string, mode models.Mode) (*models.Session, error) {
	req := StartRequest{OriginalText: text, ProcessingMode: mode}
	if err := validatePayload(OpSubmit, req); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeouts.Submit)
	defer cancel()

	var session models.Session
	if err := c.doRequest(ctx, OpSubmit, nethttp.MethodPost, "/optimization/start", nil, req, &session); err != nil {
		return nil, err
	}
	if session.SessionID == "" {
		return nil, &Error{Op: OpSubmit, Kind: ErrServer, Message: "service accepted the submission without a session id"}
	}
	return &session, nil
}

// QueryQueue fetches the shared queue snapshot. With a session id that is
// still queued the response carries a position and wait estimate.
func (c *Client) QueryQueue(ctx context.Context, sessionID string) (*models.QueueStatus, error) {
	ctx, cancel := withTimeout(ctx, c.timeouts.Queue)
	defer cancel()

	query := url.Values{}
	if sessionID != "" {
		query.Set("session_id", sessionID)
	}
	var status models.QueueStatus
	if err := c.doRequest(ctx, OpQueue, nethttp.MethodGet, "/optimization/status", query, nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// ListSessions returns session summaries, newest first. A zero limit uses
// the default page size; limits above the service cap are clamped.
func (c *Client) ListSessions(ctx context.Context, opts ListOptions) ([]models.Session, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = constants.DefaultSessionPageSize
	}
	if limit > constants.MaxSessionPageSize {
		limit = constants.MaxSessionPageSize
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}

	ctx, cancel := withTimeout(ctx, c.timeouts.List)
	defer cancel()

	query := url.Values{}
	query.Set("limit", strconv.Itoa(limit))
	query.Set("offset", strconv.Itoa(offset))

	var sessions []models.Session
	if err := c.doRequest(ctx, OpList, nethttp.MethodGet, "/optimization/sessions", query, nil, &sessions); err != nil {
		return nil, err
	}
	return sessions, nil
}

// GetDetail fetches a session with all of its segments.
func (c *Client) GetDetail(ctx context.Context, sessionID string) (*models.SessionDetail, error) {
	if err := requireID(OpDetail, sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeouts.Detail)
	defer cancel()

	var detail models.SessionDetail
	if err := c.doRequest(ctx, OpDetail, nethttp.MethodGet, sessionPath(sessionID, ""), nil, nil, &detail); err != nil {
		return nil, err
	}
	return &detail, nil
}

// GetProgress fetches the partial progress record of a session.
func (c *Client) GetProgress(ctx context.Context, sessionID string) (*models.ProgressUpdate, error) {
	if err := requireID(OpProgress, sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeouts.Progress)
	defer cancel()

	var update models.ProgressUpdate
	if err := c.doRequest(ctx, OpProgress, nethttp.MethodGet, sessionPath(sessionID, "/progress"), nil, nil, &update); err != nil {
		return nil, err
	}
	if update.SessionID == "" {
		update.SessionID = sessionID
	}
	return &update, nil
}

// GetChanges fetches the change records of a session.
func (c *Client) GetChanges(ctx context.Context, sessionID string) ([]models.ChangeRecord, error) {
	if err := requireID(OpChanges, sessionID); err != nil {
		return nil, err
	}
	ctx, cancel := withTimeout(ctx, c.timeouts.Changes)
	defer cancel()

	var changes []models.ChangeRecord
	if err := c.doRequest(ctx, OpChanges, nethttp.MethodGet, sessionPath(sessionID, "/changes"), nil, nil, &changes); err != nil {
		return nil, err
	}
	return changes, nil
}

// ExportSession asks the service to render a session. It fails with
// ErrAcknowledgmentRequired, without any network call, unless
// opts.Acknowledged is set.
func (c *Client) ExportSession(ctx context.Context, sessionID string, opts ExportOptions) (*ExportResult, error) {
	if !opts.Acknowledged {
		return nil, ErrAcknowledgmentRequired
	}
	format := opts.Format
	if format == "" {
		format = constants.DefaultExportFormat
	}
	req := ExportRequest{
		SessionID:                    sessionID,
		AcknowledgeAcademicIntegrity: true,
		ExportFormat:                 format,
	}
	if err := validatePayload(OpExport, req); err != nil {
		return nil, err
	}

	ctx, cancel := withTimeout(ctx, c.timeouts.Export)
	defer cancel()

	var result ExportResult
	if err := c.doRequest(ctx, OpExport, nethttp.MethodPost, sessionPath(sessionID, "/export"), nil, req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// DeleteSession removes a session and its segments on the service.
func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	if err := requireID(OpDelete, sessionID); err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx, c.timeouts.Delete)
	defer cancel()

	return c.doRequest(ctx, OpDelete, nethttp.MethodDelete, sessionPath(sessionID, ""), nil, nil, nil)
}

// Retry re-queues a failed session. The service resumes from the session's
// current position. The returned string is the service's message.
func (c *Client) Retry(ctx context.Context, sessionID string) (string, error) {
	if err := requireID(OpRetry, sessionID); err != nil {
		return "", err
	}
	ctx, cancel := withTimeout(ctx, c.timeouts.Retry)
	defer cancel()

	var resp messageResponse
	if err := c.doRequest(ctx, OpRetry, nethttp.MethodPost, sessionPath(sessionID, "/retry"), nil, nil, &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}
