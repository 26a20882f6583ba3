// Package api provides the client for the remote optimization service and
// the error taxonomy its callers branch on.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	nethttp "net/http"
	"strings"
)

// Error kinds. Match with errors.Is.
var (
	// ErrValidation means the request was rejected before or by input
	// validation. No state changed.
	ErrValidation = errors.New("validation failed")

	// ErrUnauthorized means the card key was rejected. The stored key is
	// invalidated when this is returned.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrTimeout means the operation's deadline passed. Safe to re-trigger.
	ErrTimeout = errors.New("request timed out")

	// ErrServer carries a failure reported by the service; the message is
	// passed to the user verbatim.
	ErrServer = errors.New("server error")

	// ErrPreconditionFailed means the session was not in a state that allows
	// the operation (retry on a non-failed session, export before completion).
	ErrPreconditionFailed = errors.New("precondition failed")

	// ErrNotFound means the session does not exist for this card key.
	ErrNotFound = errors.New("session not found")
)

// ErrAcknowledgmentRequired is returned when an export is attempted without
// the academic integrity acknowledgment. It is both a validation error and a
// precondition failure, and is raised before any network call.
var ErrAcknowledgmentRequired = fmt.Errorf("academic integrity acknowledgment required: %w: %w",
	ErrValidation, ErrPreconditionFailed)

// Error is a failed service operation.
type Error struct {
	Op         string // operation name, e.g. "submit"
	Kind       error  // one of the Err* kinds above
	StatusCode int    // HTTP status, 0 when no response was received
	Message    string // server-supplied detail, or a local description
	Err        error  // underlying cause, if any
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	return b.String()
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

// kindForStatus maps a non-2xx status to an error kind.
func kindForStatus(op string, status int) error {
	switch {
	case status == nethttp.StatusUnauthorized:
		return ErrUnauthorized
	case status == nethttp.StatusForbidden:
		// The service answers 403 when the card key's usage quota is
		// exhausted. The key itself is still valid.
		return ErrPreconditionFailed
	case status == nethttp.StatusNotFound:
		return ErrNotFound
	case status == nethttp.StatusBadRequest || status == nethttp.StatusUnprocessableEntity:
		if op == OpSubmit {
			return ErrValidation
		}
		return ErrPreconditionFailed
	case status == nethttp.StatusConflict:
		return ErrPreconditionFailed
	case status == nethttp.StatusRequestTimeout || status == nethttp.StatusGatewayTimeout:
		return ErrTimeout
	default:
		return ErrServer
	}
}

// errorFromResponse builds an *Error from a non-2xx response body.
func errorFromResponse(op string, status int, body []byte) *Error {
	return &Error{
		Op:         op,
		Kind:       kindForStatus(op, status),
		StatusCode: status,
		Message:    detailMessage(body, status),
	}
}

// detailMessage extracts the service's "detail" field. Validation errors
// carry a list of {msg} objects instead of a string.
func detailMessage(body []byte, status int) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && len(payload.Detail) > 0 {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		var items []struct {
			Msg string `json:"msg"`
		}
		if err := json.Unmarshal(payload.Detail, &items); err == nil {
			msgs := make([]string, 0, len(items))
			for _, it := range items {
				if it.Msg != "" {
					msgs = append(msgs, it.Msg)
				}
			}
			if len(msgs) > 0 {
				return strings.Join(msgs, "; ")
			}
		}
	}
	if text := strings.TrimSpace(string(body)); text != "" && len(text) < 512 {
		return text
	}
	return nethttp.StatusText(status)
}

// errorFromTransport classifies a failure that produced no response.
func errorFromTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &Error{Op: op, Kind: ErrTimeout, Message: "no response within the operation's time budget", Err: err}
	}
	return &Error{Op: op, Kind: ErrServer, Message: "service unreachable", Err: err}
}

// IsUnauthorized reports whether err means the card key was rejected.
func IsUnauthorized(err error) bool { return errors.Is(err, ErrUnauthorized) }

// IsPreconditionFailed reports whether err is a state precondition failure.
func IsPreconditionFailed(err error) bool { return errors.Is(err, ErrPreconditionFailed) }

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }

// IsNotFound reports whether err means the session does not exist.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsTransient reports whether re-triggering the same action may succeed:
// timeouts, unreachable service, and gateway errors.
func IsTransient(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Kind == ErrServer {
		switch apiErr.StatusCode {
		case 0, nethttp.StatusBadGateway, nethttp.StatusServiceUnavailable:
			return true
		}
	}
	return false
}

// UserMessage renders err for display. Server messages pass through
// verbatim.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrAcknowledgmentRequired) {
		return "export requires confirming the academic integrity statement"
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		switch apiErr.Kind {
		case ErrUnauthorized:
			return "card key rejected; run 'polish-int login' to enter a new one"
		case ErrTimeout:
			return fmt.Sprintf("%s timed out; please try again", apiErr.Op)
		}
		if apiErr.Message != "" {
			return apiErr.Message
		}
		return apiErr.Kind.Error()
	}
	return err.Error()
}
