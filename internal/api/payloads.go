package api

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/paperpolish/polish-int/internal/models"
)

// Operation names used in errors and logs.
const (
	OpSubmit   = "submit"
	OpQueue    = "queue status"
	OpList     = "list sessions"
	OpDetail   = "session detail"
	OpProgress = "session progress"
	OpChanges  = "session changes"
	OpExport   = "export"
	OpDelete   = "delete session"
	OpRetry    = "retry"
)

// StartRequest is the body of POST /optimization/start.
type StartRequest struct {
	OriginalText   string      `json:"original_text" validate:"notblank"`
	ProcessingMode models.Mode `json:"processing_mode" validate:"required,oneof=paper_polish paper_polish_enhance emotion_polish"`
}

// ExportOptions are the caller's choices for an export.
type ExportOptions struct {
	// Acknowledged must be set from an explicit user confirmation.
	Acknowledged bool
	Format       string
}

// ExportRequest is the body of POST /optimization/sessions/{id}/export.
type ExportRequest struct {
	SessionID                    string `json:"session_id" validate:"required"`
	AcknowledgeAcademicIntegrity bool   `json:"acknowledge_academic_integrity"`
	ExportFormat                 string `json:"export_format" validate:"required,oneof=txt docx pdf"`
}

// ExportResult is the service's rendering of a finished session.
type ExportResult struct {
	Format   string `json:"format"`
	Content  string `json:"content"`
	Filename string `json:"filename"`
}

// ListOptions pages through the session list.
type ListOptions struct {
	Limit  int
	Offset int
}

type messageResponse struct {
	Message string `json:"message"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

// validatePayload runs struct validation and reports the first failing
// field as a validation error.
func validatePayload(op string, payload interface{}) error {
	err := validate.Struct(payload)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &Error{Op: op, Kind: ErrValidation, Message: fieldMessage(fe)}
	}
	return &Error{Op: op, Kind: ErrValidation, Message: err.Error(), Err: err}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "OriginalText":
		return "text to optimize is empty"
	case "ProcessingMode":
		return fmt.Sprintf("unsupported processing mode %q", fe.Value())
	case "ExportFormat":
		return fmt.Sprintf("unsupported export format %q", fe.Value())
	case "SessionID":
		return "session id is required"
	default:
		return fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag())
	}
}
