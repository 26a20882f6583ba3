package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/paperpolish/polish-int/internal/api"
	"github.com/paperpolish/polish-int/internal/constants"
	"github.com/paperpolish/polish-int/internal/logging"
	"github.com/paperpolish/polish-int/internal/models"
)

// IntegrityStatement is the disclosure the user must accept before export.
const IntegrityStatement = "I confirm that I will use the optimized text in accordance with my institution's " +
	"academic integrity rules, and that I remain responsible for the content I submit."

// Format is an export format offered to the user.
type Format struct {
	Name    string
	Label   string
	Enabled bool
}

// Formats lists the export formats. Only enabled formats are ever sent to
// the service.
func Formats() []Format {
	return []Format{
		{Name: "txt", Label: "Plain text (.txt)", Enabled: true},
		{Name: "docx", Label: "Word document (.docx)", Enabled: false},
		{Name: "pdf", Label: "PDF document (.pdf)", Enabled: false},
	}
}

// LookupFormat returns the named format.
func LookupFormat(name string) (Format, bool) {
	for _, f := range Formats() {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Format{}, false
}

// Acknowledgment records the user's answer to the integrity statement. The
// zero value is a refusal.
type Acknowledgment struct {
	Accepted bool
}

// Artifact is an exported document.
type Artifact struct {
	SessionID string
	Filename  string
	Format    string
	Content   string
}

// ExportGate renders completed sessions behind the integrity
// acknowledgment.
type ExportGate struct {
	svc      api.Service
	registry *Registry
	logger   *logging.Logger
}

// NewExportGate creates a gate.
func NewExportGate(svc api.Service, registry *Registry, logger *logging.Logger) *ExportGate {
	return &ExportGate{
		svc:      svc,
		registry: registry,
		logger:   logging.OrDefault(logger).Component("export"),
	}
}

// Export produces the document of a completed session. Without an accepted
// acknowledgment it fails with api.ErrAcknowledgmentRequired before any
// network call. The document is the best text of every segment in index
// order, one blank line apart.
func (g *ExportGate) Export(ctx context.Context, sessionID string, ack Acknowledgment, format string) (*Artifact, error) {
	if !ack.Accepted {
		return nil, api.ErrAcknowledgmentRequired
	}
	if format == "" {
		format = constants.DefaultExportFormat
	}
	f, ok := LookupFormat(format)
	if !ok {
		return nil, &api.Error{Op: api.OpExport, Kind: api.ErrValidation, Message: fmt.Sprintf("unknown export format %q", format)}
	}
	if !f.Enabled {
		return nil, &api.Error{Op: api.OpExport, Kind: api.ErrValidation, Message: fmt.Sprintf("export format %s is not available yet", f.Name)}
	}

	detail, err := g.svc.GetDetail(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sess := g.registry.MergeDetail(*detail)
	if sess.Status != models.StatusCompleted {
		return nil, &api.Error{
			Op:      api.OpExport,
			Kind:    api.ErrPreconditionFailed,
			Message: fmt.Sprintf("session is %s; only completed sessions can be exported", sess.Status),
		}
	}

	res, err := g.svc.ExportSession(ctx, sessionID, api.ExportOptions{Acknowledged: true, Format: f.Name})
	if err != nil {
		return nil, err
	}

	segments, _ := g.registry.Segments(sessionID)
	content := models.AssembleDocument(segments, constants.SegmentSeparator)
	if res.Content != "" && res.Content != content {
		g.logger.Warn().
			Str("session_id", sessionID).
			Int("local_chars", len(content)).
			Int("service_chars", len(res.Content)).
			Msg("service rendering differs from local segments; using local segments")
	}

	filename := res.Filename
	if filename == "" {
		filename = fmt.Sprintf("optimized_%s.%s", sessionID, f.Name)
	}
	g.logger.Info().Str("session_id", sessionID).Str("filename", filename).Msg("session exported")

	return &Artifact{
		SessionID: sessionID,
		Filename:  filename,
		Format:    f.Name,
		Content:   content,
	}, nil
}
