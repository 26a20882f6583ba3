package artifact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/paperpolish/polish-int/internal/core"
)

// FileSink writes artifacts into a local directory.
type FileSink struct {
	Dir string
}

// NewFileSink creates a sink for dir, created on first write.
func NewFileSink(dir string) *FileSink {
	return &FileSink{Dir: dir}
}

// Write stores the artifact under its file name. The file is written to a
// temporary name first and renamed into place.
func (s *FileSink) Write(ctx context.Context, a *core.Artifact) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	name := filepath.Base(a.Filename)
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "", fmt.Errorf("invalid artifact file name %q", a.Filename)
	}

	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create export directory: %w", err)
	}
	target := filepath.Join(s.Dir, name)

	tmp, err := os.CreateTemp(s.Dir, "."+name+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.WriteString(a.Content); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		return "", fmt.Errorf("failed to set permissions on %s: %w", name, err)
	}
	if err := os.Rename(tmpPath, target); err != nil {
		return "", fmt.Errorf("failed to move %s into place: %w", name, err)
	}
	return target, nil
}
