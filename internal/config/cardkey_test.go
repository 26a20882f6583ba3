package config

import (
	"path/filepath"
	"testing"
)

func TestCardKeyStorePriority(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	cfg := Default()
	cfg.CardKey = "FILEKEY"
	if err := cfg.Save(path); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name       string
		flag       string
		environ    map[string]string
		wantKey    string
		wantSource CardKeySource
	}{
		{"flag wins", "FLAGKEY", map[string]string{"POLISH_CARD_KEY": "ENVKEY"}, "FLAGKEY", CardKeyFromFlag},
		{"env over file", "", map[string]string{"POLISH_CARD_KEY": "ENVKEY"}, "ENVKEY", CardKeyFromEnv},
		{"file fallback", "", map[string]string{}, "FILEKEY", CardKeyFromFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewCardKeyStore(tt.flag, tt.environ, path)
			if s.Get() != tt.wantKey || s.Source() != tt.wantSource {
				t.Errorf("got %q/%q, want %q/%q", s.Get(), s.Source(), tt.wantKey, tt.wantSource)
			}
		})
	}
}

func TestCardKeyStoreSaveAndInvalidate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	s := NewCardKeyStore("", map[string]string{}, path)
	if s.Get() != "" {
		t.Fatalf("expected no key, got %q", s.Get())
	}

	if err := s.Save("  NEWKEY "); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if s.Get() != "NEWKEY" {
		t.Errorf("Get() = %q, want NEWKEY", s.Get())
	}
	if cfg, _ := LoadFile(path); cfg.CardKey != "NEWKEY" {
		t.Errorf("file card key = %q, want NEWKEY", cfg.CardKey)
	}

	if err := s.Invalidate(); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if s.Get() != "" || s.Source() != CardKeyMissing {
		t.Errorf("after Invalidate got %q/%q", s.Get(), s.Source())
	}
	if cfg, _ := LoadFile(path); cfg.CardKey != "" {
		t.Errorf("file still holds card key %q", cfg.CardKey)
	}

	// A second invalidation is a no-op.
	if err := s.Invalidate(); err != nil {
		t.Errorf("second Invalidate failed: %v", err)
	}
}
