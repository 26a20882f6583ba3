package cli

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/paperpolish/polish-int/internal/config"
)

// TestConfigCommands verifies the command group structure
func TestConfigCommands(t *testing.T) {
	cmd := newConfigCmd()
	want := map[string]bool{"init": false, "show": false, "set": false, "path": false}
	for _, sub := range cmd.Commands() {
		if _, ok := want[sub.Name()]; ok {
			want[sub.Name()] = true
		}
		if sub.Short == "" {
			t.Errorf("%s: Short description is empty", sub.Name())
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("config %s is missing", name)
		}
	}
}

func TestConfigSetAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	out, err := runCLI(t, nil, "", "--config", path, "config", "set", "export.destination", "/srv/exports")
	if err != nil {
		t.Fatalf("config set error: %v", err)
	}
	if !strings.Contains(out, "export.destination = /srv/exports") {
		t.Errorf("config set output = %q", out)
	}

	if _, err := runCLI(t, nil, "", "--config", path, "config", "set", "service.card_key", "super-secret-card-key"); err != nil {
		t.Fatalf("config set card_key error: %v", err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Export.Destination != "/srv/exports" || cfg.CardKey != "super-secret-card-key" {
		t.Errorf("saved config = %+v", cfg)
	}

	out, err = runCLI(t, nil, "", "--config", path, "config", "show")
	if err != nil {
		t.Fatalf("config show error: %v", err)
	}
	if !strings.Contains(out, "/srv/exports") {
		t.Errorf("config show missing destination:\n%s", out)
	}
	if strings.Contains(out, "super-secret-card-key") {
		t.Errorf("config show printed the card key:\n%s", out)
	}
	if !strings.Contains(out, "Configuration file: "+path) {
		t.Errorf("config show missing file path:\n%s", out)
	}
}

func TestConfigSetRejectsInvalidValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")

	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown key", "service.colour", "blue"},
		{"bad url", "service.base_url", "ftp://example.com"},
		{"bad proxy mode", "proxy.mode", "socks"},
		{"not a number", "polling.queue_interval_seconds", "soon"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := runCLI(t, nil, "", "--config", path, "config", "set", tt.key, tt.value); err == nil {
				t.Errorf("config set %s %s should fail", tt.key, tt.value)
			}
		})
	}
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	answers := strings.Join([]string{
		"http://polish.example.edu/api", // base URL
		"CARD-1234",                     // card key
		"",                              // destination
		"15",                            // queue refresh
		"",                              // progress refresh
		"n",                             // proxy
	}, "\n") + "\n"

	out, err := runCLI(t, nil, answers, "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("config init error: %v", err)
	}
	if !strings.Contains(out, "Configuration saved to: "+path) {
		t.Errorf("config init output = %q", out)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.BaseURL != "http://polish.example.edu/api" {
		t.Errorf("BaseURL = %q", cfg.BaseURL)
	}
	if cfg.CardKey != "CARD-1234" {
		t.Errorf("CardKey = %q", cfg.CardKey)
	}
	if cfg.QueueInterval.Seconds() != 15 {
		t.Errorf("QueueInterval = %v", cfg.QueueInterval)
	}

	// A second run without --force leaves the file alone.
	out, err = runCLI(t, nil, "", "--config", path, "config", "init")
	if err != nil {
		t.Fatalf("second config init error: %v", err)
	}
	if !strings.Contains(out, "already exists") {
		t.Errorf("second config init output = %q", out)
	}
}

func TestConfigPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config")
	out, err := runCLI(t, nil, "", "--config", path, "config", "path")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != path {
		t.Errorf("config path = %q, want %q", out, path)
	}
}
