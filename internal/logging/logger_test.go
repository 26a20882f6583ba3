package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggerWritesConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Out: &buf})
	l.Infof("session %s accepted", "abc")
	if !strings.Contains(buf.String(), "session abc accepted") {
		t.Errorf("console output missing message: %q", buf.String())
	}
}

func TestLoggerComponentTag(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Out: &buf}).Component("poller")
	l.Info().Msg("tick")
	if !strings.Contains(buf.String(), "poller") {
		t.Errorf("component tag missing: %q", buf.String())
	}
}

func TestLoggerFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "client.log")
	var buf bytes.Buffer
	l := New(Options{Out: &buf, FilePath: path})
	l.Warn().Str("session_id", "s1").Msg("progress fetch failed")
	if err := l.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), `"session_id":"s1"`) {
		t.Errorf("file sink should hold JSON, got %q", data)
	}
}

func TestSetOutput(t *testing.T) {
	var first, second bytes.Buffer
	l := New(Options{Out: &first})
	l.SetOutput(&second)
	l.Infof("moved")
	if first.Len() != 0 || !strings.Contains(second.String(), "moved") {
		t.Errorf("SetOutput did not redirect: first=%q second=%q", first.String(), second.String())
	}
	if l.Output() != &second {
		t.Error("Output() should return the new writer")
	}
}

func TestNopAndOrDefault(t *testing.T) {
	Nop().Infof("discarded")
	if OrDefault(nil) == nil {
		t.Error("OrDefault(nil) should return a logger")
	}
	l := Nop()
	if OrDefault(l) != l {
		t.Error("OrDefault should return its argument when non-nil")
	}
}
