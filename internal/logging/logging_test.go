package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"outreach/internal/config"
)

func TestNewMirrorsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outreach.log")
	log, err := New(config.Log{Level: "warn", File: path}, false)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	log.Info("hidden")
	log.Warn("visible", zap.String("recipient", "alice"))
	_ = log.Sync()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "alice") {
		t.Fatalf("warn line missing: %s", out)
	}
}

func TestVerboseOverridesLevel(t *testing.T) {
	log, err := New(config.Log{Level: "error"}, true)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	if !log.Core().Enabled(zap.DebugLevel) {
		t.Fatalf("verbose should enable debug")
	}
}

func TestInvalidLevel(t *testing.T) {
	if _, err := New(config.Log{Level: "loud"}, false); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatalf("expected a logger")
	}
}
