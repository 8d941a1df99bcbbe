package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{" warn ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if err != nil || got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, %v, want %v", tt.in, got, err, tt.want)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Error("ParseLevel(loud) succeeded")
	}
}

func TestInit(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })

	var console bytes.Buffer
	file := filepath.Join(t.TempDir(), "run.log")
	logger, closer, err := Init(Options{Level: "debug", File: file, Console: &console, NoColor: true})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	logger.Debug().Str("step", "copy_masks").Msg("hello")
	if err := closer.Close(); err != nil {
		t.Fatal(err)
	}

	if !strings.Contains(console.String(), "hello") || !strings.Contains(console.String(), "step=copy_masks") {
		t.Errorf("console = %q, want message with fields", console.String())
	}
	raw, err := os.ReadFile(file)
	if err != nil {
		t.Fatal(err)
	}
	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(raw), &line); err != nil {
		t.Fatalf("log file is not JSON lines: %v", err)
	}
	if line["run_id"] == "" || line["run_id"] == nil {
		t.Errorf("run_id missing from %v", line)
	}
}

func TestInitLevelFromEnv(t *testing.T) {
	t.Cleanup(func() { zerolog.SetGlobalLevel(zerolog.InfoLevel) })
	t.Setenv(LevelEnv, "error")

	var console bytes.Buffer
	logger, _, err := Init(Options{Console: &console, NoColor: true})
	if err != nil {
		t.Fatal(err)
	}
	logger.Warn().Msg("quiet")
	if console.Len() != 0 {
		t.Errorf("warn logged at error level: %q", console.String())
	}

	t.Setenv(LevelEnv, "nope")
	if _, _, err := Init(Options{Console: &console}); err == nil {
		t.Error("Init() accepted an invalid level")
	}
}
