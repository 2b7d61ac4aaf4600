package logging

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"trace":   zerolog.TraceLevel,
		"DEBUG":   zerolog.DebugLevel,
		" info ":  zerolog.InfoLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"off":     zerolog.Disabled,
	}
	for raw, want := range cases {
		got, ok := ParseLevel(raw)
		if !ok || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v want %v", raw, got, ok, want)
		}
	}
	if _, ok := ParseLevel("loud"); ok {
		t.Fatalf("unknown level accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvLogTimestamp, "false")
	t.Setenv(EnvLogNoColor, "true")
	t.Setenv(EnvLogFile, "/tmp/obex.log")

	cfg := DefaultConfig(ProfileRuntime)
	applyEnvOverrides(&cfg)
	if cfg.Level != zerolog.WarnLevel || cfg.Timestamp || !cfg.NoColor || cfg.File != "/tmp/obex.log" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
}

func TestApplyWritesRotatedFile(t *testing.T) {
	path := t.TempDir() + "/obex.log"
	cfg := DefaultConfig(ProfileTest)
	cfg.File = path
	cfg.NoColor = true
	logger := Apply(cfg)
	logger.Info().Str("probe", "x").Msg("logging/apply")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected rotated log file: %v", err)
	}
	if zerolog.GlobalLevel() != zerolog.DebugLevel {
		t.Fatalf("global level not applied: %v", zerolog.GlobalLevel())
	}
}
