package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel_KnownNamesMapCorrectly(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"info":    zerolog.InfoLevel,
		"warn":    zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"bogus":   zerolog.InfoLevel, // unrecognized names fall back to info
		"":        zerolog.InfoLevel,
	}
	for name, want := range cases {
		if got := parseLevel(name); got != want {
			t.Errorf("parseLevel(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestNewJSONLogger_EmitsLevelAndMessageFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewJSONLogger(&buf, "warn")

	logger.Info().Msg("should be filtered")
	if buf.Len() != 0 {
		t.Fatalf("info line should be suppressed at warn level, got: %s", buf.String())
	}

	logger.Warn().Str("component", "test").Msg("heads up")
	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if decoded["level"] != "warn" || decoded["message"] != "heads up" || decoded["component"] != "test" {
		t.Fatalf("decoded = %+v, want level=warn message=%q component=test", decoded, "heads up")
	}
}

func TestWithComponent_TagsEveryEvent(t *testing.T) {
	var buf bytes.Buffer
	Logger = zerolog.New(&buf)

	WithComponent("natmap").Info().Msg("leased")

	var decoded map[string]any
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v (%s)", err, buf.String())
	}
	if decoded["component"] != "natmap" {
		t.Fatalf("component field = %v, want natmap", decoded["component"])
	}
}

func TestInit_RejectsUnwritableLogFile(t *testing.T) {
	if err := Init("info", false, "/nonexistent-dir/x/y.log"); err == nil {
		t.Fatal("Init with an unwritable file path should return an error")
	}
}
