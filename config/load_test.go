package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_CreatesDataDirsAndDefaultConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg, flags, err := Load([]string{"--datadir", dir, "--port", "4001"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.DataDir != dir {
		t.Fatalf("DataDir = %q, want %q", cfg.DataDir, dir)
	}
	if cfg.P2P.Port != 4001 {
		t.Fatalf("P2P.Port = %d, want 4001", cfg.P2P.Port)
	}
	if flags.DataDir != dir {
		t.Fatalf("flags.DataDir = %q, want %q", flags.DataDir, dir)
	}

	for _, sub := range []string{"keystore", "peerstore", "logs"} {
		if fi, err := os.Stat(filepath.Join(dir, sub)); err != nil || !fi.IsDir() {
			t.Fatalf("expected directory %s to exist: %v", sub, err)
		}
	}
	if _, err := os.Stat(cfg.ConfigFile()); err != nil {
		t.Fatalf("expected default config file to be written: %v", err)
	}
}

func TestLoad_FlagsOverrideOnDiskConfigFile(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Load([]string{"--datadir", dir}); err != nil {
		t.Fatalf("initial Load: %v", err)
	}

	cfg, _, err := Load([]string{"--datadir", dir, "--port", "9001", "--loglevel", "debug"})
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if cfg.P2P.Port != 9001 {
		t.Fatalf("P2P.Port = %d, want 9001 (flag should win over the written-out default)", cfg.P2P.Port)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("Log.Level = %q, want debug", cfg.Log.Level)
	}
}

func TestLoad_RejectsInvalidPort(t *testing.T) {
	dir := t.TempDir()
	if _, _, err := Load([]string{"--datadir", dir, "--port", "70000"}); err == nil {
		t.Fatal("Load with an out-of-range port should fail Validate")
	}
}

func TestLoad_UnknownFlagFails(t *testing.T) {
	if _, _, err := Load([]string{"--not-a-real-flag"}); err == nil {
		t.Fatal("Load with an unrecognized flag should return a parse error")
	}
}
