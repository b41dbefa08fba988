package main

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/lhdbsbz/flowbridge/internal/config"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"":      slog.LevelInfo,
		"bogus": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNewLoggerFormats(t *testing.T) {
	var buf bytes.Buffer
	newLogger(&buf, config.LogConfig{Level: "info", Format: "json"}).Info("hello", "k", "v")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "info", Format: "text"}).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("expected text output, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Format: "auto"}).Info("hello")
	if !strings.HasPrefix(buf.String(), "{") {
		t.Fatalf("non-terminal writer should get JSON in auto mode, got %q", buf.String())
	}

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "warn", Format: "text"}).Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info must be filtered at warn level, got %q", buf.String())
	}
}

func TestBuildDeps(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Voiceflow.VersionID = "production"
	cfg.Voiceflow.ProjectID = "proj"
	deps := buildDeps(cfg)
	if deps.VersionID != "production" || deps.Engine == nil || deps.Dispatcher == nil {
		t.Fatalf("unexpected deps: %+v", deps)
	}
	if !deps.Archiver.Enabled() || deps.Archiver.VersionID != "production" {
		t.Fatalf("archiver not configured: %+v", deps.Archiver)
	}
}

func TestInitAndVersionCommands(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config not written: %v", err)
	}

	rootCmd.SetArgs([]string{"init", "--config", path})
	if err := rootCmd.Execute(); err == nil {
		t.Fatalf("second init without --force should fail")
	}

	out.Reset()
	rootCmd.SetArgs([]string{"version"})
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out.String(), "flowbridge v"+version) {
		t.Fatalf("unexpected version output: %q", out.String())
	}
}
