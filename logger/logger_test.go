package logger

import (
	"io"
	"os"
	"testing"
)

func TestWithComponent(t *testing.T) {
	log := Logger()
	entry := log.WithComponent("test")
	if v, ok := entry.Entry.Data["component"]; !ok || v != "test" {
		t.Fatalf("component field missing: %v", entry.Entry.Data)
	}
}

func TestConfigureInvalidLevel(t *testing.T) {
	// Ensure environment variables do not override the provided level
	t.Setenv("LOG_LEVEL", "")

	log := Logger()
	if err := log.Configure("invalid", "json", "stdout", 0); err == nil {
		t.Fatalf("expected error for invalid level")
	}
}

func TestWithEnv(t *testing.T) {
	os.Setenv("FOO", "bar")
	log := Logger()
	entry := log.WithEnv("FOO")
	if v, ok := entry.Entry.Data["FOO"]; !ok || v != "bar" {
		t.Fatalf("env field not set: %v", entry.Entry.Data)
	}
}

func TestParseLevelAcceptsReport(t *testing.T) {
	lvl, err := parseLevel("REPORT")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if lvl.String() != "info" {
		t.Fatalf("report level should map to info, got %s", lvl)
	}
}

func TestConfigureTextFormat(t *testing.T) {
	t.Setenv("LOG_LEVEL", "")
	log := Logger()
	if err := log.Configure("debug", "text", "stderr", 0); err != nil {
		t.Fatalf("configure: %v", err)
	}
	if log.GetLevel().String() != "debug" {
		t.Fatalf("level not applied: %s", log.GetLevel())
	}
	if err := log.Configure("info", "xml", "stdout", 0); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestEntryWarnAndErrorAreCounted(t *testing.T) {
	resetReport()
	log := Logger()
	log.SetOutput(io.Discard)

	log.WithComponent("streamer").Warn("slow heartbeat")
	log.WithComponent("streamer").Error("socket closed")
	log.WithComponent("streamer").Error("socket closed")

	r := Snapshot()
	if r.Warns["streamer"] != 1 || r.Errors["streamer"] != 2 {
		t.Fatalf("unexpected counters warns=%v errors=%v", r.Warns, r.Errors)
	}
}
