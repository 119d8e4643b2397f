package main

import (
	"flag"
	"testing"
	"time"
)

func TestParseConfigDefaults(t *testing.T) {
	cfg, err := parseConfig(flag.NewFlagSet("healthwatch", flag.ContinueOnError), nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.Heartbeat != 2*time.Second {
		t.Fatalf("expected 2s heartbeat, got %v", cfg.Heartbeat)
	}
}

func TestParseConfigFlagsOverrideEnv(t *testing.T) {
	t.Setenv("HEALTHWATCH_URL", "ws://env:1/ws")
	t.Setenv("HEALTHWATCH_HEARTBEAT", "5s")

	cfg, err := parseConfig(flag.NewFlagSet("healthwatch", flag.ContinueOnError), []string{"-url", "ws://flag:2/ws"})
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.URL != "ws://flag:2/ws" {
		t.Fatalf("expected flag url, got %q", cfg.URL)
	}
	if cfg.Heartbeat != 5*time.Second {
		t.Fatalf("expected env heartbeat, got %v", cfg.Heartbeat)
	}
}
