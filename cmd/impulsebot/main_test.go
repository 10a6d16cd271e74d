package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jeazzzy/UWantIt/internal/config"
	"github.com/Jeazzzy/UWantIt/internal/wizard"
)

func TestRun_FailsWithoutToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	if code := run(); code != 1 {
		t.Fatalf("run() = %d; want 1", code)
	}
}

func TestOpenSessions_Memory(t *testing.T) {
	cfg := config.Config{SessionBackend: config.SessionMemory, SessionIdleTTL: time.Hour}
	s, closeFn, err := openSessions(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openSessions: %v", err)
	}
	defer closeFn()
	if _, ok := s.(*wizard.MemorySessions); !ok {
		t.Fatalf("sessions = %T; want *wizard.MemorySessions", s)
	}
}

func TestComponentLogger(t *testing.T) {
	var buf bytes.Buffer
	l := component(zerolog.New(&buf), "reminder")
	l.Info().Msg("x")
	if !strings.Contains(buf.String(), `"component":"reminder"`) {
		t.Fatalf("log line = %s", buf.String())
	}
}
