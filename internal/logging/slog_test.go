package logging

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(t *testing.T) (*SlogLogger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	h := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogLogger(slog.New(h)), &buf
}

func TestSlogLoggerLevels(t *testing.T) {
	log, buf := newTestLogger(t)
	ctx := context.Background()

	log.Debug(ctx, "probing remote", "attempt", 1)
	log.Info(ctx, "vault unlocked", "username", "alice")
	log.Warn(ctx, "sync skipped", "reason", "offline")
	log.Error(ctx, "snapshot upload failed", "bucket", "vault-backups")

	out := buf.String()
	for _, want := range []string{
		"level=DEBUG", "msg=\"probing remote\"", "attempt=1",
		"level=INFO", "username=alice",
		"level=WARN", "reason=offline",
		"level=ERROR", "bucket=vault-backups",
	} {
		assert.True(t, strings.Contains(out, want), "missing %q in:\n%s", want, out)
	}
}

func TestSlogLoggerWith(t *testing.T) {
	log, buf := newTestLogger(t)

	child := log.With("device", "laptop")
	child.Info(context.Background(), "sync done", "pushed", 3)

	out := buf.String()
	assert.Contains(t, out, "device=laptop")
	assert.Contains(t, out, "pushed=3")
	assert.NotContains(t, buf.String(), "level=ERROR")
}
