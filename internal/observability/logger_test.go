package observability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetupLogger(t *testing.T) {
	// Not t.Parallel(): SetupLogger mutates the process-wide slog default,
	// so subtests must run serially against each other.

	t.Run("debug level enables debug logging", func(t *testing.T) {
		SetupLogger("debug", "json")
		assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	})

	t.Run("default level suppresses debug logging", func(t *testing.T) {
		SetupLogger("info", "json")
		assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
		assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
	})

	t.Run("warn level suppresses info logging", func(t *testing.T) {
		SetupLogger("warn", "text")
		assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
		assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelWarn))
	})

	t.Run("unrecognized level falls back to info", func(t *testing.T) {
		SetupLogger("not-a-level", "json")
		assert.True(t, slog.Default().Enabled(context.Background(), slog.LevelInfo))
		assert.False(t, slog.Default().Enabled(context.Background(), slog.LevelDebug))
	})
}
