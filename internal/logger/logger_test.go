package logger

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetLevel(t *testing.T) {
	defer SetLevel("info")

	SetLevel("debug")
	require.True(t, L.Enabled(context.Background(), slog.LevelDebug))

	SetLevel("error")
	require.False(t, L.Enabled(context.Background(), slog.LevelWarn))

	SetLevel("nonsense")
	require.True(t, L.Enabled(context.Background(), slog.LevelInfo))
	require.False(t, L.Enabled(context.Background(), slog.LevelDebug))
}
