package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/abhinav118/avatar-stream-vibe/internal/config"
)

func TestComponentFieldAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := Component(newWithWriter(config.LogConfig{Level: "warn"}, &buf), "session")

	logger.Info().Msg("dropped")
	require.Zero(t, buf.Len())

	logger.Warn().Str("visitor", "v1").Msg("kept")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "session", entry["component"])
	require.Equal(t, "v1", entry["visitor"])
	require.Equal(t, "kept", entry["message"])
}

func TestUnknownLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := newWithWriter(config.LogConfig{Level: "loud"}, &buf)

	logger.Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	logger.Info().Msg("shown")
	require.NotZero(t, buf.Len())
}
