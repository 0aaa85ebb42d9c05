package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("DEBUG"))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestNewProductionEmitsJSONWithServiceFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Service: "phenix-server", Environment: "production", Output: &buf})
	logger.Info().Msg("hello")

	var payload map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &payload))
	assert.Equal(t, "phenix-server", payload["service"])
	assert.Equal(t, "production", payload["environment"])
	assert.Equal(t, "hello", payload["message"])
}

func TestNewRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Environment: "production", Level: "warn", Output: &buf})
	logger.Info().Msg("dropped")
	assert.Zero(t, buf.Len())
}
