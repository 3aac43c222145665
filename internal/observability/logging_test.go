package observability

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger(LogConfig{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	require.NotNil(t, logger)

	child := logger.With(String("component", "test"))
	assert.NotNil(t, child)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	_, err := NewLogger(LogConfig{Level: "shout"})
	assert.Error(t, err)
}

func TestNopLogger(t *testing.T) {
	logger := NopLogger()
	logger.Debug("ignored")
	logger.Info("ignored", Int("n", 1))
	assert.Equal(t, logger, logger.With(String("k", "v")))
	assert.NoError(t, logger.Sync())
}
