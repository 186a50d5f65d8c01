package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	t.Run("json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "json", "warn")
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown", "module", "echo")

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		assert.Equal(t, "shown", line["msg"])
		assert.Equal(t, "echo", line["module"])
		assert.Same(t, logger, slog.Default())
	})

	t.Run("text", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(&buf, "", "info")
		require.NoError(t, err)

		logger.Info("hello")
		assert.Contains(t, buf.String(), "msg=hello")
	})

	t.Run("invalid", func(t *testing.T) {
		_, err := New(nil, "xml", "info")
		assert.Error(t, err)
		_, err = New(nil, "text", "loud")
		assert.Error(t, err)
	})
}
