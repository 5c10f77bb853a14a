package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("console only", func(t *testing.T) {
		lg, err := New(Config{Level: "debug", Console: true})
		require.NoError(t, err)
		defer lg.Close()

		log := lg.Get()
		assert.Equal(t, zerolog.DebugLevel, log.GetLevel())
	})

	t.Run("invalid level falls back to info", func(t *testing.T) {
		lg, err := New(Config{Level: "shouty", Console: true})
		require.NoError(t, err)
		defer lg.Close()

		log := lg.Get()
		assert.Equal(t, zerolog.InfoLevel, log.GetLevel())
	})

	t.Run("file output", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "logs", "swarmtap.log")
		lg, err := New(Config{Level: "info", File: logPath})
		require.NoError(t, err)

		log := lg.Get()
		log.Info().Str("key", "value").Msg("hello from test")
		require.NoError(t, lg.Close())

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "hello from test")
		assert.Contains(t, string(data), `"key":"value"`)
	})

	t.Run("file appends across instances", func(t *testing.T) {
		logPath := filepath.Join(t.TempDir(), "swarmtap.log")

		for _, msg := range []string{"first", "second"} {
			lg, err := New(Config{Level: "info", File: logPath})
			require.NoError(t, err)
			log := lg.Get()
			log.Info().Msg(msg)
			require.NoError(t, lg.Close())
		}

		data, err := os.ReadFile(logPath)
		require.NoError(t, err)
		assert.Contains(t, string(data), "first")
		assert.Contains(t, string(data), "second")
	})

	t.Run("close without file", func(t *testing.T) {
		lg, err := New(Config{Level: "info", Console: true})
		require.NoError(t, err)
		assert.NoError(t, lg.Close())
	})
}
