package log

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"":        LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"fatal":   LevelFatal,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestLevelRoundTrip(t *testing.T) {
	for _, l := range []Level{LevelDebug, LevelInfo, LevelWarn, LevelError, LevelFatal} {
		parsed, err := ParseLevel(l.String())
		require.NoError(t, err)
		assert.Equal(t, l, parsed)
	}
}

func TestNewWithConfigWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := NewWithConfig(Config{Level: "debug", Encoding: "json", OutputPaths: []string{path}})
	require.NoError(t, err)

	scoped := logger.With(String("component", "test"))
	scoped.Debug("hello",
		Uint64("request_id", 7),
		Duration("rtt", 3*time.Millisecond),
		Error(errors.New("boom")),
		Error(nil),
		Strings("kinds", []string{"Name"}),
	)
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"component":"test"`), line)
	assert.Contains(t, line, `"request_id":7`)
	assert.Contains(t, line, `"error":"boom"`)
}

func TestSetLevelFilters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := NewWithConfig(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.SetLevel(LevelDebug)
	assert.Equal(t, LevelDebug, logger.GetLevel())
	logger.Debug("shown")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "shown")
}

func TestWithContextFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	logger, err := NewWithConfig(Config{Level: "info", OutputPaths: []string{path}})
	require.NoError(t, err)

	ctx := ContextWith(context.Background(), String("session", "abc"))
	logger.WithContext(ctx).Info("scoped")
	require.NoError(t, logger.Sync())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"session":"abc"`)
}

func TestProvideNeverNil(t *testing.T) {
	assert.NotNil(t, Provide())
	NewNop().Info("discarded", Int("n", 1))
}

func TestInvalidConfig(t *testing.T) {
	_, err := NewWithConfig(Config{Level: "nope"})
	assert.Error(t, err)

	_, err = NewWithConfig(Config{Encoding: "xml"})
	assert.Error(t, err)
}
