package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestWatcherReloadUpdatesCfgAndInvokesCallback(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memori.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"logging:\n  level: debug\n  structured_logging: true\n"+
			"memory:\n  namespace: default\n  context_limit: 1200\n"), 0o644))

	cfg := Defaults()
	var gotLogging Logging
	var gotLimit int
	calls := 0
	w := &Watcher{
		path: path,
		log:  zaptest.NewLogger(t),
		cfg:  &cfg,
		onReload: func(l Logging, limit int) {
			calls++
			gotLogging = l
			gotLimit = limit
		},
		closed: make(chan struct{}),
	}

	w.reload()

	assert.Equal(t, 1, calls)
	assert.Equal(t, "debug", gotLogging.Level)
	assert.Equal(t, 1200, gotLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 1200, cfg.Memory.ContextLimit)
}

func TestWatcherReloadSkipsCallbackOnParseFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memori.yaml")
	require.NoError(t, os.WriteFile(path, []byte("not: [valid"), 0o644))

	cfg := Defaults()
	calls := 0
	w := &Watcher{
		path:     path,
		log:      zaptest.NewLogger(t),
		cfg:      &cfg,
		onReload: func(Logging, int) { calls++ },
		closed:   make(chan struct{}),
	}

	w.reload()

	assert.Equal(t, 0, calls)
}

func TestWatcherReloadNilCallbackIsSafe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memori.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"logging:\n  level: warn\nmemory:\n  namespace: default\n  context_limit: 900\n"), 0o644))

	cfg := Defaults()
	w := &Watcher{path: path, log: zaptest.NewLogger(t), cfg: &cfg, closed: make(chan struct{})}

	assert.NotPanics(t, w.reload)
	assert.Equal(t, "warn", cfg.Logging.Level)
}
