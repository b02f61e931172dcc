// File: control/config_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package control

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "transport.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "listen: \"0.0.0.0:9000\"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, 1, cfg.Workers, "unset workers keeps the default")
	assert.Equal(t, DefaultFileConfig().Channel.Backlog, cfg.Channel.Backlog)
	assert.True(t, cfg.Channel.AutoRead)
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
listen: "127.0.0.1:7070"
workers: 4
channel:
  connect_timeout: 5s
  allow_half_closure: true
  backlog: 256
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.Channel.ConnectTimeout)
	assert.True(t, cfg.Channel.AllowHalfClosure)
	assert.Equal(t, 256, cfg.Channel.Backlog)
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()

	for name, body := range map[string]string{
		"empty listen":     "listen: \"\"\n",
		"zero workers":     "listen: \"127.0.0.1:1\"\nworkers: 0\n",
		"negative backlog": "listen: \"127.0.0.1:1\"\nchannel:\n  backlog: -1\n",
		"bad yaml":         "listen: [unterminated\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := writeConfig(t, dir, body)
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestWatcherReloadsOnChange(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "listen: \"127.0.0.1:7070\"\nworkers: 1\n")

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	reloaded := make(chan *FileConfig, 1)
	w.OnReload(func(cfg *FileConfig) {
		select {
		case reloaded <- cfg:
		default:
		}
	})

	require.Equal(t, 1, w.Current().Workers)
	writeConfig(t, dir, "listen: \"127.0.0.1:7070\"\nworkers: 8\n")

	select {
	case cfg := <-reloaded:
		assert.Equal(t, 8, cfg.Workers)
	case <-time.After(5 * time.Second):
		t.Fatal("reload never observed")
	}
	assert.Equal(t, 8, w.Current().Workers)
}

func TestWatcherKeepsPreviousOnBrokenRewrite(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "listen: \"127.0.0.1:7070\"\nworkers: 2\n")

	w, err := NewWatcher(path, zerolog.Nop())
	require.NoError(t, err)
	defer w.Close()

	writeConfig(t, dir, "listen: \"\"\n")

	// Give the debounced reload time to run and be rejected.
	time.Sleep(400 * time.Millisecond)
	assert.Equal(t, 2, w.Current().Workers, "invalid rewrite must not displace the running config")
}
