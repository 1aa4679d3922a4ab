package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/c8yview/internal/config"
	"github.com/five82/c8yview/internal/mirror"
	"github.com/five82/c8yview/internal/pipeline"
)

func newTestApp(t *testing.T, body string, opts Options) *App {
	t.Helper()
	dir := t.TempDir()
	opts.ConfigPath = filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(opts.ConfigPath, []byte(body), 0o644))
	if opts.LogPath == "" {
		opts.LogPath = filepath.Join(dir, "c8yview.log")
	}
	a, err := New(context.Background(), opts)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	return a
}

func TestNew_WiresEveryCollection(t *testing.T) {
	ws := t.TempDir()
	a := newTestApp(t, "[c8y]\nurl = \"https://tenant.example.com\"\n", Options{Workspace: ws})

	names := make([]string, 0, 3)
	for _, h := range a.Router.Collections() {
		names = append(names, h.Name())
	}
	assert.Equal(t, []string{pipeline.NameApplications, pipeline.NameAlarms, pipeline.NameAlarmTypes}, names)
	assert.Equal(t, ws, a.Mirror.Root())

	path, err := a.Router.MirrorPath("Pump")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(ws, mirror.Dir, "Pump"+mirror.Ext), path)
}

func TestNew_WorkspaceFromConfig(t *testing.T) {
	ws := t.TempDir()
	a := newTestApp(t, "[mirror]\nworkspace = \""+filepath.ToSlash(ws)+"\"\n", Options{})

	assert.Equal(t, ws, a.Mirror.Root())
}

func TestNew_InvalidConfigFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[c8y\nurl="), 0o644))

	_, err := New(context.Background(), Options{ConfigPath: path, LogPath: "-"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load config")
}

func TestNew_ToggleDisablesThroughConfigChange(t *testing.T) {
	a := newTestApp(t, "[c8y_alarms]\nenabled = true\n", Options{})

	enabled, err := a.Router.ToggleEnabled(pipeline.NameAlarms)
	require.NoError(t, err)
	a.Router.Wait()

	assert.False(t, enabled)
	alarms, err := a.Router.Collection(pipeline.NameAlarms)
	require.NoError(t, err)
	view := alarms.View()
	assert.False(t, view.Enabled)
	assert.Equal(t, pipeline.PhasePublished, view.Phase)
	assert.False(t, a.Config.Snapshot().Collections[config.NamespaceAlarms].Enabled)
}

func TestNew_LogsToFile(t *testing.T) {
	a := newTestApp(t, "", Options{})
	_ = a.Log.Sync()

	data, err := os.ReadFile(a.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"c8yview started"`)
}

func TestPollInterval(t *testing.T) {
	a := newTestApp(t, "[ui]\nrefresh_interval = \"45s\"\n", Options{})
	assert.Equal(t, 45*time.Second, a.PollInterval())

	a = newTestApp(t, "[ui]\nrefresh_interval = \"45s\"\n", Options{PollEvery: 5 * time.Second})
	assert.Equal(t, 5*time.Second, a.PollInterval())

	a = newTestApp(t, "", Options{})
	assert.Zero(t, a.PollInterval())
}

func TestWorkspace(t *testing.T) {
	assert.Equal(t, "/flag", workspace(" /flag ", "/config"))
	assert.Equal(t, "/config", workspace("", "/config"))
	assert.Equal(t, "", workspace("", ""))
}
