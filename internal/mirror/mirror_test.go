package mirror

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/five82/c8yview/internal/entity"
)

func application(t *testing.T, name, contents string) entity.Application {
	t.Helper()
	raw, err := json.Marshal(map[string]string{"id": name, "name": name, "state": "active", "contents": contents})
	require.NoError(t, err)
	var rec entity.ApplicationRecord
	require.NoError(t, json.Unmarshal(raw, &rec))
	app, err := entity.MapApplication(rec, raw)
	require.NoError(t, err)
	return app
}

func TestWriter_RoundTrip(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	app := application(t, "Thermostat", "monitor Thermostat {\n\taction onload() {}\n}\n")
	path, err := w.Write(app)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(w.Root(), ".eplapps", "Thermostat.mon"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte(app.Detail()), data)

	got, err := w.Read("Thermostat")
	require.NoError(t, err)
	assert.Equal(t, app.Detail(), got)
}

func TestWriter_OverwritesInFull(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	_, err = w.Write(application(t, "App", "a much longer first version of the source"))
	require.NoError(t, err)
	_, err = w.Write(application(t, "App", "short"))
	require.NoError(t, err)

	got, err := w.Read("App")
	require.NoError(t, err)
	assert.Equal(t, "short", got)
}

func TestWriter_PathStaysInsideMirrorDir(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	for _, label := range []string{"../escape", "a/b", `c\d`, "..", ""} {
		path := w.Path(label)
		rel, err := filepath.Rel(filepath.Join(w.Root(), Dir), path)
		require.NoError(t, err)
		assert.Equal(t, filepath.Base(path), rel, "label %q escaped: %s", label, path)
	}
}

func TestWriter_WriteFailureIsPersistenceError(t *testing.T) {
	root := t.TempDir()
	// A regular file where the mirror directory should be.
	require.NoError(t, os.WriteFile(filepath.Join(root, Dir), []byte("x"), 0o644))

	w, err := NewWriter(root)
	require.NoError(t, err)
	_, err = w.Write(application(t, "App", "x"))

	var pe *PersistenceError
	require.True(t, errors.As(err, &pe), "error = %v, want *PersistenceError", err)
	assert.Contains(t, pe.Path, "App.mon")
}

func TestWriter_Prune(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	for _, name := range []string{"Keep", "Stale", "Other"} {
		_, err := w.Write(application(t, name, name))
		require.NoError(t, err)
	}
	notes := filepath.Join(w.Root(), Dir, "notes.txt")
	require.NoError(t, os.WriteFile(notes, []byte("mine"), 0o644))

	removed, err := w.Prune([]string{"Keep"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{w.Path("Stale"), w.Path("Other")}, removed)

	_, err = os.Stat(w.Path("Keep"))
	assert.NoError(t, err)
	_, err = os.Stat(notes)
	assert.NoError(t, err, "non-mirror files must survive a prune")
}

func TestWriter_PruneWithoutMirrorDir(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	removed, err := w.Prune(nil)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestWriter_DistinctLabelsGetDistinctFiles(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)

	labels := []string{"a/b", "a_b", `a\b`, "a%2Fb", "%", "", ".", "..", "_", "_.", "Pump"}
	seen := make(map[string]string, len(labels))
	for _, label := range labels {
		path := w.Path(label)
		if prev, ok := seen[path]; ok {
			t.Fatalf("labels %q and %q share %s", prev, label, path)
		}
		seen[path] = label
		assert.Equal(t, label, Label(path), "label of %s", path)
	}
	assert.Equal(t, filepath.Join(w.Root(), Dir, "Pump"+Ext), w.Path("Pump"))
}

func TestWriter_CollidingLabelsKeepBothMirrors(t *testing.T) {
	w, err := NewWriter(t.TempDir())
	require.NoError(t, err)
	slash := application(t, "a/b", "monitor Slash {}")
	under := application(t, "a_b", "monitor Under {}")

	_, err = w.Write(slash)
	require.NoError(t, err)
	_, err = w.Write(under)
	require.NoError(t, err)

	got, err := w.Read("a/b")
	require.NoError(t, err)
	assert.Equal(t, "monitor Slash {}", got)
	removed, err := w.Prune([]string{"a/b", "a_b"})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestLabel_PlainFileName(t *testing.T) {
	assert.Equal(t, "Pump", Label("/tmp/upload/Pump.mon"))
	assert.Equal(t, "50%off", Label("50%off.mon"))
}
