package seedwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func writeSeedFile(t *testing.T, path string, backends []string) {
	t.Helper()
	data, err := yaml.Marshal(SeedFile{Backends: backends})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestLoad_ParsesBackendList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	writeSeedFile(t, path, []string{"http://a/", "http://b/"})

	backends, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a/", "http://b/"}, backends)
}

func TestWatcher_EmitsChangeOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "seeds.yaml")
	writeSeedFile(t, path, []string{"http://a/"})

	w, err := New(path)
	require.NoError(t, err)
	defer w.Close()

	done := make(chan struct{})
	go w.Run(done)
	defer close(done)

	writeSeedFile(t, path, []string{"http://a/", "http://b/"})

	select {
	case change := <-w.Changes():
		assert.Equal(t, []string{"http://a/", "http://b/"}, change.Backends)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}
