package assets

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShaderWatcherRecordsChanges(t *testing.T) {
	dir := t.TempDir()
	am := NewAssetManager()
	w, err := NewShaderWatcher(am)
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(dir))
	assert.Empty(t, w.Drain())

	shader := filepath.Join(dir, "quad.frag.spv")
	writeSPIRV(t, shader, 0x07230203)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	var changed []string
	require.Eventually(t, func() bool {
		changed = append(changed, w.Drain()...)
		return len(changed) > 0
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, changed, shader)
	for _, c := range changed {
		assert.NotEqual(t, filepath.Join(dir, "notes.txt"), c)
	}

	_, ok := am.Info(shader)
	assert.True(t, ok)
}

func TestShaderWatcherClose(t *testing.T) {
	w, err := NewShaderWatcher(NewAssetManager())
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Watch(t.TempDir()), ErrWatcherClosed)
}
