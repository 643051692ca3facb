package status

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"k8s.io/utils/ptr"
)

func TestFilePersistence_SaveAndLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", StatusFileName)
	p, err := OpenFilePersistence(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	saved := SyncStatus{
		LastSync: &now,
		Error:    ptr.To("network unreachable"),
		Output:   ptr.To("Synchronisation failed"),
	}
	require.NoError(t, p.Save(ctx, saved))

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file should be renamed away")

	loaded, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved.Running, loaded.Running)
	assert.True(t, now.Equal(*loaded.LastSync))
	assert.Equal(t, "network unreachable", *loaded.Error)
	assert.Equal(t, "Synchronisation failed", *loaded.Output)
}

func TestFilePersistence_LoadMissingFile(t *testing.T) {
	t.Parallel()

	p, err := OpenFilePersistence(filepath.Join(t.TempDir(), StatusFileName))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	loaded, err := p.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SyncStatus{}, loaded)
}

func TestFilePersistence_LoadCorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), StatusFileName)
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

	p, err := OpenFilePersistence(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	_, err = p.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to unmarshal status data")
}

func TestFilePersistence_SecondOpenIsLocked(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), StatusFileName)
	first, err := OpenFilePersistence(path)
	require.NoError(t, err)

	_, err = OpenFilePersistence(path)
	require.ErrorIs(t, err, ErrLocked)

	require.NoError(t, first.Close())

	second, err := OpenFilePersistence(path)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestDefaultStatusPath(t *testing.T) {
	t.Parallel()

	path := DefaultStatusPath()
	assert.Equal(t, StatusFileName, filepath.Base(path))
	assert.Equal(t, stateDirName, filepath.Base(filepath.Dir(path)))
}
