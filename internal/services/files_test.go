package services

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestImageStorageRoundTrip(t *testing.T) {
	storage, err := NewImageStorage(t.TempDir())
	require.NoError(t, err)

	raw := []byte("fake-png-bytes")
	b64 := base64.StdEncoding.EncodeToString(raw)

	path, err := storage.SaveImage("banana-abc", "image_0", b64)
	require.NoError(t, err)
	assert.Equal(t, "image_0.png", filepath.Base(path))

	got, err := storage.LoadImageBase64(path)
	require.NoError(t, err)
	assert.Equal(t, b64, got)

	require.NoError(t, storage.RemoveTask("banana-abc"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestImageStorageDataURI(t *testing.T) {
	storage, err := NewImageStorage(t.TempDir())
	require.NoError(t, err)

	raw := base64.StdEncoding.EncodeToString([]byte("jpeg-bytes"))
	path, err := storage.SaveImage("banana-abc", "ref_0", "data:image/jpeg;base64,"+raw)
	require.NoError(t, err)
	assert.Equal(t, "ref_0.jpg", filepath.Base(path))
}

func TestImageStorageRejectsBadBase64(t *testing.T) {
	storage, err := NewImageStorage(t.TempDir())
	require.NoError(t, err)

	_, err = storage.SaveImage("banana-abc", "image_0", "not base64!!!")
	require.Error(t, err)
}

func TestImageStorageStats(t *testing.T) {
	storage, err := NewImageStorage(t.TempDir())
	require.NoError(t, err)

	b64 := base64.StdEncoding.EncodeToString([]byte("0123456789"))
	_, err = storage.SaveImage("banana-a", "image_0", b64)
	require.NoError(t, err)
	_, err = storage.SaveImage("banana-b", "image_0", b64)
	require.NoError(t, err)
	_, err = storage.SaveImage("banana-b", "image_1", b64)
	require.NoError(t, err)

	stats, err := storage.Stats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TaskDirs)
	assert.Equal(t, 3, stats.FileCount)
	assert.Equal(t, int64(30), stats.TotalBytes)
}
