package transfer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := UploadCheckpointPath(dir, "data.bin")

	want := UploadCheckpoint{FileID: 42, ChunkSize: 65536, LastChunkIndex: 17}
	require.NoError(t, WriteUploadCheckpoint(path, want))

	got, err := ReadUploadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDownloadCheckpointRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := DownloadCheckpointPath(dir, "data.bin")

	want := DownloadCheckpoint{
		FileName:       "data.bin",
		FileID:         7,
		Received:       120000,
		LastChunkIndex: 1,
		FileSize:       500000,
	}
	require.NoError(t, WriteDownloadCheckpoint(path, want))

	got, err := ReadDownloadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestCheckpointMissing(t *testing.T) {
	dir := t.TempDir()

	_, err := ReadUploadCheckpoint(UploadCheckpointPath(dir, "none.bin"))
	require.ErrorIs(t, err, ErrNoResumableState)

	_, err = ReadDownloadCheckpoint(DownloadCheckpointPath(dir, "none.bin"))
	require.ErrorIs(t, err, ErrNoResumableState)
}

func TestCheckpointPaths(t *testing.T) {
	require.Equal(t, filepath.Join("state", "video.ckp"),
		UploadCheckpointPath("state", "video.mp4"))
	require.Equal(t, filepath.Join("state", "checkpoint", "video.ckp"),
		DownloadCheckpointPath("state", "video.mp4"))
	// nested remote names collapse to their base
	require.Equal(t, filepath.Join("state", "video.ckp"),
		UploadCheckpointPath("state", filepath.Join("sub", "video.mp4")))
	// extensionless names pass through
	require.Equal(t, filepath.Join("state", "README.ckp"),
		UploadCheckpointPath("state", "README"))
}

func TestCheckpointOverwrite(t *testing.T) {
	dir := t.TempDir()
	path := UploadCheckpointPath(dir, "grow.bin")

	require.NoError(t, WriteUploadCheckpoint(path, UploadCheckpoint{FileID: 1, ChunkSize: 10, LastChunkIndex: 0}))
	require.NoError(t, WriteUploadCheckpoint(path, UploadCheckpoint{FileID: 1, ChunkSize: 10, LastChunkIndex: 5}))

	got, err := ReadUploadCheckpoint(path)
	require.NoError(t, err)
	require.Equal(t, uint64(5), got.LastChunkIndex)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(20), info.Size(), "rewrite must not leave stale bytes behind")
}

func TestCheckpointCorrupt(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.ckp")
	require.NoError(t, os.WriteFile(path, []byte{1, 2, 3}, 0644))

	_, err := ReadUploadCheckpoint(path)
	require.Error(t, err)
	_, err = ReadDownloadCheckpoint(path)
	require.Error(t, err)
}

func TestRemoveCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := UploadCheckpointPath(dir, "done.bin")
	require.NoError(t, WriteUploadCheckpoint(path, UploadCheckpoint{FileID: 1}))

	require.NoError(t, RemoveCheckpoint(path))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))

	// removing twice is fine
	require.NoError(t, RemoveCheckpoint(path))
}
