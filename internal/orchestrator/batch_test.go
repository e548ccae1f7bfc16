package orchestrator

import (
	"errors"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeWorker records uploads and can be told to fail specific files.
type fakeWorker struct {
	mu        *sync.Mutex
	uploads   *[]string
	announces *[]string
	failOn    map[string]error
	closed    bool
}

func (w *fakeWorker) AnnounceDir(path string, fileCount uint32, totalSize uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	*w.announces = append(*w.announces, path)
	return nil
}

func (w *fakeWorker) Upload(localPath, remoteName string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err, ok := w.failOn[remoteName]; ok {
		return err
	}
	*w.uploads = append(*w.uploads, remoteName)
	return nil
}

func (w *fakeWorker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

// fakeFleet hands out fakeWorkers sharing one recording surface.
type fakeFleet struct {
	mu            sync.Mutex
	uploads       []string
	announces     []string
	failOn        map[string]error
	spawned       []*fakeWorker
	spawnErr      error
	spawnErrAfter int
}

func (f *fakeFleet) factory() (Worker, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil && len(f.spawned) >= f.spawnErrAfter {
		return nil, f.spawnErr
	}
	w := &fakeWorker{mu: &f.mu, uploads: &f.uploads, announces: &f.announces, failOn: f.failOn}
	f.spawned = append(f.spawned, w)
	return w, nil
}

func (f *fakeFleet) sortedUploads() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]string(nil), f.uploads...)
	sort.Strings(out)
	return out
}

func TestUploadSequential(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{"a.txt": 10, "b.txt": 5, "sub/c.txt": 20})

	fleet := &fakeFleet{}
	b := NewBatch(fleet.factory, 1, nil)

	report, err := b.UploadSequential(root)
	require.NoError(t, err)
	require.Equal(t, 3, report.Uploaded)
	require.Equal(t, uint64(35), report.Bytes)
	require.Empty(t, report.Failures)
	require.NotEmpty(t, report.BatchID)
	require.Len(t, fleet.spawned, 1)
	require.True(t, fleet.spawned[0].closed)
	require.Equal(t, []string{report.Root}, fleet.announces)

	// smallest first over one session
	require.Equal(t, []string{
		report.Root + "/b.txt",
		report.Root + "/a.txt",
		report.Root + "/sub/c.txt",
	}, fleet.uploads)
}

func TestUploadSequentialRecordsFailures(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{"ok.txt": 1, "bad.txt": 2, "late.txt": 3})

	boom := errors.New("boom")
	rootBase := filepath.Base(root)
	fleet := &fakeFleet{failOn: map[string]error{rootBase + "/bad.txt": boom}}
	b := NewBatch(fleet.factory, 1, nil)

	report, err := b.UploadSequential(root)
	require.NoError(t, err)
	require.Equal(t, 2, report.Uploaded)
	require.Len(t, report.Failures, 1)
	require.Equal(t, "bad.txt", report.Failures[0].RelPath)
	require.ErrorIs(t, report.Failures[0].Err, boom)
	// the batch kept going past the failure
	require.Contains(t, fleet.sortedUploads(), rootBase+"/late.txt")
}

func TestUploadParallel(t *testing.T) {
	root := t.TempDir()
	files := map[string]int{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		files[name+".bin"] = len(name) * 100
	}
	writeTree(t, root, files)

	fleet := &fakeFleet{}
	b := NewBatch(fleet.factory, 4, nil)

	report, err := b.UploadParallel(root)
	require.NoError(t, err)
	require.Equal(t, 10, report.Uploaded)
	require.Empty(t, report.Failures)
	require.Len(t, fleet.spawned, 4)
	for _, w := range fleet.spawned {
		require.True(t, w.closed)
	}
	// one announce, on the first session only
	require.Equal(t, []string{report.Root}, fleet.announces)
	require.Len(t, fleet.sortedUploads(), 10)
}

func TestUploadParallelFewFiles(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]int{"one.txt": 1, "two.txt": 2})

	fleet := &fakeFleet{}
	b := NewBatch(fleet.factory, 4, nil)

	report, err := b.UploadParallel(root)
	require.NoError(t, err)
	require.Equal(t, 2, report.Uploaded)
	// empty partitions never dial a session
	require.Len(t, fleet.spawned, 2)
}

func TestUploadParallelWorkerDialFailure(t *testing.T) {
	root := t.TempDir()
	files := map[string]int{}
	for _, name := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		files[name+".bin"] = 100
	}
	writeTree(t, root, files)

	fleet := &fakeFleet{spawnErr: errors.New("dial refused"), spawnErrAfter: 2}
	b := NewBatch(fleet.factory, 4, nil)

	report, err := b.UploadParallel(root)
	require.NoError(t, err)
	// two workers uploaded their partitions, two partitions failed whole
	require.Equal(t, 4, report.Uploaded)
	require.Len(t, report.Failures, 4)
	for _, f := range report.Failures {
		require.ErrorIs(t, f.Err, fleet.spawnErr)
	}
}

func TestUploadParallelEmptyDirectory(t *testing.T) {
	fleet := &fakeFleet{}
	b := NewBatch(fleet.factory, 4, nil)

	_, err := b.UploadParallel(t.TempDir())
	require.ErrorIs(t, err, ErrEmptyDirectory)
	require.Empty(t, fleet.spawned, "no session is dialed for an empty tree")
}
