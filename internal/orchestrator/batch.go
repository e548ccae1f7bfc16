package orchestrator

import (
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// DefaultWorkers is how many parallel upload sessions a batch opens.
const DefaultWorkers = 4

// Worker is one session's upload surface. Each parallel worker gets its
// own, since the wire dialog is strictly one request in flight.
type Worker interface {
	AnnounceDir(path string, fileCount uint32, totalSize uint64) error
	Upload(localPath, remoteName string) error
	Close() error
}

// WorkerFactory opens a fresh authenticated worker, typically by dialing
// a new connection and replaying cached credentials.
type WorkerFactory func() (Worker, error)

// FileFailure records one file that did not make it.
type FileFailure struct {
	RelPath string
	Err     error
}

// BatchReport summarizes a directory upload.
type BatchReport struct {
	BatchID  string
	Root     string
	Uploaded int
	Bytes    uint64
	Failures []FileFailure
}

// Batch uploads a directory tree, either over one session or fanned out
// over several.
type Batch struct {
	newWorker WorkerFactory
	workers   int
	log       *slog.Logger
}

// NewBatch builds a batch uploader. workers <= 0 selects DefaultWorkers;
// a nil logger discards output.
func NewBatch(newWorker WorkerFactory, workers int, log *slog.Logger) *Batch {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Batch{newWorker: newWorker, workers: workers, log: log}
}

// UploadSequential uploads every file under rootPath over a single
// session, smallest files first. A failed file is recorded and the batch
// moves on.
func (b *Batch) UploadSequential(rootPath string) (BatchReport, error) {
	entries, err := Scan(rootPath)
	if err != nil {
		return BatchReport{}, err
	}
	SortForSequential(entries)

	report := newReport(rootPath)
	b.log.Info("starting directory upload", "batch_id", report.BatchID,
		"root", report.Root, "files", len(entries), "mode", "sequential")

	w, err := b.newWorker()
	if err != nil {
		return BatchReport{}, fmt.Errorf("batch %s: %w", report.BatchID, err)
	}
	defer w.Close()

	if err := w.AnnounceDir(report.Root, uint32(len(entries)), TotalSize(entries)); err != nil {
		return BatchReport{}, fmt.Errorf("batch %s: %w", report.BatchID, err)
	}

	var mu sync.Mutex
	b.uploadAll(w, report.Root, entries, &report, &mu)
	b.logDone(&report)
	return report, nil
}

// UploadParallel uploads every file under rootPath over b.workers
// sessions, largest files first, each worker taking a contiguous
// partition. Failures never stop the other workers.
func (b *Batch) UploadParallel(rootPath string) (BatchReport, error) {
	entries, err := Scan(rootPath)
	if err != nil {
		return BatchReport{}, err
	}
	SortForParallel(entries)

	report := newReport(rootPath)
	b.log.Info("starting directory upload", "batch_id", report.BatchID,
		"root", report.Root, "files", len(entries), "mode", "parallel", "workers", b.workers)

	// the announce rides on the first worker before the fan-out
	first, err := b.newWorker()
	if err != nil {
		return BatchReport{}, fmt.Errorf("batch %s: %w", report.BatchID, err)
	}
	if err := first.AnnounceDir(report.Root, uint32(len(entries)), TotalSize(entries)); err != nil {
		first.Close()
		return BatchReport{}, fmt.Errorf("batch %s: %w", report.BatchID, err)
	}

	parts := Partition(entries, b.workers)
	var mu sync.Mutex
	var g errgroup.Group
	for i, part := range parts {
		if len(part) == 0 {
			continue
		}
		w := first
		if i > 0 {
			if w, err = b.newWorker(); err != nil {
				mu.Lock()
				for _, e := range part {
					report.Failures = append(report.Failures, FileFailure{RelPath: e.RelPath, Err: err})
				}
				mu.Unlock()
				b.log.Warn("worker session failed to open, partition skipped",
					"batch_id", report.BatchID, "worker", i, "files", len(part), "error", err)
				continue
			}
		}
		part := part
		g.Go(func() error {
			defer w.Close()
			b.uploadAll(w, report.Root, part, &report, &mu)
			return nil
		})
	}
	_ = g.Wait() // workers report per-file failures, never errors

	b.logDone(&report)
	return report, nil
}

func (b *Batch) uploadAll(w Worker, root string, entries []FileEntry,
	report *BatchReport, mu *sync.Mutex) {

	for _, e := range entries {
		remoteName := path.Join(root, e.RelPath)
		err := w.Upload(e.LocalPath, remoteName)
		mu.Lock()
		if err != nil {
			report.Failures = append(report.Failures, FileFailure{RelPath: e.RelPath, Err: err})
			mu.Unlock()
			b.log.Warn("file upload failed", "batch_id", report.BatchID,
				"file", e.RelPath, "error", err)
			continue
		}
		report.Uploaded++
		report.Bytes += uint64(e.Size)
		mu.Unlock()
		b.log.Debug("file uploaded", "batch_id", report.BatchID, "file", e.RelPath, "size", e.Size)
	}
}

func (b *Batch) logDone(report *BatchReport) {
	b.log.Info("directory upload finished", "batch_id", report.BatchID,
		"uploaded", report.Uploaded, "failed", len(report.Failures), "bytes", report.Bytes)
}

func newReport(rootPath string) BatchReport {
	root := filepath.Base(rootPath)
	if root == "." || root == string(filepath.Separator) {
		if abs, err := filepath.Abs(rootPath); err == nil {
			root = filepath.Base(abs)
		}
	}
	return BatchReport{
		BatchID: uuid.NewString(),
		Root:    root,
	}
}
