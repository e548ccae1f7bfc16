package orchestrator

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// ErrEmptyDirectory is returned when a scan finds no uploadable files.
var ErrEmptyDirectory = errors.New("directory contains no files")

// FileEntry is one uploadable file found under a batch root.
type FileEntry struct {
	// LocalPath is the absolute path on disk.
	LocalPath string
	// RelPath is the path relative to the root, forward slashes.
	RelPath string
	Size    int64
}

// Scan walks the tree under rootPath and returns its regular files sorted
// by RelPath. Unreadable entries and non-regular files (symlinks, sockets,
// devices) are skipped. An existing but file-less tree yields
// ErrEmptyDirectory.
func Scan(rootPath string) ([]FileEntry, error) {
	info, err := os.Stat(rootPath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rootPath, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan %s: not a directory", rootPath)
	}
	absRoot, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rootPath, err)
	}

	var entries []FileEntry
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(absRoot, path)
		if err != nil {
			return fmt.Errorf("relative path of %s: %w", path, err)
		}
		entries = append(entries, FileEntry{
			LocalPath: path,
			RelPath:   filepath.ToSlash(rel),
			Size:      info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", rootPath, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("scan %s: %w", rootPath, ErrEmptyDirectory)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].RelPath < entries[j].RelPath
	})
	return entries, nil
}

// SortForSequential orders entries smallest first so a sequential batch
// shows progress early.
func SortForSequential(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Size < entries[j].Size
	})
}

// SortForParallel orders entries largest first so the big files start
// immediately and the small ones fill the tail.
func SortForParallel(entries []FileEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Size > entries[j].Size
	})
}

// Partition splits entries into n contiguous slices. When the count does
// not divide evenly the first len(entries)%n partitions get one extra.
// Partitions beyond the entry count come back empty.
func Partition(entries []FileEntry, n int) [][]FileEntry {
	if n <= 0 {
		n = 1
	}
	parts := make([][]FileEntry, n)
	base := len(entries) / n
	extra := len(entries) % n
	off := 0
	for i := range parts {
		size := base
		if i < extra {
			size++
		}
		parts[i] = entries[off : off+size]
		off += size
	}
	return parts
}

// TotalSize sums the sizes of entries.
func TotalSize(entries []FileEntry) uint64 {
	var total uint64
	for _, e := range entries {
		total += uint64(e.Size)
	}
	return total
}
