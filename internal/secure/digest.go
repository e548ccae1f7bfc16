package secure

import (
	"crypto/md5"
	"fmt"
	"io"
	"os"

	"github.com/zwire/zwire/internal/bufpool"
)

// DigestSize is the MD5 output length used by chunk and file checksums.
const DigestSize = md5.Size

const digestBufferSize = 4 * 1024 * 1024

// digestBufs recycles the read buffers; whole-file hashing runs once per
// upload and once per fresh download.
var digestBufs = bufpool.New(digestBufferSize)

// SumBuffer returns the MD5 of b.
func SumBuffer(b []byte) [DigestSize]byte {
	return md5.Sum(b)
}

// SumFile computes the MD5 of the whole file at path with buffered reads.
// progress, if non-nil, receives the cumulative byte count after each read.
func SumFile(path string, progress func(hashed int64)) ([DigestSize]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return [DigestSize]byte{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	return sumReader(f, -1, progress)
}

// SumReaderN computes the MD5 of exactly n bytes from r. Fewer than n
// available bytes is an error, never a silent truncation.
func SumReaderN(r io.Reader, n int64) ([DigestSize]byte, error) {
	if n < 0 {
		return [DigestSize]byte{}, fmt.Errorf("negative length %d", n)
	}
	sum, err := sumReader(io.LimitReader(r, n), n, nil)
	if err != nil {
		return [DigestSize]byte{}, err
	}
	return sum, nil
}

func sumReader(r io.Reader, want int64, progress func(int64)) ([DigestSize]byte, error) {
	h := md5.New()
	buf := digestBufs.Get()
	defer digestBufs.Put(buf)
	var total int64
	for {
		n, err := r.Read(buf)
		if n > 0 {
			h.Write(buf[:n])
			total += int64(n)
			if progress != nil {
				progress(total)
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return [DigestSize]byte{}, fmt.Errorf("read for digest: %w", err)
		}
	}
	if want >= 0 && total != want {
		return [DigestSize]byte{}, fmt.Errorf("digest short read: got %d bytes, want %d", total, want)
	}
	var sum [DigestSize]byte
	h.Sum(sum[:0])
	return sum, nil
}
