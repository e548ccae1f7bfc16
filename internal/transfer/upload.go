package transfer

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/pkg/protocol"
)

// fileTypeRegular is the type label sent with every upload request.
const fileTypeRegular = "File"

// Upload sends one local file to the server under remoteName. Progress is
// checkpointed after every acknowledged chunk so an interrupted upload can
// be resumed.
func (c *Client) Upload(localPath, remoteName string) error {
	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	fileSize := info.Size()

	var checksum [secure.DigestSize]byte
	if c.opts.ChecksumOn {
		checksum, err = secure.SumFile(localPath, nil)
		if err != nil {
			return err
		}
	}

	if err := c.dialog.Send(protocol.UploadRequest{
		FileSize: uint64(fileSize),
		Checksum: checksum,
		FileName: remoteName,
		FileType: fileTypeRegular,
	}); err != nil {
		return fmt.Errorf("upload %s: %w", remoteName, err)
	}
	payload, err := c.dialog.Expect(protocol.KindUploadResponse)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remoteName, err)
	}
	resp, err := protocol.DecodeUploadResponse(payload)
	if err != nil {
		return fmt.Errorf("upload %s: %w", remoteName, err)
	}
	if resp.Status != protocol.UploadAllowed {
		return fmt.Errorf("upload %s: %w", remoteName, &protocol.RemoteError{Message: resp.Message})
	}

	c.fileInfo("upload allowed", "file", remoteName, "file_id", resp.FileID, "chunk_size", resp.ChunkSize)

	if fileSize == 0 {
		return c.uploadEmpty(remoteName, resp.FileID)
	}
	if resp.ChunkSize == 0 {
		return fmt.Errorf("upload %s: %w: server advertised zero chunk size", remoteName, protocol.ErrMalformed)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()

	chunkSize := int64(resp.ChunkSize)
	chunkCount := uint32((fileSize + chunkSize - 1) / chunkSize)
	ckpPath := UploadCheckpointPath(c.opts.CheckpointDir, remoteName)

	if err := c.sendChunks(f, remoteName, resp.FileID, resp.ChunkSize, 0, chunkCount, 0, fileSize, ckpPath); err != nil {
		return err
	}
	if err := RemoveCheckpoint(ckpPath); err != nil {
		return err
	}
	c.fileInfo("upload complete", "file", remoteName, "bytes", fileSize)
	return nil
}

// ResumeUpload continues an interrupted upload using the local checkpoint
// to identify the file. The server's answer decides where to restart; the
// positions the client sends are zero by contract.
func (c *Client) ResumeUpload(localPath, remoteName string) error {
	ckpPath := UploadCheckpointPath(c.opts.CheckpointDir, remoteName)
	cp, err := ReadUploadCheckpoint(ckpPath)
	if err != nil {
		return err
	}

	if err := c.dialog.Send(protocol.ResumeRequest{FileID: cp.FileID}); err != nil {
		return fmt.Errorf("resume upload %s: %w", remoteName, err)
	}
	payload, err := c.dialog.Expect(protocol.KindResumeResponse)
	if err != nil {
		return fmt.Errorf("resume upload %s: %w", remoteName, err)
	}
	resp, err := protocol.DecodeResumeResponse(payload)
	if err != nil {
		return fmt.Errorf("resume upload %s: %w", remoteName, err)
	}
	if resp.Status != protocol.ResumeSupported {
		return fmt.Errorf("resume upload %s: %w", remoteName, &protocol.RemoteError{Message: resp.Message})
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("stat %s: %w", localPath, err)
	}
	fileSize := info.Size()
	chunkSize := uint32(cp.ChunkSize)
	if chunkSize == 0 {
		return fmt.Errorf("resume upload %s: checkpoint has zero chunk size", remoteName)
	}
	chunkCount := uint32((fileSize + int64(chunkSize) - 1) / int64(chunkSize))
	if resp.RemainingChunks > chunkCount {
		return fmt.Errorf("resume upload %s: %w: server reports %d chunks remaining of %d",
			remoteName, protocol.ErrMalformed, resp.RemainingChunks, chunkCount)
	}
	startIndex := chunkCount - resp.RemainingChunks

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer f.Close()
	if _, err := f.Seek(int64(resp.ResumePosition), io.SeekStart); err != nil {
		return fmt.Errorf("seek %s: %w", localPath, err)
	}

	c.fileInfo("resuming upload", "file", remoteName,
		"start_index", startIndex, "resume_position", resp.ResumePosition)

	if err := c.sendChunks(f, remoteName, resp.FileID, chunkSize,
		startIndex, chunkCount, int64(resp.ResumePosition), fileSize, ckpPath); err != nil {
		return err
	}
	if err := RemoveCheckpoint(ckpPath); err != nil {
		return err
	}
	c.fileInfo("upload complete", "file", remoteName, "bytes", fileSize)
	return nil
}

// uploadEmpty handles the zero-length special path: a single empty chunk
// and its acknowledgement.
func (c *Client) uploadEmpty(remoteName string, fileID uint32) error {
	chunk := protocol.FileChunk{FileID: fileID}
	if c.opts.ChecksumOn {
		chunk.Checksum = secure.SumBuffer(nil)
	}
	if err := c.sendChunkAcked(chunk); err != nil {
		return fmt.Errorf("upload %s: %w", remoteName, err)
	}
	c.opts.Progress.Update(remoteName, 1)
	c.fileInfo("upload complete", "file", remoteName, "bytes", 0)
	return nil
}

// sendChunks streams chunk indices [startIndex, chunkCount) from f, which
// must already be positioned at the first byte of startIndex. The
// checkpoint is overwritten after every acknowledged chunk.
func (c *Client) sendChunks(f *os.File, name string, fileID, chunkSize, startIndex, chunkCount uint32,
	sent, fileSize int64, ckpPath string) error {

	buf := make([]byte, chunkSize)
	for i := startIndex; i < chunkCount; i++ {
		n := int64(chunkSize)
		if remaining := fileSize - sent; remaining < n {
			n = remaining
		}
		if _, err := io.ReadFull(f, buf[:n]); err != nil {
			return fmt.Errorf("read chunk %d of %s: %w", i, name, err)
		}

		chunk := protocol.FileChunk{FileID: fileID, ChunkIndex: i, Data: buf[:n]}
		if c.opts.ChecksumOn {
			chunk.Checksum = secure.SumBuffer(buf[:n])
		}
		if err := c.sendChunkWithRetry(chunk, name); err != nil {
			return err
		}

		sent += n
		if err := WriteUploadCheckpoint(ckpPath, UploadCheckpoint{
			FileID:         fileID,
			ChunkSize:      uint64(chunkSize),
			LastChunkIndex: uint64(i),
		}); err != nil {
			return err
		}
		c.opts.Progress.Update(name, float64(sent)/float64(fileSize))
	}
	return nil
}

// sendChunkWithRetry retries a rejected chunk with exponential backoff:
// the delay starts at BackoffBase and doubles per attempt.
func (c *Client) sendChunkWithRetry(chunk protocol.FileChunk, name string) error {
	for attempt := 0; ; attempt++ {
		err := c.sendChunkAcked(chunk)
		if err == nil {
			return nil
		}
		if !isRetriableAck(err) {
			return fmt.Errorf("chunk %d of %s: %w", chunk.ChunkIndex, name, err)
		}
		if attempt >= c.opts.ChunkRetries {
			return fmt.Errorf("chunk %d of %s: %w", chunk.ChunkIndex, name, ErrRetriesExhausted)
		}
		delay := c.opts.BackoffBase << attempt
		c.log.Debug("chunk rejected, backing off",
			"file", name, "chunk", chunk.ChunkIndex, "attempt", attempt+1, "delay", delay)
		c.sleep(delay)
	}
}

// errBadAck marks an acknowledgement mismatch as retriable, unlike
// transport or remote errors which abort the file.
type errBadAck struct{ reason string }

func (e *errBadAck) Error() string { return "bad ack: " + e.reason }

func isRetriableAck(err error) bool {
	var bad *errBadAck
	return errors.As(err, &bad)
}

// sendChunkAcked sends one chunk and validates its acknowledgement.
func (c *Client) sendChunkAcked(chunk protocol.FileChunk) error {
	if err := c.dialog.Send(chunk); err != nil {
		return err
	}
	payload, err := c.dialog.Expect(protocol.KindFileChunkAck)
	if err != nil {
		return err
	}
	ack, err := protocol.DecodeFileChunkAck(payload)
	if err != nil {
		return err
	}
	switch {
	case !ack.Success:
		return &errBadAck{reason: "server reported failure"}
	case ack.FileID != chunk.FileID:
		return &errBadAck{reason: fmt.Sprintf("file id %d, want %d", ack.FileID, chunk.FileID)}
	case ack.ChunkIndex != chunk.ChunkIndex:
		return &errBadAck{reason: fmt.Sprintf("chunk index %d, want %d", ack.ChunkIndex, chunk.ChunkIndex)}
	}
	return nil
}
