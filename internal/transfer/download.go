package transfer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/pkg/protocol"
)

// Download fetches a remote file into destDir and returns the path it was
// written to. A name collision with an existing local file gets a
// millisecond-timestamp suffix instead of overwriting it.
func (c *Client) Download(fileName, destDir string) (string, error) {
	if err := c.dialog.Send(protocol.DownloadRequest{FileName: fileName}); err != nil {
		return "", fmt.Errorf("download %s: %w", fileName, err)
	}
	payload, err := c.dialog.Expect(protocol.KindDownloadResponse)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileName, err)
	}
	resp, err := protocol.DecodeDownloadResponse(payload)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", fileName, err)
	}
	if resp.Status != protocol.FileFound {
		return "", fmt.Errorf("download %s: %w", fileName, &protocol.RemoteError{Message: resp.Message})
	}

	outPath := collisionFreePath(filepath.Join(destDir, fileName))
	out, err := os.OpenFile(outPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", outPath, err)
	}
	defer out.Close()

	c.fileInfo("download allowed", "file", fileName,
		"file_id", resp.FileID, "size", resp.FileSize, "out", outPath)

	ckpPath := DownloadCheckpointPath(c.opts.CheckpointDir, fileName)
	if err := c.recvChunks(out, fileName, resp.FileID, 0, resp.FileSize, ckpPath); err != nil {
		// keep the partial file and the checkpoint for a later resume
		return "", err
	}

	if c.opts.ChecksumOn {
		sum, err := secure.SumFile(outPath, nil)
		if err != nil {
			return "", err
		}
		if sum != resp.Checksum {
			return "", fmt.Errorf("download %s: whole-file checksum mismatch: %w", fileName, secure.ErrIntegrity)
		}
	}
	if err := RemoveCheckpoint(ckpPath); err != nil {
		return "", err
	}
	c.fileInfo("download complete", "file", fileName, "bytes", resp.FileSize)
	return outPath, nil
}

// ResumeDownload continues an interrupted download identified by its
// checkpoint, appending to the partial file at localPath.
func (c *Client) ResumeDownload(fileName, localPath string) error {
	ckpPath := DownloadCheckpointPath(c.opts.CheckpointDir, fileName)
	cp, err := ReadDownloadCheckpoint(ckpPath)
	if err != nil {
		return err
	}

	if err := c.dialog.Send(protocol.ResumeRequest{FileID: cp.FileID}); err != nil {
		return fmt.Errorf("resume download %s: %w", fileName, err)
	}
	payload, err := c.dialog.Expect(protocol.KindResumeResponse)
	if err != nil {
		return fmt.Errorf("resume download %s: %w", fileName, err)
	}
	resp, err := protocol.DecodeResumeResponse(payload)
	if err != nil {
		return fmt.Errorf("resume download %s: %w", fileName, err)
	}
	if resp.Status != protocol.ResumeSupported {
		return fmt.Errorf("resume download %s: %w", fileName, &protocol.RemoteError{Message: resp.Message})
	}

	out, err := os.OpenFile(localPath, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("open %s for resume: %w", localPath, err)
	}
	defer out.Close()

	c.fileInfo("resuming download", "file", fileName,
		"resume_position", resp.ResumePosition, "remaining_chunks", resp.RemainingChunks)

	if err := c.recvChunks(out, fileName, cp.FileID, resp.ResumePosition, cp.FileSize, ckpPath); err != nil {
		return err
	}
	if err := RemoveCheckpoint(ckpPath); err != nil {
		return err
	}
	c.fileInfo("download complete", "file", fileName, "bytes", cp.FileSize)
	return nil
}

// recvChunks receives chunks until received reaches fileSize. Every chunk
// is acknowledged, matched or not. After a checksum mismatch the client
// waits MismatchWait for the retransmit; the ChunkRetries-th mismatch of
// one index aborts the download.
func (c *Client) recvChunks(out *os.File, fileName string, fileID uint32,
	received, fileSize uint64, ckpPath string) error {

	retries := make(map[uint32]int)
	for received < fileSize {
		payload, err := c.dialog.Expect(protocol.KindFileChunk)
		if err != nil {
			return fmt.Errorf("download %s: %w", fileName, err)
		}
		chunk, err := protocol.DecodeFileChunk(payload)
		if err != nil {
			return fmt.Errorf("download %s: %w", fileName, err)
		}
		if chunk.FileID != fileID {
			return fmt.Errorf("download %s: %w: chunk for file id %d, want %d",
				fileName, protocol.ErrMalformed, chunk.FileID, fileID)
		}

		matched := true
		if c.opts.ChecksumOn {
			matched = secure.SumBuffer(chunk.Data) == chunk.Checksum
		}

		// the ack goes out whether the checksum matched or not
		if err := c.dialog.Send(protocol.FileChunkAck{
			FileID:     fileID,
			ChunkIndex: chunk.ChunkIndex,
			Success:    matched,
		}); err != nil {
			return fmt.Errorf("download %s: %w", fileName, err)
		}

		if !matched {
			retries[chunk.ChunkIndex]++
			if retries[chunk.ChunkIndex] >= c.opts.ChunkRetries {
				return fmt.Errorf("download %s: chunk %d: %w: %w",
					fileName, chunk.ChunkIndex, ErrRetriesExhausted, secure.ErrIntegrity)
			}
			c.log.Debug("chunk checksum mismatch, awaiting retransmit",
				"file", fileName, "chunk", chunk.ChunkIndex, "attempt", retries[chunk.ChunkIndex])
			c.sleep(c.opts.MismatchWait)
			continue
		}

		if _, err := out.Write(chunk.Data); err != nil {
			return fmt.Errorf("write %s: %w", fileName, err)
		}
		if err := out.Sync(); err != nil {
			return fmt.Errorf("flush %s: %w", fileName, err)
		}
		received += uint64(len(chunk.Data))

		if err := WriteDownloadCheckpoint(ckpPath, DownloadCheckpoint{
			FileName:       fileName,
			FileID:         fileID,
			Received:       received,
			LastChunkIndex: chunk.ChunkIndex,
			FileSize:       fileSize,
		}); err != nil {
			return err
		}
		c.opts.Progress.Update(fileName, float64(received)/float64(fileSize))
	}
	return nil
}

// collisionFreePath returns path unchanged if nothing exists there, or
// path with a millisecond-epoch suffix spliced in before the extension.
func collisionFreePath(path string) string {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return path
	}
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(path, ext)
	return fmt.Sprintf("%s_%d%s", base, time.Now().UnixMilli(), ext)
}
