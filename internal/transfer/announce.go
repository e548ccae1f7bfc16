package transfer

import (
	"fmt"

	"github.com/zwire/zwire/pkg/protocol"
)

// AnnounceDir tells the server a directory batch is coming so it can
// create the remote tree before the per-file uploads arrive.
func (c *Client) AnnounceDir(path string, fileCount uint32, totalSize uint64) error {
	if err := c.dialog.Send(protocol.UploadDirRequest{
		FileCount:    fileCount,
		TotalSize:    totalSize,
		ChecksumFlag: c.opts.ChecksumOn,
		Path:         path,
	}); err != nil {
		return fmt.Errorf("announce directory %s: %w", path, err)
	}
	payload, err := c.dialog.Expect(protocol.KindUploadResponse)
	if err != nil {
		return fmt.Errorf("announce directory %s: %w", path, err)
	}
	resp, err := protocol.DecodeUploadResponse(payload)
	if err != nil {
		return fmt.Errorf("announce directory %s: %w", path, err)
	}
	if resp.Status != protocol.UploadAllowed {
		return fmt.Errorf("announce directory %s: %w", path, &protocol.RemoteError{Message: resp.Message})
	}
	return nil
}
