package transfer

import (
	"fmt"
	"time"

	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/pkg/protocol"
)

// scriptedDialog runs a fake server in-process: every Send is handed to
// the handler, which queues the packets the next Expect calls will see.
// Error packets surface as *protocol.RemoteError, mirroring the frame
// layer.
type scriptedDialog struct {
	handle func(p protocol.Payload) []protocol.Payload
	queue  []protocol.Payload
}

func (d *scriptedDialog) Send(p protocol.Payload) error {
	d.queue = append(d.queue, d.handle(p)...)
	return nil
}

func (d *scriptedDialog) Expect(kind protocol.Kind) ([]byte, error) {
	if len(d.queue) == 0 {
		return nil, fmt.Errorf("dialog: nothing queued, expected %s", kind)
	}
	p := d.queue[0]
	d.queue = d.queue[1:]
	if ep, ok := p.(protocol.ErrorPacket); ok {
		return nil, &protocol.RemoteError{Code: ep.Code, Message: ep.Message}
	}
	if p.Kind() != kind {
		return nil, fmt.Errorf("dialog: queued %s, expected %s", p.Kind(), kind)
	}
	return p.Encode()
}

// uploadStub accepts upload dialogs and keeps the received chunks so tests
// can reassemble what "arrived".
type uploadStub struct {
	fileID    uint32
	chunkSize uint32
	denyMsg   string
	// nackTimes maps a chunk index to how many times it is rejected
	// before being accepted.
	nackTimes map[uint32]int
	resume    *protocol.ResumeResponse
	received  map[uint32][]byte
	announced []protocol.UploadDirRequest
}

func newUploadStub(fileID, chunkSize uint32) *uploadStub {
	return &uploadStub{
		fileID:    fileID,
		chunkSize: chunkSize,
		nackTimes: make(map[uint32]int),
		received:  make(map[uint32][]byte),
	}
}

func (s *uploadStub) handlePacket(p protocol.Payload) []protocol.Payload {
	switch q := p.(type) {
	case protocol.UploadRequest:
		if s.denyMsg != "" {
			return []protocol.Payload{protocol.UploadResponse{
				Status: protocol.UploadOutOfSpace, Message: s.denyMsg,
			}}
		}
		return []protocol.Payload{protocol.UploadResponse{
			Status: protocol.UploadAllowed, FileID: s.fileID, ChunkSize: s.chunkSize,
		}}
	case protocol.UploadDirRequest:
		s.announced = append(s.announced, q)
		if s.denyMsg != "" {
			return []protocol.Payload{protocol.UploadResponse{
				Status: protocol.UploadOutOfSpace, Message: s.denyMsg,
			}}
		}
		return []protocol.Payload{protocol.UploadResponse{Status: protocol.UploadAllowed}}
	case protocol.ResumeRequest:
		if s.resume == nil {
			return []protocol.Payload{protocol.ResumeResponse{
				Status: protocol.ResumeNotFound, Message: "unknown file id",
			}}
		}
		return []protocol.Payload{*s.resume}
	case protocol.FileChunk:
		if s.nackTimes[q.ChunkIndex] > 0 {
			s.nackTimes[q.ChunkIndex]--
			return []protocol.Payload{protocol.FileChunkAck{
				FileID: q.FileID, ChunkIndex: q.ChunkIndex, Success: false,
			}}
		}
		s.received[q.ChunkIndex] = append([]byte(nil), q.Data...)
		return []protocol.Payload{protocol.FileChunkAck{
			FileID: q.FileID, ChunkIndex: q.ChunkIndex, Success: true,
		}}
	}
	return []protocol.Payload{protocol.ErrorPacket{Code: 400, Message: "unexpected packet"}}
}

// reassemble concatenates the received chunks in index order.
func (s *uploadStub) reassemble() []byte {
	var out []byte
	for i := uint32(0); ; i++ {
		data, ok := s.received[i]
		if !ok {
			return out
		}
		out = append(out, data...)
	}
}

// downloadStub streams a byte slice as chunks, optionally corrupting the
// first transmission of selected chunks.
type downloadStub struct {
	fileID      uint32
	chunkSize   int
	content     []byte
	status      protocol.DownloadStatus
	denyMsg     string
	corruptLeft map[uint32]int
	resume      *protocol.ResumeResponse
}

func newDownloadStub(fileID uint32, chunkSize int, content []byte) *downloadStub {
	return &downloadStub{
		fileID:      fileID,
		chunkSize:   chunkSize,
		content:     content,
		status:      protocol.FileFound,
		corruptLeft: make(map[uint32]int),
	}
}

func (s *downloadStub) chunkCount() int {
	return (len(s.content) + s.chunkSize - 1) / s.chunkSize
}

func (s *downloadStub) chunk(i int) protocol.FileChunk {
	start := i * s.chunkSize
	end := start + s.chunkSize
	if end > len(s.content) {
		end = len(s.content)
	}
	data := append([]byte(nil), s.content[start:end]...)
	c := protocol.FileChunk{
		FileID:     s.fileID,
		ChunkIndex: uint32(i),
		Checksum:   secure.SumBuffer(data),
		Data:       data,
	}
	if s.corruptLeft[uint32(i)] > 0 {
		s.corruptLeft[uint32(i)]--
		c.Data[0] ^= 0xFF // checksum no longer matches
	}
	return c
}

func (s *downloadStub) handlePacket(p protocol.Payload) []protocol.Payload {
	switch q := p.(type) {
	case protocol.DownloadRequest:
		if s.status != protocol.FileFound {
			return []protocol.Payload{protocol.DownloadResponse{Status: s.status, Message: s.denyMsg}}
		}
		resp := protocol.DownloadResponse{
			Status:    protocol.FileFound,
			FileID:    s.fileID,
			FileSize:  uint64(len(s.content)),
			ChunkSize: uint32(s.chunkSize),
			Checksum:  secure.SumBuffer(s.content),
		}
		out := []protocol.Payload{resp}
		if len(s.content) > 0 {
			out = append(out, s.chunk(0))
		}
		return out
	case protocol.ResumeRequest:
		if s.resume == nil {
			return []protocol.Payload{protocol.ResumeResponse{
				Status: protocol.ResumeNotFound, Message: "unknown file id",
			}}
		}
		start := s.chunkCount() - int(s.resume.RemainingChunks)
		return []protocol.Payload{*s.resume, s.chunk(start)}
	case protocol.FileChunkAck:
		if !q.Success {
			return []protocol.Payload{s.chunk(int(q.ChunkIndex))}
		}
		next := int(q.ChunkIndex) + 1
		if next < s.chunkCount() {
			return []protocol.Payload{s.chunk(next)}
		}
		return nil
	}
	return []protocol.Payload{protocol.ErrorPacket{Code: 400, Message: "unexpected packet"}}
}

// newTestClient wires a client to a scripted handler with sleeps recorded
// instead of slept.
func newTestClient(handle func(protocol.Payload) []protocol.Payload, opts Options) (*Client, *[]time.Duration) {
	c := NewClient(&scriptedDialog{handle: handle}, opts, nil)
	delays := &[]time.Duration{}
	c.sleep = func(d time.Duration) { *delays = append(*delays, d) }
	return c, delays
}
