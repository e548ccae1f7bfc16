package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Payload is implemented by every packet body. Encode returns the wire
// bytes; Kind returns the tag the header must carry.
type Payload interface {
	Kind() Kind
	Encode() ([]byte, error)
}

// decoder walks a payload buffer with strict bounds checks. The first
// overrun latches err; every later read is a no-op returning zero values.
type decoder struct {
	b   []byte
	off int
	err error
}

func (d *decoder) fail(what string) {
	if d.err == nil {
		d.err = fmt.Errorf("%w: truncated %s at offset %d", ErrMalformed, what, d.off)
	}
}

func (d *decoder) u8(what string) uint8 {
	if d.err != nil {
		return 0
	}
	if d.off+1 > len(d.b) {
		d.fail(what)
		return 0
	}
	v := d.b[d.off]
	d.off++
	return v
}

func (d *decoder) u16(what string) uint16 {
	if d.err != nil {
		return 0
	}
	if d.off+2 > len(d.b) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint16(d.b[d.off:])
	d.off += 2
	return v
}

func (d *decoder) u32(what string) uint32 {
	if d.err != nil {
		return 0
	}
	if d.off+4 > len(d.b) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint32(d.b[d.off:])
	d.off += 4
	return v
}

func (d *decoder) u64(what string) uint64 {
	if d.err != nil {
		return 0
	}
	if d.off+8 > len(d.b) {
		d.fail(what)
		return 0
	}
	v := binary.LittleEndian.Uint64(d.b[d.off:])
	d.off += 8
	return v
}

func (d *decoder) raw(n int, what string) []byte {
	if d.err != nil {
		return nil
	}
	if n < 0 || d.off+n > len(d.b) {
		d.fail(what)
		return nil
	}
	v := d.b[d.off : d.off+n]
	d.off += n
	return v
}

// str16 reads a u16 length prefix followed by that many bytes.
func (d *decoder) str16(what string) string {
	n := d.u16(what)
	return string(d.raw(int(n), what))
}

func (d *decoder) checksum(what string) (sum [ChecksumSize]byte) {
	copy(sum[:], d.raw(ChecksumSize, what))
	return sum
}

func appendStr16(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint16(b, uint16(len(s)))
	return append(b, s...)
}

// fixedMessage null-pads s into the 256-byte message field of a denied
// response variant.
func fixedMessage(s string) ([]byte, error) {
	if len(s) > MaxMessageLength {
		return nil, fmt.Errorf("%w: message exceeds %d bytes", ErrInvalidArgument, MaxMessageLength)
	}
	b := make([]byte, MaxMessageLength)
	copy(b, s)
	return b, nil
}

// trimNul cuts b at its first NUL byte.
func trimNul(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

// HandshakeRequest opens the protocol dialog.
type HandshakeRequest struct {
	ClientVersion uint8
}

func (HandshakeRequest) Kind() Kind { return KindHandshakeRequest }

func (p HandshakeRequest) Encode() ([]byte, error) {
	return []byte{p.ClientVersion}, nil
}

func DecodeHandshakeRequest(b []byte) (HandshakeRequest, error) {
	d := decoder{b: b}
	p := HandshakeRequest{ClientVersion: d.u8("client_version")}
	return p, d.err
}

// HandshakeResponse carries the server version and its welcome message.
type HandshakeResponse struct {
	ServerVersion uint8
	Message       string
}

func (HandshakeResponse) Kind() Kind { return KindHandshakeResponse }

func (p HandshakeResponse) Encode() ([]byte, error) {
	b := make([]byte, 0, 3+len(p.Message))
	b = append(b, p.ServerVersion)
	return appendStr16(b, p.Message), nil
}

func DecodeHandshakeResponse(b []byte) (HandshakeResponse, error) {
	d := decoder{b: b}
	p := HandshakeResponse{
		ServerVersion: d.u8("server_version"),
		Message:       d.str16("message"),
	}
	return p, d.err
}

// AuthRequest carries credentials in two fixed 64-byte null-padded fields.
type AuthRequest struct {
	Username string
	Password string
}

func (AuthRequest) Kind() Kind { return KindAuthRequest }

func (p AuthRequest) Encode() ([]byte, error) {
	if len(p.Username) > MaxCredentialLength {
		return nil, fmt.Errorf("%w: username exceeds %d bytes", ErrInvalidArgument, MaxCredentialLength)
	}
	if len(p.Password) > MaxCredentialLength {
		return nil, fmt.Errorf("%w: password exceeds %d bytes", ErrInvalidArgument, MaxCredentialLength)
	}
	b := make([]byte, 2*MaxCredentialLength)
	copy(b[:MaxCredentialLength], p.Username)
	copy(b[MaxCredentialLength:], p.Password)
	return b, nil
}

func DecodeAuthRequest(b []byte) (AuthRequest, error) {
	d := decoder{b: b}
	p := AuthRequest{
		Username: trimNul(d.raw(MaxCredentialLength, "username")),
		Password: trimNul(d.raw(MaxCredentialLength, "password")),
	}
	return p, d.err
}

// AuthResponse reports the authentication outcome and the session id the
// client must echo on every subsequent packet.
type AuthResponse struct {
	Authenticated bool
	SessionID     [SessionIDSize]byte
	Message       string
}

func (AuthResponse) Kind() Kind { return KindAuthResponse }

func (p AuthResponse) Encode() ([]byte, error) {
	b := make([]byte, 0, 1+SessionIDSize+2+len(p.Message))
	b = append(b, boolByte(p.Authenticated))
	b = append(b, p.SessionID[:]...)
	return appendStr16(b, p.Message), nil
}

func DecodeAuthResponse(b []byte) (AuthResponse, error) {
	d := decoder{b: b}
	p := AuthResponse{Authenticated: d.u8("authenticated") != 0}
	copy(p.SessionID[:], d.raw(SessionIDSize, "session_id"))
	p.Message = d.str16("message")
	return p, d.err
}

// CreateDirRequest asks the server to create a directory in the user's
// remote space.
type CreateDirRequest struct {
	Path string
}

func (CreateDirRequest) Kind() Kind { return KindCreateDirRequest }

func (p CreateDirRequest) Encode() ([]byte, error) {
	return appendStr16(make([]byte, 0, 2+len(p.Path)), p.Path), nil
}

func DecodeCreateDirRequest(b []byte) (CreateDirRequest, error) {
	d := decoder{b: b}
	p := CreateDirRequest{Path: d.str16("dir_path")}
	return p, d.err
}

// CreateDirResponse reports the outcome of a CreateDirRequest.
type CreateDirResponse struct {
	Created bool
	Message string
}

func (CreateDirResponse) Kind() Kind { return KindCreateDirResponse }

func (p CreateDirResponse) Encode() ([]byte, error) {
	b := make([]byte, 0, 3+len(p.Message))
	b = append(b, boolByte(p.Created))
	return appendStr16(b, p.Message), nil
}

func DecodeCreateDirResponse(b []byte) (CreateDirResponse, error) {
	d := decoder{b: b}
	p := CreateDirResponse{
		Created: d.u8("created") != 0,
		Message: d.str16("message"),
	}
	return p, d.err
}

// ViewCloudRequest has no payload.
type ViewCloudRequest struct{}

func (ViewCloudRequest) Kind() Kind { return KindViewCloudRequest }

func (ViewCloudRequest) Encode() ([]byte, error) { return nil, nil }

// RemoteEntry is one file or directory in a remote listing.
type RemoteEntry struct {
	Size  uint64
	IsDir bool
	Path  string
	Name  string
}

// ViewCloudResponse lists the user's remote storage space.
type ViewCloudResponse struct {
	TotalSize uint64
	Entries   []RemoteEntry
}

func (ViewCloudResponse) Kind() Kind { return KindViewCloudResponse }

func (p ViewCloudResponse) Encode() ([]byte, error) {
	b := make([]byte, 0, 12)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(p.Entries)))
	b = binary.LittleEndian.AppendUint64(b, p.TotalSize)
	for _, e := range p.Entries {
		b = binary.LittleEndian.AppendUint64(b, e.Size)
		b = append(b, boolByte(e.IsDir))
		b = binary.LittleEndian.AppendUint16(b, uint16(len(e.Path)))
		b = binary.LittleEndian.AppendUint16(b, uint16(len(e.Name)))
		b = append(b, e.Path...)
		b = append(b, e.Name...)
	}
	return b, nil
}

func DecodeViewCloudResponse(b []byte) (ViewCloudResponse, error) {
	d := decoder{b: b}
	count := d.u32("file_count")
	p := ViewCloudResponse{TotalSize: d.u64("total_size")}
	for i := uint32(0); i < count && d.err == nil; i++ {
		var e RemoteEntry
		e.Size = d.u64("entry size")
		e.IsDir = d.u8("entry is_dir") != 0
		pathLen := d.u16("entry path_len")
		nameLen := d.u16("entry name_len")
		e.Path = string(d.raw(int(pathLen), "entry path"))
		e.Name = string(d.raw(int(nameLen), "entry name"))
		if d.err == nil {
			p.Entries = append(p.Entries, e)
		}
	}
	return p, d.err
}

// UploadRequest announces a file the client wants to store.
type UploadRequest struct {
	FileSize uint64
	Checksum [ChecksumSize]byte
	FileName string
	FileType string
}

func (UploadRequest) Kind() Kind { return KindUploadRequest }

func (p UploadRequest) Encode() ([]byte, error) {
	b := make([]byte, 0, 28+len(p.FileName)+len(p.FileType))
	b = binary.LittleEndian.AppendUint64(b, p.FileSize)
	b = append(b, p.Checksum[:]...)
	b = binary.LittleEndian.AppendUint16(b, uint16(len(p.FileName)))
	b = binary.LittleEndian.AppendUint16(b, uint16(len(p.FileType)))
	b = append(b, p.FileName...)
	b = append(b, p.FileType...)
	return b, nil
}

func DecodeUploadRequest(b []byte) (UploadRequest, error) {
	d := decoder{b: b}
	p := UploadRequest{
		FileSize: d.u64("file_size"),
		Checksum: d.checksum("checksum"),
	}
	nameLen := d.u16("file_name_length")
	typeLen := d.u16("file_type_length")
	p.FileName = string(d.raw(int(nameLen), "file_name"))
	p.FileType = string(d.raw(int(typeLen), "file_type"))
	return p, d.err
}

// UploadDirRequest announces a directory upload so the server can create
// the tree before the per-file uploads arrive.
type UploadDirRequest struct {
	FileCount    uint32
	TotalSize    uint64
	ChecksumFlag bool
	Path         string
}

func (UploadDirRequest) Kind() Kind { return KindUploadDirRequest }

func (p UploadDirRequest) Encode() ([]byte, error) {
	b := make([]byte, 0, 15+len(p.Path))
	b = binary.LittleEndian.AppendUint32(b, p.FileCount)
	b = binary.LittleEndian.AppendUint64(b, p.TotalSize)
	b = append(b, boolByte(p.ChecksumFlag))
	return appendStr16(b, p.Path), nil
}

func DecodeUploadDirRequest(b []byte) (UploadDirRequest, error) {
	d := decoder{b: b}
	p := UploadDirRequest{
		FileCount:    d.u32("file_count"),
		TotalSize:    d.u64("total_size"),
		ChecksumFlag: d.u8("checksum_flag") != 0,
		Path:         d.str16("dir_path"),
	}
	return p, d.err
}

// UploadResponse either grants the upload (file id and chunk size) or
// denies it with a message.
type UploadResponse struct {
	Status    UploadStatus
	FileID    uint32
	ChunkSize uint32
	Message   string
}

func (UploadResponse) Kind() Kind { return KindUploadResponse }

func (p UploadResponse) Encode() ([]byte, error) {
	b := []byte{byte(p.Status)}
	if p.Status == UploadAllowed {
		b = binary.LittleEndian.AppendUint32(b, p.FileID)
		b = binary.LittleEndian.AppendUint32(b, p.ChunkSize)
		return b, nil
	}
	msg, err := fixedMessage(p.Message)
	if err != nil {
		return nil, err
	}
	return append(b, msg...), nil
}

func DecodeUploadResponse(b []byte) (UploadResponse, error) {
	d := decoder{b: b}
	p := UploadResponse{Status: UploadStatus(d.u8("status"))}
	if p.Status == UploadAllowed {
		p.FileID = d.u32("file_id")
		p.ChunkSize = d.u32("chunk_size")
	} else {
		p.Message = trimNul(d.raw(MaxMessageLength, "message"))
	}
	return p, d.err
}

// DownloadRequest asks for a file by its remote name.
type DownloadRequest struct {
	FileName string
}

func (DownloadRequest) Kind() Kind { return KindDownloadRequest }

func (p DownloadRequest) Encode() ([]byte, error) {
	return appendStr16(make([]byte, 0, 2+len(p.FileName)), p.FileName), nil
}

func DecodeDownloadRequest(b []byte) (DownloadRequest, error) {
	d := decoder{b: b}
	p := DownloadRequest{FileName: d.str16("file_name")}
	return p, d.err
}

// DownloadResponse either describes the file about to be streamed or
// denies the request with a message.
type DownloadResponse struct {
	Status    DownloadStatus
	FileID    uint32
	FileSize  uint64
	ChunkSize uint32
	Checksum  [ChecksumSize]byte
	Message   string
}

func (DownloadResponse) Kind() Kind { return KindDownloadResponse }

func (p DownloadResponse) Encode() ([]byte, error) {
	b := []byte{byte(p.Status)}
	if p.Status == FileFound {
		b = binary.LittleEndian.AppendUint32(b, p.FileID)
		b = binary.LittleEndian.AppendUint64(b, p.FileSize)
		b = binary.LittleEndian.AppendUint32(b, p.ChunkSize)
		return append(b, p.Checksum[:]...), nil
	}
	msg, err := fixedMessage(p.Message)
	if err != nil {
		return nil, err
	}
	return append(b, msg...), nil
}

func DecodeDownloadResponse(b []byte) (DownloadResponse, error) {
	d := decoder{b: b}
	p := DownloadResponse{Status: DownloadStatus(d.u8("status"))}
	if p.Status == FileFound {
		p.FileID = d.u32("file_id")
		p.FileSize = d.u64("file_size")
		p.ChunkSize = d.u32("chunk_size")
		p.Checksum = d.checksum("checksum")
	} else {
		p.Message = trimNul(d.raw(MaxMessageLength, "message"))
	}
	return p, d.err
}

// ResumeRequest asks the server where an interrupted transfer stands. The
// position and index fields are sent as zero; the server's answer is
// authoritative.
type ResumeRequest struct {
	FileID         uint32
	ResumePosition uint64
	LastChunkIndex uint32
}

func (ResumeRequest) Kind() Kind { return KindResumeRequest }

func (p ResumeRequest) Encode() ([]byte, error) {
	b := make([]byte, 0, 16)
	b = binary.LittleEndian.AppendUint32(b, p.FileID)
	b = binary.LittleEndian.AppendUint64(b, p.ResumePosition)
	b = binary.LittleEndian.AppendUint32(b, p.LastChunkIndex)
	return b, nil
}

func DecodeResumeRequest(b []byte) (ResumeRequest, error) {
	d := decoder{b: b}
	p := ResumeRequest{
		FileID:         d.u32("file_id"),
		ResumePosition: d.u64("resume_position"),
		LastChunkIndex: d.u32("last_chunk_index"),
	}
	return p, d.err
}

// ResumeResponse tells the client where to pick the transfer back up.
type ResumeResponse struct {
	Status          ResumeStatus
	FileID          uint32
	ResumePosition  uint64
	RemainingChunks uint32
	Message         string
}

func (ResumeResponse) Kind() Kind { return KindResumeResponse }

func (p ResumeResponse) Encode() ([]byte, error) {
	b := []byte{byte(p.Status)}
	if p.Status == ResumeSupported {
		b = binary.LittleEndian.AppendUint32(b, p.FileID)
		b = binary.LittleEndian.AppendUint64(b, p.ResumePosition)
		b = binary.LittleEndian.AppendUint32(b, p.RemainingChunks)
		return b, nil
	}
	msg, err := fixedMessage(p.Message)
	if err != nil {
		return nil, err
	}
	return append(b, msg...), nil
}

func DecodeResumeResponse(b []byte) (ResumeResponse, error) {
	d := decoder{b: b}
	p := ResumeResponse{Status: ResumeStatus(d.u8("status"))}
	if p.Status == ResumeSupported {
		p.FileID = d.u32("file_id")
		p.ResumePosition = d.u64("resume_position")
		p.RemainingChunks = d.u32("remaining_chunk_count")
	} else {
		p.Message = trimNul(d.raw(MaxMessageLength, "message"))
	}
	return p, d.err
}

// FileChunk carries one contiguous range of file bytes. The checksum is
// the MD5 of Data; all zeros means checksum verification is off.
type FileChunk struct {
	FileID     uint32
	ChunkIndex uint32
	Checksum   [ChecksumSize]byte
	Data       []byte
}

func (FileChunk) Kind() Kind { return KindFileChunk }

func (p FileChunk) Encode() ([]byte, error) {
	b := make([]byte, 0, 28+len(p.Data))
	b = binary.LittleEndian.AppendUint32(b, p.FileID)
	b = binary.LittleEndian.AppendUint32(b, p.ChunkIndex)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(p.Data)))
	b = append(b, p.Checksum[:]...)
	return append(b, p.Data...), nil
}

func DecodeFileChunk(b []byte) (FileChunk, error) {
	d := decoder{b: b}
	p := FileChunk{
		FileID:     d.u32("file_id"),
		ChunkIndex: d.u32("chunk_index"),
	}
	size := d.u32("chunk_size")
	p.Checksum = d.checksum("checksum")
	p.Data = append([]byte(nil), d.raw(int(size), "chunk data")...)
	return p, d.err
}

// FileChunkAck acknowledges one chunk by id and index.
type FileChunkAck struct {
	FileID     uint32
	ChunkIndex uint32
	Success    bool
}

func (FileChunkAck) Kind() Kind { return KindFileChunkAck }

func (p FileChunkAck) Encode() ([]byte, error) {
	b := make([]byte, 0, 9)
	b = binary.LittleEndian.AppendUint32(b, p.FileID)
	b = binary.LittleEndian.AppendUint32(b, p.ChunkIndex)
	return append(b, boolByte(p.Success)), nil
}

func DecodeFileChunkAck(b []byte) (FileChunkAck, error) {
	d := decoder{b: b}
	p := FileChunkAck{
		FileID:     d.u32("file_id"),
		ChunkIndex: d.u32("chunk_index"),
		Success:    d.u8("success") != 0,
	}
	return p, d.err
}

// CloseSession ends the authenticated dialog.
type CloseSession struct {
	Timestamp uint64
}

func (CloseSession) Kind() Kind { return KindCloseSession }

func (p CloseSession) Encode() ([]byte, error) {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 8), p.Timestamp), nil
}

func DecodeCloseSession(b []byte) (CloseSession, error) {
	d := decoder{b: b}
	p := CloseSession{Timestamp: d.u64("timestamp")}
	return p, d.err
}

// ErrorPacket is the server's out-of-band failure report.
type ErrorPacket struct {
	Code    uint32
	Message string
}

func (ErrorPacket) Kind() Kind { return KindError }

func (p ErrorPacket) Encode() ([]byte, error) {
	b := make([]byte, 0, 6+len(p.Message))
	b = binary.LittleEndian.AppendUint32(b, p.Code)
	return appendStr16(b, p.Message), nil
}

func DecodeErrorPacket(b []byte) (ErrorPacket, error) {
	d := decoder{b: b}
	p := ErrorPacket{
		Code:    d.u32("error_code"),
		Message: d.str16("message"),
	}
	return p, d.err
}

func boolByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}
