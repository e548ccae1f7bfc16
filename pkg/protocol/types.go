package protocol

// Wire-level constants shared by every packet.
const (
	Magic   uint16 = 0x5A57
	Version uint8  = 1

	HeaderSize    = 24
	SessionIDSize = 16
	ChecksumSize  = 16

	// MaxEncryptedLength bounds the envelope prefix: 32 MiB of chunk data
	// plus headroom for header, IV, tag and payload framing.
	MaxEncryptedLength = 32*1024*1024 + 512*1024

	// MaxCredentialLength is the fixed on-wire size of the username and
	// password fields.
	MaxCredentialLength = 64

	// MaxMessageLength is the fixed on-wire size of the message field in
	// denied response variants.
	MaxMessageLength = 256
)

// Kind identifies a packet type. The tag space is contiguous and shared
// with the server; do not reorder.
type Kind uint8

const (
	KindHandshakeRequest Kind = iota
	KindHandshakeResponse
	KindAuthRequest
	KindAuthResponse
	KindCreateDirRequest
	KindCreateDirResponse
	KindViewCloudRequest
	KindViewCloudResponse
	KindUploadRequest
	KindUploadDirRequest
	KindUploadResponse
	KindDownloadRequest
	KindDownloadResponse
	KindResumeRequest
	KindResumeResponse
	KindFileChunk
	KindFileChunkAck
	KindCloseSession
	KindError

	kindEnd
)

func (k Kind) Valid() bool { return k < kindEnd }

func (k Kind) String() string {
	names := [...]string{
		"HandshakeRequest", "HandshakeResponse",
		"AuthRequest", "AuthResponse",
		"CreateDirRequest", "CreateDirResponse",
		"ViewCloudRequest", "ViewCloudResponse",
		"UploadRequest", "UploadDirRequest", "UploadResponse",
		"DownloadRequest", "DownloadResponse",
		"ResumeRequest", "ResumeResponse",
		"FileChunk", "FileChunkAck",
		"CloseSession", "Error",
	}
	if int(k) < len(names) {
		return names[k]
	}
	return "Unknown"
}

// UploadStatus is the status byte of an UploadResponse.
type UploadStatus uint8

const (
	UploadAllowed UploadStatus = iota
	UploadOutOfSpace
)

// DownloadStatus is the status byte of a DownloadResponse.
type DownloadStatus uint8

const (
	FileFound DownloadStatus = iota
	FileNotFound
	FileAccessDenied
)

// ResumeStatus is the status byte of a ResumeResponse.
type ResumeStatus uint8

const (
	ResumeSupported ResumeStatus = iota
	ResumeNotFound
)
