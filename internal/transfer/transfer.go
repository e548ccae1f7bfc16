package transfer

import (
	"errors"
	"log/slog"
	"time"

	"github.com/zwire/zwire/pkg/protocol"
)

var (
	// ErrNoResumableState is returned when a resume is requested but no
	// checkpoint exists for the file.
	ErrNoResumableState = errors.New("no resumable state")

	// ErrRetriesExhausted aborts a file after a chunk failed every allowed
	// attempt.
	ErrRetriesExhausted = errors.New("chunk retries exhausted")
)

// Dialog is the request/response surface the engine needs from a session:
// one packet out, one packet in, strictly alternating.
type Dialog interface {
	Send(p protocol.Payload) error
	Expect(kind protocol.Kind) ([]byte, error)
}

// ProgressSink receives transfer progress as a fraction in [0,1].
type ProgressSink interface {
	Update(name string, fraction float64)
}

type nopSink struct{}

func (nopSink) Update(string, float64) {}

// Options tunes the transfer engine. Zero ChunkRetries, BackoffBase and
// MismatchWait, an empty CheckpointDir and a nil Progress select the
// defaults; ChecksumOn and Verbose are used as given.
type Options struct {
	// ChunkRetries is how many times one upload chunk is retried before
	// the file is aborted. A download aborts once one chunk has failed its
	// checksum this many times.
	ChunkRetries int
	// BackoffBase is the first upload retry delay; it doubles per retry.
	BackoffBase time.Duration
	// MismatchWait is how long a download waits for the server to
	// retransmit after a checksum mismatch.
	MismatchWait time.Duration
	// ChecksumOn enables per-chunk and whole-file MD5 verification. When
	// off, chunk checksum fields are all zeros on the wire.
	ChecksumOn bool
	// CheckpointDir is where checkpoint files live. Upload checkpoints go
	// directly in it, download checkpoints under its "checkpoint"
	// subdirectory.
	CheckpointDir string
	// Progress receives fraction updates; nil means no reporting.
	Progress ProgressSink
	// Verbose keeps per-file logging at info level. Batch uploads turn it
	// off to keep directory transfers quiet.
	Verbose bool
}

// DefaultOptions returns the engine defaults: 3 retries, 1s backoff base,
// 500ms mismatch wait, checksums on, checkpoints in the working directory.
func DefaultOptions() Options {
	return Options{
		ChunkRetries:  3,
		BackoffBase:   time.Second,
		MismatchWait:  500 * time.Millisecond,
		ChecksumOn:    true,
		CheckpointDir: ".",
		Verbose:       true,
	}
}

func (o Options) normalized() Options {
	if o.ChunkRetries <= 0 {
		o.ChunkRetries = 3
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = time.Second
	}
	if o.MismatchWait <= 0 {
		o.MismatchWait = 500 * time.Millisecond
	}
	if o.CheckpointDir == "" {
		o.CheckpointDir = "."
	}
	if o.Progress == nil {
		o.Progress = nopSink{}
	}
	return o
}

// Client runs upload, download and resume state machines over an
// authenticated dialog.
type Client struct {
	dialog Dialog
	opts   Options
	log    *slog.Logger
	sleep  func(time.Duration)
}

// NewClient builds a transfer client. A nil logger discards output.
func NewClient(dialog Dialog, opts Options, log *slog.Logger) *Client {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Client{
		dialog: dialog,
		opts:   opts.normalized(),
		log:    log,
		sleep:  time.Sleep,
	}
}

// fileInfo logs at info level for interactive transfers and debug level
// inside directory batches.
func (c *Client) fileInfo(msg string, args ...any) {
	if c.opts.Verbose {
		c.log.Info(msg, args...)
	} else {
		c.log.Debug(msg, args...)
	}
}
