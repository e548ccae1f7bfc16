package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformed covers every decode failure: truncated buffers, bad
	// magic or version, unknown tags, inconsistent length fields.
	ErrMalformed = errors.New("malformed packet")

	// ErrInvalidArgument is returned when a payload is constructed with a
	// field that overruns its fixed on-wire size.
	ErrInvalidArgument = errors.New("invalid argument")
)

// RemoteError carries a server-sent Error packet or a denied response
// status back to the caller.
type RemoteError struct {
	Code    uint32
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("remote error %d", e.Code)
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}
