package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/zwire/zwire/internal/frame"
	"github.com/zwire/zwire/internal/netconn"
	"github.com/zwire/zwire/internal/secure"
	"github.com/zwire/zwire/pkg/protocol"
)

// ErrIllegalState is returned when an operation needs a state the session
// is not in: a directory or listing request before authentication,
// reconnecting without cached credentials.
var ErrIllegalState = errors.New("illegal session state")

// Session runs the authenticated dialog over one connection. The session
// id is all zeros until the server grants one; credentials are cached in
// memory only, for transparent reconnects, and are never persisted.
type Session struct {
	conn *netconn.Conn
	ch   *frame.Channel
	log  *slog.Logger

	mu       sync.Mutex
	id       [protocol.SessionIDSize]byte
	username string
	password string
}

// New binds a session to an open connection.
func New(conn *netconn.Conn, cipher *secure.Cipher, log *slog.Logger) *Session {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Session{
		conn: conn,
		ch:   frame.NewChannel(conn, cipher),
		log:  log,
	}
}

// ID returns the current session id. All zeros means unauthenticated.
func (s *Session) ID() [protocol.SessionIDSize]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// Authenticated reports whether the server has granted a session id.
func (s *Session) Authenticated() bool {
	return s.ID() != [protocol.SessionIDSize]byte{}
}

// Send writes one packet stamped with the current session id.
func (s *Session) Send(p protocol.Payload) error {
	return s.ch.WritePacket(s.ID(), p)
}

// Expect reads one packet of the given kind; server Error packets come
// back as *protocol.RemoteError.
func (s *Session) Expect(kind protocol.Kind) ([]byte, error) {
	return s.ch.Expect(kind)
}

// Handshake exchanges protocol versions with the server.
func (s *Session) Handshake() error {
	if err := s.Send(protocol.HandshakeRequest{ClientVersion: protocol.Version}); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	payload, err := s.Expect(protocol.KindHandshakeResponse)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	resp, err := protocol.DecodeHandshakeResponse(payload)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	s.log.Debug("handshake complete", "server_version", resp.ServerVersion, "message", resp.Message)
	return nil
}

// Authenticate sends credentials and stores the granted session id. On
// success the credentials are cached in memory so Reconnect can replay
// them.
func (s *Session) Authenticate(username, password string) error {
	if err := s.Send(protocol.AuthRequest{Username: username, Password: password}); err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	payload, err := s.Expect(protocol.KindAuthResponse)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	resp, err := protocol.DecodeAuthResponse(payload)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}
	if !resp.Authenticated {
		return fmt.Errorf("authenticate: %w", &protocol.RemoteError{Message: resp.Message})
	}

	s.mu.Lock()
	s.id = resp.SessionID
	s.username = username
	s.password = password
	s.mu.Unlock()

	s.log.Debug("authenticated", "user", username)
	return nil
}

// Reconnect redials the cached endpoint and replays handshake and
// authentication with the cached credentials.
func (s *Session) Reconnect() error {
	s.mu.Lock()
	username, password := s.username, s.password
	s.id = [protocol.SessionIDSize]byte{}
	s.mu.Unlock()

	if username == "" {
		return fmt.Errorf("reconnect without cached credentials: %w", ErrIllegalState)
	}
	if err := s.conn.Reconnect(); err != nil {
		return err
	}
	if err := s.Handshake(); err != nil {
		return err
	}
	return s.Authenticate(username, password)
}

// Logout tells the server the session is over, clears all cached state
// and closes the connection.
func (s *Session) Logout() error {
	var sendErr error
	if s.Authenticated() {
		sendErr = s.Send(protocol.CloseSession{Timestamp: uint64(time.Now().Unix())})
	}
	s.Reset()
	if err := s.conn.Close(); err != nil {
		return err
	}
	return sendErr
}

// Reset zeroes the session id and drops the cached credentials.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.id = [protocol.SessionIDSize]byte{}
	s.username = ""
	s.password = ""
}

// CreateRemoteDirectory asks the server to create a directory in the
// user's space.
func (s *Session) CreateRemoteDirectory(path string) error {
	if !s.Authenticated() {
		return fmt.Errorf("create directory: %w", ErrIllegalState)
	}
	if err := s.Send(protocol.CreateDirRequest{Path: path}); err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	payload, err := s.Expect(protocol.KindCreateDirResponse)
	if err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	resp, err := protocol.DecodeCreateDirResponse(payload)
	if err != nil {
		return fmt.Errorf("create directory %s: %w", path, err)
	}
	if !resp.Created {
		return fmt.Errorf("create directory %s: %w", path, &protocol.RemoteError{Message: resp.Message})
	}
	return nil
}

// ListRemote fetches the user's remote storage listing.
func (s *Session) ListRemote() (protocol.ViewCloudResponse, error) {
	if !s.Authenticated() {
		return protocol.ViewCloudResponse{}, fmt.Errorf("list remote: %w", ErrIllegalState)
	}
	if err := s.Send(protocol.ViewCloudRequest{}); err != nil {
		return protocol.ViewCloudResponse{}, fmt.Errorf("list remote: %w", err)
	}
	payload, err := s.Expect(protocol.KindViewCloudResponse)
	if err != nil {
		return protocol.ViewCloudResponse{}, fmt.Errorf("list remote: %w", err)
	}
	resp, err := protocol.DecodeViewCloudResponse(payload)
	if err != nil {
		return protocol.ViewCloudResponse{}, fmt.Errorf("list remote: %w", err)
	}
	return resp, nil
}
