package netconn

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"
)

const (
	// DefaultTimeout bounds each send and receive call.
	DefaultTimeout = 300 * time.Second

	maxRetries   = 3
	retryBackoff = 100 * time.Millisecond
)

// ErrConnectionClosed is returned on a zero-byte read: the peer has gone
// away and the session cannot continue.
var ErrConnectionClosed = errors.New("connection closed by peer")

// Conn owns a TCP socket and the endpoint it was dialed against, so the
// same endpoint can be redialed transparently after a drop.
type Conn struct {
	addr    string
	timeout time.Duration
	sock    net.Conn
	log     *slog.Logger
}

// Dial opens a TCP connection to addr (host:port). timeout bounds every
// subsequent Send and Recv; zero selects DefaultTimeout.
func Dial(addr string, timeout time.Duration, log *slog.Logger) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	sock, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	log.Debug("connected", "addr", addr)
	return &Conn{addr: addr, timeout: timeout, sock: sock, log: log}, nil
}

// Addr returns the endpoint this connection was dialed against.
func (c *Conn) Addr() string { return c.addr }

// Write sends all of b, retrying transient failures up to three times with
// linearly increasing backoff.
func (c *Conn) Write(b []byte) (int, error) {
	if c.sock == nil {
		return 0, fmt.Errorf("write to %s: %w", c.addr, ErrConnectionClosed)
	}
	sent := 0
	attempt := 0
	for sent < len(b) {
		if err := c.sock.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return sent, fmt.Errorf("set write deadline: %w", err)
		}
		n, err := c.sock.Write(b[sent:])
		sent += n
		if err != nil {
			attempt++
			if attempt > maxRetries {
				return sent, fmt.Errorf("send to %s after %d attempts: %w", c.addr, attempt, err)
			}
			c.log.Debug("send retry", "addr", c.addr, "attempt", attempt, "err", err)
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}
	return sent, nil
}

// Read fills b completely, retrying transient failures like Write. A
// zero-byte read is fatal and reported as ErrConnectionClosed without
// retrying.
func (c *Conn) Read(b []byte) (int, error) {
	if c.sock == nil {
		return 0, fmt.Errorf("read from %s: %w", c.addr, ErrConnectionClosed)
	}
	received := 0
	attempt := 0
	for received < len(b) {
		if err := c.sock.SetReadDeadline(time.Now().Add(c.timeout)); err != nil {
			return received, fmt.Errorf("set read deadline: %w", err)
		}
		n, err := c.sock.Read(b[received:])
		received += n
		if err == nil && n == 0 {
			return received, fmt.Errorf("read from %s: %w", c.addr, ErrConnectionClosed)
		}
		if err != nil {
			if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
				return received, fmt.Errorf("read from %s: %w", c.addr, ErrConnectionClosed)
			}
			attempt++
			if attempt > maxRetries {
				return received, fmt.Errorf("recv from %s after %d attempts: %w", c.addr, attempt, err)
			}
			c.log.Debug("recv retry", "addr", c.addr, "attempt", attempt, "err", err)
			time.Sleep(retryBackoff * time.Duration(attempt))
		}
	}
	return received, nil
}

// Reconnect closes the current socket and dials the cached endpoint again.
// It does not re-authenticate.
func (c *Conn) Reconnect() error {
	c.closeSocket()
	sock, err := net.DialTimeout("tcp", c.addr, c.timeout)
	if err != nil {
		return fmt.Errorf("reconnect %s: %w", c.addr, err)
	}
	c.sock = sock
	c.log.Debug("reconnected", "addr", c.addr)
	return nil
}

// Close shuts the socket down. Safe to call more than once.
func (c *Conn) Close() error {
	c.closeSocket()
	return nil
}

func (c *Conn) closeSocket() {
	if c.sock != nil {
		_ = c.sock.Close()
		c.sock = nil
	}
}
