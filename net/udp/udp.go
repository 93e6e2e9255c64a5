// Package udp provides the bounded send/receive conversation with the target
// server that the test cases run over.
package udp

import (
	"errors"
	"net"
	"time"
)

// MaxPacketLen is the largest datagram accepted from the server.
const MaxPacketLen = 9000

// ErrTimeout is returned by Receive when no datagram arrives within the
// configured bound. Test cases that expect the server to stay silent treat
// it as the expected signal.
var ErrTimeout = errors.New("timed out waiting for response")

// Conn is a connected UDP conversation with one target endpoint. Every
// receive is bounded by the configured timeout; no operation blocks
// indefinitely.
type Conn struct {
	conn    *net.UDPConn
	timeout time.Duration
}

// Dial opens a fresh local socket connected to remote.
func Dial(remote *net.UDPAddr, timeout time.Duration) (*Conn, error) {
	conn, err := net.DialUDP("udp", nil, remote)
	if err != nil {
		return nil, err
	}
	return &Conn{conn: conn, timeout: timeout}, nil
}

func (c *Conn) Close() error {
	return c.conn.Close()
}

// RemoteAddr returns the endpoint this conversation is connected to.
func (c *Conn) RemoteAddr() *net.UDPAddr {
	return c.conn.RemoteAddr().(*net.UDPAddr)
}

// Send transmits one datagram to the target.
func (c *Conn) Send(b []byte) error {
	_, err := c.conn.Write(b)
	return err
}

// Receive waits for the next datagram until the given deadline and returns
// its payload. Expiry of the deadline yields ErrTimeout.
func (c *Conn) Receive(deadline time.Time) ([]byte, error) {
	err := c.conn.SetReadDeadline(deadline)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, MaxPacketLen)
	n, err := c.conn.Read(buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, ErrTimeout
		}
		return nil, err
	}
	return buf[:n], nil
}

// Deadline returns the receive deadline for an exchange starting now.
func (c *Conn) Deadline() time.Time {
	return time.Now().Add(c.timeout)
}
