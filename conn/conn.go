// Package conn wraps a TCP socket with a growable read buffer and the
// frame codec, giving callers a simple ReadFrame/WriteFrame contract.
package conn

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/redikv/redikv/proto"
)

const initialReadBuf = 4096

// Conn owns a net.Conn plus a growing read buffer of not-yet-parsed
// bytes and a buffered writer.
type Conn struct {
	nc  net.Conn
	buf []byte
	pos int // bytes before pos in buf have already been consumed

	bw *bufio.Writer
}

// New wraps nc. The caller remains responsible for eventually closing nc.
func New(nc net.Conn) *Conn {
	return &Conn{
		nc:  nc,
		buf: make([]byte, 0, initialReadBuf),
		bw:  bufio.NewWriter(nc),
	}
}

// RemoteAddr returns the peer address, for logging.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// Close closes the underlying socket.
func (c *Conn) Close() error { return c.nc.Close() }

// ReadFrame reads and parses the next frame. It returns io.EOF exactly
// when the peer closed the connection cleanly at a frame boundary (no
// partial frame pending); a peer closing mid-frame is reported as a
// distinct error rather than io.EOF.
func (c *Conn) ReadFrame() (proto.Frame, error) {
	for {
		pending := c.buf[c.pos:]
		if len(pending) > 0 {
			n, status := proto.Check(pending)
			switch status {
			case proto.StatusOk:
				fr, _ := proto.Parse(pending)
				c.pos += n
				c.compact()
				return fr, nil
			case proto.StatusInvalid:
				return proto.Frame{}, fmt.Errorf("conn: %w", proto.ErrInvalidFrame)
			case proto.StatusIncomplete:
				// fall through to read more bytes
			}
		}

		if err := c.fill(); err != nil {
			if errors.Is(err, io.EOF) {
				if len(c.buf[c.pos:]) == 0 {
					return proto.Frame{}, io.EOF
				}
				return proto.Frame{}, errors.New("conn: connection reset by peer")
			}
			return proto.Frame{}, err
		}
	}
}

// fill reads more bytes from the socket into buf, growing it as needed.
func (c *Conn) fill() error {
	if len(c.buf) == cap(c.buf) {
		grown := make([]byte, len(c.buf), cap(c.buf)*2)
		copy(grown, c.buf)
		c.buf = grown
	}
	n, err := c.nc.Read(c.buf[len(c.buf):cap(c.buf)])
	c.buf = c.buf[:len(c.buf)+n]
	if n > 0 {
		return nil
	}
	return err
}

// compact drops already-consumed bytes once they'd otherwise waste
// more than half the buffer, so a long-lived connection doesn't retain
// an ever-growing prefix of spent bytes.
func (c *Conn) compact() {
	if c.pos == 0 || c.pos < len(c.buf)/2 {
		return
	}
	n := copy(c.buf, c.buf[c.pos:])
	c.buf = c.buf[:n]
	c.pos = 0
}

// WriteFrame encodes f and flushes it to the socket.
func (c *Conn) WriteFrame(f proto.Frame) error {
	if err := proto.Write(c.bw, f); err != nil {
		return err
	}
	return c.bw.Flush()
}
