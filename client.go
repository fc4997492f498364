// Package redikv is the client library for the protocol implemented by
// package server: a thin wrapper over a single TCP connection offering
// request/response methods plus a subscriber stream.
package redikv

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/redikv/redikv/conn"
	"github.com/redikv/redikv/proto"
)

// ErrClosed rejects command execution after Client.Close.
var ErrClosed = errors.New("redikv: client closed")

// ServerError is an Error-frame reply from the server.
type ServerError string

func (e ServerError) Error() string { return string(e) }

// Client owns one connection to a server. It is not a pool: construct
// one Client per connection. Multiple goroutines may share a Client;
// command invocations are serialized over the one connection.
type Client struct {
	mu     sync.Mutex
	conn   *conn.Conn
	nc     net.Conn
	closed bool
}

// Dial connects to addr ("host:port") with the given dial timeout. A
// zero timeout means no deadline.
func Dial(addr string, timeout time.Duration) (*Client, error) {
	var nc net.Conn
	var err error
	if timeout > 0 {
		nc, err = net.DialTimeout("tcp", addr, timeout)
	} else {
		nc, err = net.Dial("tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("redikv: dial: %w", err)
	}
	return &Client{conn: conn.New(nc), nc: nc}, nil
}

// Close closes the underlying connection. Safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.nc.Close()
}

// do sends req and returns the raw reply frame, translating an Error
// frame into a ServerError.
func (c *Client) do(req proto.Frame) (proto.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return proto.Frame{}, ErrClosed
	}
	if err := c.conn.WriteFrame(req); err != nil {
		return proto.Frame{}, fmt.Errorf("redikv: write: %w", err)
	}
	reply, err := c.conn.ReadFrame()
	if err != nil {
		return proto.Frame{}, fmt.Errorf("redikv: read: %w", err)
	}
	if reply.Kind == proto.KindError {
		return reply, ServerError(reply.Str)
	}
	return reply, nil
}

func request(parts ...proto.Frame) proto.Frame {
	return proto.Array(parts...)
}

// Ping sends PING, optionally with a message that the server echoes back.
func (c *Client) Ping(msg string) (string, error) {
	var req proto.Frame
	if msg == "" {
		req = request(proto.BulkString("PING"))
	} else {
		req = request(proto.BulkString("PING"), proto.BulkString(msg))
	}
	reply, err := c.do(req)
	if err != nil {
		return "", err
	}
	switch reply.Kind {
	case proto.KindSimple:
		return reply.Str, nil
	case proto.KindBulk:
		return string(reply.Bulk), nil
	default:
		return "", fmt.Errorf("redikv: unexpected PING reply kind %d", reply.Kind)
	}
}

// Get returns the value stored under key, and false if it is absent
// or expired.
func (c *Client) Get(key string) ([]byte, bool, error) {
	reply, err := c.do(request(proto.BulkString("GET"), proto.BulkString(key)))
	if err != nil {
		return nil, false, err
	}
	if reply.IsNull() {
		return nil, false, nil
	}
	if reply.Kind != proto.KindBulk {
		return nil, false, fmt.Errorf("redikv: unexpected GET reply kind %d", reply.Kind)
	}
	return reply.Bulk, true, nil
}

// Set stores value under key. A zero expire means no TTL.
func (c *Client) Set(key string, value []byte, expire time.Duration) error {
	req := request(proto.BulkString("SET"), proto.BulkString(key), proto.BulkBytes(value))
	if expire > 0 {
		req.Array = append(req.Array, proto.BulkString("PX"), proto.BulkString(fmt.Sprintf("%d", expire.Milliseconds())))
	}
	_, err := c.do(req)
	return err
}

// Publish sends message to channel and returns the number of
// subscribers that received it.
func (c *Client) Publish(channel string, message []byte) (int64, error) {
	reply, err := c.do(request(proto.BulkString("PUBLISH"), proto.BulkString(channel), proto.BulkBytes(message)))
	if err != nil {
		return 0, err
	}
	if reply.Kind != proto.KindInteger {
		return 0, fmt.Errorf("redikv: unexpected PUBLISH reply kind %d", reply.Kind)
	}
	return reply.Int, nil
}

// Del removes keys and returns how many were actually present.
func (c *Client) Del(keys ...string) (int64, error) {
	parts := make([]proto.Frame, 0, len(keys)+1)
	parts = append(parts, proto.BulkString("DEL"))
	for _, k := range keys {
		parts = append(parts, proto.BulkString(k))
	}
	reply, err := c.do(request(parts...))
	if err != nil {
		return 0, err
	}
	return reply.Int, nil
}

// Exists counts how many of keys are currently present and unexpired.
func (c *Client) Exists(keys ...string) (int64, error) {
	parts := make([]proto.Frame, 0, len(keys)+1)
	parts = append(parts, proto.BulkString("EXISTS"))
	for _, k := range keys {
		parts = append(parts, proto.BulkString(k))
	}
	reply, err := c.do(request(parts...))
	if err != nil {
		return 0, err
	}
	return reply.Int, nil
}
