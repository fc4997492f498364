package redikv

import (
	"errors"
	"fmt"

	"github.com/redikv/redikv/proto"
)

// Message is one (channel, payload) pair delivered to a subscriber.
type Message struct {
	Channel string
	Payload []byte
}

// Subscriber is a restartable iterator over messages on the channels
// a Subscribe call requested. Call Next in a loop; it blocks until the
// next message, an error, or the connection closing.
type Subscriber struct {
	c *Client
}

// Subscribe enters subscriber mode for the given channels and returns
// an iterator over messages received on them. The Client must not be
// used for other commands for as long as the Subscriber is in use.
func (c *Client) Subscribe(channels ...string) (*Subscriber, error) {
	if len(channels) == 0 {
		return nil, errors.New("redikv: subscribe requires at least one channel")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}

	parts := make([]proto.Frame, 0, len(channels)+1)
	parts = append(parts, proto.BulkString("SUBSCRIBE"))
	for _, ch := range channels {
		parts = append(parts, proto.BulkString(ch))
	}
	if err := c.conn.WriteFrame(proto.Array(parts...)); err != nil {
		return nil, fmt.Errorf("redikv: write: %w", err)
	}

	for range channels {
		ack, err := c.conn.ReadFrame()
		if err != nil {
			return nil, fmt.Errorf("redikv: read: %w", err)
		}
		if ack.Kind != proto.KindArray || len(ack.Array) != 3 {
			return nil, fmt.Errorf("redikv: unexpected subscribe acknowledgement")
		}
	}

	return &Subscriber{c: c}, nil
}

// Next blocks for the next (channel, payload) message.
func (s *Subscriber) Next() (Message, error) {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	for {
		if s.c.closed {
			return Message{}, ErrClosed
		}
		fr, err := s.c.conn.ReadFrame()
		if err != nil {
			return Message{}, fmt.Errorf("redikv: read: %w", err)
		}
		if fr.Kind != proto.KindArray || len(fr.Array) != 3 {
			continue
		}
		if fr.Array[0].Kind != proto.KindBulk {
			continue
		}
		switch string(fr.Array[0].Bulk) {
		case "message":
			return Message{Channel: string(fr.Array[1].Bulk), Payload: fr.Array[2].Bulk}, nil
		default:
			// further subscribe/unsubscribe acknowledgements from a
			// subsequent call are not messages; keep reading.
			continue
		}
	}
}
