package server

import (
	"context"
	"errors"
	"io"
	"reflect"

	"github.com/rs/zerolog"

	"github.com/redikv/redikv/command"
	"github.com/redikv/redikv/conn"
	"github.com/redikv/redikv/proto"
	"github.com/redikv/redikv/store"
)

// runSubscriberMode multiplexes a connection between further inbound
// commands and one receiver per subscribed channel, using a dynamic
// reflect.Select set rather than a goroutine per channel. It returns
// true if the caller should resume normal command dispatch (the
// subscription count dropped to zero), or false if the connection
// should close.
func (s *Server) runSubscriberMode(ctx context.Context, c *conn.Conn, log zerolog.Logger, initial command.Command) bool {
	subs := make(map[string]*store.Subscription)
	defer func() {
		for _, sub := range subs {
			sub.Close()
		}
	}()

	for _, ch := range initial.Channels {
		subs[ch] = s.db.Subscribe(ch)
		if err := c.WriteFrame(subAckFrame("subscribe", ch, len(subs))); err != nil {
			log.Warn().Err(err).Msg("server: write error, closing connection")
			return false
		}
	}

	var resultCh chan frameResult
	startRead := func() {
		resultCh = make(chan frameResult, 1)
		go func() {
			fr, err := c.ReadFrame()
			resultCh <- frameResult{fr, err}
		}()
	}
	startRead()

	for {
		channels := make([]string, 0, len(subs))
		for ch := range subs {
			channels = append(channels, ch)
		}

		cases := make([]reflect.SelectCase, 0, 2+len(channels))
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(ctx.Done())})
		cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(resultCh)})
		for _, ch := range channels {
			cases = append(cases, reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(subs[ch].Chan())})
		}

		chosen, recv, recvOK := reflect.Select(cases)

		switch chosen {
		case 0:
			log.Debug().Msg("server: shutdown signal, leaving subscriber mode")
			return false

		case 1:
			res := recv.Interface().(frameResult)
			if res.err != nil {
				if errors.Is(res.err, io.EOF) {
					return false
				}
				log.Warn().Err(res.err).Msg("server: connection error")
				return false
			}

			cmd, err := command.FromFrame(res.frame)
			if err != nil {
				log.Warn().Err(err).Msg("server: protocol error, closing connection")
				return false
			}

			if !s.handleSubscriberInboundCommand(c, log, subs, cmd) {
				return false
			}
			if len(subs) == 0 {
				return true
			}
			startRead()

		default:
			ch := channels[chosen-2]
			sub := subs[ch]
			if !recvOK {
				delete(subs, ch)
				continue
			}
			d := recv.Interface().(store.Delivery)
			payload, lag := sub.Observe(d)
			if lag > 0 {
				// The client is never told about the gap; it just sees
				// the broker resynchronized transparently.
				sub.Close()
				subs[ch] = s.db.Subscribe(ch)
			}
			if err := c.WriteFrame(proto.Array(proto.BulkString("message"), proto.BulkString(ch), proto.BulkBytes(payload))); err != nil {
				log.Warn().Err(err).Msg("server: write error, closing connection")
				return false
			}
		}
	}
}

// handleSubscriberInboundCommand applies one command received while in
// subscriber mode. It returns false if the connection should close.
func (s *Server) handleSubscriberInboundCommand(c *conn.Conn, log zerolog.Logger, subs map[string]*store.Subscription, cmd command.Command) bool {
	switch cmd.Kind {
	case command.KindPing:
		reply := command.Execute(cmd, s.db)
		if err := c.WriteFrame(reply); err != nil {
			log.Warn().Err(err).Msg("server: write error, closing connection")
			return false
		}
		return true

	case command.KindSubscribe:
		for _, ch := range cmd.Channels {
			if _, ok := subs[ch]; !ok {
				subs[ch] = s.db.Subscribe(ch)
			}
			if err := c.WriteFrame(subAckFrame("subscribe", ch, len(subs))); err != nil {
				log.Warn().Err(err).Msg("server: write error, closing connection")
				return false
			}
		}
		return true

	case command.KindUnsubscribe:
		targets := cmd.Channels
		if len(targets) == 0 {
			targets = make([]string, 0, len(subs))
			for ch := range subs {
				targets = append(targets, ch)
			}
		}
		for _, ch := range targets {
			if sub, ok := subs[ch]; ok {
				sub.Close()
				delete(subs, ch)
			}
			if err := c.WriteFrame(subAckFrame("unsubscribe", ch, len(subs))); err != nil {
				log.Warn().Err(err).Msg("server: write error, closing connection")
				return false
			}
		}
		return true

	default:
		if err := c.WriteFrame(command.NotSubscribableReply(cmd.DisplayName())); err != nil {
			log.Warn().Err(err).Msg("server: write error, closing connection")
			return false
		}
		return true
	}
}

func subAckFrame(kind, channel string, count int) proto.Frame {
	return proto.Array(proto.BulkString(kind), proto.BulkString(channel), proto.Integer(int64(count)))
}
