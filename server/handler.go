package server

import (
	"context"
	"errors"
	"io"
	"net"

	"github.com/google/uuid"

	"github.com/redikv/redikv/command"
	"github.com/redikv/redikv/conn"
	"github.com/redikv/redikv/proto"
)

type frameResult struct {
	frame proto.Frame
	err   error
}

// handleConnection drives one accepted socket until the peer closes,
// an error occurs, or shutdown fires. It is strictly sequential:
// replies are written in the order their commands were received.
func (s *Server) handleConnection(ctx context.Context, nc net.Conn, connID uuid.UUID) {
	c := conn.New(nc)
	defer c.Close()

	log := s.log.With().Str("conn_id", connID.String()).Str("remote", nc.RemoteAddr().String()).Logger()
	log.Debug().Msg("server: connection accepted")
	defer log.Debug().Msg("server: connection closed")

	for {
		resultCh := make(chan frameResult, 1)
		go func() {
			fr, err := c.ReadFrame()
			resultCh <- frameResult{fr, err}
		}()

		var res frameResult
		select {
		case <-ctx.Done():
			log.Debug().Msg("server: shutdown signal, closing connection without draining")
			return
		case res = <-resultCh:
		}

		if res.err != nil {
			if errors.Is(res.err, io.EOF) {
				return
			}
			log.Warn().Err(res.err).Msg("server: connection error")
			return
		}

		cmd, err := command.FromFrame(res.frame)
		if err != nil {
			log.Warn().Err(err).Msg("server: protocol error, closing connection")
			return
		}

		if cmd.Kind == command.KindSubscribe {
			if !s.runSubscriberMode(ctx, c, log, cmd) {
				return
			}
			continue
		}

		reply := command.Execute(cmd, s.db)
		if err := c.WriteFrame(reply); err != nil {
			log.Warn().Err(err).Msg("server: write error, closing connection")
			return
		}
	}
}
