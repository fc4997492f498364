// Package server implements the accept loop, per-connection command
// dispatch, and graceful shutdown described by the wire protocol: a
// permit-gated accept loop spawns one task per connection against a
// shared keyspace, until a shutdown signal fires or the listener is
// closed.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/redikv/redikv/store"
)

// DefaultMaxConnections bounds concurrently open connections.
const DefaultMaxConnections = 250

// Default accept-loop backoff policy: starts at one second, doubles,
// caps at 64s; after six retries (1+2+4+8+16+32s, about a minute of
// waiting) a seventh consecutive failure makes Run return an error.
const (
	DefaultAcceptBackoffBase    = time.Second
	DefaultAcceptBackoffMax     = 64 * time.Second
	DefaultAcceptBackoffRetries = 6
)

// Config configures a Server.
type Config struct {
	Addr                 string // e.g. ":6379"
	MaxConnections       int64
	BrokerCapacity       int
	AcceptBackoffBase    time.Duration
	AcceptBackoffMax     time.Duration
	AcceptBackoffRetries int
	Logger               zerolog.Logger
}

func (c *Config) setDefaults() {
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.BrokerCapacity <= 0 {
		c.BrokerCapacity = store.DefaultBrokerCapacity
	}
	if c.AcceptBackoffBase <= 0 {
		c.AcceptBackoffBase = DefaultAcceptBackoffBase
	}
	if c.AcceptBackoffMax <= 0 {
		c.AcceptBackoffMax = DefaultAcceptBackoffMax
	}
	if c.AcceptBackoffRetries <= 0 {
		c.AcceptBackoffRetries = DefaultAcceptBackoffRetries
	}
}

// Server owns the listener, the connection-cap semaphore, and the
// shared keyspace.
type Server struct {
	cfg Config
	db  *store.Keyspace
	sem *semaphore.Weighted
	log zerolog.Logger
}

// New constructs a Server. The keyspace (and its background purge
// task) is created here and stopped by Run when it returns.
func New(cfg Config) *Server {
	cfg.setDefaults()
	return &Server{
		cfg: cfg,
		db: store.NewKeyspace(
			store.WithBrokerCapacity(cfg.BrokerCapacity),
			store.WithLogger(cfg.Logger),
		),
		sem: semaphore.NewWeighted(cfg.MaxConnections),
		log: cfg.Logger,
	}
}

// Run listens on cfg.Addr and serves connections until ctx is
// cancelled (the shutdown signal, per the design notes) or a fatal
// accept error occurs.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		s.db.Close()
		return fmt.Errorf("server: listen: %w", err)
	}
	defer ln.Close()
	return s.Serve(ctx, ln)
}

// Serve accepts and handles connections on a listener the caller
// already opened — split out from Run so tests can listen on ":0" and
// read back the actual address before serving. It always stops the
// keyspace's purge task before returning, and never returns an error
// for a context-driven shutdown.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	defer s.db.Close()

	s.log.Info().Str("addr", ln.Addr().String()).Msg("server: listening")

	group, gctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		<-gctx.Done()
		ln.Close()
		return nil
	})
	group.Go(func() error {
		return s.acceptLoop(gctx, ln)
	})

	if err := group.Wait(); err != nil && ctx.Err() == nil {
		return err
	}
	s.log.Info().Msg("server: shutdown complete")
	return nil
}

func (s *Server) acceptLoop(ctx context.Context, ln net.Listener) error {
	backoff := s.cfg.AcceptBackoffBase
	retries := 0

	// Connection tasks run under connCtx; the loop does not return until
	// every one of them has exited.
	connCtx, cancelConns := context.WithCancel(ctx)
	var conns sync.WaitGroup
	defer func() {
		cancelConns()
		conns.Wait()
	}()

	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			return nil // context cancelled while waiting for a permit
		}

		nc, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil {
				return nil
			}

			retries++
			if retries > s.cfg.AcceptBackoffRetries {
				return fmt.Errorf("server: accept backoff exhausted after %d retries: %w", retries-1, err)
			}
			s.log.Warn().Err(err).Dur("backoff", backoff).Int("retry", retries).Msg("server: accept error, retrying")

			timer := time.NewTimer(backoff)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()
				return nil
			}
			backoff *= 2
			if backoff > s.cfg.AcceptBackoffMax {
				backoff = s.cfg.AcceptBackoffMax
			}
			continue
		}

		retries = 0
		backoff = s.cfg.AcceptBackoffBase

		connID := uuid.New()
		conns.Add(1)
		go func() {
			defer conns.Done()
			defer s.sem.Release(1)
			s.handleConnection(connCtx, nc, connID)
		}()
	}
}
