// Command server runs the key/value server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog"

	"github.com/redikv/redikv/server"
)

func main() {
	port := flag.Int("port", 6379, "TCP port to listen on")
	flag.Parse()

	log := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := server.New(server.Config{
		Addr:   fmt.Sprintf(":%d", *port),
		Logger: log,
	})

	if err := s.Run(ctx); err != nil {
		log.Error().Err(err).Msg("server: exiting")
		os.Exit(1)
	}
}

// newLogger writes a human-readable console format to a terminal and
// plain JSON lines otherwise, matching the level set by ZEROLOG_LEVEL
// (debug, info, warn, error; default info).
func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(os.Getenv("ZEROLOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out zerolog.ConsoleWriter
	if isatty.IsTerminal(os.Stderr.Fd()) {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
		return zerolog.New(out).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}
