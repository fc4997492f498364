// Package command translates protocol frames into the small, typed
// command set this server understands and formats their replies.
package command

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redikv/redikv/proto"
)

// Kind tags which command a Command holds.
type Kind int

const (
	KindPing Kind = iota
	KindGet
	KindSet
	KindPublish
	KindSubscribe
	KindUnsubscribe
	KindDel
	KindExists
	KindUnknown
)

// Command is the typed representation of one client request.
type Command struct {
	Kind Kind

	// Ping
	Msg   string
	HasMsg bool

	// Get, Del, Exists
	Keys []string

	// Set
	Key       string
	Value     []byte
	HasExpire bool
	Expire    time.Duration

	// Publish
	Channel string
	Message []byte

	// Subscribe, Unsubscribe
	Channels []string

	// Unknown
	Name string
}

// ErrNotACommandFrame is returned by FromFrame when f is not a
// top-level Array whose first element names a command. It is a
// protocol-level error: the caller should close the connection.
var ErrNotACommandFrame = errors.New("command: frame is not a command array")

// FromFrame parses f into a Command. Unrecognized or malformed
// command arguments become Kind Unknown rather than an error — only a
// frame shape that isn't even a command envelope is rejected outright.
func FromFrame(f proto.Frame) (Command, error) {
	if f.Kind != proto.KindArray || len(f.Array) == 0 {
		return Command{}, ErrNotACommandFrame
	}
	head := f.Array[0]
	if head.Kind != proto.KindBulk {
		return Command{}, ErrNotACommandFrame
	}
	name := string(head.Bulk)
	args := f.Array[1:]

	switch strings.ToUpper(name) {
	case "PING":
		return parsePing(args), nil
	case "GET":
		return parseGet(args, name), nil
	case "SET":
		return parseSet(args, name), nil
	case "PUBLISH":
		return parsePublish(args, name), nil
	case "SUBSCRIBE":
		return parseSubscribe(args, name), nil
	case "UNSUBSCRIBE":
		return parseUnsubscribe(args), nil
	case "DEL":
		return parseDel(args, name), nil
	case "EXISTS":
		return parseExists(args, name), nil
	default:
		return Command{Kind: KindUnknown, Name: name}, nil
	}
}

func argBytes(f proto.Frame) ([]byte, bool) {
	if f.Kind != proto.KindBulk {
		return nil, false
	}
	return f.Bulk, true
}

func argString(f proto.Frame) (string, bool) {
	b, ok := argBytes(f)
	if !ok {
		return "", false
	}
	return string(b), true
}

func parsePing(args []proto.Frame) Command {
	if len(args) == 0 {
		return Command{Kind: KindPing}
	}
	if len(args) == 1 {
		if s, ok := argString(args[0]); ok {
			return Command{Kind: KindPing, Msg: s, HasMsg: true}
		}
	}
	return Command{Kind: KindUnknown, Name: "PING"}
}

func parseGet(args []proto.Frame, name string) Command {
	if len(args) != 1 {
		return Command{Kind: KindUnknown, Name: name}
	}
	key, ok := argString(args[0])
	if !ok {
		return Command{Kind: KindUnknown, Name: name}
	}
	return Command{Kind: KindGet, Keys: []string{key}}
}

func parseSet(args []proto.Frame, name string) Command {
	if len(args) < 2 {
		return Command{Kind: KindUnknown, Name: name}
	}
	key, ok := argString(args[0])
	if !ok {
		return Command{Kind: KindUnknown, Name: name}
	}
	value, ok := argBytes(args[1])
	if !ok {
		return Command{Kind: KindUnknown, Name: name}
	}
	cmd := Command{Kind: KindSet, Key: key, Value: append([]byte(nil), value...)}

	rest := args[2:]
	switch len(rest) {
	case 0:
		return cmd
	case 2:
		opt, ok := argString(rest[0])
		if !ok {
			return Command{Kind: KindUnknown, Name: name}
		}
		n, ok := argString(rest[1])
		if !ok {
			return Command{Kind: KindUnknown, Name: name}
		}
		seconds, err := strconv.ParseInt(n, 10, 64)
		if err != nil || seconds <= 0 {
			return Command{Kind: KindUnknown, Name: name}
		}
		switch strings.ToUpper(opt) {
		case "EX":
			cmd.HasExpire = true
			cmd.Expire = time.Duration(seconds) * time.Second
		case "PX":
			cmd.HasExpire = true
			cmd.Expire = time.Duration(seconds) * time.Millisecond
		default:
			return Command{Kind: KindUnknown, Name: name}
		}
		return cmd
	default:
		return Command{Kind: KindUnknown, Name: name}
	}
}

func parsePublish(args []proto.Frame, name string) Command {
	if len(args) != 2 {
		return Command{Kind: KindUnknown, Name: name}
	}
	channel, ok := argString(args[0])
	if !ok {
		return Command{Kind: KindUnknown, Name: name}
	}
	message, ok := argBytes(args[1])
	if !ok {
		return Command{Kind: KindUnknown, Name: name}
	}
	return Command{Kind: KindPublish, Channel: channel, Message: append([]byte(nil), message...)}
}

func parseSubscribe(args []proto.Frame, name string) Command {
	channels, ok := stringSlice(args)
	if !ok || len(channels) == 0 {
		return Command{Kind: KindUnknown, Name: name}
	}
	return Command{Kind: KindSubscribe, Channels: channels}
}

func parseUnsubscribe(args []proto.Frame) Command {
	channels, ok := stringSlice(args)
	if !ok {
		return Command{Kind: KindUnknown, Name: "UNSUBSCRIBE"}
	}
	return Command{Kind: KindUnsubscribe, Channels: channels}
}

func parseDel(args []proto.Frame, name string) Command {
	keys, ok := stringSlice(args)
	if !ok || len(keys) == 0 {
		return Command{Kind: KindUnknown, Name: name}
	}
	return Command{Kind: KindDel, Keys: keys}
}

func parseExists(args []proto.Frame, name string) Command {
	keys, ok := stringSlice(args)
	if !ok || len(keys) == 0 {
		return Command{Kind: KindUnknown, Name: name}
	}
	return Command{Kind: KindExists, Keys: keys}
}

func stringSlice(args []proto.Frame) ([]string, bool) {
	out := make([]string, 0, len(args))
	for _, a := range args {
		s, ok := argString(a)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

// UnknownCommandReply formats the standard reply for an unrecognized
// or malformed command.
func UnknownCommandReply(name string) proto.Frame {
	return proto.Errf("ERR unknown command '%s'", name)
}

// DisplayName returns the keyword a command was spelled with, for use
// in error messages that must name the offending command.
func (c Command) DisplayName() string {
	switch c.Kind {
	case KindPing:
		return "PING"
	case KindGet:
		return "GET"
	case KindSet:
		return "SET"
	case KindPublish:
		return "PUBLISH"
	case KindSubscribe:
		return "SUBSCRIBE"
	case KindUnsubscribe:
		return "UNSUBSCRIBE"
	case KindDel:
		return "DEL"
	case KindExists:
		return "EXISTS"
	default:
		return c.Name
	}
}

// NotSubscribableReply formats the reply for a command sent while the
// connection is in subscriber mode that isn't PING/SUBSCRIBE/UNSUBSCRIBE.
func NotSubscribableReply(name string) proto.Frame {
	return proto.Errf("ERR Can't execute '%s': only SUBSCRIBE / UNSUBSCRIBE / PING are allowed in this context", strings.ToLower(name))
}
