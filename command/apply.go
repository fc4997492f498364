package command

import (
	"fmt"
	"time"

	"github.com/redikv/redikv/proto"
	"github.com/redikv/redikv/store"
)

// Execute applies every command except Subscribe and Unsubscribe,
// which require connection-level substate the command layer doesn't
// own (see runSubscriberMode in package server). Callers must branch on Kind before
// calling Execute for those two.
func Execute(cmd Command, db *store.Keyspace) proto.Frame {
	switch cmd.Kind {
	case KindPing:
		if cmd.HasMsg {
			return proto.BulkString(cmd.Msg)
		}
		return proto.Simple("PONG")

	case KindGet:
		value, ok := db.Get(cmd.Keys[0])
		if !ok {
			return proto.Null()
		}
		return proto.BulkBytes(value)

	case KindSet:
		var ttl time.Duration
		if cmd.HasExpire {
			ttl = cmd.Expire
		}
		db.Set(cmd.Key, cmd.Value, ttl)
		return proto.Simple("OK")

	case KindPublish:
		n := db.Publish(cmd.Channel, cmd.Message)
		return proto.Integer(int64(n))

	case KindDel:
		n := db.Del(cmd.Keys...)
		return proto.Integer(int64(n))

	case KindExists:
		n := db.Exists(cmd.Keys...)
		return proto.Integer(int64(n))

	case KindUnknown:
		return UnknownCommandReply(cmd.Name)

	default:
		return proto.Errf("ERR command %v cannot be executed directly", fmt.Sprint(cmd.Kind))
	}
}
