package command

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redikv/redikv/proto"
)

func frameOf(parts ...string) proto.Frame {
	items := make([]proto.Frame, len(parts))
	for i, p := range parts {
		items[i] = proto.BulkString(p)
	}
	return proto.Array(items...)
}

func TestFromFramePing(t *testing.T) {
	cmd, err := FromFrame(frameOf("PING"))
	require.NoError(t, err)
	assert.Equal(t, KindPing, cmd.Kind)
	assert.False(t, cmd.HasMsg)

	cmd, err = FromFrame(frameOf("ping", "hello"))
	require.NoError(t, err)
	assert.Equal(t, KindPing, cmd.Kind)
	assert.Equal(t, "hello", cmd.Msg)
}

func TestFromFrameSetWithExpire(t *testing.T) {
	cmd, err := FromFrame(frameOf("SET", "k", "v", "EX", "5"))
	require.NoError(t, err)
	require.Equal(t, KindSet, cmd.Kind)
	assert.Equal(t, "k", cmd.Key)
	assert.Equal(t, []byte("v"), cmd.Value)
	assert.True(t, cmd.HasExpire)
	assert.Equal(t, 5*time.Second, cmd.Expire)

	cmd, err = FromFrame(frameOf("SET", "k", "v", "PX", "250"))
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, cmd.Expire)
}

func TestFromFrameSetWithoutExpire(t *testing.T) {
	cmd, err := FromFrame(frameOf("SET", "k", "v"))
	require.NoError(t, err)
	assert.False(t, cmd.HasExpire)
}

func TestFromFrameMalformedBecomesUnknown(t *testing.T) {
	cmd, err := FromFrame(frameOf("SET", "onlykey"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, cmd.Kind)
	assert.Equal(t, "SET", cmd.Name)

	cmd, err = FromFrame(frameOf("SET", "k", "v", "BOGUS", "5"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, cmd.Kind)
}

func TestFromFrameUnknownName(t *testing.T) {
	cmd, err := FromFrame(frameOf("FROBNICATE", "x"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, cmd.Kind)
	assert.Equal(t, "FROBNICATE", cmd.Name)
}

func TestFromFrameRejectsNonCommandEnvelope(t *testing.T) {
	_, err := FromFrame(proto.Simple("not a command"))
	assert.ErrorIs(t, err, ErrNotACommandFrame)

	_, err = FromFrame(proto.Array())
	assert.ErrorIs(t, err, ErrNotACommandFrame)
}

func TestFromFrameSubscribeRequiresChannels(t *testing.T) {
	cmd, err := FromFrame(frameOf("SUBSCRIBE"))
	require.NoError(t, err)
	assert.Equal(t, KindUnknown, cmd.Kind)

	cmd, err = FromFrame(frameOf("SUBSCRIBE", "news", "sports"))
	require.NoError(t, err)
	assert.Equal(t, KindSubscribe, cmd.Kind)
	assert.Equal(t, []string{"news", "sports"}, cmd.Channels)
}

func TestFromFrameUnsubscribeAllowsNoChannels(t *testing.T) {
	cmd, err := FromFrame(frameOf("UNSUBSCRIBE"))
	require.NoError(t, err)
	assert.Equal(t, KindUnsubscribe, cmd.Kind)
	assert.Empty(t, cmd.Channels)
}

func TestFromFrameDelExists(t *testing.T) {
	cmd, err := FromFrame(frameOf("DEL", "a", "b"))
	require.NoError(t, err)
	assert.Equal(t, KindDel, cmd.Kind)
	assert.Equal(t, []string{"a", "b"}, cmd.Keys)

	cmd, err = FromFrame(frameOf("EXISTS", "a"))
	require.NoError(t, err)
	assert.Equal(t, KindExists, cmd.Kind)
}
