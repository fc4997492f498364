package proto

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	cases := []Frame{
		Simple("OK"),
		Simple("PONG"),
		Err("ERR unknown command 'FOO'"),
		Integer(0),
		Integer(-1),
		Integer(9223372036854775807),
		BulkString("hello"),
		BulkBytes([]byte{}),
		Null(),
		Array(),
		Array(BulkString("PING")),
		Array(BulkString("SET"), BulkString("k"), BulkString("v")),
		Array(Simple("subscribe"), BulkString("news"), Integer(1)),
	}

	for _, want := range cases {
		var buf bytes.Buffer
		require.NoError(t, Write(&buf, want))

		n, status := Check(buf.Bytes())
		require.Equal(t, StatusOk, status, "frame: %+v", want)
		require.Equal(t, buf.Len(), n)

		got, consumed := Parse(buf.Bytes())
		assert.Equal(t, n, consumed)
		if !reflect.DeepEqual(want, got) {
			t.Errorf("round trip mismatch:\nwant %#v\ngot  %#v", want, got)
		}
	}
}

func TestCheckIncompleteThenComplete(t *testing.T) {
	full := []byte("$5\r\nhello\r\n")
	for i := 0; i < len(full); i++ {
		_, status := Check(full[:i])
		assert.Equal(t, StatusIncomplete, status, "prefix length %d", i)
	}
	n, status := Check(full)
	require.Equal(t, StatusOk, status)
	assert.Equal(t, len(full), n)
}

func TestCheckPrefixOfLongerBuffer(t *testing.T) {
	buf := []byte("+OK\r\n:42\r\n")
	n, status := Check(buf)
	require.Equal(t, StatusOk, status)
	assert.Equal(t, 5, n)

	n2, status2 := Check(buf[n:])
	require.Equal(t, StatusOk, status2)
	assert.Equal(t, len(buf)-n, n2)
}

func TestCheckInvalid(t *testing.T) {
	cases := []string{
		"x\r\n",
		"$-2\r\n",
		"*-2\r\n",
		":abc\r\n",
		"$3\r\nabcXY",
	}
	for _, c := range cases {
		_, status := Check([]byte(c))
		assert.Equal(t, StatusInvalid, status, "input %q", c)
	}
}

func TestNullFromBothWireForms(t *testing.T) {
	for _, wire := range []string{"$-1\r\n", "*-1\r\n"} {
		n, status := Check([]byte(wire))
		require.Equal(t, StatusOk, status)
		fr, consumed := Parse([]byte(wire))
		assert.Equal(t, n, consumed)
		assert.True(t, fr.IsNull())
	}
}

func TestWriteRejectsNestedArrays(t *testing.T) {
	var buf bytes.Buffer
	err := Write(&buf, Array(Array(BulkString("x"))))
	assert.Error(t, err)
}
