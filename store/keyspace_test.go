package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetThenGet(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("hello", []byte("world"), 0)
	v, ok := k.Get("hello")
	require.True(t, ok)
	assert.Equal(t, []byte("world"), v)
}

func TestGetMissing(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	_, ok := k.Get("missing")
	assert.False(t, ok)
}

func TestSetWithExpireThenWaitExpires(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("k", []byte("v"), 100*time.Millisecond)
	v, ok := k.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), v)

	time.Sleep(200 * time.Millisecond)
	_, ok = k.Get("k")
	assert.False(t, ok)
}

func TestSetClearsPreviousExpiry(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("k", []byte("v1"), time.Second)
	k.Set("k", []byte("v2"), 0)

	time.Sleep(1200 * time.Millisecond)
	v, ok := k.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v2"), v)
}

func TestDelAndExists(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("a", []byte("1"), 0)
	k.Set("b", []byte("2"), 0)

	assert.Equal(t, 2, k.Exists("a", "b", "missing"))
	assert.Equal(t, 2, k.Del("a", "b", "missing"))
	assert.Equal(t, 0, k.Exists("a", "b"))
	assert.Equal(t, 0, k.Del("a"))
}

func TestDelClearsExpiryEntry(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("k", []byte("v"), time.Minute)
	require.Equal(t, 1, k.Del("k"))
	_, ok := k.expirations.Min()
	assert.False(t, ok)
}

func TestExistsExcludesExpired(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	k.Set("k", []byte("v"), 50*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, k.Exists("k"))
}

func TestPublishSubscribe(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	sub := k.Subscribe("news")
	defer sub.Close()

	n := k.Publish("news", []byte("hi"))
	assert.Equal(t, 1, n)

	select {
	case d := <-sub.Chan():
		payload, lag := sub.Observe(d)
		assert.Equal(t, []byte("hi"), payload)
		assert.Zero(t, lag)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestPublishWithNoSubscribersReturnsZero(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	assert.Equal(t, 0, k.Publish("nobody-listening", []byte("x")))
}

func TestPublishCountExcludesLateSubscribers(t *testing.T) {
	k := NewKeyspace()
	defer k.Close()

	sub := k.Subscribe("news")
	defer sub.Close()

	n := k.Publish("news", []byte("first"))
	assert.Equal(t, 1, n)

	// A second subscriber joining after Publish returns must not be
	// counted in that earlier call's result.
	late := k.Subscribe("news")
	defer late.Close()

	select {
	case <-late.Chan():
		t.Fatal("late subscriber should not have received the earlier publish")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestLagDetectedOnOverflow(t *testing.T) {
	k := NewKeyspace(WithBrokerCapacity(2))
	defer k.Close()

	sub := k.Subscribe("flood")
	defer sub.Close()

	for i := 0; i < 5; i++ {
		k.Publish("flood", []byte{byte(i)})
	}

	var lastLag uint64
	for i := 0; i < 2; i++ {
		d := <-sub.Chan()
		_, lag := sub.Observe(d)
		if lag > 0 {
			lastLag = lag
		}
	}
	// With capacity 2 and 5 publishes, at least one gap must have been
	// observed by the time both buffered deliveries are drained.
	drained := false
	for {
		select {
		case d := <-sub.Chan():
			_, lag := sub.Observe(d)
			if lag > 0 {
				lastLag = lag
			}
		default:
			drained = true
		}
		if drained {
			break
		}
	}
	assert.Greater(t, lastLag, uint64(0))
}
