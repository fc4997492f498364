// Package store implements the shared keyspace: a TTL-aware key/value
// map and a channel-based publish/subscribe broker, both guarded by a
// single short-critical-section mutex.
package store

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/btree"
)

// DefaultBrokerCapacity is the default bound on a channel's broadcast
// queue: once full, the oldest undelivered message is dropped and the
// affected subscriber observes a lag gap on its next receive.
const DefaultBrokerCapacity = 1024

type entry struct {
	data      []byte
	id        uint64
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

// expKey is one (expires_at, key) pair in the expirations index.
// Ordering is lexicographic on the pair so identical deadlines remain
// distinguishable by key (invariant I1/I2 in the design notes).
type expKey struct {
	expiresAt time.Time
	key       string
}

func lessExpKey(a, b expKey) bool {
	if !a.expiresAt.Equal(b.expiresAt) {
		return a.expiresAt.Before(b.expiresAt)
	}
	return a.key < b.key
}

// Keyspace is the shared, mutex-guarded state: the key/value map with
// TTL expiry and the pub/sub broker. It owns a background purge task
// spawned by NewKeyspace and stopped exactly once by Close.
type Keyspace struct {
	mu          sync.Mutex
	entries     map[string]*entry
	pubsub      map[string]*channelBroker
	expirations *btree.BTreeG[expKey]
	nextID      uint64
	shutdown    bool

	brokerCapacity int
	wake           chan struct{}
	stop           chan struct{}
	purgeDone      chan struct{}
	closeOnce      sync.Once

	log zerolog.Logger
}

// Option configures a Keyspace at construction.
type Option func(*Keyspace)

// WithBrokerCapacity overrides the per-channel broadcast queue bound.
func WithBrokerCapacity(n int) Option {
	return func(k *Keyspace) {
		if n > 0 {
			k.brokerCapacity = n
		}
	}
}

// WithLogger attaches a logger; the zero value is a no-op logger.
func WithLogger(log zerolog.Logger) Option {
	return func(k *Keyspace) { k.log = log }
}

// NewKeyspace constructs an empty Keyspace and starts its background
// purge task. The caller owns the returned handle and must call
// Close exactly once, at shutdown, to stop the purge task.
func NewKeyspace(opts ...Option) *Keyspace {
	k := &Keyspace{
		entries:        make(map[string]*entry),
		pubsub:         make(map[string]*channelBroker),
		expirations:    btree.NewBTreeG(lessExpKey),
		brokerCapacity: DefaultBrokerCapacity,
		wake:           make(chan struct{}, 1),
		stop:           make(chan struct{}),
		purgeDone:      make(chan struct{}),
		log:            zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(k)
	}
	go k.purgeLoop()
	return k
}

// Set stores value under key, replacing any existing entry and
// clearing its previous TTL. A zero ttl means no expiry.
func (k *Keyspace) Set(key string, value []byte, ttl time.Duration) {
	stored := make([]byte, len(value))
	copy(stored, value)

	k.mu.Lock()
	id := k.nextID
	k.nextID++

	if old, ok := k.entries[key]; ok && !old.expiresAt.IsZero() {
		k.expirations.Delete(expKey{old.expiresAt, key})
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
		k.expirations.Set(expKey{expiresAt, key})
	}
	k.entries[key] = &entry{data: stored, id: id, expiresAt: expiresAt}
	k.mu.Unlock()

	if ttl > 0 {
		k.notifyPurge()
	}
}

// Get returns a copy of the value stored under key. Expired entries
// are treated as absent even if the purge task hasn't removed them
// yet (invariant I4).
func (k *Keyspace) Get(key string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[key]
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, true
}

// Del removes each key and its TTL entry, returning the count of keys
// that were actually present (expired-but-not-purged keys count as
// removed too, since Get would already treat them as absent).
func (k *Keyspace) Del(keys ...string) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	n := 0
	for _, key := range keys {
		e, ok := k.entries[key]
		if !ok {
			continue
		}
		if !e.expiresAt.IsZero() {
			k.expirations.Delete(expKey{e.expiresAt, key})
		}
		delete(k.entries, key)
		n++
	}
	return n
}

// Exists counts how many of keys are currently present and unexpired.
func (k *Keyspace) Exists(keys ...string) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	now := time.Now()
	n := 0
	for _, key := range keys {
		if e, ok := k.entries[key]; ok && !e.expired(now) {
			n++
		}
	}
	return n
}

// Subscribe returns a fresh Subscription to channel, creating its
// broadcast queue if this is the first (or only remaining) subscriber.
func (k *Keyspace) Subscribe(channel string) *Subscription {
	k.mu.Lock()
	b, ok := k.pubsub[channel]
	if !ok || b.subscriberCount() == 0 {
		b = newChannelBroker()
		k.pubsub[channel] = b
	}
	k.mu.Unlock()

	return b.subscribe(channel, k.brokerCapacity)
}

// Publish sends message to channel's broadcast queue and returns the
// number of subscribers that received it. Publishing to a channel with
// no subscribers (or none remaining — lazily garbage collected here)
// returns 0 without creating a queue.
func (k *Keyspace) Publish(channel string, message []byte) int {
	k.mu.Lock()
	b, ok := k.pubsub[channel]
	gcd := ok && b.subscriberCount() == 0
	if gcd {
		delete(k.pubsub, channel)
		ok = false
	}
	k.mu.Unlock()

	if gcd {
		k.log.Debug().Str("channel", channel).Msg("pubsub: channel GC'd")
	}
	if !ok {
		return 0
	}
	return b.publish(message)
}

// Close stops the purge task. It is safe to call more than once; only
// the first call has effect, and it blocks until the purge task has
// actually exited, so no purge activity survives a Close call.
func (k *Keyspace) Close() {
	k.closeOnce.Do(func() {
		k.mu.Lock()
		k.shutdown = true
		k.mu.Unlock()
		close(k.stop)
		<-k.purgeDone
	})
}

func (k *Keyspace) notifyPurge() {
	select {
	case k.wake <- struct{}{}:
	default:
		// a wake is already pending; coalesce
	}
}

// purgeLoop drops expired entries and sleeps until the earliest
// remaining deadline, a wake notification, or shutdown — whichever
// comes first.
func (k *Keyspace) purgeLoop() {
	defer close(k.purgeDone)

	for {
		k.mu.Lock()
		now := time.Now()
		purged := 0
		for {
			min, ok := k.expirations.Min()
			if !ok || min.expiresAt.After(now) {
				break
			}
			k.expirations.Delete(min)
			delete(k.entries, min.key)
			purged++
		}
		var nextDeadline time.Time
		if min, ok := k.expirations.Min(); ok {
			nextDeadline = min.expiresAt
		}
		done := k.shutdown
		k.mu.Unlock()

		if purged > 0 {
			k.log.Debug().Int("count", purged).Msg("keyspace: purged expired entries")
		}
		if done {
			return
		}

		if nextDeadline.IsZero() {
			select {
			case <-k.wake:
			case <-k.stop:
			}
			continue
		}

		timer := time.NewTimer(time.Until(nextDeadline))
		select {
		case <-timer.C:
		case <-k.wake:
			if !timer.Stop() {
				<-timer.C
			}
		case <-k.stop:
			if !timer.Stop() {
				<-timer.C
			}
		}
	}
}
