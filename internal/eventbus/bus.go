// Package eventbus provides a topic-keyed publish/subscribe registry.
// Emission dispatches every callback on its own goroutine so a slow
// subscriber never blocks the publisher.
package eventbus

import (
	"sync"
	"sync/atomic"
)

// TopicKind separates device-reported events from internal signals so an
// internal sentinel can never collide with a device event of the same name.
type TopicKind int

const (
	KindDevice TopicKind = iota
	KindInternal
)

// Topic identifies one event stream on the bus.
type Topic struct {
	Kind TopicKind
	Name string
}

// Device returns the topic for a device-reported event name.
func Device(name string) Topic {
	return Topic{Kind: KindDevice, Name: name}
}

// Internal returns the topic for an internal client signal.
func Internal(name string) Topic {
	return Topic{Kind: KindInternal, Name: name}
}

// Callback receives the payload published on a topic.
type Callback func(data any)

// Token identifies one subscription. The zero Token is invalid.
type Token struct {
	topic Topic
	nonce uint64
}

// Topic reports the topic this token subscribes to.
func (t Token) Topic() Topic { return t.topic }

type entry struct {
	token    Token
	callback Callback
}

// Bus is a name-keyed pub/sub registry. The zero value is not usable;
// construct with New.
type Bus struct {
	mu    sync.RWMutex
	subs  map[Topic][]entry
	nonce atomic.Uint64
}

func New() *Bus {
	return &Bus{subs: make(map[Topic][]entry)}
}

// Subscribe registers callback for topic and returns a token for removal.
func (b *Bus) Subscribe(topic Topic, callback Callback) Token {
	token := b.newToken(topic)
	b.add(topic, token, callback)
	return token
}

// Once registers callback for a single delivery. The subscription is
// removed before the callback runs, so a panicking callback still fires
// at most once.
func (b *Bus) Once(topic Topic, callback Callback) Token {
	token := b.newToken(topic)
	b.add(topic, token, func(data any) {
		b.Unsubscribe(token)
		callback(data)
	})
	return token
}

// Unsubscribe removes the subscription identified by token. It is
// idempotent: removing an already-removed or unknown token reports true.
// Only the zero token is rejected.
func (b *Bus) Unsubscribe(token Token) bool {
	if token.nonce == 0 {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	entries, ok := b.subs[token.topic]
	if !ok {
		return true
	}
	for i, e := range entries {
		if e.token == token {
			entries = append(entries[:i], entries[i+1:]...)
			if len(entries) == 0 {
				delete(b.subs, token.topic)
			} else {
				b.subs[token.topic] = entries
			}
			return true
		}
	}
	return true
}

// Emit publishes data to every current subscriber of topic. Each callback
// runs on its own goroutine; relative completion order is undefined.
// Emitting on a topic with no subscribers is a no-op.
func (b *Bus) Emit(topic Topic, data any) {
	b.mu.RLock()
	entries := b.subs[topic]
	snapshot := make([]entry, len(entries))
	copy(snapshot, entries)
	b.mu.RUnlock()

	for _, e := range snapshot {
		go e.callback(data)
	}
}

// SubscriberCount reports the current number of subscribers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) newToken(topic Topic) Token {
	return Token{topic: topic, nonce: b.nonce.Add(1)}
}

func (b *Bus) add(topic Topic, token Token, callback Callback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], entry{token: token, callback: callback})
}
