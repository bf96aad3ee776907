package bus

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBus is an in-process Bus for tests and single-node development,
// the same fallback role the in-memory geo index plays for Redis.
type MemoryBus struct {
	mu   sync.RWMutex
	subs map[string][]*memSub
}

type memSub struct {
	ch     chan Message
	closed bool
	mu     sync.Mutex
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string][]*memSub)}
}

func (b *MemoryBus) Publish(ctx context.Context, channel string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	b.mu.RLock()
	targets := make([]*memSub, len(b.subs[channel]))
	copy(targets, b.subs[channel])
	b.mu.RUnlock()

	for _, s := range targets {
		s.deliver(Message{Channel: channel, Payload: data})
	}
	return nil
}

func (s *memSub) deliver(m Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	// drop instead of block: a stalled consumer must not wedge publishers
	select {
	case s.ch <- m:
	default:
	}
}

func (b *MemoryBus) Subscribe(ctx context.Context, channel string) (<-chan Message, func(), error) {
	s := &memSub{ch: make(chan Message, 64)}
	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], s)
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			list := b.subs[channel]
			for i, cur := range list {
				if cur == s {
					b.subs[channel] = append(list[:i], list[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
			s.mu.Lock()
			s.closed = true
			close(s.ch)
			s.mu.Unlock()
		})
	}
	return s.ch, cancel, nil
}
