package events

import "sync"

const subscriberBuffer = 16

// Bus fans events out to subscribers. A slow subscriber never blocks a
// publish: when its buffer is full the oldest event is dropped to make
// room for the new one.
type Bus struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	closed      bool
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[*subscriber]struct{})}
}

func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	subs := make([]*subscriber, 0, len(b.subscribers))
	for sub := range b.subscribers {
		subs = append(subs, sub)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		sub.send(e)
	}
}

// Subscribe registers a listener. The returned cancel function must be
// called to release the subscription.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := newSubscriber()
	if b.closed {
		sub.close()
		return sub.ch, func() {}
	}
	b.subscribers[sub] = struct{}{}

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, sub)
		b.mu.Unlock()
		sub.close()
	}

	return sub.ch, cancel
}

// Close terminates all subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subscribers {
		sub.close()
		delete(b.subscribers, sub)
	}
}

type subscriber struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

func newSubscriber() *subscriber {
	return &subscriber{ch: make(chan Event, subscriberBuffer)}
}

func (s *subscriber) send(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- e:
		return
	default:
		// Drop oldest to make room for the new event.
		select {
		case <-s.ch:
		default:
		}
		select {
		case s.ch <- e:
		default:
		}
	}
}

func (s *subscriber) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	close(s.ch)
	s.closed = true
}
