package event

import (
	"sync"
)

// DeliveryMode controls what Publish does when a subscriber's buffer is full
type DeliveryMode int

const (
	// Blocking waits for the subscriber (archive, outbound sinks)
	Blocking DeliveryMode = iota
	// Lossy drops the event and reports it (streaming clients)
	Lossy
)

func (m DeliveryMode) String() string {
	if m == Lossy {
		return "lossy"
	}
	return "blocking"
}

// Filter selects which envelopes a subscriber receives. Nil accepts all.
type Filter func(*Envelope) bool

// ByOrderbook accepts envelopes for one orderbook
func ByOrderbook(orderbookID string) Filter {
	return func(e *Envelope) bool { return e.OrderbookID == orderbookID }
}

// ByTypes accepts envelopes of the given types
func ByTypes(types ...Type) Filter {
	set := make(map[Type]struct{}, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return func(e *Envelope) bool {
		_, ok := set[e.Type]
		return ok
	}
}

// Subscription is a registered consumer of the bus
type Subscription struct {
	// C delivers envelopes; closed once the subscription is closed
	C <-chan Envelope

	name   string
	ch     chan Envelope
	mode   DeliveryMode
	filter Filter
	bus    *Bus

	done chan struct{}
	once sync.Once
}

func (s *Subscription) Name() string { return s.name }

// Close unregisters the subscription and closes C
func (s *Subscription) Close() {
	s.once.Do(func() {
		close(s.done)
		s.bus.remove(s)
	})
}

// Bus fans envelopes out to explicitly registered subscribers.
// Publishers are serialized per orderbook by the engine, so every subscriber
// sees one orderbook's events in sequence order.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	onDrop func(subscriber string, e *Envelope)
}

func NewBus() *Bus {
	return &Bus{
		subs: make(map[*Subscription]struct{}),
	}
}

// OnDrop installs a hook called for every envelope a lossy subscriber misses
func (b *Bus) OnDrop(fn func(subscriber string, e *Envelope)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Subscribe registers a consumer. buffer <= 0 means unbuffered.
func (b *Bus) Subscribe(name string, buffer int, mode DeliveryMode, filter Filter) *Subscription {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Envelope, buffer)
	s := &Subscription{
		C:      ch,
		name:   name,
		ch:     ch,
		mode:   mode,
		filter: filter,
		bus:    b,
		done:   make(chan struct{}),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.once.Do(func() { close(s.done) })
		close(ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers env to every matching subscriber
func (b *Bus) Publish(env Envelope) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for s := range b.subs {
		if s.filter != nil && !s.filter(&env) {
			continue
		}

		if s.mode == Lossy {
			select {
			case s.ch <- env:
			default:
				if b.onDrop != nil {
					b.onDrop(s.name, &env)
				}
			}
			continue
		}

		select {
		case s.ch <- env:
		case <-s.done:
		}
	}
}

// Len returns the number of live subscriptions
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscription. Later Subscribe calls get closed channels.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	subs := make([]*Subscription, 0, len(b.subs))
	for s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, s := range subs {
		s.Close()
	}
}

// remove unregisters s. Taking the write lock waits out any in-flight Publish,
// after which nobody can send on s.ch.
func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.ch)
}
