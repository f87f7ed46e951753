package changes

import "sync"

// Subscription receives Changes for one table, or for every table when it
// came from SubscribeAll.
//
// C is closed by Cancel and when the Reporter closes. Receivers that fall
// behind apply backpressure to the dispatcher rather than losing changes.
type Subscription struct {
	C <-chan Change

	ch    chan Change
	done  chan struct{}
	topic *topic

	mu     sync.Mutex // Serializes sends against close(ch)
	closed bool
	once   sync.Once
}

// Cancel stops delivery and closes C. Safe to call more than once and from
// any goroutine.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		// Wake a dispatcher blocked on send before taking the lock it holds.
		close(s.done)
		s.topic.remove(s)

		s.mu.Lock()
		s.closed = true
		close(s.ch)
		s.mu.Unlock()
	})
}

// deliver blocks until the change is received, the subscription is
// cancelled or quit closes. Buffer room always wins over quit, so the
// final flush on Close still reaches subscribers that keep up.
func (s *Subscription) deliver(c Change, quit <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- c:
		return
	default:
	}
	select {
	case s.ch <- c:
	case <-s.done:
	case <-quit:
	}
}

// topic is the lazily created, stable per-table fan-out point.
type topic struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newTopic() *topic {
	return &topic{subs: make(map[*Subscription]struct{})}
}

func (t *topic) subscribe(buffer int) *Subscription {
	ch := make(chan Change, buffer)
	s := &Subscription{
		C:     ch,
		ch:    ch,
		done:  make(chan struct{}),
		topic: t,
	}
	t.mu.Lock()
	t.subs[s] = struct{}{}
	t.mu.Unlock()
	return s
}

func (t *topic) remove(s *Subscription) {
	t.mu.Lock()
	delete(t.subs, s)
	t.mu.Unlock()
}

// publish delivers c to a snapshot of the current subscribers, in no
// particular order between subscribers. A subscriber that is full when
// quit closes misses c.
func (t *topic) publish(c Change, quit <-chan struct{}) {
	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.deliver(c, quit)
	}
}

// cancelAll cancels every current subscriber.
func (t *topic) cancelAll() {
	t.mu.Lock()
	subs := make([]*Subscription, 0, len(t.subs))
	for s := range t.subs {
		subs = append(subs, s)
	}
	t.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}
