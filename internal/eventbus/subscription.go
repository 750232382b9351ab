package eventbus

import "sync"

type Subscription struct {
	id    uint64
	topic topic
	bus   *Bus

	mu     sync.Mutex
	queue  []any
	wake   chan struct{}
	out    chan any
	done   chan struct{}
	closer sync.Once
}

func newSubscription(b *Bus, id uint64, t topic) *Subscription {
	s := &Subscription{
		id:    id,
		topic: t,
		bus:   b,
		wake:  make(chan struct{}, 1),
		out:   make(chan any),
		done:  make(chan struct{}),
	}
	go s.pump()
	return s
}

// C yields messages in publish order. It is closed when the subscription ends.
func (s *Subscription) C() <-chan any { return s.out }

func (s *Subscription) RoomID() string { return s.topic.roomID }

func (s *Subscription) Channel() Channel { return s.topic.channel }

// Done is closed once the subscription has been terminated.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Close unsubscribes. Queued messages that were not yet received are discarded.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.terminate()
}

// Push queues payload for this subscriber only. Used to hand a fresh
// subscriber the current snapshot ahead of later publishes.
func (s *Subscription) Push(payload any) {
	s.push(payload)
}

func (s *Subscription) push(payload any) {
	s.mu.Lock()
	s.queue = append(s.queue, payload)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Subscription) terminate() {
	s.closer.Do(func() { close(s.done) })
}

func (s *Subscription) pop() (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return nil, false
	}
	msg := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]
	return msg, true
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		msg, ok := s.pop()
		if !ok {
			select {
			case <-s.wake:
				continue
			case <-s.done:
				return
			}
		}
		select {
		case s.out <- msg:
		case <-s.done:
			return
		}
	}
}
