// Package eventbus fans room updates out to live subscribers. Every
// subscriber owns an unbounded FIFO queue, so a slow reader never blocks the
// publisher and never misses a message published while it was subscribed.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

type Channel string

const (
	ChannelRoom   Channel = "room"
	ChannelChat   Channel = "roomChat"
	ChannelEvents Channel = "roomEvents"
)

type topic struct {
	roomID  string
	channel Channel
}

type Bus struct {
	mu     sync.RWMutex
	topics map[topic]map[uint64]*Subscription
	nextID uint64
	closed bool
	log    *zap.Logger
}

func New(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		topics: make(map[topic]map[uint64]*Subscription),
		log:    logger.Named("eventbus"),
	}
}

// Subscribe registers a listener for roomID+channel. The returned
// subscription delivers messages on C until Close is called, the room is
// closed or the bus shuts down.
func (b *Bus) Subscribe(roomID string, channel Channel) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := newSubscription(b, b.nextID, topic{roomID: roomID, channel: channel})
	if b.closed {
		sub.terminate()
		return sub
	}
	subs := b.topics[sub.topic]
	if subs == nil {
		subs = make(map[uint64]*Subscription)
		b.topics[sub.topic] = subs
	}
	subs[sub.id] = sub
	return sub
}

// Publish queues payload for every current subscriber of roomID+channel and
// returns how many subscribers it reached. Nil payloads are dropped.
func (b *Bus) Publish(roomID string, channel Channel, payload any) int {
	if payload == nil {
		b.log.Warn("dropping nil payload", zap.String("room_id", roomID), zap.String("channel", string(channel)))
		return 0
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.topics[topic{roomID: roomID, channel: channel}]
	for _, sub := range subs {
		sub.push(payload)
	}
	return len(subs)
}

// Subscribers reports the number of live subscribers for roomID+channel.
func (b *Bus) Subscribers(roomID string, channel Channel) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic{roomID: roomID, channel: channel}])
}

// CloseRoom ends every subscription of roomID on all channels.
func (b *Bus) CloseRoom(roomID string) {
	b.mu.Lock()
	var victims []*Subscription
	for t, subs := range b.topics {
		if t.roomID != roomID {
			continue
		}
		for _, sub := range subs {
			victims = append(victims, sub)
		}
		delete(b.topics, t)
	}
	b.mu.Unlock()

	for _, sub := range victims {
		sub.terminate()
	}
}

// Close ends all subscriptions; later subscribers receive closed subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	var victims []*Subscription
	for t, subs := range b.topics {
		for _, sub := range subs {
			victims = append(victims, sub)
		}
		delete(b.topics, t)
	}
	b.mu.Unlock()

	for _, sub := range victims {
		sub.terminate()
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[sub.topic]
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(b.topics, sub.topic)
	}
}
