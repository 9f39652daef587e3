package events

import (
	"strings"
	"sync"
	"time"
)

// Event is a single message published on a Bus.
type Event struct {
	Topic string
	Data  interface{}
}

// Bus is a fan-out publisher used to surface engine activity, such as scan
// results and workflow progress, to whatever frontend is embedding the
// engine. Subscribers receive every event published while they are attached.
type Bus struct {
	mu    sync.RWMutex
	sinks []chan Event
}

// NewBus returns a new empty Bus.
func NewBus() *Bus {
	return &Bus{}
}

// On adds a sink to the bus, it will receive all events published from this
// point on. The channel should be buffered, a subscriber that falls more than
// the publish timeout behind will miss events rather than stall the engine.
func (b *Bus) On(c chan Event) {
	b.mu.Lock()
	b.sinks = append(b.sinks, c)
	b.mu.Unlock()
}

// Off removes a sink from the bus and closes it.
func (b *Bus) Off(c chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sinks := b.sinks
	for i, sink := range sinks {
		if c != sink {
			continue
		}
		copy(sinks[i:], sinks[i+1:])
		sinks[len(sinks)-1] = nil
		sinks = sinks[:len(sinks)-1]
		b.sinks = sinks

		// Avoid a panic if the sink channel is nil at this point.
		if c != nil {
			close(c)
		}
		return
	}
}

// Destroy removes and closes all sinks attached to the bus.
func (b *Bus) Destroy() {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, c := range b.sinks {
		if c != nil {
			close(c)
		}
	}
	b.sinks = nil
}

// Publish publishes a message to the bus.
//
// Some actions support passing a more specific namespace, such as
// "sync completed:1234" to indicate which specific run was completed. In
// these cases the event is still sent under the standard listener topic of
// "sync completed" and the qualifier is dropped.
func (b *Bus) Publish(topic string, data interface{}) {
	if strings.Contains(topic, ":") {
		parts := strings.SplitN(topic, ":", 2)
		if len(parts) == 2 {
			topic = parts[0]
		}
	}

	e := Event{Topic: topic, Data: data}

	b.mu.RLock()
	for _, c := range b.sinks {
		select {
		case c <- e:
		// Timeout after 100 milliseconds, this will cause the write to the
		// channel to be discarded.
		case <-time.After(100 * time.Millisecond):
		}
	}
	b.mu.RUnlock()
}
