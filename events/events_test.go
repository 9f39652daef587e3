package events

import (
	"testing"
	"time"
)

func TestBusPublish(t *testing.T) {
	t.Parallel()

	b := NewBus()
	c := make(chan Event, 4)
	b.On(c)

	b.Publish("scan completed", 12)

	select {
	case e := <-c:
		if e.Topic != "scan completed" {
			t.Errorf("expected topic %q, got %q", "scan completed", e.Topic)
		}
		if e.Data.(int) != 12 {
			t.Errorf("expected data 12, got %v", e.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusPublishStripsNamespace(t *testing.T) {
	t.Parallel()

	b := NewBus()
	c := make(chan Event, 4)
	b.On(c)

	b.Publish("sync completed:3f2a", nil)

	select {
	case e := <-c:
		if e.Topic != "sync completed" {
			t.Errorf("expected namespace to be stripped, got topic %q", e.Topic)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBusOffClosesSink(t *testing.T) {
	t.Parallel()

	b := NewBus()
	c := make(chan Event, 1)
	b.On(c)
	b.Off(c)

	if _, ok := <-c; ok {
		t.Error("expected channel to be closed after Off")
	}

	// Publishing after removal should not panic or block.
	b.Publish("noop", nil)
}

func TestBusSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	b := NewBus()
	// Unbuffered channel with no reader, the publish should drop the event
	// after the internal timeout instead of blocking forever.
	c := make(chan Event)
	b.On(c)

	done := make(chan struct{})
	go func() {
		b.Publish("scan progress", 1)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
	b.Destroy()
}
