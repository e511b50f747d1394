package stream

import (
	"context"
	"testing"
	"time"
)

func TestPublishFansOut(t *testing.T) {
	s := New(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := s.Subscribe(ctx)
	b := s.Subscribe(ctx)
	s.Publish(Event{Type: "order.checkout", OrderID: "o1", Status: "pending"})

	for i, ch := range []<-chan Event{a, b} {
		select {
		case evt := <-ch:
			if evt.OrderID != "o1" || evt.Timestamp.IsZero() {
				t.Fatalf("subscriber %d got %+v", i, evt)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestSlowSubscriberDropsInsteadOfBlocking(t *testing.T) {
	s := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := s.Subscribe(ctx)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.Publish(Event{OrderID: "o1"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	if got := len(ch); got != 1 {
		t.Fatalf("expected 1 buffered event, got %d", got)
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	s := New(0)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if n := s.Subscribers(); n != 0 {
		t.Fatalf("expected no subscribers, got %d", n)
	}

	var nilStream *Stream
	nilStream.Publish(Event{})
}
