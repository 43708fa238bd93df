package events

import (
	"testing"
	"time"
)

func TestQueuePublishAndRecv(t *testing.T) {
	q := NewQueue(4)
	q.Publish(Event{Type: EventNewCandle, Pair: "BTCZAR", Timeframe: "1m"})

	event, ok := q.Recv(100 * time.Millisecond)
	if !ok {
		t.Fatal("expected an event")
	}
	if event.Type != EventNewCandle || event.Pair != "BTCZAR" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Timestamp.IsZero() {
		t.Error("timestamp should be stamped on publish")
	}
}

func TestQueueRecvTimeout(t *testing.T) {
	q := NewQueue(1)

	start := time.Now()
	_, ok := q.Recv(20 * time.Millisecond)
	if ok {
		t.Fatal("expected timeout")
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Error("returned before the timeout elapsed")
	}
}

func TestQueuePublishOrDropShedsWhenFull(t *testing.T) {
	q := NewQueue(2)

	if !q.PublishOrDrop(Event{Type: EventPriceUpdate, Pair: "BTCZAR", Price: 1}) {
		t.Fatal("first publish should succeed")
	}
	if !q.PublishOrDrop(Event{Type: EventPriceUpdate, Pair: "BTCZAR", Price: 2}) {
		t.Fatal("second publish should succeed")
	}
	if q.PublishOrDrop(Event{Type: EventPriceUpdate, Pair: "BTCZAR", Price: 3}) {
		t.Fatal("third publish should be dropped")
	}
	if q.Len() != 2 {
		t.Fatalf("expected queue length 2, got %d", q.Len())
	}
}

func TestQueueOrdering(t *testing.T) {
	q := NewQueue(3)
	for i := 1; i <= 3; i++ {
		q.Publish(Event{Type: EventPriceUpdate, Price: float64(i)})
	}
	for i := 1; i <= 3; i++ {
		event, ok := q.Recv(10 * time.Millisecond)
		if !ok || event.Price != float64(i) {
			t.Fatalf("expected price %d in order, got %+v ok=%v", i, event, ok)
		}
	}
}
