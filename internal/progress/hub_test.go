package progress

import (
	"testing"
	"time"

	"restyle/internal/domain"
)

func collect(ch <-chan domain.ProgressEvent, n int, t *testing.T) []domain.ProgressEvent {
	t.Helper()
	out := make([]domain.ProgressEvent, 0, n)
	for len(out) < n {
		select {
		case ev := <-ch:
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for event %d of %d", len(out)+1, n)
		}
	}
	return out
}

func TestHubFanOutToMultipleSubscribers(t *testing.T) {
	hub := NewHub()

	chA, cancelA := hub.Subscribe("job-1")
	defer cancelA()
	chB, cancelB := hub.Subscribe("job-1")
	defer cancelB()
	chOther, cancelOther := hub.Subscribe("job-2")
	defer cancelOther()

	for i := 1; i <= 3; i++ {
		hub.Publish(domain.ProgressEvent{JobID: "job-1", Type: domain.EventProgress, Progress: i * 10, Current: i})
	}

	for _, ch := range []<-chan domain.ProgressEvent{chA, chB} {
		events := collect(ch, 3, t)
		for i, ev := range events {
			if ev.Current != i+1 {
				t.Fatalf("event %d out of order: current=%d", i, ev.Current)
			}
		}
	}

	select {
	case ev := <-chOther:
		t.Fatalf("job-2 subscriber received foreign event: %+v", ev)
	default:
	}
}

func TestHubUnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("job-1")
	cancel()
	// closed channel reads must not panic the publisher
	hub.Publish(domain.ProgressEvent{JobID: "job-1", Type: domain.EventProgress})

	if _, open := <-ch; open {
		t.Fatal("channel should be closed after unsubscribe")
	}
	if got := hub.Subscribers("job-1"); got != 0 {
		t.Fatalf("subscribers = %d, want 0", got)
	}
}

func TestHubDropsWhenSubscriberNotReading(t *testing.T) {
	hub := NewHub()

	ch, cancel := hub.Subscribe("job-1")
	defer cancel()

	// overflow the buffer; the publisher must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < subscriberBuffer*2; i++ {
			hub.Publish(domain.ProgressEvent{JobID: "job-1", Type: domain.EventProgress, Current: i})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publisher blocked on a slow subscriber")
	}

	if got := len(ch); got != subscriberBuffer {
		t.Fatalf("buffered events = %d, want %d", got, subscriberBuffer)
	}
}
