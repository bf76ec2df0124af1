package stream

import (
	"testing"
	"time"
)

func collect(t *testing.T, sub *Subscription, n int) []Event {
	t.Helper()
	events := make([]Event, 0, n)
	for len(events) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("channel closed after %d events, wanted %d", len(events), n)
			}
			events = append(events, ev)
		case <-time.After(2 * time.Second):
			t.Fatalf("timeout after %d events, wanted %d", len(events), n)
		}
	}
	return events
}

// TestSequenceNumbers verifies seq is strictly increasing with no gaps.
func TestSequenceNumbers(t *testing.T) {
	s := New("run-1", 0)
	for i := 0; i < 50; i++ {
		s.Publish(Event{Kind: KindTaskStarted, TaskID: "t"})
	}

	history, first := s.History()
	if first != 0 {
		t.Errorf("expected firstSeq 0, got %d", first)
	}
	for i, ev := range history {
		if ev.Seq != uint64(i) {
			t.Fatalf("gap at position %d: seq %d", i, ev.Seq)
		}
		if ev.RunID != "run-1" {
			t.Errorf("run ID not stamped: %+v", ev)
		}
	}
}

// TestReplayThenLive verifies a subscriber sees history from 0 then live events.
func TestReplayThenLive(t *testing.T) {
	s := New("run-1", 0)
	s.Publish(Event{Kind: KindTaskStarted, TaskID: "plan"})
	s.Publish(Event{Kind: KindTaskCompleted, TaskID: "plan"})

	sub := s.Subscribe()
	defer sub.Cancel()

	s.Publish(Event{Kind: KindTaskStarted, TaskID: "code"})

	events := collect(t, sub, 3)
	for i, ev := range events {
		if ev.Seq != uint64(i) {
			t.Errorf("event %d has seq %d, expected replay from 0 with no gaps", i, ev.Seq)
		}
	}
	if events[2].TaskID != "code" {
		t.Errorf("live event not delivered after replay: %+v", events[2])
	}
}

// TestLateSubscriberAfterClose verifies replay still works on a finished stream.
func TestLateSubscriberAfterClose(t *testing.T) {
	s := New("run-1", 0)
	s.Publish(Event{Kind: KindTaskStarted, TaskID: "plan"})
	s.Publish(Event{Kind: KindWorkflowCompleted})

	sub := s.Subscribe()
	events := collect(t, sub, 2)
	if events[1].Kind != KindWorkflowCompleted {
		t.Errorf("expected terminal event last, got %+v", events[1])
	}

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("expected channel to close after terminal event")
		}
	case <-time.After(2 * time.Second):
		t.Error("timeout waiting for channel close")
	}
}

// TestTerminalClosesStream verifies nothing is published after a terminal event.
func TestTerminalClosesStream(t *testing.T) {
	s := New("run-1", 0)
	s.Publish(Event{Kind: KindWorkflowFailed, TaskID: "code"})
	s.Publish(Event{Kind: KindTaskStarted, TaskID: "late"})

	history, _ := s.History()
	if len(history) != 1 {
		t.Fatalf("expected 1 event after terminal, got %d", len(history))
	}
	if s.Len() != 1 {
		t.Errorf("seq should not advance after close, got %d", s.Len())
	}
}

// TestSlowConsumerDoesNotBlockPublisher verifies the producer never waits.
func TestSlowConsumerDoesNotBlockPublisher(t *testing.T) {
	s := New("run-1", 0)
	sub := s.Subscribe() // Never read from.
	defer sub.Cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Publish(Event{Kind: KindTaskRetrying, TaskID: "code"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publisher blocked on a slow consumer")
	}

	// The slow consumer still gets every event, in order, once it reads.
	events := collect(t, sub, 1000)
	if events[999].Seq != 999 {
		t.Errorf("slow consumer lost events: last seq %d", events[999].Seq)
	}
}

// TestRetentionCap verifies eviction only narrows the replay window.
func TestRetentionCap(t *testing.T) {
	s := New("run-1", 10)

	live := s.Subscribe()
	defer live.Cancel()

	for i := 0; i < 25; i++ {
		s.Publish(Event{Kind: KindTaskRetrying, TaskID: "code"})
	}

	// A live subscriber attached before publishing sees all 25.
	events := collect(t, live, 25)
	if events[24].Seq != 24 {
		t.Errorf("live subscriber missed events: last seq %d", events[24].Seq)
	}

	// A late subscriber replays only the retained window.
	history, first := s.History()
	if len(history) != 10 {
		t.Fatalf("expected 10 retained events, got %d", len(history))
	}
	if first != 15 {
		t.Errorf("expected retention window to start at 15, got %d", first)
	}

	late := s.Subscribe()
	defer late.Cancel()
	lateEvents := collect(t, late, 10)
	if lateEvents[0].Seq != 15 {
		t.Errorf("late subscriber should start at the window, got seq %d", lateEvents[0].Seq)
	}
}

// TestCancelDetaches verifies a cancelled subscription stops receiving.
func TestCancelDetaches(t *testing.T) {
	s := New("run-1", 0)
	sub := s.Subscribe()
	sub.Cancel()
	sub.Cancel() // Idempotent.

	s.Publish(Event{Kind: KindTaskStarted, TaskID: "plan"})

	select {
	case _, ok := <-sub.Events():
		if ok {
			// A single racing event may have been queued before Cancel; the
			// channel must still close promptly after.
			select {
			case _, ok := <-sub.Events():
				if ok {
					t.Error("cancelled subscription kept delivering")
				}
			case <-time.After(2 * time.Second):
				t.Error("cancelled subscription never closed")
			}
		}
	case <-time.After(2 * time.Second):
		t.Error("cancelled subscription never closed its channel")
	}
}
