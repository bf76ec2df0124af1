// Package stream implements the per-run progress event log: a single
// producer appends ordered events, any number of consumers subscribe and
// receive the full history from sequence 0 followed by live events.
//
// The producer never blocks on a slow consumer. Each subscriber owns a
// pending queue fed under the stream lock and drained by its own goroutine,
// so live subscribers see every event exactly once, in order.
package stream

import (
	"sync"
	"time"
)

// Stream is one run's append-only event log with fan-out.
type Stream struct {
	mu       sync.Mutex
	runID    string
	log      []Event
	firstSeq uint64 // Seq of log[0]; advances only when the retention cap evicts
	nextSeq  uint64
	maxLog   int // 0 = retain everything
	subs     map[*Subscription]struct{}
	closed   bool
}

// New creates a stream for a run. maxRetained caps how many events the shared
// log keeps for late-subscriber replay; 0 retains everything for the run's
// lifetime. Live subscribers are unaffected by eviction.
func New(runID string, maxRetained int) *Stream {
	return &Stream{
		runID:  runID,
		maxLog: maxRetained,
		subs:   make(map[*Subscription]struct{}),
	}
}

// RunID returns the owning run's ID.
func (s *Stream) RunID() string { return s.runID }

// Publish assigns the next sequence number and appends the event. Publishing
// to a closed stream is a no-op: a run emits nothing after its terminal event.
func (s *Stream) Publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}

	ev.Seq = s.nextSeq
	ev.RunID = s.runID
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.nextSeq++

	s.log = append(s.log, ev)
	if s.maxLog > 0 && len(s.log) > s.maxLog {
		evicted := len(s.log) - s.maxLog
		s.log = append([]Event(nil), s.log[evicted:]...)
		s.firstSeq += uint64(evicted)
	}

	for sub := range s.subs {
		sub.push(ev)
	}

	if ev.Kind.Terminal() {
		s.closeLocked()
	}
}

// Subscribe returns a subscription whose channel first replays the retained
// history, then delivers live events. Safe to call at any time, including
// after the stream is closed (replay only).
func (s *Stream) Subscribe() *Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub := &Subscription{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	sub.pending = append(sub.pending, s.log...)
	if s.closed {
		sub.closed = true
	} else {
		s.subs[sub] = struct{}{}
		sub.detach = func() { s.remove(sub) }
	}

	go sub.pump()
	return sub
}

// History returns a copy of the retained log and the sequence number of its
// first event (non-zero only after eviction).
func (s *Stream) History() ([]Event, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.log...), s.firstSeq
}

// Len returns the number of events published so far.
func (s *Stream) Len() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextSeq
}

// Close marks the stream finished. Subscribers drain their remaining events
// and then their channels close. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
}

func (s *Stream) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subs {
		sub.markClosed()
	}
	s.subs = make(map[*Subscription]struct{})
}

func (s *Stream) remove(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Subscription is one consumer's ordered view of a stream.
type Subscription struct {
	mu      sync.Mutex
	pending []Event
	closed  bool

	out    chan Event
	notify chan struct{}
	done   chan struct{}
	once   sync.Once
	detach func()
}

// Events returns the channel delivering replayed then live events in order.
// The channel closes after the stream's terminal event has been delivered.
func (s *Subscription) Events() <-chan Event { return s.out }

// Cancel detaches from the stream and stops delivery. Idempotent.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.detach != nil {
			s.detach()
		}
		close(s.done)
	})
}

func (s *Subscription) push(ev Event) {
	s.mu.Lock()
	s.pending = append(s.pending, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *Subscription) markClosed() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// pump drains the pending queue into the out channel. Runs in its own
// goroutine so a slow consumer only ever stalls itself.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		batch := s.pending
		s.pending = nil
		closed := s.closed
		s.mu.Unlock()

		for _, ev := range batch {
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		}

		if closed {
			// Deliver anything that raced in after the closed flag was read.
			s.mu.Lock()
			rest := s.pending
			s.pending = nil
			s.mu.Unlock()
			for _, ev := range rest {
				select {
				case s.out <- ev:
				case <-s.done:
					return
				}
			}
			return
		}

		select {
		case <-s.notify:
		case <-s.done:
			return
		}
	}
}
