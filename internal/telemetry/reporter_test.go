package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cortexhub/cortexhub/internal/model"
)

// captureSink records delivered events; optionally fails every delivery.
type captureSink struct {
	mu     sync.Mutex
	events []Event
	fail   bool
}

func (s *captureSink) Deliver(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink unavailable")
	}
	s.events = append(s.events, events...)
	return nil
}

func (s *captureSink) delivered() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestEventsReachSink(t *testing.T) {
	sink := &captureSink{}
	r := NewReporter(sink, 16)
	defer r.Close()

	call := model.NewCallRecord("issue_refund", nil, "langgraph", "agent-1", "")
	ev := ForCall(DecisionMade, call)
	ev.Decision = "allow"
	r.Report(ev)

	waitFor(t, func() bool { return len(sink.delivered()) == 1 })

	got := sink.delivered()[0]
	if got.CallID != call.ID || got.Tool != "issue_refund" || got.Decision != "allow" {
		t.Errorf("delivered event = %+v", got)
	}
}

func TestDropOldestUnderBackpressure(t *testing.T) {
	// White-box: no dispatch loop, so the queue fills deterministically.
	r := &Reporter{size: 3, wake: make(chan struct{}, 1), done: make(chan struct{})}

	for i := 0; i < 5; i++ {
		r.Report(Event{Kind: CallObserved, CallID: fmt.Sprintf("call-%d", i), Timestamp: time.Now()})
	}

	if n := r.QueueLen(); n != 3 {
		t.Fatalf("queue length = %d, want the configured bound of 3", n)
	}
	if r.queue[0].CallID != "call-2" {
		t.Errorf("oldest surviving event = %s, want call-2 (drop-oldest)", r.queue[0].CallID)
	}
}

func TestDeliveryFailureNeverPropagates(t *testing.T) {
	sink := &captureSink{fail: true}
	r := NewReporter(sink, 8)
	defer r.Close()

	for i := 0; i < 10; i++ {
		r.Report(Event{Kind: CallObserved, CallID: fmt.Sprintf("call-%d", i), Timestamp: time.Now()})
	}

	// Failed batches are dropped; the queue still drains.
	waitFor(t, func() bool { return r.QueueLen() == 0 })
}

func TestNilSinkIsNoop(t *testing.T) {
	r := NewReporter(nil, 8)
	defer r.Close()

	for i := 0; i < 20; i++ {
		r.Report(Event{Kind: CallObserved, CallID: "c", Timestamp: time.Now()})
	}

	waitFor(t, func() bool { return r.QueueLen() == 0 })
}

func TestCloseDrains(t *testing.T) {
	sink := &captureSink{}
	r := NewReporter(sink, 64)

	for i := 0; i < 10; i++ {
		r.Report(Event{Kind: CallObserved, CallID: fmt.Sprintf("call-%d", i), Timestamp: time.Now()})
	}
	r.Close()

	if got := len(sink.delivered()); got != 10 {
		t.Errorf("delivered %d events after Close, want 10", got)
	}
}

func TestReportAfterCloseIsIgnored(t *testing.T) {
	r := NewReporter(&captureSink{}, 8)
	r.Close()
	r.Report(Event{Kind: CallObserved}) // must not panic or block
}
