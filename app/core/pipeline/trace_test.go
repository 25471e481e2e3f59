package pipeline

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestTraceRecordsInFinishOrder(t *testing.T) {
	trace := NewTrace()

	first := trace.Begin("first", CallComputation, "")
	second := trace.Begin("second", CallLLM, "")
	second.Complete("done", nil)
	first.Fail(fmt.Errorf("boom"))

	events := trace.Events()
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Label != "second" || events[1].Label != "first" {
		t.Fatalf("unexpected order: %q, %q", events[0].Label, events[1].Label)
	}
	if events[0].Status != StatusCompleted {
		t.Fatalf("expected completed, got %q", events[0].Status)
	}
	if events[1].Status != StatusError || events[1].ErrorMessage != "boom" {
		t.Fatalf("unexpected error event: %+v", events[1])
	}
}

func TestTraceTotalIsSumOfDurations(t *testing.T) {
	trace := NewTrace()
	step := trace.Begin("slow", CallHTTPFetch, "")
	time.Sleep(15 * time.Millisecond)
	step.Complete("ok", nil)
	trace.Begin("fast", CallComputation, "").Complete("ok", nil)

	var sum int64
	for _, ev := range trace.Events() {
		sum += ev.DurationMS
	}
	if got := trace.TotalDurationMS(); got != sum {
		t.Fatalf("total %d != sum of event durations %d", got, sum)
	}
	if trace.TotalDurationMS() < 10 {
		t.Fatalf("expected at least 10ms total, got %d", trace.TotalDurationMS())
	}
}

func TestStepFinishesOnce(t *testing.T) {
	trace := NewTrace()
	step := trace.Begin("once", CallLLM, "")
	step.Complete("ok", nil)
	step.Fail(fmt.Errorf("ignored"))
	step.Skip("ignored")

	events := trace.Events()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Status != StatusCompleted {
		t.Fatalf("expected first finish to win, got %q", events[0].Status)
	}
}

func TestTraceConcurrentSteps(t *testing.T) {
	trace := NewTrace()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			trace.Begin(fmt.Sprintf("step-%d", n), CallComputation, "").Complete("ok", nil)
		}(i)
	}
	wg.Wait()

	if len(trace.Events()) != 20 {
		t.Fatalf("expected 20 events, got %d", len(trace.Events()))
	}
}

func TestSkippedEventKeepsReason(t *testing.T) {
	trace := NewTrace()
	trace.Begin("fallback", CallAgent, "").Skip("human intervention requested")

	events := trace.Events()
	if events[0].Status != StatusSkipped {
		t.Fatalf("expected skipped, got %q", events[0].Status)
	}
	if events[0].OutputSummary != "human intervention requested" {
		t.Fatalf("unexpected reason: %q", events[0].OutputSummary)
	}
}
