package pipeline

import (
	"sync"
	"time"
)

// Trace call types.
const (
	CallMemorySearch = "memory_search"
	CallLLM          = "llm_call"
	CallHTTPFetch    = "http_fetch"
	CallComputation  = "computation"
	CallAgent        = "agent_call"
)

// Trace step statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusError     = "error"
)

type TraceEvent struct {
	Label         string                 `json:"label"`
	CallType      string                 `json:"call_type"`
	Status        string                 `json:"status"`
	DurationMS    int64                  `json:"duration_ms"`
	InputSummary  string                 `json:"input_summary,omitempty"`
	OutputSummary string                 `json:"output_summary,omitempty"`
	Details       map[string]interface{} `json:"details,omitempty"`
	ErrorMessage  string                 `json:"error_message,omitempty"`
}

// Trace collects ordered step events for one pipeline run. Events appear in
// the order their steps finished. Safe for concurrent use.
type Trace struct {
	mu     sync.Mutex
	events []TraceEvent
}

func NewTrace() *Trace {
	return &Trace{}
}

// Step is an in-progress trace entry. Finish it exactly once with Complete,
// Skip, or Fail; later finish calls are ignored.
type Step struct {
	trace   *Trace
	event   TraceEvent
	started time.Time
	done    bool
}

func (t *Trace) Begin(label string, callType string, inputSummary string) *Step {
	return &Step{
		trace:   t,
		started: time.Now(),
		event: TraceEvent{
			Label:        label,
			CallType:     callType,
			InputSummary: inputSummary,
		},
	}
}

func (s *Step) Complete(outputSummary string, details map[string]interface{}) {
	s.event.Status = StatusCompleted
	s.event.OutputSummary = outputSummary
	s.event.Details = details
	s.finish()
}

func (s *Step) Skip(reason string) {
	s.event.Status = StatusSkipped
	s.event.OutputSummary = reason
	s.finish()
}

func (s *Step) Fail(err error) {
	s.event.Status = StatusError
	if err != nil {
		s.event.ErrorMessage = err.Error()
	}
	s.finish()
}

func (s *Step) finish() {
	if s == nil || s.done {
		return
	}
	s.done = true
	s.event.DurationMS = time.Since(s.started).Milliseconds()
	s.trace.mu.Lock()
	s.trace.events = append(s.trace.events, s.event)
	s.trace.mu.Unlock()
}

// Events returns a copy of the recorded events in append order.
func (t *Trace) Events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEvent, len(t.events))
	copy(out, t.events)
	return out
}

// TotalDurationMS is the sum of recorded event durations. This is the
// authoritative run duration for reporting.
func (t *Trace) TotalDurationMS() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total int64
	for _, ev := range t.events {
		total += ev.DurationMS
	}
	return total
}
