package pipeline

import (
	"context"
	"fmt"
	"testing"
)

func refineJSON(text string, confidence float64, addresses bool) string {
	return fmt.Sprintf(`{"refined_text": %q, "final_confidence": %v, "reasoning": "checked", "response_addresses_question": %v}`,
		text, confidence, addresses)
}

func draft(confidence float64) GeneratedResponse {
	return GeneratedResponse{
		Text:       "draft reply",
		Confidence: confidence,
		Source:     SourcePrimary,
	}
}

func TestRefineDisabledRecordsSkip(t *testing.T) {
	r := NewRefiner(&fakeCompleter{}, "gpt-test", false)
	trace := NewTrace()

	out := r.Refine(context.Background(), "question", draft(0.7), trace)
	if out.Text != "draft reply" || out.Confidence != 0.7 {
		t.Fatalf("expected unchanged draft, got %+v", out)
	}
	events := trace.Events()
	if len(events) != 1 || events[0].Status != StatusSkipped {
		t.Fatalf("expected one skipped event, got %+v", events)
	}
}

func TestRefineLowersConfidence(t *testing.T) {
	completer := &fakeCompleter{responses: []string{refineJSON("tightened reply", 0.6, true)}}
	r := NewRefiner(completer, "gpt-test", true)

	out := r.Refine(context.Background(), "question", draft(0.75), NewTrace())
	if out.Text != "tightened reply" {
		t.Fatalf("expected refined text, got %q", out.Text)
	}
	if out.Confidence != 0.6 {
		t.Fatalf("expected lowered confidence 0.6, got %v", out.Confidence)
	}
}

func TestRefineNeverRaisesConfidence(t *testing.T) {
	completer := &fakeCompleter{responses: []string{refineJSON("same reply", 0.99, true)}}
	r := NewRefiner(completer, "gpt-test", true)

	out := r.Refine(context.Background(), "question", draft(0.7), NewTrace())
	if out.Confidence != 0.7 {
		t.Fatalf("refinement must not raise confidence: got %v", out.Confidence)
	}
}

func TestRefineFailureKeepsDraft(t *testing.T) {
	completer := &fakeCompleter{errs: []error{fmt.Errorf("model timeout")}}
	r := NewRefiner(completer, "gpt-test", true)
	trace := NewTrace()

	out := r.Refine(context.Background(), "question", draft(0.7), trace)
	if out.Text != "draft reply" || out.Confidence != 0.7 {
		t.Fatalf("expected unchanged draft on failure, got %+v", out)
	}
	if trace.Events()[0].Status != StatusError {
		t.Fatalf("expected error event, got %+v", trace.Events()[0])
	}
}

func TestRefineUnparseableKeepsDraft(t *testing.T) {
	completer := &fakeCompleter{responses: []string{"not json at all"}}
	r := NewRefiner(completer, "gpt-test", true)

	out := r.Refine(context.Background(), "question", draft(0.7), NewTrace())
	if out.Text != "draft reply" || out.Confidence != 0.7 {
		t.Fatalf("expected unchanged draft on parse failure, got %+v", out)
	}
}

func TestRefineOffTopicForcesHumanReview(t *testing.T) {
	completer := &fakeCompleter{responses: []string{refineJSON("", 0.2, false)}}
	r := NewRefiner(completer, "gpt-test", true)

	out := r.Refine(context.Background(), "question", draft(0.7), NewTrace())
	if !out.RequiresHuman {
		t.Fatal("expected requires_human when the draft dodges the question")
	}
	if out.Text != "draft reply" {
		t.Fatalf("empty refined_text must keep the draft text, got %q", out.Text)
	}
	if out.Confidence != 0.2 {
		t.Fatalf("expected confidence 0.2, got %v", out.Confidence)
	}
}
