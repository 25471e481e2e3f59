package pipeline

import (
	"context"
	"fmt"
	"testing"
	"time"

	"deskmind/app/pkg/types"
)

type fakeSearcher struct {
	history      []types.Turn
	catalogue    []types.CatalogueMatch
	historyErr   error
	catalogueErr error
}

func (f *fakeSearcher) SearchHistory(_ context.Context, _ string, _ string, _ int) ([]types.Turn, error) {
	return f.history, f.historyErr
}

func (f *fakeSearcher) SearchCatalogue(_ context.Context, _ string, _ int) ([]types.CatalogueMatch, error) {
	return f.catalogue, f.catalogueErr
}

func testMessage() types.IncomingMessage {
	return types.IncomingMessage{
		ConversationID: "conv-1",
		UserID:         "alice@example.com",
		Body:           "how do I rotate my api key?",
		ReceivedAt:     time.Now(),
	}
}

func TestGatherAppliesBoostAtNearExactScore(t *testing.T) {
	searcher := &fakeSearcher{catalogue: []types.CatalogueMatch{{Content: "rotate keys in settings", Score: 0.95}}}
	r := NewRetriever(searcher, 5, 3, time.Second)

	mc := r.Gather(context.Background(), testMessage(), NewTrace())
	if mc.ConfidenceBoost != 0.10 {
		t.Fatalf("expected boost 0.10 at score 0.95, got %.2f", mc.ConfidenceBoost)
	}
}

func TestGatherNoBoostBelowNearExactScore(t *testing.T) {
	searcher := &fakeSearcher{catalogue: []types.CatalogueMatch{{Content: "close", Score: 0.9499}}}
	r := NewRetriever(searcher, 5, 3, time.Second)

	mc := r.Gather(context.Background(), testMessage(), NewTrace())
	if mc.ConfidenceBoost != 0 {
		t.Fatalf("expected no boost below 0.95, got %.2f", mc.ConfidenceBoost)
	}
}

func TestGatherDegradesOnQueryFailure(t *testing.T) {
	searcher := &fakeSearcher{
		historyErr:   fmt.Errorf("vector store down"),
		catalogueErr: fmt.Errorf("vector store down"),
	}
	r := NewRetriever(searcher, 5, 3, time.Second)
	trace := NewTrace()

	mc := r.Gather(context.Background(), testMessage(), trace)
	if len(mc.History) != 0 || len(mc.Catalogue) != 0 || mc.ConfidenceBoost != 0 {
		t.Fatalf("expected empty context on failure, got %+v", mc)
	}

	errored := 0
	for _, ev := range trace.Events() {
		if ev.Status == StatusError {
			errored++
		}
	}
	if errored != 2 {
		t.Fatalf("expected 2 error events, got %d", errored)
	}
}

func TestGatherTraceIncludesBoostComputation(t *testing.T) {
	searcher := &fakeSearcher{
		history:   []types.Turn{{Role: "customer", Content: "earlier question", Score: 0.8}},
		catalogue: []types.CatalogueMatch{{Content: "answer", Score: 0.97}},
	}
	r := NewRetriever(searcher, 5, 3, time.Second)
	trace := NewTrace()

	r.Gather(context.Background(), testMessage(), trace)

	events := trace.Events()
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	last := events[2]
	if last.CallType != CallComputation || last.Status != StatusCompleted {
		t.Fatalf("unexpected boost event: %+v", last)
	}
	if last.Details["boost"].(float64) != 0.10 {
		t.Fatalf("expected boost detail 0.10, got %v", last.Details["boost"])
	}
}
