package memory

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

type fakeEmbedder struct {
	calls int
	err   error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{float32(len(text)), 1}, nil
}

type fakeStore struct {
	results    []Result
	searchErr  error
	lastFilter map[string]string
	upserts    []upsertCall
}

type upsertCall struct {
	id      string
	content string
	payload map[string]string
}

func (f *fakeStore) Search(_ context.Context, _ []float32, filter map[string]string, _ int) ([]Result, error) {
	f.lastFilter = filter
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.results, nil
}

func (f *fakeStore) Upsert(_ context.Context, id string, _ []float32, content string, payload map[string]string) error {
	f.upserts = append(f.upserts, upsertCall{id: id, content: content, payload: payload})
	return nil
}

func (f *fakeStore) Close() error { return nil }

func TestSearchHistoryFiltersByUser(t *testing.T) {
	store := &fakeStore{results: []Result{
		{Score: 0.9, Content: "how do I reset my password", Payload: map[string]string{"role": "customer"}},
	}}
	svc := NewService(store, &fakeEmbedder{}, "")

	turns, err := svc.SearchHistory(context.Background(), "alice@example.com", "password", 5)
	if err != nil {
		t.Fatalf("SearchHistory failed: %v", err)
	}
	if len(turns) != 1 {
		t.Fatalf("expected 1 turn, got %d", len(turns))
	}
	if turns[0].Role != "customer" {
		t.Fatalf("expected role customer, got %q", turns[0].Role)
	}
	if store.lastFilter["user_id"] != "alice@example.com" || store.lastFilter["kind"] != kindTurn {
		t.Fatalf("unexpected filter: %v", store.lastFilter)
	}
}

func TestSearchHistoryRequiresUser(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEmbedder{}, "")
	if _, err := svc.SearchHistory(context.Background(), "  ", "q", 5); err == nil {
		t.Fatal("expected error for empty user id")
	}
}

func TestSearchCatalogueUsesCatalogueUser(t *testing.T) {
	store := &fakeStore{results: []Result{{Score: 0.97, Content: "known answer"}}}
	svc := NewService(store, &fakeEmbedder{}, "global_kb")

	matches, err := svc.SearchCatalogue(context.Background(), "question", 3)
	if err != nil {
		t.Fatalf("SearchCatalogue failed: %v", err)
	}
	if len(matches) != 1 || matches[0].Score != 0.97 {
		t.Fatalf("unexpected matches: %v", matches)
	}
	if store.lastFilter["user_id"] != "global_kb" || store.lastFilter["kind"] != kindCatalogue {
		t.Fatalf("unexpected filter: %v", store.lastFilter)
	}
}

func TestStoreExchangeWritesBothTurns(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeEmbedder{}, "")

	if err := svc.StoreExchange(context.Background(), "bob@example.com", "question?", "answer."); err != nil {
		t.Fatalf("StoreExchange failed: %v", err)
	}
	if len(store.upserts) != 2 {
		t.Fatalf("expected 2 upserts, got %d", len(store.upserts))
	}
	if store.upserts[0].payload["role"] != "customer" || store.upserts[1].payload["role"] != "support" {
		t.Fatalf("unexpected roles: %v %v", store.upserts[0].payload, store.upserts[1].payload)
	}
	if store.upserts[0].id == store.upserts[1].id {
		t.Fatal("expected distinct ids per turn")
	}
}

func TestStoreCatalogueEntryFormat(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, &fakeEmbedder{}, "")

	if err := svc.StoreCatalogueEntry(context.Background(), "conv-42", "how?", "like this"); err != nil {
		t.Fatalf("StoreCatalogueEntry failed: %v", err)
	}
	if len(store.upserts) != 1 {
		t.Fatalf("expected 1 upsert, got %d", len(store.upserts))
	}
	content := store.upserts[0].content
	for _, want := range []string{"conversation conv-42", "Customer said: how?", "Support said: like this"} {
		if !strings.Contains(content, want) {
			t.Fatalf("catalogue entry missing %q: %s", want, content)
		}
	}
	if store.upserts[0].payload["kind"] != kindCatalogue {
		t.Fatalf("unexpected payload: %v", store.upserts[0].payload)
	}
}

func TestEmbedderErrorPropagates(t *testing.T) {
	svc := NewService(&fakeStore{}, &fakeEmbedder{err: fmt.Errorf("embedding service down")}, "")
	if _, err := svc.SearchCatalogue(context.Background(), "q", 3); err == nil {
		t.Fatal("expected embedder error to propagate")
	}
}
