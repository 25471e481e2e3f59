package fallback

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"deskmind/app/core/llm"
	"deskmind/app/core/pipeline"
)

type scriptedCompleter struct {
	responses []string
	errs      []error
	calls     int
	requests  []llm.Request
}

func (f *scriptedCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return "", f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return "", fmt.Errorf("unexpected call %d", i)
}

func docServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/llms.txt", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "- /docs/keys.md: API key management")
		fmt.Fprintln(w, "- /docs/billing.md: Billing and plans")
	})
	mux.HandleFunc("/docs/keys.md", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "# API keys\nRotate keys from the dashboard settings page.")
	})
	mux.HandleFunc("/docs/missing.md", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestDocSearchProducesCandidate(t *testing.T) {
	server := docServer(t)
	completer := &scriptedCompleter{responses: []string{
		"rotate api key",
		fmt.Sprintf(`{"urls": [%q]}`, server.URL+"/docs/keys.md"),
		fmt.Sprintf(`{"answer_text": "Rotate keys from settings.", "confidence": 0.82, "reasoning": "documented", "sources": [%q]}`, server.URL+"/docs/keys.md"),
	}}
	d := NewDocSearch(completer, DocSearchConfig{Model: "gpt-test", IndexURL: server.URL + "/llms.txt"})
	trace := pipeline.NewTrace()

	cand, err := d.Attempt(context.Background(), "how do I rotate my api key?", trace)
	if err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}
	if cand.Text != "Rotate keys from settings." || cand.Confidence != 0.82 {
		t.Fatalf("unexpected candidate: %+v", cand)
	}
	if len(cand.Sources) != 1 {
		t.Fatalf("expected 1 source, got %v", cand.Sources)
	}

	fetches := 0
	for _, ev := range trace.Events() {
		if ev.CallType == pipeline.CallHTTPFetch && ev.Status == pipeline.StatusCompleted {
			fetches++
		}
	}
	if fetches != 2 {
		t.Fatalf("expected index + page fetch events, got %d", fetches)
	}
	if !strings.Contains(completer.requests[2].User, "Rotate keys from the dashboard") {
		t.Fatal("synthesis prompt must include the fetched page")
	}
}

func TestDocSearchRejectsLowConfidenceSynthesis(t *testing.T) {
	server := docServer(t)
	completer := &scriptedCompleter{responses: []string{
		"rotate api key",
		fmt.Sprintf(`{"urls": [%q]}`, server.URL+"/docs/keys.md"),
		`{"answer_text": "maybe?", "confidence": 0.3, "reasoning": "thin", "sources": []}`,
	}}
	d := NewDocSearch(completer, DocSearchConfig{Model: "gpt-test", IndexURL: server.URL + "/llms.txt"})

	if _, err := d.Attempt(context.Background(), "question", pipeline.NewTrace()); err == nil {
		t.Fatal("expected low-confidence synthesis to be rejected")
	}
}

func TestDocSearchFailsWhenAllPagesUnreachable(t *testing.T) {
	server := docServer(t)
	completer := &scriptedCompleter{responses: []string{
		"rotate api key",
		fmt.Sprintf(`{"urls": [%q]}`, server.URL+"/docs/missing.md"),
	}}
	d := NewDocSearch(completer, DocSearchConfig{Model: "gpt-test", IndexURL: server.URL + "/llms.txt"})

	if _, err := d.Attempt(context.Background(), "question", pipeline.NewTrace()); err == nil {
		t.Fatal("expected failure when no selected page loads")
	}
}

func TestDocSearchCapsSelectedPages(t *testing.T) {
	server := docServer(t)
	page := server.URL + "/docs/keys.md"
	completer := &scriptedCompleter{responses: []string{
		"query",
		fmt.Sprintf(`{"urls": [%q, %q, %q, %q]}`, page, page, page, page),
		`{"answer_text": "answer", "confidence": 0.9, "reasoning": "", "sources": []}`,
	}}
	d := NewDocSearch(completer, DocSearchConfig{Model: "gpt-test", IndexURL: server.URL + "/llms.txt", MaxPages: 2})
	trace := pipeline.NewTrace()

	if _, err := d.Attempt(context.Background(), "question", trace); err != nil {
		t.Fatalf("Attempt failed: %v", err)
	}

	pageFetches := 0
	for _, ev := range trace.Events() {
		if ev.CallType == pipeline.CallHTTPFetch && strings.Contains(ev.Label, "/docs/keys.md") {
			pageFetches++
		}
	}
	if pageFetches != 2 {
		t.Fatalf("expected page fetches capped at 2, got %d", pageFetches)
	}
}
