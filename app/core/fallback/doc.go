package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"deskmind/app/core/llm"
	"deskmind/app/core/pipeline"
)

// DocSearch answers weak drafts from the product documentation: rewrite the
// question into a search query, pick pages from the doc index, read them, and
// synthesize an answer with sources.
type DocSearch struct {
	llm           llm.Completer
	model         string
	indexURL      string
	client        *http.Client
	maxPages      int
	maxPageChars  int
	minConfidence float64
}

type DocSearchConfig struct {
	Model         string
	IndexURL      string
	MaxPages      int
	MaxPageChars  int
	MinConfidence float64
}

func NewDocSearch(completer llm.Completer, cfg DocSearchConfig) *DocSearch {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = 15000
	}
	if cfg.MinConfidence <= 0 || cfg.MinConfidence > 1 {
		cfg.MinConfidence = 0.6
	}
	return &DocSearch{
		llm:           completer,
		model:         cfg.Model,
		indexURL:      cfg.IndexURL,
		client:        &http.Client{},
		maxPages:      cfg.MaxPages,
		maxPageChars:  cfg.MaxPageChars,
		minConfidence: cfg.MinConfidence,
	}
}

func (d *DocSearch) Name() string   { return "Documentation search" }
func (d *DocSearch) Source() string { return pipeline.SourceDocFallback }

type pageSelection struct {
	URLs []string `json:"urls"`
}

type synthesisResult struct {
	AnswerText string   `json:"answer_text"`
	Confidence float64  `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
	Sources    []string `json:"sources"`
}

func (d *DocSearch) Attempt(ctx context.Context, question string, trace *pipeline.Trace) (pipeline.Candidate, error) {
	query, err := d.rewriteQuery(ctx, question, trace)
	if err != nil {
		return pipeline.Candidate{}, err
	}

	index, err := fetchText(ctx, d.client, d.indexURL, d.maxPageChars, trace)
	if err != nil {
		return pipeline.Candidate{}, err
	}

	urls, err := d.selectPages(ctx, query, index, trace)
	if err != nil {
		return pipeline.Candidate{}, err
	}
	if len(urls) == 0 {
		return pipeline.Candidate{}, fmt.Errorf("no documentation pages selected")
	}

	var pages strings.Builder
	for _, pageURL := range urls {
		content, err := fetchText(ctx, d.client, pageURL, d.maxPageChars, trace)
		if err != nil {
			continue
		}
		pages.WriteString(fmt.Sprintf("=== %s ===\n%s\n\n", pageURL, content))
	}
	if pages.Len() == 0 {
		return pipeline.Candidate{}, fmt.Errorf("all selected pages failed to load")
	}

	return d.synthesize(ctx, question, pages.String(), trace)
}

func (d *DocSearch) rewriteQuery(ctx context.Context, question string, trace *pipeline.Trace) (string, error) {
	step := trace.Begin("Query rewrite", pipeline.CallLLM, fmt.Sprintf("question_len=%d", len(question)))
	out, err := d.llm.Complete(ctx, llm.Request{
		Model:  d.model,
		System: "Rewrite the customer question into a short documentation search query. Reply with the query only, no punctuation or commentary.",
		User:   question,
	})
	if err != nil {
		step.Fail(err)
		return "", fmt.Errorf("query rewrite: %w", err)
	}
	query := strings.TrimSpace(out)
	if query == "" {
		query = question
	}
	step.Complete(query, nil)
	return query, nil
}

func (d *DocSearch) selectPages(ctx context.Context, query string, index string, trace *pipeline.Trace) ([]string, error) {
	step := trace.Begin("Page selection", pipeline.CallLLM, fmt.Sprintf("index_len=%d", len(index)))
	out, err := d.llm.Complete(ctx, llm.Request{
		Model: d.model,
		System: fmt.Sprintf(`You pick documentation pages. Given a search query and a documentation index, return the most relevant page URLs (at most %d).
Return ONLY valid JSON: {"urls": ["..."]}`, d.maxPages),
		User: fmt.Sprintf("Search query: %s\n\nDocumentation index:\n%s", query, index),
		JSON: true,
	})
	if err != nil {
		step.Fail(err)
		return nil, fmt.Errorf("page selection: %w", err)
	}
	payload, err := llm.ExtractJSONObject(out)
	if err != nil {
		step.Fail(err)
		return nil, fmt.Errorf("page selection parse: %w", err)
	}
	var selection pageSelection
	if err := json.Unmarshal([]byte(payload), &selection); err != nil {
		step.Fail(err)
		return nil, fmt.Errorf("page selection parse: %w", err)
	}
	if len(selection.URLs) > d.maxPages {
		selection.URLs = selection.URLs[:d.maxPages]
	}
	step.Complete(fmt.Sprintf("%d pages", len(selection.URLs)), map[string]interface{}{"urls": selection.URLs})
	return selection.URLs, nil
}

func (d *DocSearch) synthesize(ctx context.Context, question string, pages string, trace *pipeline.Trace) (pipeline.Candidate, error) {
	step := trace.Begin("Answer synthesis", pipeline.CallLLM, fmt.Sprintf("pages_len=%d", len(pages)))
	out, err := d.llm.Complete(ctx, llm.Request{
		Model: d.model,
		System: `Answer the customer question using ONLY the documentation excerpts provided. Cite the page URLs you used in sources. If the excerpts do not answer the question, say so and set a low confidence.
Return ONLY valid JSON: {"answer_text": "...", "confidence": 0.0, "reasoning": "...", "sources": ["..."]}`,
		User: fmt.Sprintf("Question: %s\n\nDocumentation excerpts:\n%s", question, pages),
		JSON: true,
	})
	if err != nil {
		step.Fail(err)
		return pipeline.Candidate{}, fmt.Errorf("answer synthesis: %w", err)
	}
	payload, err := llm.ExtractJSONObject(out)
	if err != nil {
		step.Fail(err)
		return pipeline.Candidate{}, fmt.Errorf("answer synthesis parse: %w", err)
	}
	var synthesis synthesisResult
	if err := json.Unmarshal([]byte(payload), &synthesis); err != nil {
		step.Fail(err)
		return pipeline.Candidate{}, fmt.Errorf("answer synthesis parse: %w", err)
	}
	step.Complete(fmt.Sprintf("confidence=%.2f, sources=%d", synthesis.Confidence, len(synthesis.Sources)), nil)

	if synthesis.Confidence < d.minConfidence {
		return pipeline.Candidate{}, fmt.Errorf("synthesis confidence %.2f below acceptance threshold %.2f", synthesis.Confidence, d.minConfidence)
	}
	return pipeline.Candidate{
		Text:       synthesis.AnswerText,
		Confidence: synthesis.Confidence,
		Reasoning:  synthesis.Reasoning,
		Sources:    synthesis.Sources,
	}, nil
}

func fetchText(ctx context.Context, client *http.Client, rawURL string, maxChars int, trace *pipeline.Trace) (string, error) {
	step := trace.Begin("Fetch "+rawURL, pipeline.CallHTTPFetch, "")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		step.Fail(err)
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		step.Fail(err)
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		err := fmt.Errorf("fetch %s: status %d", rawURL, resp.StatusCode)
		step.Fail(err)
		return "", err
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, int64(maxChars)+1))
	if err != nil {
		step.Fail(err)
		return "", err
	}
	text := string(body)
	truncated := false
	if len(text) > maxChars {
		text = text[:maxChars]
		truncated = true
	}
	step.Complete(fmt.Sprintf("%d chars, truncated=%v", len(text), truncated), nil)
	return text, nil
}
