package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"deskmind/app/core/llm"
	"deskmind/app/core/pipeline"
)

// SkillAgent is a tool-using retrieval agent. The model iterates over the
// documentation index, reading pages until it can answer or runs out of
// iterations.
type SkillAgent struct {
	llm           llm.Completer
	model         string
	indexURL      string
	client        *http.Client
	maxIterations int
	maxPageChars  int
}

type SkillAgentConfig struct {
	Model         string
	IndexURL      string
	MaxIterations int
	MaxPageChars  int
}

func NewSkillAgent(completer llm.Completer, cfg SkillAgentConfig) *SkillAgent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 4
	}
	if cfg.MaxPageChars <= 0 {
		cfg.MaxPageChars = 15000
	}
	return &SkillAgent{
		llm:           completer,
		model:         cfg.Model,
		indexURL:      cfg.IndexURL,
		client:        &http.Client{},
		maxIterations: cfg.MaxIterations,
		maxPageChars:  cfg.MaxPageChars,
	}
}

func (s *SkillAgent) Name() string   { return "Skill agent" }
func (s *SkillAgent) Source() string { return pipeline.SourceSkillFallback }

type agentAction struct {
	Action     string  `json:"action"` // "read_page" or "answer"
	URL        string  `json:"url"`
	AnswerText string  `json:"answer_text"`
	Confidence float64 `json:"confidence"`
	Reasoning  string  `json:"reasoning"`
}

const skillAgentSystemPrompt = `You are a retrieval agent for customer support. You are given a documentation index and any pages you already read. Each turn, either read one more page or answer the question.

Return ONLY valid JSON, one of:
{"action": "read_page", "url": "..."}
{"action": "answer", "answer_text": "...", "confidence": 0.0, "reasoning": "..."}

Answer as soon as you have enough material. Confidence is between 0 and 1 and must reflect how completely the pages support the answer.`

func (s *SkillAgent) Attempt(ctx context.Context, question string, trace *pipeline.Trace) (pipeline.Candidate, error) {
	index, err := fetchText(ctx, s.client, s.indexURL, s.maxPageChars, trace)
	if err != nil {
		return pipeline.Candidate{}, err
	}

	var (
		read    strings.Builder
		sources []string
	)
	for i := 0; i < s.maxIterations; i++ {
		step := trace.Begin(fmt.Sprintf("Skill agent turn %d", i+1), pipeline.CallLLM, fmt.Sprintf("pages_read=%d", len(sources)))
		out, err := s.llm.Complete(ctx, llm.Request{
			Model:  s.model,
			System: skillAgentSystemPrompt,
			User:   buildAgentPrompt(question, index, read.String()),
			JSON:   true,
		})
		if err != nil {
			step.Fail(err)
			return pipeline.Candidate{}, fmt.Errorf("skill agent turn %d: %w", i+1, err)
		}

		action, err := parseAgentAction(out)
		if err != nil {
			step.Fail(err)
			return pipeline.Candidate{}, fmt.Errorf("skill agent turn %d parse: %w", i+1, err)
		}

		if action.Action == "answer" {
			step.Complete(fmt.Sprintf("answer, confidence=%.2f", action.Confidence), nil)
			return pipeline.Candidate{
				Text:       action.AnswerText,
				Confidence: action.Confidence,
				Reasoning:  action.Reasoning,
				Sources:    sources,
			}, nil
		}

		step.Complete("read_page "+action.URL, nil)
		content, err := fetchText(ctx, s.client, action.URL, s.maxPageChars, trace)
		if err != nil {
			read.WriteString(fmt.Sprintf("=== %s ===\n(page failed to load)\n\n", action.URL))
			continue
		}
		read.WriteString(fmt.Sprintf("=== %s ===\n%s\n\n", action.URL, content))
		sources = append(sources, action.URL)
	}

	return pipeline.Candidate{}, fmt.Errorf("skill agent gave no answer within %d turns", s.maxIterations)
}

func buildAgentPrompt(question string, index string, read string) string {
	var b strings.Builder
	b.WriteString("Question: " + question + "\n\n")
	b.WriteString("Documentation index:\n" + index + "\n\n")
	if read != "" {
		b.WriteString("Pages already read:\n" + read)
	} else {
		b.WriteString("Pages already read: none\n")
	}
	return b.String()
}

func parseAgentAction(text string) (agentAction, error) {
	payload, err := llm.ExtractJSONObject(text)
	if err != nil {
		return agentAction{}, err
	}
	var action agentAction
	if err := json.Unmarshal([]byte(payload), &action); err != nil {
		return agentAction{}, err
	}
	switch action.Action {
	case "read_page":
		if strings.TrimSpace(action.URL) == "" {
			return agentAction{}, fmt.Errorf("read_page without url")
		}
	case "answer":
		if strings.TrimSpace(action.AnswerText) == "" {
			return agentAction{}, fmt.Errorf("answer without answer_text")
		}
	default:
		return agentAction{}, fmt.Errorf("unknown action %q", action.Action)
	}
	return action, nil
}
