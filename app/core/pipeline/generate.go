package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"deskmind/app/core/llm"
	"deskmind/app/pkg/types"
)

// Response source tags.
const (
	SourcePrimary       = "primary"
	SourceDocFallback   = "doc_fallback"
	SourceSkillFallback = "skill_fallback"
)

// GeneratedResponse is the pipeline's draft reply for one message.
type GeneratedResponse struct {
	Text            string   `json:"text"`
	Confidence      float64  `json:"confidence"`
	Reasoning       string   `json:"reasoning"`
	Source          string   `json:"source"`
	Sources         []string `json:"sources,omitempty"`
	RequiresHuman   bool     `json:"requires_human"`
	IsFollowup      bool     `json:"is_followup"`
	FollowupContext string   `json:"followup_context,omitempty"`
	BoostApplied    float64  `json:"boost_applied,omitempty"`
}

// Candidate is a reply offered by a fallback strategy.
type Candidate struct {
	Text       string
	Confidence float64
	Reasoning  string
	Sources    []string
}

// Fallback is one escalation strategy tried when the primary draft is weak.
type Fallback interface {
	Name() string
	Source() string
	Attempt(ctx context.Context, question string, trace *Trace) (Candidate, error)
}

type Generator struct {
	llm       llm.Completer
	model     string
	threshold float64
	fallbacks []Fallback
}

func NewGenerator(completer llm.Completer, model string, threshold float64, fallbacks []Fallback) *Generator {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.8
	}
	return &Generator{
		llm:       completer,
		model:     model,
		threshold: threshold,
		fallbacks: fallbacks,
	}
}

// primaryResult mirrors the JSON object the primary model must return.
type primaryResult struct {
	ResponseText              string  `json:"response_text"`
	Confidence                float64 `json:"confidence"`
	Reasoning                 string  `json:"reasoning"`
	RequiresHumanIntervention bool    `json:"requires_human_intervention"`
	IsFollowup                bool    `json:"is_followup"`
	FollowupContext           string  `json:"followup_context"`
	AnswerableFromContext     bool    `json:"answerable_from_context"`
}

// Generate drafts a reply from the primary model, applies the memory boost,
// and escalates through the fallback chain while the draft stays below the
// routing threshold. A primary failure is fatal to the message run; fallback
// failures are not.
func (g *Generator) Generate(ctx context.Context, msg types.IncomingMessage, mc MemoryContext, trace *Trace) (GeneratedResponse, error) {
	step := trace.Begin(fmt.Sprintf("Primary generation (%s)", g.model), CallLLM,
		fmt.Sprintf("history=%d, catalogue=%d, message_len=%d", len(mc.History), len(mc.Catalogue), len(msg.Body)))

	out, err := g.llm.Complete(ctx, llm.Request{
		Model:  g.model,
		System: generatorSystemPrompt,
		User:   buildGeneratorPrompt(msg, mc),
		JSON:   true,
	})
	if err != nil {
		step.Fail(err)
		return GeneratedResponse{}, fmt.Errorf("primary generation: %w", err)
	}

	parsed, err := parsePrimaryResult(out)
	if err != nil {
		step.Fail(err)
		return GeneratedResponse{}, fmt.Errorf("primary generation parse: %w", err)
	}

	resp := GeneratedResponse{
		Text:            parsed.ResponseText,
		Confidence:      clamp01(parsed.Confidence),
		Reasoning:       parsed.Reasoning,
		Source:          SourcePrimary,
		RequiresHuman:   parsed.RequiresHumanIntervention,
		IsFollowup:      parsed.IsFollowup,
		FollowupContext: parsed.FollowupContext,
	}
	if mc.ConfidenceBoost > 0 {
		boosted := resp.Confidence + mc.ConfidenceBoost
		if boosted > 1 {
			boosted = 1
		}
		resp.BoostApplied = boosted - resp.Confidence
		resp.Confidence = boosted
	}

	step.Complete(fmt.Sprintf("confidence=%.2f, human=%v", resp.Confidence, resp.RequiresHuman), map[string]interface{}{
		"model":                   g.model,
		"confidence":              resp.Confidence,
		"boost_applied":           resp.BoostApplied,
		"requires_human":          resp.RequiresHuman,
		"is_followup":             resp.IsFollowup,
		"answerable_from_context": parsed.AnswerableFromContext,
	})

	return g.escalate(ctx, msg, resp, trace), nil
}

func (g *Generator) escalate(ctx context.Context, msg types.IncomingMessage, resp GeneratedResponse, trace *Trace) GeneratedResponse {
	if resp.RequiresHuman {
		for _, fb := range g.fallbacks {
			trace.Begin(fb.Name(), CallAgent, "").Skip("human intervention requested")
		}
		return resp
	}

	for _, fb := range g.fallbacks {
		if resp.Confidence >= g.threshold {
			trace.Begin(fb.Name(), CallAgent, "").Skip(fmt.Sprintf("confidence %.2f already at threshold", resp.Confidence))
			continue
		}

		step := trace.Begin(fb.Name(), CallAgent, fmt.Sprintf("current_confidence=%.2f", resp.Confidence))
		cand, err := fb.Attempt(ctx, msg.Body, trace)
		if err != nil {
			step.Fail(err)
			log.Printf("[Generator] %s failed for %s: %v", fb.Name(), msg.ConversationID, err)
			continue
		}
		cand.Confidence = clamp01(cand.Confidence)
		step.Complete(fmt.Sprintf("candidate_confidence=%.2f", cand.Confidence), nil)

		// A tie keeps the earlier candidate.
		if cand.Confidence > resp.Confidence {
			resp.Text = cand.Text
			resp.Confidence = cand.Confidence
			resp.Reasoning = cand.Reasoning
			resp.Sources = cand.Sources
			resp.Source = fb.Source()
		}
	}
	return resp
}

func parsePrimaryResult(text string) (primaryResult, error) {
	payload, err := llm.ExtractJSONObject(text)
	if err != nil {
		return primaryResult{}, err
	}
	var parsed primaryResult
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return primaryResult{}, err
	}
	if strings.TrimSpace(parsed.ResponseText) == "" {
		return primaryResult{}, fmt.Errorf("empty response_text")
	}
	return parsed, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

const generatorSystemPrompt = `You are a customer support assistant. Draft a reply to the customer's current message using ONLY the provided context: previous conversation turns, knowledge base entries, and the message itself.

Rules:
- Never invent facts, timelines, prices, or account details that are not in the context.
- If the customer asks for a human, or the question needs account-specific data you do not have, set requires_human_intervention to true and keep the reply a short acknowledgement.
- If the message is a follow-up, answer it only when the specific information is present in the conversation history; otherwise lower your confidence and set answerable_from_context to false.
- Confidence is your honest estimate between 0 and 1 that the reply fully and correctly answers the message.

Return ONLY valid JSON:
{"response_text": "...", "confidence": 0.0, "reasoning": "short justification", "requires_human_intervention": false, "is_followup": false, "followup_context": "", "answerable_from_context": true}`

func buildGeneratorPrompt(msg types.IncomingMessage, mc MemoryContext) string {
	var b strings.Builder
	if strings.TrimSpace(msg.Contact.Name) != "" {
		b.WriteString(fmt.Sprintf("Customer: %s (%s)\n\n", msg.Contact.Name, msg.Contact.Email))
	}
	if len(mc.History) > 0 {
		b.WriteString("--- Previous conversation turns ---\n")
		for _, turn := range mc.History {
			if turn.Role != "" {
				b.WriteString(turn.Role + ": ")
			}
			b.WriteString(turn.Content + "\n")
		}
		b.WriteString("\n")
	}
	if len(mc.Catalogue) > 0 {
		b.WriteString("--- Relevant knowledge base entries ---\n")
		for _, match := range mc.Catalogue {
			b.WriteString(fmt.Sprintf("[relevance: %.2f] %s\n", match.Score, match.Content))
		}
		b.WriteString("\n")
	}
	b.WriteString("--- Customer's current message ---\n")
	b.WriteString(msg.Body)
	return b.String()
}
