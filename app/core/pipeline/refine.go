package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"deskmind/app/core/llm"
)

// Refiner runs a judge-and-fix pass over the draft. It may rewrite the text
// and lower the confidence, never raise it. Any failure keeps the unrefined
// draft.
type Refiner struct {
	llm     llm.Completer
	model   string
	enabled bool
}

func NewRefiner(completer llm.Completer, model string, enabled bool) *Refiner {
	return &Refiner{llm: completer, model: model, enabled: enabled}
}

type refineResult struct {
	RefinedText               string  `json:"refined_text"`
	FinalConfidence           float64 `json:"final_confidence"`
	Reasoning                 string  `json:"reasoning"`
	ResponseAddressesQuestion bool    `json:"response_addresses_question"`
}

func (r *Refiner) Refine(ctx context.Context, question string, resp GeneratedResponse, trace *Trace) GeneratedResponse {
	if !r.enabled {
		trace.Begin("Response refinement", CallLLM, "").Skip("refiner disabled")
		return resp
	}

	step := trace.Begin(fmt.Sprintf("Response refinement (%s)", r.model), CallLLM,
		fmt.Sprintf("confidence=%.2f, draft_len=%d", resp.Confidence, len(resp.Text)))

	out, err := r.llm.Complete(ctx, llm.Request{
		Model:  r.model,
		System: refinerSystemPrompt,
		User:   buildRefinerPrompt(question, resp),
		JSON:   true,
	})
	if err != nil {
		step.Fail(err)
		log.Printf("[Refiner] Refinement failed, keeping draft: %v", err)
		return resp
	}

	payload, err := llm.ExtractJSONObject(out)
	if err != nil {
		step.Fail(err)
		return resp
	}
	var parsed refineResult
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		step.Fail(err)
		return resp
	}

	refined := resp
	if strings.TrimSpace(parsed.RefinedText) != "" {
		refined.Text = parsed.RefinedText
	}
	final := clamp01(parsed.FinalConfidence)
	if final < refined.Confidence {
		refined.Confidence = final
	}
	if !parsed.ResponseAddressesQuestion {
		refined.RequiresHuman = true
	}

	step.Complete(fmt.Sprintf("confidence=%.2f, addresses_question=%v", refined.Confidence, parsed.ResponseAddressesQuestion), map[string]interface{}{
		"model":               r.model,
		"confidence_in":       resp.Confidence,
		"confidence_out":      refined.Confidence,
		"addresses_question":  parsed.ResponseAddressesQuestion,
		"refinement_reasoning": parsed.Reasoning,
	})
	return refined
}

const refinerSystemPrompt = `You are a strict reviewer of customer support replies. Judge whether the draft actually answers the customer's question, fix tone and factual hedging where needed, and re-estimate confidence.

Rules:
- Do not add new facts. You may remove unsupported claims.
- final_confidence must not exceed your honest estimate; when in doubt, lower it.
- Set response_addresses_question to false when the draft dodges or answers a different question.

Return ONLY valid JSON:
{"refined_text": "...", "final_confidence": 0.0, "reasoning": "short justification", "response_addresses_question": true}`

func buildRefinerPrompt(question string, resp GeneratedResponse) string {
	var b strings.Builder
	b.WriteString("--- Customer question ---\n")
	b.WriteString(question + "\n\n")
	b.WriteString("--- Draft reply ---\n")
	b.WriteString(resp.Text + "\n\n")
	b.WriteString(fmt.Sprintf("Draft confidence: %.2f\n", resp.Confidence))
	b.WriteString(fmt.Sprintf("Draft source: %s\n", resp.Source))
	if resp.Reasoning != "" {
		b.WriteString("Draft reasoning: " + resp.Reasoning + "\n")
	}
	return b.String()
}
