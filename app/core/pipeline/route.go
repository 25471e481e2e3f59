package pipeline

import "fmt"

// Routing decisions.
const (
	DecisionAutoSent      = "auto_sent"
	DecisionPendingReview = "pending_review"
)

type RoutingDecision struct {
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
	Reason     string  `json:"reason"`
}

// Decide routes a draft by comparing its confidence against the threshold.
// A draft exactly at the threshold auto-sends. A request for human
// intervention always holds the draft for review.
func Decide(resp GeneratedResponse, threshold float64) RoutingDecision {
	d := RoutingDecision{
		Confidence: resp.Confidence,
		Threshold:  threshold,
	}
	switch {
	case resp.RequiresHuman:
		d.Decision = DecisionPendingReview
		d.Reason = "human_intervention_requested"
	case resp.Confidence >= threshold:
		d.Decision = DecisionAutoSent
		d.Reason = fmt.Sprintf("confidence %.2f >= threshold %.2f", resp.Confidence, threshold)
	default:
		d.Decision = DecisionPendingReview
		d.Reason = fmt.Sprintf("confidence %.2f < threshold %.2f", resp.Confidence, threshold)
	}
	return d
}
