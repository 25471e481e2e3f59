package pipeline

import "testing"

func TestDecide(t *testing.T) {
	cases := []struct {
		name       string
		confidence float64
		human      bool
		want       string
	}{
		{"above threshold", 0.95, false, DecisionAutoSent},
		{"exactly at threshold", 0.80, false, DecisionAutoSent},
		{"just below threshold", 0.79, false, DecisionPendingReview},
		{"zero confidence", 0, false, DecisionPendingReview},
		{"human overrides high confidence", 0.99, true, DecisionPendingReview},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := GeneratedResponse{Confidence: tc.confidence, RequiresHuman: tc.human}
			d := Decide(resp, 0.80)
			if d.Decision != tc.want {
				t.Fatalf("confidence=%v human=%v: got %q, want %q", tc.confidence, tc.human, d.Decision, tc.want)
			}
			if d.Threshold != 0.80 || d.Confidence != tc.confidence {
				t.Fatalf("decision must echo inputs: %+v", d)
			}
			if d.Reason == "" {
				t.Fatal("expected a reason")
			}
		})
	}
}

func TestDecideHumanReason(t *testing.T) {
	d := Decide(GeneratedResponse{Confidence: 0.9, RequiresHuman: true}, 0.8)
	if d.Reason != "human_intervention_requested" {
		t.Fatalf("unexpected reason: %q", d.Reason)
	}
}
