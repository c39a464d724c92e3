package rules

import (
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opensource-finance/harrier/internal/domain"
)

// toScore maps a rule's output to a number: true is 1, false is 0.
func toScore(val ref.Val) float64 {
	switch v := val.(type) {
	case types.Bool:
		if v {
			return 1
		}
	case types.Double:
		return float64(v)
	case types.Int:
		return float64(v)
	}
	return 0
}

// matchBand returns the first band containing score. Lower limits are
// inclusive and default to 0; upper limits are exclusive and nil means
// unbounded. With no match the rule passes.
func matchBand(score float64, bands []domain.RuleBand) (outcome, reason string) {
	for _, b := range bands {
		if b.LowerLimit != nil && score < *b.LowerLimit || b.LowerLimit == nil && score < 0 {
			continue
		}
		if b.UpperLimit != nil && score >= *b.UpperLimit {
			continue
		}
		return b.SubRuleRef, b.Reason
	}
	return domain.RuleOutcomePass, "no matching band"
}

// RiskContribution converts rule results to added risk points. A fail band
// adds weight × 100 × score and a review band half of that. Reasons of the
// contributing rules are returned in result order.
func RiskContribution(results []domain.RuleResult) (float64, []string) {
	var (
		risk    float64
		reasons []string
	)
	for _, r := range results {
		factor := 0.0
		switch r.SubRuleRef {
		case domain.RuleOutcomeFail:
			factor = 1
		case domain.RuleOutcomeReview:
			factor = 0.5
		}
		points := r.Weight * 100 * r.Score * factor
		if points <= 0 {
			continue
		}
		risk += points
		if r.Reason != "" {
			reasons = append(reasons, r.Reason)
		} else {
			reasons = append(reasons, "rule "+r.RuleID+" matched")
		}
	}
	return risk, reasons
}
