package domain

// GlobalTenantID owns rules that apply to every tenant. On the event bus it
// is the subscription wildcard.
const GlobalTenantID = "*"

// Rule outcomes. A rule's score lands in one of its bands and the band
// names the outcome; RuleOutcomeError marks a rule that could not run.
const (
	RuleOutcomePass   = ".pass"
	RuleOutcomeFail   = ".fail"
	RuleOutcomeReview = ".review"
	RuleOutcomeError  = ".err"
)

// RuleConfig is an operator rule: a CEL expression over transaction facts
// whose bool or numeric result is banded into an outcome. Only .fail and
// .review outcomes add risk, scaled by Weight.
type RuleConfig struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenantId"`
	Name        string     `json:"name" validate:"required"`
	Description string     `json:"description"`
	Version     string     `json:"version"`
	Expression  string     `json:"expression" validate:"required"`
	Bands       []RuleBand `json:"bands" validate:"dive"`
	Weight      float64    `json:"weight" validate:"gte=0,lte=1"`
	Enabled     bool       `json:"enabled"`
}

// RuleBand covers [LowerLimit, UpperLimit). A nil lower limit means 0 and a
// nil upper limit is unbounded.
type RuleBand struct {
	LowerLimit *float64 `json:"lowerLimit,omitempty"`
	UpperLimit *float64 `json:"upperLimit,omitempty"`
	SubRuleRef string   `json:"subRuleRef" validate:"required,oneof=.pass .fail .review"`
	Reason     string   `json:"reason"`
}

// RuleResult is one rule's verdict on one transaction.
type RuleResult struct {
	RuleID     string  `json:"ruleId"`
	TenantID   string  `json:"tenantId"`
	SubjectID  string  `json:"subjectId,omitempty"`
	SubRuleRef string  `json:"subRuleRef"`
	Score      float64 `json:"score"`
	Reason     string  `json:"reason"`
	Weight     float64 `json:"weight"`
	ProcessMs  int64   `json:"processMs"`
}
