package transaction

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/history"
)

var (
	largeAmount     = decimal.NewFromInt(50000)
	veryLargeAmount = decimal.NewFromInt(100000)
	thousand        = decimal.NewFromInt(1000)

	patternAmounts = []decimal.Decimal{
		decimal.NewFromInt(99999),
		decimal.NewFromInt(99990),
		decimal.NewFromInt(88888),
		decimal.NewFromInt(77777),
	}
)

var currencyMarks = strings.NewReplacer("₹", "", ",", "", " ", "", "inr", "", "rs.", "", "rs", "")

// ParseAmount reads an amount such as "50000", "₹50,000.00" or "Rs 1,200".
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := currencyMarks.Replace(strings.ToLower(strings.TrimSpace(raw)))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	return decimal.NewFromString(cleaned)
}

// ValidateAmount scores a payment amount. hist supplies the payer's usual
// amount; a zero Stats skips the deviation check.
func ValidateAmount(raw string, hist history.Stats) *domain.FieldResult {
	res := &domain.FieldResult{Field: domain.FieldAmount}

	amount, err := ParseAmount(raw)
	if err != nil {
		res.RiskScore = 25
		res.Reason = "Unable to parse amount"
		return res
	}
	if !amount.IsPositive() {
		res.RiskScore = 100
		res.Reason = "Invalid amount (must be positive)"
		return res
	}

	var (
		risk     float64
		warnings []string
	)
	switch {
	case amount.GreaterThanOrEqual(veryLargeAmount):
		risk += 40
		warnings = append(warnings, "Very large amount: ₹"+amount.StringFixed(2))
	case amount.GreaterThanOrEqual(largeAmount):
		risk += 20
		warnings = append(warnings, "Large amount: ₹"+amount.StringFixed(2))
	}
	if amount.GreaterThanOrEqual(thousand) && amount.Mod(thousand).IsZero() {
		risk += 15
		warnings = append(warnings, "Suspiciously round amount")
	}
	for _, p := range patternAmounts {
		if amount.Equal(p) {
			risk += 30
			warnings = append(warnings, "Patterned amount: ₹"+amount.String())
			break
		}
	}
	if hist.Count > 3 && hist.Average > 0 {
		avg := decimal.NewFromFloat(hist.Average)
		if amount.GreaterThan(avg.Mul(decimal.NewFromInt(5))) {
			risk += 30
			warnings = append(warnings, fmt.Sprintf("Amount %sx higher than usual", amount.Div(avg).Truncate(0)))
		}
	}

	return finish(res, risk, warnings, 60, "Valid amount")
}
