package transaction

import (
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ValidateReference scores a UPI transaction reference number.
func ValidateReference(ref string) *domain.FieldResult {
	ref = strings.TrimSpace(ref)
	digits := digitsOf(ref)
	res := &domain.FieldResult{Field: domain.FieldReference}

	if digits == "" {
		res.RiskScore = 100
		res.Reason = "Transaction ID is empty"
		return res
	}

	var (
		risk     float64
		warnings []string
	)
	if len(digits) != len(ref) {
		risk += 40
		warnings = append(warnings, "Transaction ID contains non-numeric characters")
	}
	switch {
	case len(digits) < 10:
		risk += 50
		warnings = append(warnings, "Transaction ID too short (typical: 12+ digits)")
	case len(digits) > 16:
		risk += 30
		warnings = append(warnings, "Transaction ID too long")
	}

	switch {
	case distinct(digits) <= 2:
		risk += 80
		warnings = append(warnings, "Obvious fake transaction ID: repeated digits")
		res.Definitive = true
	case longestRun(digits) >= 6:
		risk += 80
		warnings = append(warnings, "Obvious fake transaction ID: sequential pattern")
		res.Definitive = true
	case alternating(digits):
		risk += 70
		warnings = append(warnings, "Obvious fake transaction ID: alternating pattern")
		res.Definitive = true
	}

	// Pattern warnings lead the reason when present.
	if res.Definitive {
		last := len(warnings) - 1
		warnings = append([]string{warnings[last]}, warnings[:last]...)
	}
	return finish(res, risk, warnings, 50, "Valid format")
}

// alternating reports whether digits repeat a 2 or 3 digit block end to end.
func alternating(digits string) bool {
	if len(digits) < 6 {
		return false
	}
	for period := 2; period <= 3; period++ {
		repeats := true
		for i := period; i < len(digits); i++ {
			if digits[i] != digits[i-period] {
				repeats = false
				break
			}
		}
		if repeats {
			return true
		}
	}
	return false
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
