package transaction

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
)

var upiPattern = regexp.MustCompile(`^[a-z0-9.\-_]{3,}@[a-z]{2,}$`)

var upiBlacklist = map[string]bool{
	"fake@upi":        true,
	"test@paytm":      true,
	"scam@phonepe":    true,
	"fraud@googlepay": true,
	"123456@paytm":    true,
	"tempupi@axis":    true,
	"dummy@upi":       true,
}

// Order matters: the first keyword found is reported.
var upiKeywords = []string{
	"test", "demo", "fake", "dummy", "sample", "example",
	"123456", "111111", "000000",
	"abc", "xyz", "qwerty", "admin", "user", "temp", "trial", "mock",
}

var upiProviders = []string{
	"paytm", "phonepe", "googlepay", "gpay", "bhim", "amazonpay", "mobikwik",
	"freecharge", "ybl", "okaxis", "oksbi", "okhdfcbank", "okicici", "axisbank",
	"ibl", "airtel", "icici", "sbi", "hdfc", "axis", "kotak", "pnb",
}

// SplitUPI normalises a UPI id and returns its username and provider parts.
func SplitUPI(id string) (normalised, username, provider string) {
	normalised = strings.ToLower(strings.TrimSpace(id))
	username, provider, _ = strings.Cut(normalised, "@")
	return normalised, username, provider
}

// ValidateUPI scores a UPI virtual payment address.
func ValidateUPI(id string) *domain.FieldResult {
	upi, username, provider := SplitUPI(id)
	res := &domain.FieldResult{Field: domain.FieldUPIID}

	switch {
	case upi == "":
		res.RiskScore = 100
		res.Reason = "UPI ID is empty"
		return res
	case upiBlacklist[upi]:
		res.RiskScore = 100
		res.Reason = "UPI ID is blacklisted (known fraud)"
		res.Definitive = true
		return res
	case !upiPattern.MatchString(upi):
		res.RiskScore = 90
		res.Reason = "Invalid UPI ID format"
		res.Definitive = true
		return res
	}

	var (
		risk     float64
		warnings []string
	)
	if kw := firstKeyword(username); kw != "" {
		risk += 70
		warnings = append(warnings, fmt.Sprintf("Fake UPI ID detected: contains '%s'", kw))
		res.Definitive = true
	} else {
		digits := isDigits(username)
		if len(username) >= 4 && distinct(username) <= 2 {
			risk += 60
			warnings = append(warnings, "Username is made of repeated characters")
		}
		if digits && longestRun(username) >= 4 {
			risk += 60
			warnings = append(warnings, "Sequential or repeated numbers detected")
		}
		if digits {
			risk += 30
			warnings = append(warnings, "Username is all numbers (suspicious)")
		}
		if len(username) <= 5 && isAlnum(username) {
			risk += 20
			warnings = append(warnings, "Very simple username")
		}
	}

	if knownProvider(provider) {
		if risk > 0 && risk < 30 {
			risk -= 15
		}
	} else {
		risk += 10
		warnings = append(warnings, "Unknown UPI provider: "+provider)
	}

	return finish(res, risk, warnings, 60, "Valid format")
}

func firstKeyword(username string) string {
	for _, kw := range upiKeywords {
		if strings.Contains(username, kw) {
			return kw
		}
	}
	return ""
}

func knownProvider(provider string) bool {
	for _, p := range upiProviders {
		if strings.Contains(provider, p) {
			return true
		}
	}
	return false
}

// finish clamps the risk, applies the validity cutoff and picks the reason.
func finish(res *domain.FieldResult, risk float64, warnings []string, cutoff float64, ok string) *domain.FieldResult {
	res.RiskScore = min(max(risk, 0), 100)
	res.Valid = risk < cutoff
	res.Warnings = warnings
	res.Reason = ok
	if !res.Valid && len(warnings) > 0 {
		res.Reason = warnings[0]
	}
	return res
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isAlnum(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func distinct(s string) int {
	seen := make(map[rune]struct{}, len(s))
	for _, r := range s {
		seen[r] = struct{}{}
	}
	return len(seen)
}

// longestRun returns the longest strictly ascending or descending run of
// consecutive digits, such as 3456 or 987.
func longestRun(digits string) int {
	if digits == "" {
		return 0
	}
	best, up, down := 1, 1, 1
	for i := 1; i < len(digits); i++ {
		d := int(digits[i]) - int(digits[i-1])
		if d == 1 {
			up++
		} else {
			up = 1
		}
		if d == -1 {
			down++
		} else {
			down = 1
		}
		best = max(best, up, down)
	}
	return best
}
