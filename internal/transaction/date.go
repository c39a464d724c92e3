package transaction

import (
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

var dateLayouts = []string{"02/01/2006", "02-01-2006", "2006-01-02"}

var timeSuffixes = []string{"", " 15:04", " 15:04:05"}

// ParseDate reads a transaction date in loc. hasTime reports whether the
// value carried a time of day.
func ParseDate(raw string, loc *time.Location) (t time.Time, hasTime bool, err error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, true, nil
	}
	for _, layout := range dateLayouts {
		for _, suffix := range timeSuffixes {
			if t, err := time.ParseInLocation(layout+suffix, raw, loc); err == nil {
				return t, suffix != "", nil
			}
		}
	}
	return time.Time{}, false, fmt.Errorf("unrecognised date %q", raw)
}

// ValidateDate scores a transaction date against now.
func ValidateDate(raw string, now time.Time) *domain.FieldResult {
	res := &domain.FieldResult{Field: domain.FieldDate}

	t, hasTime, err := ParseDate(raw, now.Location())
	if err != nil {
		res.RiskScore = 50
		res.Reason = "Unable to parse date format"
		return res
	}

	var (
		risk     float64
		warnings []string
	)
	future := t.After(now)
	if !hasTime {
		future = t.After(startOfDay(now))
	}
	if future {
		risk += 100
		warnings = append(warnings, "Transaction date is in the future!")
	}
	if now.Sub(t) > 365*24*time.Hour {
		risk += 30
		warnings = append(warnings, "Transaction is over 1 year old")
	}
	if hasTime && absDuration(now.Sub(t)) < time.Minute {
		risk += 20
		warnings = append(warnings, "Transaction timestamp is very recent")
	}

	return finish(res, risk, warnings, 70, "Valid date")
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
