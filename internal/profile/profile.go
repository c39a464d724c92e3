// Package profile owns the sensitivity tiers that parameterize every image
// forensics cutoff, and the process-wide active profile.
package profile

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/opensource-finance/harrier/internal/domain"
)

var screenshotFeatures = domain.ScreenshotFeatures{
	CommonAspectRatios: []float64{
		16.0 / 9.0, 9.0 / 16.0, 19.5 / 9.0, 20.0 / 9.0, 18.5 / 9.0,
		4.0 / 3.0, 3.0 / 4.0, 21.0 / 9.0, 18.0 / 9.0,
	},
	RatioTolerance:         0.03,
	MinMobileShortSide:     400,
	MinMobileLongSide:      800,
	MinWidth:               300,
	MinHeight:              500,
	AuthenticityAdjustment: 20,
}

var genuineAdjustments = domain.GenuineScreenshotAdjustments{
	ForgeryScoreReduction: 25,
	ConfidenceReduction:   0.15,
	EditScoreReduction:    30,
}

var builtin = map[domain.ProfileTier]domain.ThresholdProfile{
	domain.ProfileStrict: {
		Tier:                       domain.ProfileStrict,
		ELAEditedThreshold:         12,
		ELAHighThreshold:           20,
		ELAStdThreshold:            12,
		FrequencyVarianceRatio:     4,
		NoiseStdHigh:               20,
		NoiseStdModerate:           10,
		SharpEdgeHigh:              0.05,
		SharpEdgeModerate:          0.03,
		LowVarianceThreshold:       20,
		BlockVarianceFloor:         30,
		EditScoreHigh:              50,
		EditScoreModerate:          30,
		EditScoreLow:               15,
		ForgeryCleanThreshold:      10,
		ForgerySuspiciousThreshold: 30,
		MissingMetadataScore:       25,
		StrongSignalCutoff:         25,
		AuthenticStrongLimit:       0,
	},
	domain.ProfileBalanced: {
		Tier:                       domain.ProfileBalanced,
		ELAEditedThreshold:         18,
		ELAHighThreshold:           28,
		ELAStdThreshold:            12,
		FrequencyVarianceRatio:     6,
		NoiseStdHigh:               30,
		NoiseStdModerate:           18,
		SharpEdgeHigh:              0.08,
		SharpEdgeModerate:          0.05,
		LowVarianceThreshold:       12,
		BlockVarianceFloor:         30,
		EditScoreHigh:              70,
		EditScoreModerate:          45,
		EditScoreLow:               25,
		ForgeryCleanThreshold:      15,
		ForgerySuspiciousThreshold: 40,
		MissingMetadataScore:       10,
		StrongSignalCutoff:         25,
		AuthenticStrongLimit:       0,
	},
	domain.ProfileLenient: {
		Tier:                       domain.ProfileLenient,
		ELAEditedThreshold:         25,
		ELAHighThreshold:           35,
		ELAStdThreshold:            12,
		FrequencyVarianceRatio:     8,
		NoiseStdHigh:               40,
		NoiseStdModerate:           25,
		SharpEdgeHigh:              0.12,
		SharpEdgeModerate:          0.08,
		LowVarianceThreshold:       8,
		BlockVarianceFloor:         30,
		EditScoreHigh:              90,
		EditScoreModerate:          60,
		EditScoreLow:               35,
		ForgeryCleanThreshold:      20,
		ForgerySuspiciousThreshold: 50,
		MissingMetadataScore:       5,
		StrongSignalCutoff:         25,
		AuthenticStrongLimit:       1,
	},
}

// Tiers returns the built-in tier names, strictest first.
func Tiers() []domain.ProfileTier {
	return []domain.ProfileTier{domain.ProfileStrict, domain.ProfileBalanced, domain.ProfileLenient}
}

// Get returns a copy of a built-in tier. Unknown tiers yield a
// *domain.ConfigurationError; callers decide whether to fall back.
func Get(tier domain.ProfileTier) (domain.ThresholdProfile, error) {
	p, ok := builtin[tier]
	if !ok {
		return domain.ThresholdProfile{}, &domain.ConfigurationError{Tier: string(tier)}
	}
	return clone(p), nil
}

// Resolve returns the requested tier, or balanced when the tier is unknown.
func Resolve(tier domain.ProfileTier) domain.ThresholdProfile {
	p, err := Get(tier)
	if err != nil {
		slog.Warn("unknown profile tier, falling back to balanced",
			"requested", tier,
			"error", err,
		)
		p, _ = Get(domain.ProfileBalanced)
	}
	return p
}

// Validate checks a profile for internal consistency.
func Validate(p domain.ThresholdProfile) error {
	fail := func(format string, args ...any) error {
		return &domain.ConfigurationError{Tier: string(p.Tier), Reason: fmt.Sprintf(format, args...)}
	}

	values := map[string]float64{
		"ela_edited_threshold":         p.ELAEditedThreshold,
		"ela_high_threshold":           p.ELAHighThreshold,
		"ela_std_threshold":            p.ELAStdThreshold,
		"frequency_variance_ratio":     p.FrequencyVarianceRatio,
		"noise_std_high":               p.NoiseStdHigh,
		"noise_std_moderate":           p.NoiseStdModerate,
		"sharp_edge_high":              p.SharpEdgeHigh,
		"sharp_edge_moderate":          p.SharpEdgeModerate,
		"low_variance_threshold":       p.LowVarianceThreshold,
		"block_variance_floor":         p.BlockVarianceFloor,
		"edit_score_high":              p.EditScoreHigh,
		"edit_score_moderate":          p.EditScoreModerate,
		"edit_score_low":               p.EditScoreLow,
		"forgery_clean_threshold":      p.ForgeryCleanThreshold,
		"forgery_suspicious_threshold": p.ForgerySuspiciousThreshold,
		"missing_metadata_score":       p.MissingMetadataScore,
		"strong_signal_cutoff":         p.StrongSignalCutoff,
	}
	for name, v := range values {
		if v < 0 {
			return fail("%s must be non-negative, got %v", name, v)
		}
	}

	if p.ELAEditedThreshold > p.ELAHighThreshold {
		return fail("ela_edited_threshold exceeds ela_high_threshold")
	}
	if p.NoiseStdModerate > p.NoiseStdHigh {
		return fail("noise_std_moderate exceeds noise_std_high")
	}
	if p.SharpEdgeModerate > p.SharpEdgeHigh {
		return fail("sharp_edge_moderate exceeds sharp_edge_high")
	}
	if p.EditScoreLow > p.EditScoreModerate || p.EditScoreModerate > p.EditScoreHigh {
		return fail("edit score cutoffs must satisfy low <= moderate <= high")
	}
	if p.ForgeryCleanThreshold > p.ForgerySuspiciousThreshold {
		return fail("forgery_clean_threshold exceeds forgery_suspicious_threshold")
	}
	if p.StrongSignalCutoff == 0 {
		return fail("strong_signal_cutoff must be positive")
	}
	if p.AuthenticStrongLimit < 0 {
		return fail("authentic_strong_limit must be non-negative")
	}
	if len(p.Screenshot.CommonAspectRatios) == 0 {
		return fail("screenshot.common_aspect_ratios is empty")
	}
	return nil
}

// orderedField is a threshold whose value moves monotonically across the
// tiers. Loosening fields grow from strict to lenient; the others shrink.
type orderedField struct {
	name      string
	get       func(domain.ThresholdProfile) float64
	loosening bool
}

var orderedFields = []orderedField{
	{"ela_edited_threshold", func(p domain.ThresholdProfile) float64 { return p.ELAEditedThreshold }, true},
	{"ela_high_threshold", func(p domain.ThresholdProfile) float64 { return p.ELAHighThreshold }, true},
	{"ela_std_threshold", func(p domain.ThresholdProfile) float64 { return p.ELAStdThreshold }, true},
	{"frequency_variance_ratio", func(p domain.ThresholdProfile) float64 { return p.FrequencyVarianceRatio }, true},
	{"noise_std_high", func(p domain.ThresholdProfile) float64 { return p.NoiseStdHigh }, true},
	{"noise_std_moderate", func(p domain.ThresholdProfile) float64 { return p.NoiseStdModerate }, true},
	{"sharp_edge_high", func(p domain.ThresholdProfile) float64 { return p.SharpEdgeHigh }, true},
	{"sharp_edge_moderate", func(p domain.ThresholdProfile) float64 { return p.SharpEdgeModerate }, true},
	{"edit_score_high", func(p domain.ThresholdProfile) float64 { return p.EditScoreHigh }, true},
	{"edit_score_moderate", func(p domain.ThresholdProfile) float64 { return p.EditScoreModerate }, true},
	{"edit_score_low", func(p domain.ThresholdProfile) float64 { return p.EditScoreLow }, true},
	{"forgery_clean_threshold", func(p domain.ThresholdProfile) float64 { return p.ForgeryCleanThreshold }, true},
	{"forgery_suspicious_threshold", func(p domain.ThresholdProfile) float64 { return p.ForgerySuspiciousThreshold }, true},
	{"missing_metadata_score", func(p domain.ThresholdProfile) float64 { return p.MissingMetadataScore }, false},
	{"low_variance_threshold", func(p domain.ThresholdProfile) float64 { return p.LowVarianceThreshold }, false},
	{"block_variance_floor", func(p domain.ThresholdProfile) float64 { return p.BlockVarianceFloor }, false},
}

// ValidateOrdering checks that a profile derived from a built-in tier still
// sits between that tier's stricter and looser neighbours, field by field.
// Profiles whose tier is not built in are not checked.
func ValidateOrdering(p domain.ThresholdProfile) error {
	tiers := Tiers()
	i := slices.Index(tiers, p.Tier)
	if i < 0 {
		return nil
	}

	for _, f := range orderedFields {
		v := f.get(p)
		if i > 0 {
			stricter := tiers[i-1]
			bound := f.get(builtin[stricter])
			if (f.loosening && v < bound) || (!f.loosening && v > bound) {
				return orderingError(p.Tier, f, v, stricter, bound)
			}
		}
		if i < len(tiers)-1 {
			looser := tiers[i+1]
			bound := f.get(builtin[looser])
			if (f.loosening && v > bound) || (!f.loosening && v < bound) {
				return orderingError(p.Tier, f, v, looser, bound)
			}
		}
	}
	return nil
}

func orderingError(tier domain.ProfileTier, f orderedField, v float64, neighbour domain.ProfileTier, bound float64) error {
	return &domain.ConfigurationError{
		Tier:   string(tier),
		Reason: fmt.Sprintf("%s=%v is out of order with the %s tier (%v)", f.name, v, neighbour, bound),
	}
}

func clone(p domain.ThresholdProfile) domain.ThresholdProfile {
	if p.Screenshot.CommonAspectRatios == nil {
		p.Screenshot = screenshotFeatures
		p.Adjustments = genuineAdjustments
	}
	p.Screenshot.CommonAspectRatios = slices.Clone(p.Screenshot.CommonAspectRatios)
	return p
}
