package forensics

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

const (
	screenshotFrequencyScale   = 15.0
	screenshotFrequencyExtreme = 3.0

	authenticEditHighScale     = 1.8
	authenticEditModerateScale = 1.5
	authenticMinIndicators     = 5
	authenticForgeryCeiling    = 3
	authenticForgeryConfidence = 0.20
	authenticEditConfidence    = 0.10

	screenshotLeniency       = 20
	screenshotNotEditedBelow = 15
)

// benignIndicators are indicator phrases that carry no edit evidence.
var benignIndicators = []string{
	"no editing indicators",
	"authentic screenshot",
	"transaction screenshot detected",
}

// EditMeasurements are the recompression and spectral readings of an image.
type EditMeasurements struct {
	ELAMean float64
	ELAStd  float64
	HasELA  bool

	FreqVariance float64
	FreqMean     float64
	HasFreq      bool
}

// MeasureEdit computes error-level and spectrum statistics. A step that
// cannot run leaves its Has flag unset.
func MeasureEdit(img *imaging.Image) EditMeasurements {
	var em EditMeasurements

	if diff, err := imaging.ErrorLevel(imaging.Luma(img.Pix), imaging.ELAQuality); err != nil {
		slog.Debug("error level analysis skipped", "error", err)
	} else {
		em.ELAMean, em.ELAStd = diff.MeanStd()
		em.HasELA = true
	}

	if img.Width >= 2 && img.Height >= 2 {
		spec := imaging.Spectrum(imaging.ChannelMean(img.Pix))
		em.FreqMean = numeric.Mean(spec.Pix)
		em.FreqVariance = numeric.PopVariance(spec.Pix)
		em.HasFreq = true
	}
	return em
}

// AssessEdit produces the edit verdict. When the forgery assessment marks an
// authentic screenshot and the edit evidence is not overwhelming, fa is
// lowered to match.
func AssessEdit(em EditMeasurements, fa *domain.ForgeryAssessment, p domain.ThresholdProfile) domain.EditAssessment {
	shot := fa.Screenshot.IsTypicalScreenshot
	var (
		score      float64
		confidence float64
		indicators []string
	)
	raise := func(c float64) { confidence = max(confidence, c) }

	// Error level
	if em.HasELA {
		switch {
		case em.ELAMean > p.ELAHighThreshold:
			score += 50
			raise(0.85)
			indicators = append(indicators, fmt.Sprintf("High compression artifacts (ELA: %.2f)", em.ELAMean))
		case em.ELAMean > p.ELAEditedThreshold:
			score += 30
			raise(0.68)
			indicators = append(indicators, fmt.Sprintf("Moderate compression artifacts (ELA: %.2f)", em.ELAMean))
		}
		if em.ELAStd > p.ELAStdThreshold {
			score += 22
			raise(0.70)
			indicators = append(indicators, fmt.Sprintf("Inconsistent compression (std: %.2f)", em.ELAStd))
		}
	}

	// Frequency
	if em.HasFreq {
		if shot {
			limit := em.FreqMean * p.FrequencyVarianceRatio * screenshotFrequencyScale * screenshotFrequencyExtreme
			if em.FreqVariance > limit {
				score += 5
				raise(0.40)
				indicators = append(indicators, "Extreme frequency patterns (rare - may be normal for complex UI)")
			}
		} else if em.FreqVariance > em.FreqMean*p.FrequencyVarianceRatio {
			score += 18
			raise(0.62)
			indicators = append(indicators, "Unnatural frequency domain patterns detected")
		}
	}

	// Forgery correlation
	high, moderate := 50.0, 35.0
	if shot {
		high, moderate = 75, 55
	}
	switch {
	case fa.ForgeryScore >= high:
		if shot {
			score += 20
			raise(0.75)
		} else {
			score += 30
			raise(0.78)
		}
		indicators = append(indicators, "High forgery score indicates manipulation")
	case fa.ForgeryScore >= moderate:
		if shot {
			score += 8
			raise(0.55)
		} else {
			score += 15
			raise(0.60)
		}
		indicators = append(indicators, "Moderate forgery indicators detected")
	}

	var edited bool
	switch {
	case score >= p.EditScoreHigh:
		edited = true
		confidence = min(0.96, 0.65+score/200)
	case score >= p.EditScoreModerate:
		edited = true
		confidence = min(0.88, 0.55+score/250)
	case score >= p.EditScoreLow:
		edited = true
		confidence = min(0.75, 0.45+score/300)
	default:
		confidence = max(0.70, 1-fa.ForgeryScore/250)
		if len(indicators) == 0 {
			indicators = append(indicators, "No editing indicators detected - Image appears original")
		}
	}

	if fa.Screenshot.AuthenticCandidate {
		meaningful := meaningfulIndicators(indicators)
		significant := score >= p.EditScoreHigh*authenticEditHighScale ||
			(score >= p.EditScoreModerate*authenticEditModerateScale && len(meaningful) >= authenticMinIndicators)

		if !significant {
			score = max(0, score-2*p.Adjustments.EditScoreReduction)
			fa.ForgeryScore = min(fa.ForgeryScore, authenticForgeryCeiling)
			fa.Confidence = min(fa.Confidence, authenticForgeryConfidence)
			edited = false
			confidence = authenticEditConfidence
			indicators = []string{"Authentic screenshot - no editing detected"}
		} else {
			fa.Reasons = append(fa.Reasons, "Screenshot authenticity boost skipped due to extremely strong edit signals")
			confidence = max(confidence, 0.45)
			slog.Warn("authentic screenshot carries strong edit signals", "edit_score", score)
		}
		finalizeForgery(fa, p)
	} else if shot && score < p.EditScoreModerate {
		score = max(0, score-screenshotLeniency)
		if score < screenshotNotEditedBelow {
			edited = false
			confidence = max(0.15, confidence-0.2)
		}
	}

	return domain.EditAssessment{
		IsEdited:       edited,
		EditScore:      numeric.Clamp(score, 0, 100),
		EditConfidence: numeric.Clamp(confidence, 0, 1),
		EditIndicators: indicators,
	}
}

func meaningfulIndicators(indicators []string) []string {
	var out []string
	for _, ind := range indicators {
		lower := strings.ToLower(ind)
		benign := false
		for _, kw := range benignIndicators {
			if strings.Contains(lower, kw) {
				benign = true
				break
			}
		}
		if !benign {
			out = append(out, ind)
		}
	}
	return out
}
