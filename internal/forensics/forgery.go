package forensics

import (
	"fmt"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

const (
	baseForgeryConfidence = 0.4

	authenticScoreCeiling       = 8
	authenticConfidenceCeiling  = 0.30
	minForgeryConfidence        = 0.15
	minScreenshotConfidence     = 0.05
	screenshotConfidencePenalty = 0.10

	blockVarianceFloor = 30
)

var editingSoftware = []string{"photoshop", "gimp", "lightroom", "pixlr", "affinity", "snapseed"}

// tally accumulates forensic signals for one assessment.
type tally struct {
	score      float64
	confidence float64
	reasons    []string
	signals    []domain.ForensicSignal
	strong     int
	cutoff     float64
}

// add records a signal. A signal is strong when flagged so by its check or
// when its score reaches the profile's strong cutoff.
func (t *tally) add(name string, score, confidence float64, strong bool, reason string) {
	strong = strong || score >= t.cutoff
	t.score += score
	t.confidence += confidence
	t.reasons = append(t.reasons, reason)
	t.signals = append(t.signals, domain.ForensicSignal{
		Name:   name,
		Score:  score,
		Reason: reason,
		Strong: strong,
	})
	if strong {
		t.strong++
	}
}

// AssessForgery scores a set of measurements under profile p.
func AssessForgery(m Measurements, p domain.ThresholdProfile) domain.ForgeryAssessment {
	shot := ClassifyScreenshot(m.Width, m.Height, p.Screenshot)
	t := &tally{confidence: baseForgeryConfidence, cutoff: p.StrongSignalCutoff}

	// Metadata
	switch m.Metadata.State {
	case imaging.MetadataAbsent:
		if shot.IsTypicalScreenshot {
			t.add("metadata", 2, 0, false, "No EXIF metadata (normal for screenshots)")
		} else {
			strong := p.MissingMetadataScore >= 20
			conf := 0.0
			if strong {
				conf = 0.10
			}
			t.add("metadata", p.MissingMetadataScore, conf, strong, "Missing EXIF metadata")
		}
	case imaging.MetadataUnreadable:
		if !shot.IsTypicalScreenshot {
			t.add("metadata", 5, 0, false, "Unable to read metadata")
		}
	case imaging.MetadataPresent:
		if m.Metadata.HasSoftware(editingSoftware...) {
			t.add("editing_software", 35, 0.25, true, fmt.Sprintf("Editing software detected: %s", m.Metadata.Software))
		}
	}

	// Compression blocks
	if m.HasBlocks && m.BlockVariance < floorOr(p.BlockVarianceFloor, blockVarianceFloor) && !shot.IsTypicalScreenshot {
		t.add("compression", 20, 0.12, true, "Suspicious compression patterns detected")
	}

	// Regional noise
	if m.HasRegions {
		switch {
		case m.RegionNoiseStd > p.NoiseStdHigh:
			t.add("noise", 25, 0.15, true, fmt.Sprintf("Inconsistent noise levels (σ=%.1f)", m.RegionNoiseStd))
		case m.RegionNoiseStd > p.NoiseStdModerate:
			t.add("noise", 12, 0.08, false, "Moderate noise inconsistency")
		}
	}

	// Edge sharpness
	if m.HasEdges {
		switch {
		case m.SharpEdgeRatio > p.SharpEdgeHigh:
			t.add("edges", 30, 0.18, true, fmt.Sprintf("Unusual sharp edges (%.1f%%)", m.SharpEdgeRatio*100))
		case m.SharpEdgeRatio > p.SharpEdgeModerate:
			t.add("edges", 15, 0.08, false, "Moderate edge anomalies")
		}
	}

	// Global variance
	if m.GlobalStd < p.LowVarianceThreshold {
		t.add("low_variance", 20, 0.12, true, fmt.Sprintf("Low variance (σ=%.1f)", m.GlobalStd))
	}

	// Resolution
	if m.Width < lowResolution || m.Height < lowResolution {
		t.add("low_resolution", 20, 0.12, true, "Very low resolution")
	}

	if shot.IsTypicalScreenshot {
		adj := p.Screenshot.AuthenticityAdjustment
		if t.score > 0 {
			t.score = max(0, t.score-adj)
			t.reasons = append(t.reasons, fmt.Sprintf("Native screenshot detected (-%.0f forgery score)", adj))
		}
		t.confidence = max(minScreenshotConfidence, t.confidence-screenshotConfidencePenalty)
	}

	shot.StrongIndicatorCount = t.strong
	shot.AuthenticCandidate = shot.IsTypicalScreenshot && t.strong <= p.AuthenticStrongLimit
	if shot.AuthenticCandidate {
		t.reasons = append(t.reasons, "Authentic native screenshot - no manipulation detected")
		t.score = min(t.score, authenticScoreCeiling)
		t.confidence = min(t.confidence, authenticConfidenceCeiling)
	}

	fa := domain.ForgeryAssessment{
		ForgeryScore: t.score,
		Confidence:   t.confidence,
		Reasons:      t.reasons,
		Signals:      t.signals,
		Screenshot:   shot,
	}
	finalizeForgery(&fa, p)
	return fa
}

// finalizeForgery clamps the score and confidence and derives the verdict.
func finalizeForgery(fa *domain.ForgeryAssessment, p domain.ThresholdProfile) {
	fa.ForgeryScore = numeric.Clamp(fa.ForgeryScore, 0, 100)
	fa.Confidence = numeric.Clamp(fa.Confidence, minForgeryConfidence, 1)
	if fa.Screenshot.AuthenticCandidate {
		fa.Confidence = min(fa.Confidence, authenticConfidenceCeiling)
	}
	fa.Verdict = ForgeryVerdict(fa.ForgeryScore, p)
}

// ForgeryVerdict maps a forgery score to clean, suspicious or tampered.
func ForgeryVerdict(score float64, p domain.ThresholdProfile) string {
	switch {
	case score < p.ForgeryCleanThreshold:
		return domain.ForgeryClean
	case score < p.ForgerySuspiciousThreshold:
		return domain.ForgerySuspicious
	default:
		return domain.ForgeryTampered
	}
}

func floorOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}
