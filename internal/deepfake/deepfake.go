// Package deepfake scores images and video for synthetic or face-swapped
// content. Images go through four rule-based methods and an optional learned
// classifier. Video is sampled into frames, each frame is scored as an
// image, and face-mask and temporal analysis run across the frames.
package deepfake

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
	"github.com/opensource-finance/harrier/internal/worker"
)

const (
	classifierWeight = 0.4

	// classifierAgreement is the distance between the classifier score and
	// the average rule score under which the two are considered to agree.
	classifierAgreement = 20
)

// Config selects the optional backends of a Detector.
type Config struct {
	// Faces detects faces. Nil means no vision capability.
	Faces imaging.FaceDetector

	// Classifier is the learned model. Nil disables it.
	Classifier Classifier

	// FFmpegPath extracts frames from non-GIF containers. Empty limits
	// video support to animated GIF.
	FFmpegPath string

	// Pool bounds frame extraction and frame analysis. Share the pool that
	// image and voice work runs on so video cannot crowd them out. Nil
	// creates a private pool of GOMAXPROCS slots.
	Pool *worker.Pool
}

// Detector runs deepfake detection. It is safe for concurrent use.
type Detector struct {
	faces      imaging.FaceDetector
	classifier Classifier
	ffmpeg     string
	pool       *worker.Pool
}

// New creates a Detector.
func New(cfg Config) *Detector {
	faces := cfg.Faces
	if faces == nil {
		faces = imaging.NopDetector{}
	}
	pool := cfg.Pool
	if pool == nil {
		pool = worker.NewPool(0)
	}
	return &Detector{
		faces:      faces,
		classifier: cfg.Classifier,
		ffmpeg:     cfg.FFmpegPath,
		pool:       pool,
	}
}

// AssessImage scores a single image.
func (d *Detector) AssessImage(ctx context.Context, img *imaging.Image) domain.DeepfakeAssessment {
	return d.assessImage(ctx, img, true)
}

func (d *Detector) assessImage(ctx context.Context, img *imaging.Image, explain bool) domain.DeepfakeAssessment {
	gray := imaging.Luma(img.Pix)

	ela, elaDiff := scoreELA(gray)
	methods := []methodScore{
		ela,
		scoreFrequency(gray),
		scoreFaces(gray, d.faces.Detect(img.Pix), d.faces.Available()),
		scoreMetadata(img),
	}

	var (
		ruleSum    float64
		names      []string
		indicators []string
	)
	for _, m := range methods {
		if m.counted && m.score > 0 {
			ruleSum += m.score
			names = append(names, m.name)
		}
		indicators = append(indicators, m.indicators...)
	}
	score := ruleSum

	var (
		pred          *Prediction
		cnnScore      float64
		cnnConfidence float64
	)
	if d.classifier != nil {
		p, err := d.classifier.Classify(ctx, img.Pix)
		if err != nil {
			slog.Warn("deepfake classifier failed, using rule-based score only",
				"error", &domain.AnalyzerFailure{Analyzer: keyClassifier, Err: err},
			)
		} else {
			pred = &p
			cnnScore = p.Probability * 100
			cnnConfidence = math.Abs(p.Probability-0.5) * 2
			score = cnnScore*classifierWeight + ruleSum*(1-classifierWeight)
			names = append(names, MethodClassifier)
			indicators = append(indicators, fmt.Sprintf("AI Model Prediction: %.1f%% probability of deepfake", cnnScore))
		}
	}

	score = min(score, 100)
	confidence := imageConfidence(score, len(names))
	if pred != nil && math.Abs(cnnScore-ruleSum/4) < classifierAgreement {
		confidence = min(0.99, confidence+0.05)
	}

	verdict, flagged := tierVerdict(score)
	out := domain.DeepfakeAssessment{
		IsDeepfake:       flagged,
		Score:            numeric.Round2(score),
		Confidence:       numeric.Round2(confidence),
		Verdict:          verdict,
		MediaType:        domain.MediaImage,
		DetectionMethods: nonNil(names),
		Indicators:       nonNil(indicators),
		TechnicalDetails: map[string]float64{
			"ela_score":             methods[0].score,
			"frequency_score":       methods[1].score,
			"face_score":            methods[2].score,
			"metadata_score":        methods[3].score,
			"classifier_score":      numeric.Round2(cnnScore),
			"classifier_confidence": numeric.Round2(cnnConfidence),
			"total_methods":         float64(len(names)),
		},
	}
	if explain {
		out.Explainability = explainImage(methods, elaDiff, pred, score)
	}
	return out
}

// imageConfidence grows with the score and the number of methods that fired.
func imageConfidence(score float64, n int) float64 {
	switch {
	case n >= 4:
		return min(0.98, 0.5+score/200+float64(n)*0.08)
	case n == 3:
		return min(0.95, 0.5+score/200+float64(n)*0.1)
	case n == 2:
		return min(0.85, 0.5+score/250)
	default:
		return min(0.7, 0.5+score/300)
	}
}

// tierVerdict maps a score to the 60/40/20 verdict tiers.
func tierVerdict(score float64) (string, bool) {
	switch {
	case score >= 60:
		return domain.VerdictDeepfake, true
	case score >= 40:
		return domain.VerdictSuspicious, true
	case score >= 20:
		return domain.VerdictSuspicious, false
	default:
		return domain.VerdictReal, false
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
