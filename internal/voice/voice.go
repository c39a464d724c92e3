// Package voice scores recorded speech for synthetic-voice and
// automated-call patterns. Six analyzers each contribute up to 50 points and
// four auxiliary checks add fixed penalties. A failing analyzer is recorded
// and excluded from the confidence, never fatal.
package voice

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"runtime/debug"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/numeric"
)

// Method names as reported in DetectionMethods.
const (
	MethodSpectral = "Spectral Analysis"
	MethodMFCC     = "MFCC Analysis"
	MethodPitch    = "Pitch Analysis"
	MethodFormant  = "Formant Analysis"
	MethodTemporal = "Temporal Consistency Analysis"
	MethodSpam     = "Spam Call Pattern Detection"
)

const (
	// DefaultMaxDuration bounds the audio analyzed per request.
	DefaultMaxDuration = 60 * time.Second

	lowEnergy      = 0.001
	indicatorLimit = 20
)

// analyzer is one scoring method. quiet is the indicator recorded when the
// method runs and finds nothing.
type analyzer struct {
	key   string
	name  string
	quiet string
	spam  bool
	run   func(*signal) (float64, []string)
}

var analyzers = []analyzer{
	{key: "spectral_score", name: MethodSpectral, quiet: "Spectral analysis: Normal spectral patterns detected", run: spectralScore},
	{key: "mfcc_score", name: MethodMFCC, quiet: "MFCC analysis: Normal voice characteristics detected", run: mfccScore},
	{key: "pitch_score", name: MethodPitch, quiet: "Pitch analysis: Natural pitch variation detected", run: pitchScore},
	{key: "formant_score", name: MethodFormant, quiet: "Formant analysis: Normal vowel characteristics detected", run: formantScore},
	{key: "temporal_score", name: MethodTemporal, quiet: "Temporal analysis: Consistent voice patterns detected", run: temporalScore},
	{key: "spam_score", name: MethodSpam, quiet: "Spam detection: No automated call patterns detected", spam: true, run: spamScore},
}

// Config tunes an Assessor.
type Config struct {
	// MaxDuration caps the decoded audio. Zero uses DefaultMaxDuration.
	MaxDuration time.Duration
}

// MinSamples is the shortest clip that fills one analysis frame.
const MinSamples = frameSize

func unknownVoice(reason string) domain.VoiceAssessment {
	return domain.VoiceAssessment{
		Verdict:          domain.VerdictUnknown,
		DetectionMethods: []string{},
		Indicators:       []string{reason},
		SpamIndicators:   []string{},
	}
}

// Assessor runs voice deepfake detection. It holds no per-request state and
// is safe for concurrent use.
type Assessor struct {
	maxDuration time.Duration
}

// New creates an Assessor.
func New(cfg Config) *Assessor {
	if cfg.MaxDuration <= 0 {
		cfg.MaxDuration = DefaultMaxDuration
	}
	return &Assessor{maxDuration: cfg.MaxDuration}
}

// Assess decodes WAV bytes and scores them. Undecodable audio and clips
// shorter than MinSamples are an InputError.
func (a *Assessor) Assess(ctx context.Context, data []byte) (domain.VoiceAssessment, error) {
	if err := ctx.Err(); err != nil {
		return domain.VoiceAssessment{}, err
	}
	audio, err := Decode(data, a.maxDuration)
	if err != nil {
		return domain.VoiceAssessment{}, err
	}
	if n := len(audio.Samples); n > 0 && n < MinSamples {
		return domain.VoiceAssessment{}, domain.NewInputError("audio",
			fmt.Sprintf("audio too short: %d samples, need at least %d", n, MinSamples), nil)
	}
	return a.AssessAudio(audio), nil
}

// AssessAudio scores an already decoded signal.
func (a *Assessor) AssessAudio(audio Audio) domain.VoiceAssessment {
	if len(audio.Samples) == 0 || audio.SampleRate <= 0 {
		return unknownVoice("Could not load audio file - file may be corrupted or empty")
	}
	if len(audio.Samples) < MinSamples {
		return unknownVoice(fmt.Sprintf("Audio too short to analyze (%d samples)", len(audio.Samples)))
	}

	sig := &signal{x: audio.Samples, sr: audio.SampleRate}
	details := make(map[string]float64, len(analyzers)+5)

	var (
		score      float64
		indicators []string
		spam       []string
		methods    []string
		failed     []string
		spamPoints float64
	)

	energy := numeric.AbsMean(sig.x)
	if energy < lowEnergy {
		score += 5
		indicators = append(indicators, "Very low audio energy - may be silence or corrupted")
	}

	for _, an := range analyzers {
		var (
			s   float64
			ind []string
		)
		if err := guard(an.name, func() { s, ind = an.run(sig) }); err != nil {
			failed = append(failed, an.name+" (failed)")
			indicators = append(indicators, fmt.Sprintf("%s error: %v", an.name, err))
			details[an.key] = 0
			continue
		}
		methods = append(methods, an.name)
		details[an.key] = numeric.Round2(s)
		if an.spam {
			spamPoints = s
		}
		if s <= 0 {
			indicators = append(indicators, an.quiet)
			continue
		}
		score += s
		indicators = append(indicators, ind...)
		if an.spam {
			spam = append(spam, ind...)
		}
	}

	for _, check := range auxChecks {
		var (
			s   float64
			ind string
		)
		if err := guard(check.name, func() { s, ind = check.run(sig) }); err != nil {
			continue
		}
		score += s
		if ind != "" {
			indicators = append(indicators, ind)
		}
	}

	score = min(score, 100)
	confidence := voiceConfidence(score, len(methods))
	verdict, flagged := voiceVerdict(score, spamPoints)

	details["sample_rate"] = float64(audio.SampleRate)
	details["duration"] = numeric.Round2(audio.Duration())
	details["total_methods"] = float64(len(methods))
	details["audio_samples"] = float64(len(sig.x))
	details["audio_energy"] = math.Round(energy*1e6) / 1e6

	slog.Debug("voice assessment complete",
		"verdict", verdict,
		"score", score,
		"confidence", confidence,
		"methods", len(methods),
	)

	return domain.VoiceAssessment{
		IsDeepfake:       flagged,
		Score:            numeric.Round2(score),
		Confidence:       numeric.Round2(confidence),
		Verdict:          verdict,
		DetectionMethods: nonNil(methods),
		FailedMethods:    failed,
		Indicators:       limit(indicators, indicatorLimit),
		SpamIndicators:   nonNil(spam),
		TechnicalDetails: details,
	}
}

// guard runs fn and converts a panic into an AnalyzerFailure.
func guard(name string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.AnalyzerFailure{Analyzer: name, Err: fmt.Errorf("panic: %v", r)}
			slog.Warn("voice analyzer failed",
				"error", err,
				"stack", string(debug.Stack()),
			)
		}
	}()
	fn()
	return nil
}

// voiceConfidence grows with the score and the number of analyzers that
// completed.
func voiceConfidence(score float64, k int) float64 {
	n := float64(k)
	switch {
	case k >= 5:
		return min(0.95, 0.6+score/200+n*0.05)
	case k == 4:
		return min(0.90, 0.5+score/250+n*0.06)
	case k == 3:
		return min(0.85, 0.4+score/300+n*0.05)
	case k == 2:
		return min(0.75, 0.3+score/400)
	default:
		return min(0.6, 0.2+score/500)
	}
}

// voiceVerdict maps the fused score to a verdict. High scores split into
// spam or deepfake by the spam analyzer's own score.
func voiceVerdict(score, spam float64) (string, bool) {
	switch {
	case score >= 50:
		if spam >= 15 {
			return domain.VerdictSpam, true
		}
		return domain.VerdictDeepfake, true
	case score >= 15:
		return domain.VerdictSuspicious, true
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

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return nonNil(s)
}
