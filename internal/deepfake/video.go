package deepfake

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"runtime/debug"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
	"golang.org/x/sync/errgroup"
)

// Video fusion cutoffs.
const (
	frameStdPenaltyAbove = 20
	frameStdPenalty      = 15

	suspiciousFrameScore  = 40
	majorityFrameShare    = 0.7
	majorityFramePenalty  = 20
	maskMajorityShare     = 0.5
	maskMajorityBoost     = 15
	maskDetectedThreshold = 40
	maskWeight            = 0.6

	frameIndicatorLimit = 3
	videoIndicatorLimit = 25
)

type frameOutcome struct {
	ok             bool
	frame          *image.NRGBA
	result         domain.FrameResult
	maskIndicators []string
}

// AssessVideo samples up to MaxFrames frames and scores the clip. Media that
// cannot be turned into frames yields an unknown verdict, not an error.
// Extraction, every frame analysis and the temporal pass each take their own
// pool slot; no slot is held while waiting on another.
func (d *Detector) AssessVideo(ctx context.Context, data []byte) domain.DeepfakeAssessment {
	var src sampled
	err := d.pool.Do(ctx, func() error {
		var err error
		src, err = d.extractFrames(ctx, data)
		return err
	})
	if err != nil {
		slog.Warn("video frame extraction failed", "error", err)
		return unknownVideo(err.Error())
	}
	if len(src.frames) == 0 {
		return unknownVideo("Could not extract frames from video")
	}

	outcomes := make([]frameOutcome, len(src.frames))
	var g errgroup.Group
	g.SetLimit(d.pool.Size())
	for i := range src.frames {
		g.Go(func() error {
			return d.pool.Do(ctx, func() error {
				outcomes[i] = d.analyzeFrame(ctx, src.frames[i], src.indices[i])
				return nil
			})
		})
	}
	_ = g.Wait()

	var (
		scores         []float64
		frames         []*image.NRGBA
		results        []domain.FrameResult
		maskScores     []float64
		maskIndicators []string
	)
	for _, o := range outcomes {
		if !o.ok {
			continue
		}
		scores = append(scores, o.result.Score)
		frames = append(frames, o.frame)
		results = append(results, o.result)
		if o.result.FaceMaskScore > 0 {
			maskScores = append(maskScores, o.result.FaceMaskScore)
			maskIndicators = append(maskIndicators, o.maskIndicators...)
		}
	}
	if len(scores) == 0 {
		return unknownVideo("Could not analyze any video frame")
	}

	var (
		methods    []string
		indicators []string
	)
	mean, std := numeric.MeanStdDev(scores)
	score := mean
	if std > frameStdPenaltyAbove {
		score += frameStdPenalty
		methods = append(methods, MethodTemporal)
		indicators = append(indicators, fmt.Sprintf("High variance in frame analysis (std: %.2f)", std))
	}
	suspicious := 0
	for _, s := range scores {
		if s >= suspiciousFrameScore {
			suspicious++
		}
	}
	if float64(suspicious) >= float64(len(scores))*majorityFrameShare {
		score += majorityFramePenalty
		methods = append(methods, MethodFrameMajority)
		indicators = append(indicators, fmt.Sprintf("%d/%d frames detected as suspicious", suspicious, len(scores)))
	}

	// Face mask
	var (
		mask        float64
		maskMethods []string
	)
	if len(maskScores) > 0 {
		mask = numeric.Mean(maskScores)
		maskMethods = append(maskMethods, MethodFaceMask)
		if float64(len(maskScores)) >= float64(len(frames))*maskMajorityShare {
			mask += maskMajorityBoost
			maskIndicators = append(maskIndicators, fmt.Sprintf("Face mask detected in %d/%d frames", len(maskScores), len(frames)))
		}
	}
	var (
		temporal           float64
		temporalIndicators []string
	)
	if err := d.pool.Do(ctx, func() error {
		temporal, temporalIndicators = TemporalFaceScore(frames, d.faces)
		return nil
	}); err != nil {
		return unknownVideo(err.Error())
	}
	if temporal > 0 {
		mask += temporal
		maskMethods = append(maskMethods, MethodTemporalFace)
		maskIndicators = append(maskIndicators, temporalIndicators...)
	}

	maskDetected := mask >= maskDetectedThreshold
	if maskDetected {
		methods = append(methods, maskMethods...)
		indicators = append(indicators, maskIndicators...)
		score += mask * maskWeight
	}
	for _, r := range results {
		indicators = append(indicators, r.Indicators...)
	}

	score = min(score, 100)
	mask = min(mask, 100)
	confidence := videoConfidence(score, len(results), len(methods))

	verdict, flagged := tierVerdict(max(score, mask))
	if verdict == domain.VerdictDeepfake && maskDetected {
		verdict = domain.VerdictFaceMaskEdit
	}

	return domain.DeepfakeAssessment{
		IsDeepfake:       flagged,
		Score:            numeric.Round2(score),
		Confidence:       numeric.Round2(confidence),
		Verdict:          verdict,
		MediaType:        domain.MediaVideo,
		DetectionMethods: nonNil(methods),
		Indicators:       limit(dedupe(indicators), videoIndicatorLimit),
		FaceMaskDetected: maskDetected,
		FaceMaskScore:    numeric.Round2(mask),
		Frames:           results,
		TechnicalDetails: map[string]float64{
			"num_frames_analyzed": float64(len(results)),
			"avg_frame_score":     numeric.Round2(mean),
			"score_std":           numeric.Round2(std),
			"fps":                 numeric.Round2(src.fps),
			"face_mask_score":     numeric.Round2(mask),
		},
	}
}

// analyzeFrame scores one frame as an image and checks it for a face mask.
// A panic inside the analyzers drops the frame.
func (d *Detector) analyzeFrame(ctx context.Context, frame *image.NRGBA, index int) (out frameOutcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Warn("frame analysis failed",
				"frame", index,
				"error", &domain.AnalyzerFailure{Analyzer: "video_frame", Err: fmt.Errorf("panic: %v", r)},
				"stack", string(debug.Stack()),
			)
			out = frameOutcome{}
		}
	}()

	a := d.assessImage(ctx, imaging.FromImage(frame, ""), false)
	maskScore, maskIndicators := FaceMaskScore(frame, d.faces)

	top := a.Indicators
	if len(top) > frameIndicatorLimit {
		top = top[:frameIndicatorLimit]
	}
	return frameOutcome{
		ok:    true,
		frame: frame,
		result: domain.FrameResult{
			Index:         index,
			Score:         a.Score,
			FaceMaskScore: maskScore,
			Indicators:    top,
		},
		maskIndicators: maskIndicators,
	}
}

// videoConfidence grows with the score, the number of frames analyzed and
// the number of methods that fired.
func videoConfidence(score float64, frames, methods int) float64 {
	switch {
	case frames >= 10 && methods >= 3:
		return min(0.98, 0.5+score/200+float64(frames)/100+float64(methods)*0.05)
	case frames >= 5:
		return min(0.95, 0.5+score/200+float64(frames)/100)
	default:
		return min(0.8, 0.4+score/250)
	}
}

func unknownVideo(reason string) domain.DeepfakeAssessment {
	return domain.DeepfakeAssessment{
		Verdict:          domain.VerdictUnknown,
		MediaType:        domain.MediaVideo,
		DetectionMethods: []string{},
		Indicators:       []string{reason},
	}
}

func dedupe(s []string) []string {
	seen := make(map[string]struct{}, len(s))
	out := make([]string, 0, len(s))
	for _, v := range s {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func limit(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
