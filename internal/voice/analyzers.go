package voice

import (
	"fmt"
	"math"
	"math/cmplx"

	"github.com/opensource-finance/harrier/internal/numeric"
	"gonum.org/v1/gonum/dsp/fourier"
)

const analyzerCap = 50

// signal carries a decoded recording and the features shared between
// analyzers, computed on first use.
type signal struct {
	x  []float64
	sr int

	spec  *spectrogram
	mel   [][]float64
	bands []float64
}

func (s *signal) spectrum() *spectrogram {
	if s.spec == nil {
		s.spec = stft(s.x, s.sr)
	}
	return s.spec
}

func (s *signal) melDB() [][]float64 {
	if s.mel == nil {
		s.mel = s.spectrum().melDB()
	}
	return s.mel
}

func (s *signal) bandwidths() []float64 {
	if s.bands == nil {
		spec := s.spectrum()
		s.bands = spec.bandwidths(spec.centroids())
	}
	return s.bands
}

// rmsFrameSize is the 25 ms frame used for silence and activity checks.
func (s *signal) rmsFrameSize() int {
	return int(0.025 * float64(s.sr))
}

func spectralScore(s *signal) (float64, []string) {
	var (
		score      float64
		indicators []string
	)
	spec := s.spectrum()

	_, centroidStd := numeric.MeanStdDev(spec.centroids())
	switch {
	case centroidStd < 90:
		score += 35
		indicators = append(indicators, fmt.Sprintf("Unnaturally uniform spectral centroid (std: %.2f Hz) - strong synthetic voice indicator", centroidStd))
	case centroidStd > 550:
		score += 30
		indicators = append(indicators, fmt.Sprintf("Unnaturally variable spectral centroid (std: %.2f Hz) - possible synthesis artifacts", centroidStd))
	case centroidStd < 120:
		score += 15
		indicators = append(indicators, fmt.Sprintf("Moderately uniform spectral centroid (std: %.2f Hz)", centroidStd))
	default:
		indicators = append(indicators, fmt.Sprintf("Normal spectral centroid variation (std: %.2f Hz)", centroidStd))
	}

	rolloffMean, rolloffStd := numeric.MeanStdDev(spec.rolloffs(rolloffShare))
	switch {
	case rolloffStd < 170:
		score += 25
		indicators = append(indicators, fmt.Sprintf("Unnatural spectral rolloff pattern (std: %.2f Hz)", rolloffStd))
	case rolloffStd < 200:
		score += 12
		indicators = append(indicators, fmt.Sprintf("Moderately uniform spectral rolloff (std: %.2f Hz)", rolloffStd))
	case rolloffMean < 1100:
		score += 12
		indicators = append(indicators, fmt.Sprintf("Low spectral rolloff (mean: %.2f Hz) - possible processing or compression", rolloffMean))
	}

	zcrMean, zcrStd := numeric.MeanStdDev(zeroCrossingRates(s.x))
	switch {
	case zcrStd < 0.010:
		score += 30
		indicators = append(indicators, fmt.Sprintf("Unnaturally uniform zero crossing rate (std: %.4f) - robotic pattern", zcrStd))
	case zcrStd < 0.015:
		score += 15
		indicators = append(indicators, fmt.Sprintf("Moderately uniform zero crossing rate (std: %.4f)", zcrStd))
	case zcrMean < 0.012:
		score += 8
		indicators = append(indicators, fmt.Sprintf("Very low zero crossing rate (mean: %.4f)", zcrMean))
	}

	if bandwidthStd := numeric.PopStdDev(s.bandwidths()); bandwidthStd < 200 {
		score += 15
		indicators = append(indicators, fmt.Sprintf("Unnaturally uniform spectral bandwidth (std: %.2f Hz)", bandwidthStd))
	}
	return min(score, analyzerCap), indicators
}

func mfccScore(s *signal) (float64, []string) {
	var (
		score      float64
		indicators []string
	)
	coeffs := mfcc(s.melDB())

	stds := make([]float64, len(coeffs))
	var lowVariance int
	for i, c := range coeffs {
		stds[i] = numeric.PopStdDev(c)
		if numeric.PopVariance(c) < 0.5 {
			lowVariance++
		}
	}

	avgStd := numeric.Mean(stds)
	switch {
	case avgStd < 1.8:
		score += 40
		indicators = append(indicators, fmt.Sprintf("Unnaturally uniform MFCC patterns (avg std: %.2f) - very strong synthetic voice indicator", avgStd))
	case avgStd > 11:
		score += 35
		indicators = append(indicators, fmt.Sprintf("Unnaturally variable MFCC patterns (avg std: %.2f)", avgStd))
	case avgStd < 2.5:
		score += 20
		indicators = append(indicators, fmt.Sprintf("Moderately uniform MFCC patterns (avg std: %.2f)", avgStd))
	default:
		indicators = append(indicators, fmt.Sprintf("Normal MFCC variation (avg std: %.2f)", avgStd))
	}

	// Ordered pairs, so every correlated pair counts twice.
	var correlated int
	for i := range coeffs {
		for j := range coeffs {
			if i != j && math.Abs(numeric.Correlation(coeffs[i], coeffs[j])) > 0.75 {
				correlated++
			}
		}
	}
	if correlated > 8 {
		score += 25
		indicators = append(indicators, fmt.Sprintf("High correlation between MFCC coefficients (%d pairs > 0.75)", correlated))
	}

	if lowVariance > 5 {
		score += 20
		indicators = append(indicators, fmt.Sprintf("Multiple MFCC coefficients with very low variance (%d/%d) - robotic pattern", lowVariance, numMFCC))
	}
	return min(score, analyzerCap), indicators
}

func pitchScore(s *signal) (float64, []string) {
	pitches := pitchTrack(s.x, s.sr)
	if len(pitches) == 0 {
		return 0, []string{"No pitch detected - may be silence, noise, or non-voice audio"}
	}

	var (
		score      float64
		indicators []string
	)
	mean, std := numeric.MeanStdDev(pitches)
	switch {
	case std < 5:
		score += 40
		indicators = append(indicators, fmt.Sprintf("Unnaturally stable pitch (std: %.2f Hz) - very strong robotic voice indicator", std))
	case std > 55:
		score += 30
		indicators = append(indicators, fmt.Sprintf("Unnaturally variable pitch (std: %.2f Hz)", std))
	case std < 8:
		score += 20
		indicators = append(indicators, fmt.Sprintf("Moderately stable pitch (std: %.2f Hz)", std))
	default:
		indicators = append(indicators, fmt.Sprintf("Normal pitch variation (std: %.2f Hz)", std))
	}

	if len(pitches) > 1 {
		var jumps int
		for i := 1; i < len(pitches); i++ {
			if math.Abs(pitches[i]-pitches[i-1]) > 35 {
				jumps++
			}
		}
		diffs := len(pitches) - 1
		ratio := float64(jumps) / float64(diffs)
		switch {
		case ratio > 0.06:
			score += 35
			indicators = append(indicators, fmt.Sprintf("Unnatural pitch jumps detected (%d/%d = %.1f%%)", jumps, diffs, ratio*100))
		case ratio > 0.04:
			score += 15
			indicators = append(indicators, fmt.Sprintf("Moderate pitch jumps detected (%d/%d = %.1f%%)", jumps, diffs, ratio*100))
		}
	}

	lo, hi := pitches[0], pitches[0]
	for _, p := range pitches {
		lo, hi = min(lo, p), max(hi, p)
	}
	switch span := hi - lo; {
	case span < 45:
		score += 25
		indicators = append(indicators, fmt.Sprintf("Unnaturally limited pitch range (%.2f Hz)", span))
	case span < 60:
		score += 12
		indicators = append(indicators, fmt.Sprintf("Moderately limited pitch range (%.2f Hz)", span))
	case span > 280:
		score += 12
		indicators = append(indicators, fmt.Sprintf("Unusually wide pitch range (%.2f Hz)", span))
	}

	if mean < 65 || mean > 380 {
		score += 18
		indicators = append(indicators, fmt.Sprintf("Pitch outside typical human voice range (mean: %.2f Hz)", mean))
	}
	return min(score, analyzerCap), indicators
}

func formantScore(s *signal) (float64, []string) {
	frameLen := int(0.025 * float64(s.sr))
	hop := int(0.010 * float64(s.sr))
	if frameLen < 2 || hop < 1 {
		return 0, nil
	}

	// Bins of a frameLen FFT covering the 300-3500 Hz formant band.
	lo := int(math.Ceil(300 * float64(frameLen) / float64(s.sr)))
	hi := min(int(math.Floor(3500*float64(frameLen)/float64(s.sr))), (frameLen-1)/2)

	fft := fourier.NewFFT(frameLen)
	var counts []float64
	for i := 0; i < min(10, len(s.x)/hop); i++ {
		start := i * hop
		if start+frameLen > len(s.x) || hi < lo {
			continue
		}
		coeff := fft.Coefficients(nil, s.x[start:start+frameLen])
		band := make([]float64, 0, hi-lo+1)
		peak := 0.0
		for k := lo; k <= hi; k++ {
			m := cmplx.Abs(coeff[k])
			band = append(band, m)
			peak = max(peak, m)
		}
		if n := peakCount(band, 0.3*peak); n > 0 {
			counts = append(counts, float64(n))
		}
	}
	if len(counts) < 2 {
		return 0, nil
	}

	switch std := numeric.PopStdDev(counts); {
	case std > 2:
		return 20, []string{fmt.Sprintf("Inconsistent formant patterns (std: %.2f)", std)}
	case std < 0.5:
		return 15, []string{"Unnaturally stable formant patterns"}
	}
	return 0, nil
}

func temporalScore(s *signal) (float64, []string) {
	segLen := s.sr
	segments := 0
	if segLen > 0 {
		segments = len(s.x) / segLen
	}
	if segments < 2 {
		return 0, nil
	}

	var energies, zcrs []float64
	for i := 0; i < min(5, segments); i++ {
		seg := s.x[i*segLen : (i+1)*segLen]
		var e float64
		for _, v := range seg {
			e += v * v
		}
		energies = append(energies, e/float64(len(seg)))
		zcrs = append(zcrs, numeric.Mean(zeroCrossingRates(seg)))
	}

	var (
		score      float64
		indicators []string
	)
	switch std := numeric.PopStdDev(energies); {
	case std < 0.001:
		score += 25
		indicators = append(indicators, "Unnaturally uniform energy across segments")
	case std > 0.1:
		score += 20
		indicators = append(indicators, "Unnaturally variable energy across segments")
	}
	if numeric.PopStdDev(zcrs) < 0.001 {
		score += 20
		indicators = append(indicators, "Unnaturally uniform zero crossing rate across segments")
	}
	return min(score, analyzerCap), indicators
}

func spamScore(s *signal) (float64, []string) {
	var (
		score      float64
		indicators []string
	)

	segLen := 2 * s.sr
	if segLen > 0 && len(s.x)/segLen >= 3 {
		var segments [][]float64
		for i := 0; i < min(5, len(s.x)/segLen); i++ {
			segments = append(segments, s.x[i*segLen:(i+1)*segLen])
		}
		var similarities []float64
		for i := 0; i+1 < len(segments); i++ {
			a, b := segments[i], segments[i+1]
			if numeric.PopStdDev(a) == 0 || numeric.PopStdDev(b) == 0 {
				continue
			}
			similarities = append(similarities, numeric.Correlation(a, b))
		}
		if len(similarities) > 0 {
			if avg := numeric.Mean(similarities); avg > 0.7 {
				score += 30
				indicators = append(indicators, fmt.Sprintf("Highly repetitive audio pattern (similarity: %.2f)", avg))
			}
		}
	}

	if energy := rmsFrames(s.x, s.rmsFrameSize()); len(energy) > 0 {
		threshold := numeric.Percentile(energy, 20)
		var silent int
		for _, e := range energy {
			if e < threshold {
				silent++
			}
		}
		switch ratio := float64(silent) / float64(len(energy)); {
		case ratio > 0.4:
			score += 20
			indicators = append(indicators, fmt.Sprintf("Unnatural silence pattern (%.1f%% silence)", ratio*100))
		case ratio < 0.05:
			score += 25
			indicators = append(indicators, "Unnaturally continuous speech (robotic pattern)")
		}
	}

	if numeric.PopStdDev(s.bandwidths()) < 50 {
		score += 15
		indicators = append(indicators, "Unnaturally uniform spectral bandwidth (possible synthetic generation)")
	}
	return min(score, analyzerCap), indicators
}
