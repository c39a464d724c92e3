package voice

import (
	"fmt"
	"math"

	"github.com/opensource-finance/harrier/internal/numeric"
)

// auxCheck adds a fixed penalty outside the six analyzers. It does not count
// towards the method total.
type auxCheck struct {
	name string
	run  func(*signal) (float64, string)
}

var auxChecks = []auxCheck{
	{name: "voice_activity", run: voiceActivity},
	{name: "snr", run: signalToNoise},
	{name: "harmonic_ratio", run: harmonicContent},
	{name: "tempo", run: tempoCheck},
}

func voiceActivity(s *signal) (float64, string) {
	rms := rmsFrames(s.x, s.rmsFrameSize())
	if len(rms) == 0 {
		return 0, ""
	}
	threshold := numeric.Percentile(rms, 30)
	var active int
	for _, v := range rms {
		if v > threshold {
			active++
		}
	}
	ratio := float64(active) / float64(len(rms))
	switch {
	case ratio < 0.1:
		return 15, fmt.Sprintf("Very low voice activity (%.1f%%) - may be mostly silence or background noise", ratio*100)
	case ratio > 0.9:
		return 10, fmt.Sprintf("Unnaturally high voice activity (%.1f%%) - may be compressed or processed", ratio*100)
	}
	return 0, fmt.Sprintf("Normal voice activity detected (%.1f%%)", ratio*100)
}

func signalToNoise(s *signal) (float64, string) {
	var power float64
	abs := make([]float64, len(s.x))
	for i, v := range s.x {
		power += v * v
		abs[i] = math.Abs(v)
	}
	power /= float64(len(s.x))

	floor := numeric.Percentile(abs, 10)
	noise := floor * floor
	if noise <= 0 {
		return 0, ""
	}
	snr := 10 * math.Log10(power/noise)
	switch {
	case snr < 10:
		return 12, fmt.Sprintf("Low estimated SNR (%.1f dB) - poor audio quality, possible synthetic processing", snr)
	case snr > 40:
		return 0, fmt.Sprintf("High audio quality (SNR: %.1f dB)", snr)
	}
	return 0, ""
}

// harmonicContent splits the spectrum into tonal and noise-like energy by
// spectral flatness.
func harmonicContent(s *signal) (float64, string) {
	flat := s.spectrum().flatness()
	if len(flat) == 0 {
		return 0, ""
	}
	ratio := 1 - numeric.Mean(flat)
	switch {
	case ratio < 0.3:
		return 15, fmt.Sprintf("Very low harmonic content (%.1f%%) - possible synthesis", ratio*100)
	case ratio > 0.9:
		return 12, fmt.Sprintf("Unnaturally high harmonic content (%.1f%%) - possible synthetic processing", ratio*100)
	}
	return 0, ""
}

func tempoCheck(s *signal) (float64, string) {
	bpm := tempo(onsetEnvelope(s.melDB()), s.sr)
	switch {
	case bpm <= 0:
		return 0, ""
	case bpm < 40:
		return 10, fmt.Sprintf("Unnaturally slow tempo (%.1f BPM) - possible synthetic processing", bpm)
	case bpm > 200:
		return 10, fmt.Sprintf("Unnaturally fast tempo (%.1f BPM) - possible synthetic processing", bpm)
	}
	return 0, ""
}
