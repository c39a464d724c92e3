package voice

import (
	"bytes"
	"fmt"
	"time"

	"github.com/go-audio/wav"
	"github.com/opensource-finance/harrier/internal/domain"
)

// wavPCM is the WAVE format tag for integer PCM.
const wavPCM = 1

// Audio is a decoded mono signal with samples in [-1, 1].
type Audio struct {
	Samples    []float64
	SampleRate int
}

// Duration returns the signal length in seconds.
func (a Audio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Decode reads a PCM WAV file, mixes it down to mono and keeps at most limit
// of audio. A limit of zero keeps everything.
func Decode(data []byte, limit time.Duration) (Audio, error) {
	if len(data) == 0 {
		return Audio{}, domain.NewInputError("audio", "empty audio data", nil)
	}

	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		return Audio{}, domain.NewInputError("audio", "not a valid wav file", nil)
	}
	if d.WavAudioFormat != wavPCM {
		return Audio{}, domain.NewInputError("audio", fmt.Sprintf("unsupported wav encoding %d", d.WavAudioFormat), nil)
	}
	depth := int(d.BitDepth)
	switch depth {
	case 8, 16, 24, 32:
	default:
		return Audio{}, domain.NewInputError("audio", fmt.Sprintf("unsupported bit depth %d", depth), nil)
	}
	chans := int(d.NumChans)
	sr := int(d.SampleRate)
	if chans <= 0 || sr <= 0 {
		return Audio{}, domain.NewInputError("audio", "missing channel count or sample rate", nil)
	}

	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Audio{}, domain.NewInputError("audio", "failed to read pcm data", err)
	}

	n := len(buf.Data) / chans
	if limit > 0 {
		n = min(n, int(limit.Seconds()*float64(sr)))
	}

	// 8-bit PCM is unsigned and centred on 128.
	var offset float64
	if depth == 8 {
		offset = 128
	}
	scale := float64(int64(1) << (depth - 1))

	samples := make([]float64, n)
	for i := range samples {
		var sum float64
		for c := 0; c < chans; c++ {
			sum += (float64(buf.Data[i*chans+c]) - offset) / scale
		}
		samples[i] = clip(sum / float64(chans))
	}
	return Audio{Samples: samples, SampleRate: sr}, nil
}

func clip(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < -1 {
		return -1
	}
	return v
}
