package voice

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// STFT and cepstral parameters.
const (
	frameSize = 2048
	hopSize   = 512

	numMels   = 128
	numMFCC   = 13
	topDB     = 80
	powerAmin = 1e-10

	rolloffShare = 0.85

	minPitchHz  = 60
	maxPitchHz  = 500
	minPitchCor = 0.3
)

// spectrogram is the magnitude STFT of a signal, one row of frameSize/2+1
// bins per centred frame.
type spectrogram struct {
	rows  [][]float64
	freqs []float64
	sr    int
}

func hann(n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n))
	}
	return w
}

// padded surrounds x with n samples on each side, either zeros or copies of
// the edge samples.
func padded(x []float64, n int, edge bool) []float64 {
	out := make([]float64, len(x)+2*n)
	copy(out[n:], x)
	if edge && len(x) > 0 {
		for i := 0; i < n; i++ {
			out[i] = x[0]
			out[len(out)-1-i] = x[len(x)-1]
		}
	}
	return out
}

// framed calls fn for each centred window of n samples, hop samples apart.
// The frame slice is only valid during the call.
func framed(x []float64, n, hop int, edge bool, fn func(frame []float64)) {
	p := padded(x, n/2, edge)
	if len(p) < n {
		return
	}
	for start := 0; start+n <= len(p); start += hop {
		fn(p[start : start+n])
	}
}

func stft(x []float64, sr int) *spectrogram {
	s := &spectrogram{freqs: make([]float64, frameSize/2+1), sr: sr}
	for k := range s.freqs {
		s.freqs[k] = float64(k) * float64(sr) / frameSize
	}

	fft := fourier.NewFFT(frameSize)
	win := hann(frameSize)
	buf := make([]float64, frameSize)
	coeff := make([]complex128, frameSize/2+1)
	framed(x, frameSize, hopSize, false, func(frame []float64) {
		for i, v := range frame {
			buf[i] = v * win[i]
		}
		coeff = fft.Coefficients(coeff, buf)
		row := make([]float64, len(coeff))
		for k, c := range coeff {
			row[k] = cmplx.Abs(c)
		}
		s.rows = append(s.rows, row)
	})
	return s
}

// centroids returns the magnitude-weighted mean frequency of each frame.
func (s *spectrogram) centroids() []float64 {
	out := make([]float64, len(s.rows))
	for t, row := range s.rows {
		var sum, weighted float64
		for k, m := range row {
			sum += m
			weighted += m * s.freqs[k]
		}
		if sum > 0 {
			out[t] = weighted / sum
		}
	}
	return out
}

// bandwidths returns the magnitude-weighted spread around each centroid.
func (s *spectrogram) bandwidths(centroids []float64) []float64 {
	out := make([]float64, len(s.rows))
	for t, row := range s.rows {
		var sum, spread float64
		for k, m := range row {
			d := s.freqs[k] - centroids[t]
			sum += m
			spread += m * d * d
		}
		if sum > 0 {
			out[t] = math.Sqrt(spread / sum)
		}
	}
	return out
}

// rolloffs returns, per frame, the lowest frequency below which share of the
// magnitude lies.
func (s *spectrogram) rolloffs(share float64) []float64 {
	out := make([]float64, len(s.rows))
	for t, row := range s.rows {
		var total float64
		for _, m := range row {
			total += m
		}
		threshold := share * total
		var cum float64
		for k, m := range row {
			cum += m
			if cum >= threshold {
				out[t] = s.freqs[k]
				break
			}
		}
	}
	return out
}

// flatness returns the spectral flatness of each frame's power spectrum,
// 0 for a pure tone and near 1 for white noise.
func (s *spectrogram) flatness() []float64 {
	out := make([]float64, len(s.rows))
	for t, row := range s.rows {
		var logSum, sum float64
		for _, m := range row {
			p := max(m*m, powerAmin)
			logSum += math.Log(p)
			sum += p
		}
		n := float64(len(row))
		out[t] = math.Exp(logSum/n) / (sum / n)
	}
	return out
}

// zeroCrossingRates returns the share of sign changes in each edge-padded
// frame of x.
func zeroCrossingRates(x []float64) []float64 {
	var out []float64
	framed(x, frameSize, hopSize, true, func(frame []float64) {
		var crossings int
		for i := 1; i < len(frame); i++ {
			if math.Signbit(frame[i]) != math.Signbit(frame[i-1]) {
				crossings++
			}
		}
		out = append(out, float64(crossings)/float64(len(frame)))
	})
	return out
}

// rmsFrames returns the RMS energy of zero-padded frames of n samples.
func rmsFrames(x []float64, n int) []float64 {
	var out []float64
	framed(x, max(n, 1), hopSize, false, func(frame []float64) {
		var sum float64
		for _, v := range frame {
			sum += v * v
		}
		out = append(out, math.Sqrt(sum/float64(len(frame))))
	})
	return out
}

func hzToMel(f float64) float64 {
	const (
		spacing = 200.0 / 3
		logHz   = 1000.0
		logMel  = logHz / spacing
	)
	if f < logHz {
		return f / spacing
	}
	return logMel + math.Log(f/logHz)/(math.Log(6.4)/27)
}

func melToHz(m float64) float64 {
	const (
		spacing = 200.0 / 3
		logHz   = 1000.0
		logMel  = logHz / spacing
	)
	if m < logMel {
		return m * spacing
	}
	return logHz * math.Exp((math.Log(6.4)/27)*(m-logMel))
}

// melFilter is one triangular filter stored as its non-zero bins.
type melFilter struct {
	start   int
	weights []float64
}

// melFilterbank builds area-normalised triangular filters on the Slaney mel
// scale between 0 Hz and Nyquist.
func melFilterbank(sr, n int) []melFilter {
	bins := frameSize/2 + 1
	fftFreqs := make([]float64, bins)
	for k := range fftFreqs {
		fftFreqs[k] = float64(k) * float64(sr) / frameSize
	}

	top := hzToMel(float64(sr) / 2)
	edges := make([]float64, n+2)
	for i := range edges {
		edges[i] = melToHz(top * float64(i) / float64(n+1))
	}

	filters := make([]melFilter, n)
	for i := range filters {
		lo, mid, hi := edges[i], edges[i+1], edges[i+2]
		norm := 2 / (hi - lo)
		f := melFilter{start: -1}
		for k, freq := range fftFreqs {
			lower := (freq - lo) / (mid - lo)
			upper := (hi - freq) / (hi - mid)
			w := max(0, min(lower, upper))
			if w <= 0 {
				if f.start >= 0 {
					break
				}
				continue
			}
			if f.start < 0 {
				f.start = k
			}
			f.weights = append(f.weights, w*norm)
		}
		if f.start < 0 {
			f.start = 0
		}
		filters[i] = f
	}
	return filters
}

// melDB returns the mel power spectrogram in decibels, numMels rows per
// frame, floored at topDB below its peak.
func (s *spectrogram) melDB() [][]float64 {
	filters := melFilterbank(s.sr, numMels)
	out := make([][]float64, len(s.rows))
	peak := math.Inf(-1)
	for t, row := range s.rows {
		mel := make([]float64, numMels)
		for i, f := range filters {
			var e float64
			for j, w := range f.weights {
				m := row[f.start+j]
				e += w * m * m
			}
			mel[i] = 10 * math.Log10(max(e, powerAmin))
			peak = max(peak, mel[i])
		}
		out[t] = mel
	}
	floor := peak - topDB
	for _, mel := range out {
		for i, v := range mel {
			mel[i] = max(v, floor)
		}
	}
	return out
}

// dctBasis returns the first k rows of the orthonormal DCT-II matrix of
// size n.
func dctBasis(k, n int) [][]float64 {
	basis := make([][]float64, k)
	for i := range basis {
		scale := math.Sqrt(2 / float64(n))
		if i == 0 {
			scale = math.Sqrt(1 / float64(n))
		}
		row := make([]float64, n)
		for j := range row {
			row[j] = scale * math.Cos(math.Pi*float64(i)*float64(2*j+1)/float64(2*n))
		}
		basis[i] = row
	}
	return basis
}

// mfcc returns numMFCC coefficient tracks, one value per frame.
func mfcc(melDB [][]float64) [][]float64 {
	basis := dctBasis(numMFCC, numMels)
	out := make([][]float64, numMFCC)
	for c := range out {
		out[c] = make([]float64, len(melDB))
	}
	for t, mel := range melDB {
		for c, row := range basis {
			var v float64
			for j, b := range row {
				v += b * mel[j]
			}
			out[c][t] = v
		}
	}
	return out
}

// pitchTrack estimates the fundamental of each voiced frame from its
// normalised autocorrelation. Frames without a peak of at least minPitchCor
// inside the 60-500 Hz lag range are skipped.
func pitchTrack(x []float64, sr int) []float64 {
	minLag := int(math.Floor(float64(sr) / maxPitchHz))
	maxLag := min(int(math.Ceil(float64(sr)/minPitchHz)), frameSize-2)
	if minLag < 1 || maxLag-minLag < 2 {
		return nil
	}

	fft := fourier.NewFFT(2 * frameSize)
	buf := make([]float64, 2*frameSize)
	coeff := make([]complex128, frameSize+1)
	corr := make([]float64, 2*frameSize)

	var pitches []float64
	framed(x, frameSize, hopSize, false, func(frame []float64) {
		copy(buf, frame)
		clear(buf[frameSize:])
		coeff = fft.Coefficients(coeff, buf)
		for k, c := range coeff {
			coeff[k] = complex(real(c)*real(c)+imag(c)*imag(c), 0)
		}
		corr = fft.Sequence(corr, coeff)
		if corr[0] <= 1e-9 {
			return
		}

		best := minLag
		for lag := minLag + 1; lag <= maxLag; lag++ {
			if corr[lag] > corr[best] {
				best = lag
			}
		}
		if best == minLag || best == maxLag || corr[best]/corr[0] < minPitchCor {
			return
		}

		a, b, c := corr[best-1], corr[best], corr[best+1]
		lag := float64(best)
		if d := a - 2*b + c; d != 0 {
			lag += 0.5 * (a - c) / d
		}
		pitches = append(pitches, float64(sr)/lag)
	})
	return pitches
}

// peakCount counts local maxima of x at or above height. A flat top counts
// once and the first and last samples are never peaks.
func peakCount(x []float64, height float64) int {
	var n int
	for i := 1; i < len(x)-1; i++ {
		if x[i-1] >= x[i] {
			continue
		}
		ahead := i + 1
		for ahead < len(x)-1 && x[ahead] == x[i] {
			ahead++
		}
		if x[ahead] < x[i] {
			if x[i] >= height {
				n++
			}
			i = ahead - 1
		}
	}
	return n
}

// onsetEnvelope is the mean positive change of the mel spectrum between
// consecutive frames.
func onsetEnvelope(melDB [][]float64) []float64 {
	out := make([]float64, len(melDB))
	for t := 1; t < len(melDB); t++ {
		var sum float64
		for i, v := range melDB[t] {
			sum += max(0, v-melDB[t-1][i])
		}
		out[t] = sum / float64(len(melDB[t]))
	}
	return out
}

// tempo picks the BPM in [30, 300] whose lag maximises the onset
// autocorrelation, weighted towards 120 BPM. It returns 0 when the
// envelope carries no rhythm.
func tempo(onset []float64, sr int) float64 {
	frameRate := float64(sr) / hopSize
	minLag := max(1, int(math.Ceil(60*frameRate/300)))
	maxLag := min(int(math.Floor(60*frameRate/30)), len(onset)-1)
	if maxLag < minLag {
		return 0
	}

	var zero float64
	for _, v := range onset {
		zero += v * v
	}
	if zero == 0 {
		return 0
	}

	var (
		bestBPM   float64
		bestScore float64
	)
	for lag := minLag; lag <= maxLag; lag++ {
		var r float64
		for t := lag; t < len(onset); t++ {
			r += onset[t] * onset[t-lag]
		}
		bpm := 60 * frameRate / float64(lag)
		prior := math.Exp(-0.5 * math.Pow(math.Log2(bpm/120), 2))
		if score := r * prior; score > bestScore {
			bestScore = score
			bestBPM = bpm
		}
	}
	return bestBPM
}
