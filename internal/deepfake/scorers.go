package deepfake

import (
	"fmt"
	"image"
	"strings"

	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

// Detection methods reported in DetectionMethods, and their contribution keys.
const (
	MethodELA        = "Error Level Analysis (ELA)"
	MethodFrequency  = "Frequency Domain Analysis"
	MethodFace       = "Face Consistency Analysis"
	MethodMetadata   = "Metadata Analysis"
	MethodClassifier = "Learned Classifier"

	MethodTemporal      = "Temporal Inconsistency Analysis"
	MethodFrameMajority = "Frame-by-Frame Analysis"
	MethodFaceMask      = "Face Mask Detection"
	MethodTemporalFace  = "Temporal Face Inconsistency"
)

const (
	keyELA        = "error_level_analysis"
	keyFrequency  = "frequency_domain"
	keyFace       = "face_consistency"
	keyMetadata   = "metadata_analysis"
	keyClassifier = "classifier"
)

// methodCap bounds each rule-based image method.
const methodCap = 50

// deepfakeSoftware are EXIF Software values left by face-swap tools.
var deepfakeSoftware = []string{"deepfake", "face swap", "faceswap", "deepfacelab", "fakeapp"}

const faceUnavailable = "Face analysis unavailable (vision primitives not loaded)"

type methodScore struct {
	key        string
	name       string
	score      float64
	indicators []string

	// counted is false when the method could not look at the image at all.
	counted bool
}

func (m *methodScore) add(points float64, format string, args ...any) {
	m.score += points
	m.indicators = append(m.indicators, fmt.Sprintf(format, args...))
}

func (m *methodScore) done() methodScore {
	m.score = min(m.score, methodCap)
	return *m
}

// scoreELA scores recompression error on the luma plane and returns the
// difference plane for the heatmap.
func scoreELA(gray *imaging.Plane) (methodScore, *imaging.Plane) {
	m := methodScore{key: keyELA, name: MethodELA}
	diff, err := imaging.ErrorLevel(gray, imaging.ELAQuality)
	if err != nil {
		return m.done(), nil
	}
	m.counted = true

	mean, std := diff.MeanStd()
	switch {
	case mean > 15:
		m.add(30, "High compression artifacts detected (ELA: %.2f)", mean)
	case mean > 10:
		m.add(15, "Moderate compression artifacts (ELA: %.2f)", mean)
	}
	if std > 8 {
		m.add(20, "Inconsistent compression patterns (std: %.2f)", std)
	}
	return m.done(), diff
}

// scoreFrequency samples the centred magnitude spectrum on a 10x10 grid.
func scoreFrequency(gray *imaging.Plane) methodScore {
	m := methodScore{key: keyFrequency, name: MethodFrequency}
	if gray.Width < 10 || gray.Height < 10 {
		return m.done()
	}
	spec := imaging.Spectrum(gray)
	w, h := spec.Width, spec.Height
	stepX, stepY := w/10, h/10
	if stepX == 0 || stepY == 0 {
		return m.done()
	}
	m.counted = true

	mean := numeric.Mean(spec.Pix)
	grid := 0
	for y := 0; y < h; y += stepY {
		for x := 0; x < w; x += stepX {
			if spec.At(x, y) > mean*2 {
				grid++
			}
		}
	}
	switch {
	case grid > 20:
		m.add(35, "Grid-like frequency artifacts detected (score: %d)", grid)
	case grid > 10:
		m.add(20, "Moderate frequency artifacts (score: %d)", grid)
	}
	if numeric.PopVariance(spec.Pix) > mean*3 {
		m.add(15, "Unnatural frequency distribution detected")
	}
	return m.done()
}

// scoreFaces checks every detected face for asymmetry, skin texture and
// eye-region brightness.
func scoreFaces(gray *imaging.Plane, faces []image.Rectangle, available bool) methodScore {
	m := methodScore{key: keyFace, name: MethodFace}
	if !available {
		m.indicators = append(m.indicators, faceUnavailable)
		return m.done()
	}
	if len(faces) == 0 {
		m.indicators = append(m.indicators, "No face detected in image")
		return m.done()
	}
	m.counted = true

	for _, r := range faces {
		roi := gray.Sub(r)
		w, h := roi.Width, roi.Height
		if w == 0 || h == 0 {
			continue
		}

		if w%2 == 0 {
			half := w / 2
			var sum float64
			for y := 0; y < h; y++ {
				for x := 0; x < half; x++ {
					d := roi.At(x, y) - roi.At(w-1-x, y)
					if d < 0 {
						d = -d
					}
					sum += d
				}
			}
			asym := sum / float64(half*h)
			switch {
			case asym > 30:
				m.add(25, "High facial asymmetry detected (score: %.2f)", asym)
			case asym > 20:
				m.add(15, "Moderate facial asymmetry (score: %.2f)", asym)
			}
		}

		skin := roi.Sub(image.Rect(int(float64(w)*0.3), int(float64(h)*0.3), int(float64(w)*0.7), int(float64(h)*0.7)))
		if len(skin.Pix) > 0 {
			v := numeric.PopVariance(skin.Pix)
			switch {
			case v < 100:
				m.add(20, "Unnaturally smooth skin texture detected")
			case v > 500:
				m.add(15, "Unnaturally rough skin texture detected")
			}
		}

		top := roi.Sub(image.Rect(0, int(float64(h)*0.2), w, int(float64(h)*0.45)))
		bottom := roi.Sub(image.Rect(0, int(float64(h)*0.45), w, int(float64(h)*0.7)))
		if len(top.Pix) > 0 && len(bottom.Pix) > 0 {
			diff := numeric.Mean(top.Pix) - numeric.Mean(bottom.Pix)
			if diff > 40 || diff < -40 {
				m.add(20, "Inconsistent eye region brightness")
			}
		}
	}
	return m.done()
}

// scoreMetadata looks for stripped EXIF, face-swap software tags and
// lossless containers.
func scoreMetadata(img *imaging.Image) methodScore {
	m := methodScore{key: keyMetadata, name: MethodMetadata, counted: true}
	md := imaging.ReadMetadata(img.Raw, img.Format)

	switch md.State {
	case imaging.MetadataAbsent:
		m.add(15, "Missing EXIF metadata (often removed in deepfakes)")
	case imaging.MetadataPresent:
		if md.HasSoftware(deepfakeSoftware...) {
			m.add(50, "Suspicious software detected: %s", md.Software)
		}
	}

	if format := strings.ToUpper(img.Format); format == "PNG" || format == "WEBP" {
		m.add(5, "Image format: %s (common in deepfakes)", format)
	}
	return m.done()
}
