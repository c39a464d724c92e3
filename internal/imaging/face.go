package imaging

import (
	"fmt"
	"image"
	"os"
	"sort"

	pigo "github.com/esimov/pigo/core"
)

// FaceDetector finds frontal faces in an image.
type FaceDetector interface {
	Detect(img *image.NRGBA) []image.Rectangle
	Available() bool
}

// NopDetector is used when no face cascade is configured.
type NopDetector struct{}

// Detect never finds a face.
func (NopDetector) Detect(*image.NRGBA) []image.Rectangle { return nil }

// Available reports false.
func (NopDetector) Available() bool { return false }

// PigoDetector detects faces with a pigo pixel-intensity cascade.
type PigoDetector struct {
	classifier *pigo.Pigo
	minQuality float32
}

// LoadPigoDetector unpacks a pigo cascade file such as "facefinder".
func LoadPigoDetector(path string) (*PigoDetector, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read face cascade: %w", err)
	}
	return NewPigoDetector(data)
}

// NewPigoDetector unpacks cascade bytes.
func NewPigoDetector(cascade []byte) (*PigoDetector, error) {
	classifier, err := pigo.NewPigo().Unpack(cascade)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack face cascade: %w", err)
	}
	return &PigoDetector{classifier: classifier, minQuality: 5}, nil
}

// Available reports true.
func (d *PigoDetector) Available() bool { return true }

// Detect returns face boxes ordered by detection quality, best first.
func (d *PigoDetector) Detect(img *image.NRGBA) []image.Rectangle {
	b := img.Bounds()
	rows, cols := b.Dy(), b.Dx()
	if rows < 20 || cols < 20 {
		return nil
	}

	params := pigo.CascadeParams{
		MinSize:     max(20, min(rows, cols)/10),
		MaxSize:     min(rows, cols),
		ShiftFactor: 0.1,
		ScaleFactor: 1.1,
		ImageParams: pigo.ImageParams{
			Pixels: pigo.RgbToGrayscale(img),
			Rows:   rows,
			Cols:   cols,
			Dim:    cols,
		},
	}
	dets := d.classifier.RunCascade(params, 0)
	dets = d.classifier.ClusterDetections(dets, 0.2)

	sort.Slice(dets, func(i, j int) bool { return dets[i].Q > dets[j].Q })

	var faces []image.Rectangle
	for _, det := range dets {
		if det.Q < d.minQuality {
			continue
		}
		half := det.Scale / 2
		r := image.Rect(det.Col-half, det.Row-half, det.Col+half, det.Row+half).Intersect(image.Rect(0, 0, cols, rows))
		if !r.Empty() {
			faces = append(faces, r)
		}
	}
	return faces
}
