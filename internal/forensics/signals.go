package forensics

import (
	"image"
	"math"

	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

const (
	blockSize       = 8
	blockRegionSide = 64
	sharpEdgeDelta  = 100
	lowResolution   = 150
)

// Measurements are the raw single-property readings of one image. Scoring
// is a pure function of these and the active profile.
type Measurements struct {
	Width    int
	Height   int
	Metadata imaging.Metadata

	// BlockVariance is the mean RGB variance of 8x8 blocks in the top-left
	// 64x64 region. Valid when HasBlocks is set.
	BlockVariance float64
	HasBlocks     bool

	// RegionNoiseStd is the standard deviation of per-region standard
	// deviations. Valid when HasRegions is set.
	RegionNoiseStd float64
	HasRegions     bool

	// SharpEdgeRatio is the share of horizontal and vertical neighbour
	// differences above 100 grey levels. Valid when HasEdges is set.
	SharpEdgeRatio float64
	HasEdges       bool

	// GlobalStd is the standard deviation over every RGB sample.
	GlobalStd float64
}

// Measure reads every forensic property of img.
func Measure(img *imaging.Image) Measurements {
	m := Measurements{
		Width:    img.Width,
		Height:   img.Height,
		Metadata: imaging.ReadMetadata(img.Raw, img.Format),
	}
	m.BlockVariance, m.HasBlocks = blockVariance(img.Pix)
	m.RegionNoiseStd, m.HasRegions = regionNoise(img.Pix)
	m.SharpEdgeRatio, m.HasEdges = sharpEdgeRatio(img.Pix)
	_, m.GlobalStd = rgbStats(img.Pix, img.Pix.Bounds())
	return m
}

func blockVariance(img *image.NRGBA) (float64, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	if h < blockSize*2 || w < blockSize*2 {
		return 0, false
	}
	var variances []float64
	for y := 0; y < min(h-blockSize, blockRegionSide); y += blockSize {
		for x := 0; x < min(w-blockSize, blockRegionSide); x += blockSize {
			_, std := rgbStats(img, image.Rect(x, y, x+blockSize, y+blockSize))
			variances = append(variances, std*std)
		}
	}
	if len(variances) == 0 {
		return 0, false
	}
	return numeric.Mean(variances), true
}

func regionNoise(img *image.NRGBA) (float64, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	side := min(w, h) / 4
	if side <= 10 {
		return 0, false
	}
	var stds []float64
	for y := 0; y < h-side; y += side {
		for x := 0; x < w-side; x += side {
			_, std := rgbStats(img, image.Rect(x, y, x+side, y+side))
			stds = append(stds, std)
		}
	}
	if len(stds) < 2 {
		return 0, false
	}
	return numeric.PopStdDev(stds), true
}

func sharpEdgeRatio(img *image.NRGBA) (float64, bool) {
	gray := imaging.ChannelMean8(img)
	w, h := gray.Width, gray.Height
	if w <= 2 || h <= 2 {
		return 0, false
	}
	count := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := gray.At(x, y)
			if x+1 < w && math.Abs(gray.At(x+1, y)-v) > sharpEdgeDelta {
				count++
			}
			if y+1 < h && math.Abs(gray.At(x, y+1)-v) > sharpEdgeDelta {
				count++
			}
		}
	}
	return float64(count) / float64(w*h), true
}

// rgbStats returns the mean and population standard deviation of every R, G
// and B sample in r. It streams the samples so large images are never
// copied.
func rgbStats(img *image.NRGBA, r image.Rectangle) (float64, float64) {
	r = r.Intersect(img.Bounds())
	n := float64(r.Dx() * r.Dy() * 3)
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		off := img.PixOffset(r.Min.X, y)
		for x := r.Min.X; x < r.Max.X; x++ {
			for c := 0; c < 3; c++ {
				v := float64(img.Pix[off+c])
				sum += v
				sumSq += v * v
			}
			off += 4
		}
	}
	mean := sum / n
	variance := sumSq/n - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}
