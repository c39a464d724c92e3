package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"

	imgx "github.com/disintegration/imaging"
)

// HeatmapMaxSide is the long-side limit of encoded heatmaps.
const HeatmapMaxSide = 256

// EncodeHeatmap contrast-stretches p to the full 8-bit range, fits it into
// maxSide pixels and returns it as a base64 PNG.
func EncodeHeatmap(p *Plane, maxSide int) (string, error) {
	if p.Width == 0 || p.Height == 0 {
		return "", fmt.Errorf("empty heatmap")
	}

	lo, hi := p.Pix[0], p.Pix[0]
	for _, v := range p.Pix {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	stretched := NewPlane(p.Width, p.Height)
	if hi > lo {
		for i, v := range p.Pix {
			stretched.Pix[i] = (v - lo) / (hi - lo) * 255
		}
	}

	img := imgx.Fit(stretched.GrayImage(), maxSide, maxSide, imgx.Lanczos)

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("failed to encode heatmap: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
