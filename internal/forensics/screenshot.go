package forensics

import (
	"math"

	"github.com/opensource-finance/harrier/internal/domain"
)

// ratioToleranceScale widens the catalogue tolerance for matching.
const ratioToleranceScale = 1.5

// ClassifyScreenshot reports whether the dimensions look like a native
// device capture. AuthenticCandidate and StrongIndicatorCount are filled in
// later by the forgery assessment.
func ClassifyScreenshot(width, height int, f domain.ScreenshotFeatures) domain.ScreenshotSignature {
	if width <= 0 || height <= 0 {
		return domain.ScreenshotSignature{}
	}

	ratio := float64(width) / float64(height)
	tol := f.RatioTolerance * ratioToleranceScale
	ratioMatch := false
	for _, r := range f.CommonAspectRatios {
		if math.Abs(ratio-r) < tol || math.Abs(1/ratio-r) < tol {
			ratioMatch = true
			break
		}
	}

	mobile := min(width, height) >= f.MinMobileShortSide && max(width, height) >= f.MinMobileLongSide
	sane := width >= f.MinWidth && height >= f.MinHeight

	return domain.ScreenshotSignature{
		IsTypicalScreenshot: ratioMatch || (mobile && sane),
	}
}
