// Package forensics decides whether a payment screenshot was tampered with
// (forgery) and, separately, whether it was re-processed (edit).
package forensics

import (
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
)

// Result pairs the forgery and edit assessments of one image.
type Result struct {
	Forgery domain.ForgeryAssessment
	Edit    domain.EditAssessment
}

// Analyze runs both assessments on img under profile p.
func Analyze(img *imaging.Image, p domain.ThresholdProfile) Result {
	fa := AssessForgery(Measure(img), p)
	ea := AssessEdit(MeasureEdit(img), &fa, p)
	return Result{Forgery: fa, Edit: ea}
}
