package deepfake

import (
	"log/slog"

	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
	"github.com/opensource-finance/harrier/internal/numeric"
)

// explainImage builds the heatmaps and per-method contribution percentages.
func explainImage(methods []methodScore, elaDiff *imaging.Plane, pred *Prediction, score float64) *domain.Explainability {
	ex := &domain.Explainability{MethodContributions: contributions(methods)}

	if elaDiff != nil {
		heatmap, err := imaging.EncodeHeatmap(elaDiff, imaging.HeatmapMaxSide)
		if err != nil {
			slog.Debug("ela heatmap skipped", "error", err)
		} else {
			ex.ELAHeatmap = heatmap
		}
	}

	if pred != nil {
		ex.GradientHeatmap = pred.Heatmap
		share := 0.0
		if score > 0 {
			share = numeric.Clamp(pred.Probability*100*classifierWeight/score*100, 0, 100)
		}
		ex.MethodContributions[keyClassifier] = numeric.Round1(share)
	}
	return ex
}

// contributions returns each rule method's share of the rule total, in
// percent. All shares are zero when no method scored.
func contributions(methods []methodScore) map[string]float64 {
	var total float64
	for _, m := range methods {
		total += m.score
	}
	out := make(map[string]float64, len(methods)+1)
	for _, m := range methods {
		if total > 0 {
			out[m.key] = numeric.Round1(m.score / total * 100)
		} else {
			out[m.key] = 0
		}
	}
	return out
}
