// Package capability resolves the optional analyzer backends once at startup
// and reports which of them are present.
package capability

import (
	"log/slog"
	"os/exec"

	"github.com/opensource-finance/harrier/internal/deepfake"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
)

// Flags reports which optional analyzers are available.
type Flags struct {
	// Vision is true when a face cascade was loaded.
	Vision bool `json:"vision"`

	// Classifier is true when a learned classifier endpoint is configured.
	Classifier bool `json:"classifier"`

	// Video is true when ffmpeg was found. Animated GIF is always supported.
	Video bool `json:"video"`

	// Audio is always true: WAV decoding is built in.
	Audio bool `json:"audio"`
}

// Set holds the resolved strategies together with their flags.
type Set struct {
	Flags      Flags
	Faces      imaging.FaceDetector
	Classifier deepfake.Classifier
	FFmpegPath string
}

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// Resolve builds the strategy set from configuration. A missing optional
// backend is logged and replaced by its no-op strategy.
func Resolve(cfg domain.EngineConfig) Set {
	set := Set{
		Faces: imaging.NopDetector{},
		Flags: Flags{Audio: true},
	}

	if cfg.FaceCascadePath != "" {
		det, err := imaging.LoadPigoDetector(cfg.FaceCascadePath)
		if err != nil {
			slog.Warn("face detection unavailable",
				"path", cfg.FaceCascadePath,
				"error", err,
			)
		} else {
			set.Faces = det
			set.Flags.Vision = true
		}
	}

	if cfg.ClassifierURL != "" {
		set.Classifier = deepfake.NewHTTPClassifier(cfg.ClassifierURL, cfg.ClassifierTimeout)
		set.Flags.Classifier = true
	}

	ffmpeg := cfg.FFmpegPath
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if path, err := lookPath(ffmpeg); err == nil {
		set.FFmpegPath = path
		set.Flags.Video = true
	} else {
		slog.Info("ffmpeg not found, video limited to animated GIF", "ffmpeg", ffmpeg)
	}

	slog.Info("capabilities resolved",
		"vision", set.Flags.Vision,
		"classifier", set.Flags.Classifier,
		"video", set.Flags.Video,
		"audio", set.Flags.Audio,
	)

	return set
}
