package capability

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

func stubLookPath(t *testing.T, fn func(string) (string, error)) {
	t.Helper()
	orig := lookPath
	lookPath = fn
	t.Cleanup(func() { lookPath = orig })
}

func TestResolve(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		stubLookPath(t, func(string) (string, error) { return "", errors.New("not found") })

		set := Resolve(domain.EngineConfig{})
		if set.Flags.Vision || set.Flags.Classifier || set.Flags.Video {
			t.Errorf("expected no optional capabilities, got %+v", set.Flags)
		}
		if !set.Flags.Audio {
			t.Error("audio must always be available")
		}
		if set.Faces == nil || set.Faces.Available() {
			t.Error("expected a no-op face detector")
		}
		if set.Classifier != nil || set.FFmpegPath != "" {
			t.Errorf("unexpected strategies %+v", set)
		}
	})

	t.Run("MissingCascade", func(t *testing.T) {
		stubLookPath(t, func(string) (string, error) { return "", errors.New("not found") })

		set := Resolve(domain.EngineConfig{FaceCascadePath: filepath.Join(t.TempDir(), "missing")})
		if set.Flags.Vision || set.Faces.Available() {
			t.Error("a missing cascade must fall back to the no-op detector")
		}
	})

	t.Run("ClassifierAndFFmpeg", func(t *testing.T) {
		var asked string
		stubLookPath(t, func(name string) (string, error) {
			asked = name
			return "/usr/bin/" + name, nil
		})

		set := Resolve(domain.EngineConfig{
			ClassifierURL:     "http://localhost:9000/predict",
			ClassifierTimeout: time.Second,
			FFmpegPath:        "ffmpeg7",
		})
		if !set.Flags.Classifier || set.Classifier == nil {
			t.Error("expected classifier capability")
		}
		if asked != "ffmpeg7" {
			t.Errorf("expected configured ffmpeg to be looked up, got %q", asked)
		}
		if !set.Flags.Video || set.FFmpegPath != "/usr/bin/ffmpeg7" {
			t.Errorf("expected video capability, got %+v", set)
		}
	})
}
