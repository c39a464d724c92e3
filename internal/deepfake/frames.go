package deepfake

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"

	imgx "github.com/disintegration/imaging"
	"github.com/opensource-finance/harrier/internal/domain"
	"github.com/opensource-finance/harrier/internal/imaging"
)

// Frame sampling limits.
const (
	MaxFrames = 15

	// unknownCountStride is the sampling stride when the frame count of a
	// container is not known up front.
	unknownCountStride = 30
)

// sampled holds the frames picked from a video with their source indices.
type sampled struct {
	frames  []*image.NRGBA
	indices []int
	fps     float64
}

func isGIF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("GIF87a")) || bytes.HasPrefix(data, []byte("GIF89a"))
}

// extractFrames samples frames from an animated GIF in-process, or from any
// other container through ffmpeg when it is configured.
func (d *Detector) extractFrames(ctx context.Context, data []byte) (sampled, error) {
	if len(data) == 0 {
		return sampled{}, domain.NewInputError("video", "empty video data", nil)
	}
	if isGIF(data) {
		return gifFrames(data)
	}
	if d.ffmpeg == "" {
		return sampled{}, domain.NewInputError("video", "unsupported video container", &domain.CapabilityUnavailable{Capability: "video"})
	}
	return ffmpegFrames(ctx, d.ffmpeg, data)
}

// stride returns the sampling step for n frames; n <= 0 means unknown.
func stride(n int) int {
	if n <= 0 {
		return unknownCountStride
	}
	return max(1, n/MaxFrames)
}

// gifFrames composites an animated GIF and samples the rendered frames.
func gifFrames(data []byte) (sampled, error) {
	g, err := gif.DecodeAll(bytes.NewReader(data))
	if err != nil {
		return sampled{}, domain.NewInputError("video", "failed to decode gif", err)
	}
	if len(g.Image) == 0 {
		return sampled{}, domain.NewInputError("video", "gif has no frames", nil)
	}

	bounds := image.Rect(0, 0, g.Config.Width, g.Config.Height)
	if bounds.Empty() {
		bounds = g.Image[0].Bounds()
	}
	if bounds.Dx()*bounds.Dy() > imaging.MaxPixels {
		return sampled{}, domain.NewInputError("video", fmt.Sprintf("frame too large (%dx%d)", bounds.Dx(), bounds.Dy()), nil)
	}

	var out sampled
	step := stride(len(g.Image))
	canvas := image.NewNRGBA(bounds)
	var delay int
	for i, frame := range g.Image {
		var disposal byte
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		if i < len(g.Delay) {
			delay += g.Delay[i]
		}

		var previous *image.NRGBA
		if disposal == gif.DisposalPrevious {
			previous = imgx.Clone(canvas)
		}
		draw.Draw(canvas, frame.Bounds(), frame, frame.Bounds().Min, draw.Over)

		if i%step == 0 && len(out.frames) < MaxFrames {
			out.frames = append(out.frames, imgx.Clone(canvas))
			out.indices = append(out.indices, i)
		}

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, frame.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = previous
		}
	}
	if delay > 0 {
		out.fps = float64(len(g.Image)) * 100 / float64(delay)
	}
	return out, nil
}

// ffmpegFrames writes the video to a scoped temporary directory and has
// ffmpeg emit every unknownCountStride-th frame as PNG.
func ffmpegFrames(ctx context.Context, ffmpeg string, data []byte) (sampled, error) {
	dir, err := os.MkdirTemp("", "harrier-video-*")
	if err != nil {
		return sampled{}, fmt.Errorf("failed to create frame directory: %w", err)
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, "input")
	if err := os.WriteFile(input, data, 0o600); err != nil {
		return sampled{}, fmt.Errorf("failed to write video: %w", err)
	}

	cmd := exec.CommandContext(ctx, ffmpeg,
		"-v", "error",
		"-i", input,
		"-vf", fmt.Sprintf(`select=not(mod(n\,%d))`, unknownCountStride),
		"-vsync", "vfr",
		"-frames:v", strconv.Itoa(MaxFrames),
		filepath.Join(dir, "frame_%03d.png"),
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return sampled{}, domain.NewInputError("video", "could not extract frames", fmt.Errorf("%w: %s", err, bytes.TrimSpace(out)))
	}

	paths, err := filepath.Glob(filepath.Join(dir, "frame_*.png"))
	if err != nil {
		return sampled{}, fmt.Errorf("failed to list frames: %w", err)
	}
	sort.Strings(paths)

	var out sampled
	for i, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return sampled{}, fmt.Errorf("failed to read frame: %w", err)
		}
		if err := checkFrameSize(raw); err != nil {
			return sampled{}, err
		}
		img, err := png.Decode(bytes.NewReader(raw))
		if err != nil {
			return sampled{}, fmt.Errorf("failed to decode frame: %w", err)
		}
		out.frames = append(out.frames, imgx.Clone(img))
		out.indices = append(out.indices, i*unknownCountStride)
	}
	return out, nil
}

// checkFrameSize rejects an encoded PNG frame whose dimensions exceed
// imaging.MaxPixels before any pixel data is allocated.
func checkFrameSize(raw []byte) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to read frame header: %w", err)
	}
	if cfg.Width*cfg.Height > imaging.MaxPixels {
		return domain.NewInputError("video", fmt.Sprintf("frame too large (%dx%d)", cfg.Width, cfg.Height), nil)
	}
	return nil
}
