package imaging

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"math/rand"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func noise(w, h int, seed int64) *image.NRGBA {
	rng := rand.New(rand.NewSource(seed))
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		if i%4 == 3 {
			img.Pix[i] = 255
			continue
		}
		img.Pix[i] = uint8(rng.Intn(256))
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png encode failed: %v", err)
	}
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		t.Fatalf("jpeg encode failed: %v", err)
	}
	return buf.Bytes()
}

// withSoftware inserts an APP1 EXIF segment carrying a Software tag.
func withSoftware(jpg []byte, software string) []byte {
	val := append([]byte(software), 0)
	tiff := new(bytes.Buffer)
	tiff.WriteString("II")
	binary.Write(tiff, binary.LittleEndian, uint16(42))
	binary.Write(tiff, binary.LittleEndian, uint32(8))
	binary.Write(tiff, binary.LittleEndian, uint16(1))
	binary.Write(tiff, binary.LittleEndian, uint16(0x0131))
	binary.Write(tiff, binary.LittleEndian, uint16(2))
	binary.Write(tiff, binary.LittleEndian, uint32(len(val)))
	binary.Write(tiff, binary.LittleEndian, uint32(26))
	binary.Write(tiff, binary.LittleEndian, uint32(0))
	tiff.Write(val)

	payload := append([]byte("Exif\x00\x00"), tiff.Bytes()...)
	seg := []byte{0xFF, 0xE1, 0, 0}
	binary.BigEndian.PutUint16(seg[2:], uint16(len(payload)+2))
	seg = append(seg, payload...)

	out := append([]byte{}, jpg[:2]...)
	out = append(out, seg...)
	return append(out, jpg[2:]...)
}

func TestDecode(t *testing.T) {
	t.Run("PNG", func(t *testing.T) {
		img, err := Decode(encodePNG(t, solid(40, 30, color.NRGBA{10, 20, 30, 255})))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if img.Format != "png" || img.Width != 40 || img.Height != 30 {
			t.Errorf("unexpected image: format=%s %dx%d", img.Format, img.Width, img.Height)
		}
		if img.Raw == nil {
			t.Error("expected raw bytes to be kept")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		_, err := Decode(nil)
		if !errors.Is(err, domain.ErrInput) {
			t.Errorf("expected input error, got %v", err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		_, err := Decode([]byte("definitely not an image"))
		var inputErr *domain.InputError
		if !errors.As(err, &inputErr) {
			t.Fatalf("expected InputError, got %v", err)
		}
		if inputErr.Field != "image" {
			t.Errorf("expected field image, got %q", inputErr.Field)
		}
	})
}

func TestPlanes(t *testing.T) {
	img := solid(4, 2, color.NRGBA{30, 60, 91, 255})

	mean := ChannelMean(img)
	if got := mean.At(0, 0); math.Abs(got-181.0/3) > 1e-9 {
		t.Errorf("ChannelMean = %v", got)
	}
	if got := ChannelMean8(img).At(3, 1); got != 60 {
		t.Errorf("ChannelMean8 = %v, want 60", got)
	}
	if got := Luma(img).At(1, 1); got != math.Round(0.299*30+0.587*60+0.114*91) {
		t.Errorf("Luma = %v", got)
	}
	if got := len(RGBValues(img, image.Rect(0, 0, 2, 2))); got != 12 {
		t.Errorf("RGBValues returned %d samples, want 12", got)
	}

	sub := mean.Sub(image.Rect(1, 0, 10, 1))
	if sub.Width != 3 || sub.Height != 1 {
		t.Errorf("Sub clipped to %dx%d, want 3x1", sub.Width, sub.Height)
	}
}

func TestReadMetadata(t *testing.T) {
	plain := encodeJPEG(t, solid(16, 16, color.NRGBA{100, 100, 100, 255}))

	t.Run("Absent", func(t *testing.T) {
		if md := ReadMetadata(plain, "jpeg"); md.State != MetadataAbsent {
			t.Errorf("expected absent metadata, got %v", md.State)
		}
	})

	t.Run("Software", func(t *testing.T) {
		data := withSoftware(plain, "Adobe Photoshop 25.0")
		if _, err := Decode(data); err != nil {
			t.Fatalf("image with EXIF no longer decodes: %v", err)
		}
		md := ReadMetadata(data, "jpeg")
		if md.State != MetadataPresent {
			t.Fatalf("expected present metadata, got %v", md.State)
		}
		if !md.HasSoftware("photoshop") {
			t.Errorf("expected photoshop in software %q", md.Software)
		}
		if md.HasSoftware("gimp") {
			t.Error("unexpected gimp match")
		}
	})

	t.Run("PNGWithoutChunk", func(t *testing.T) {
		data := encodePNG(t, solid(8, 8, color.NRGBA{1, 2, 3, 255}))
		if md := ReadMetadata(data, "png"); md.State != MetadataAbsent {
			t.Errorf("expected absent metadata, got %v", md.State)
		}
	})
}

func TestErrorLevel(t *testing.T) {
	flat := Luma(solid(32, 32, color.NRGBA{128, 128, 128, 255}))
	diff, err := ErrorLevel(flat, ELAQuality)
	if err != nil {
		t.Fatalf("ErrorLevel failed: %v", err)
	}
	if mean, _ := diff.MeanStd(); mean > 1 {
		t.Errorf("flat image ELA mean = %v, want near 0", mean)
	}

	busy, err := ErrorLevel(Luma(noise(32, 32, 1)), ELAQuality)
	if err != nil {
		t.Fatalf("ErrorLevel failed: %v", err)
	}
	if mean, _ := busy.MeanStd(); mean <= 1 {
		t.Errorf("noise ELA mean = %v, want clearly positive", mean)
	}

	if _, err := ErrorLevel(NewPlane(0, 0), ELAQuality); err == nil {
		t.Error("expected error for empty plane")
	}
}

func TestSpectrum(t *testing.T) {
	p := NewPlane(8, 6)
	for i := range p.Pix {
		p.Pix[i] = 2
	}
	s := Spectrum(p)
	if s.Width != 8 || s.Height != 6 {
		t.Fatalf("unexpected spectrum size %dx%d", s.Width, s.Height)
	}
	// The DC term of a constant plane lands in the centre after the shift.
	if got := s.At(4, 3); math.Abs(got-96) > 1e-9 {
		t.Errorf("DC magnitude = %v, want 96", got)
	}
	for i, v := range s.Pix {
		if i != 3*8+4 && v > 1e-9 {
			t.Fatalf("unexpected energy %v at %d", v, i)
		}
	}
}

func TestEncodeHeatmap(t *testing.T) {
	p := NewPlane(600, 300)
	for i := range p.Pix {
		p.Pix[i] = float64(i % 600)
	}
	enc, err := EncodeHeatmap(p, HeatmapMaxSide)
	if err != nil {
		t.Fatalf("EncodeHeatmap failed: %v", err)
	}
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		t.Fatalf("heatmap is not base64: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("heatmap is not a PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() > HeatmapMaxSide || b.Dy() > HeatmapMaxSide {
		t.Errorf("heatmap %dx%d exceeds %d", b.Dx(), b.Dy(), HeatmapMaxSide)
	}
}

func TestNopDetector(t *testing.T) {
	var d FaceDetector = NopDetector{}
	if d.Available() {
		t.Error("no-op detector must not be available")
	}
	if faces := d.Detect(solid(50, 50, color.NRGBA{})); faces != nil {
		t.Errorf("expected no faces, got %v", faces)
	}
}

func TestGradient(t *testing.T) {
	p := NewPlane(4, 3)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			p.Set(x, y, float64(10*x+y))
		}
	}
	gx, gy := Gradient(p)
	for y := 0; y < 3; y++ {
		for x := 0; x < 4; x++ {
			if gx.At(x, y) != 10 {
				t.Fatalf("gx(%d,%d) = %v, want 10", x, y, gx.At(x, y))
			}
			if gy.At(x, y) != 1 {
				t.Fatalf("gy(%d,%d) = %v, want 1", x, y, gy.At(x, y))
			}
		}
	}

	single := NewPlane(1, 1)
	sx, sy := Gradient(single)
	if sx.At(0, 0) != 0 || sy.At(0, 0) != 0 {
		t.Error("expected zero gradient for a single sample")
	}
}

func TestEdgeDensity(t *testing.T) {
	flat := NewPlane(10, 10)
	if d := EdgeDensity(flat, 50); d != 0 {
		t.Errorf("expected no edges on a flat plane, got %v", d)
	}

	step := NewPlane(10, 10)
	for y := 0; y < 10; y++ {
		for x := 5; x < 10; x++ {
			step.Set(x, y, 200)
		}
	}
	// Only columns 4 and 5 straddle the step.
	if d := EdgeDensity(step, 150); d != 0.2 {
		t.Errorf("expected edge density 0.2, got %v", d)
	}
	if d := EdgeDensity(NewPlane(0, 0), 10); d != 0 {
		t.Errorf("expected 0 for empty plane, got %v", d)
	}
}
