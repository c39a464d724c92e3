package deepfake

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	imgx "github.com/disintegration/imaging"
	"github.com/opensource-finance/harrier/internal/domain"
)

// ClassifierInputSize is the square side images are resized to before they
// are sent to the classifier.
const ClassifierInputSize = 224

// Prediction is the output of a learned deepfake classifier.
type Prediction struct {
	// Probability that the image is synthetic, in [0, 1].
	Probability float64 `json:"probability"`

	// Heatmap is an optional base64 PNG of the regions that drove the prediction.
	Heatmap string `json:"heatmap,omitempty"`
}

// Classifier predicts whether an image is synthetic.
type Classifier interface {
	Classify(ctx context.Context, img *image.NRGBA) (Prediction, error)
}

// HTTPClassifier calls a model-serving endpoint. The request body is
// {"image": <base64 PNG>, "width": 224, "height": 224} and the response is
// a Prediction.
type HTTPClassifier struct {
	rawURL  string
	timeout time.Duration

	once     sync.Once
	endpoint string
	client   *http.Client
	initErr  error
}

// NewHTTPClassifier creates a classifier for the given endpoint. The HTTP
// client is built on first use.
func NewHTTPClassifier(rawURL string, timeout time.Duration) *HTTPClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClassifier{rawURL: rawURL, timeout: timeout}
}

func (c *HTTPClassifier) init() {
	u, err := url.Parse(c.rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		c.initErr = &domain.CapabilityUnavailable{Capability: "classifier"}
		return
	}
	c.endpoint = u.String()
	c.client = &http.Client{Timeout: c.timeout}
}

type classifyRequest struct {
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

// Classify sends img to the endpoint and returns its prediction.
func (c *HTTPClassifier) Classify(ctx context.Context, img *image.NRGBA) (Prediction, error) {
	c.once.Do(c.init)
	if c.initErr != nil {
		return Prediction{}, c.initErr
	}

	small := imgx.Resize(img, ClassifierInputSize, ClassifierInputSize, imgx.Linear)
	var buf bytes.Buffer
	if err := png.Encode(&buf, small); err != nil {
		return Prediction{}, fmt.Errorf("failed to encode classifier input: %w", err)
	}

	body, err := json.Marshal(classifyRequest{
		Image:  base64.StdEncoding.EncodeToString(buf.Bytes()),
		Width:  ClassifierInputSize,
		Height: ClassifierInputSize,
	})
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to marshal classifier request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Prediction{}, fmt.Errorf("failed to create classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return Prediction{}, fmt.Errorf("classifier request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Prediction{}, fmt.Errorf("classifier returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var pred Prediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return Prediction{}, fmt.Errorf("failed to decode classifier response: %w", err)
	}
	if pred.Probability < 0 || pred.Probability > 1 {
		return Prediction{}, fmt.Errorf("classifier probability %v out of range", pred.Probability)
	}
	return pred, nil
}
