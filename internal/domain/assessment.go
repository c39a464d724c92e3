package domain

// ForensicSignal is one piece of evidence emitted by an image analyzer.
type ForensicSignal struct {
	Name   string  `json:"name"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason"`
	Strong bool    `json:"strong"`
}

// ScreenshotSignature classifies an image as a native device capture.
type ScreenshotSignature struct {
	IsTypicalScreenshot  bool `json:"isTypicalScreenshot"`
	AuthenticCandidate   bool `json:"authenticCandidate"`
	StrongIndicatorCount int  `json:"strongIndicatorCount"`
}

// Forgery verdicts.
const (
	ForgeryClean      = "clean"
	ForgerySuspicious = "suspicious"
	ForgeryTampered   = "tampered"
)

// ForgeryAssessment is the tamper verdict for one image.
type ForgeryAssessment struct {
	ForgeryScore float64             `json:"forgeryScore"`
	Confidence   float64             `json:"confidence"`
	Verdict      string              `json:"verdict"`
	Reasons      []string            `json:"reasons"`
	Signals      []ForensicSignal    `json:"signals,omitempty"`
	Screenshot   ScreenshotSignature `json:"screenshot"`
}

// EditAssessment is the independent "was this image re-processed" verdict.
type EditAssessment struct {
	IsEdited       bool     `json:"isEdited"`
	EditScore      float64  `json:"editScore"`
	EditConfidence float64  `json:"editConfidence"`
	EditIndicators []string `json:"editIndicators"`
}

// Media types accepted by deepfake detection.
const (
	MediaImage = "image"
	MediaVideo = "video"
)

// Deepfake verdicts for images, video and voice.
const (
	VerdictReal         = "real"
	VerdictSuspicious   = "suspicious"
	VerdictDeepfake     = "deepfake"
	VerdictFaceMaskEdit = "face_mask_edit"
	VerdictSpam         = "spam"
	VerdictUnknown      = "unknown"
)

// Explainability holds visual and numeric explanations for a deepfake score.
type Explainability struct {
	// ELAHeatmap is a base64-encoded PNG of the recompression difference.
	ELAHeatmap string `json:"elaHeatmap,omitempty"`

	// GradientHeatmap is a base64-encoded PNG supplied by the learned classifier.
	GradientHeatmap string `json:"gradientHeatmap,omitempty"`

	// MethodContributions maps detection method to its share of the total score, in percent.
	MethodContributions map[string]float64 `json:"methodContributions,omitempty"`
}

// FrameResult is the per-frame outcome of video analysis.
type FrameResult struct {
	Index         int      `json:"index"`
	Score         float64  `json:"score"`
	FaceMaskScore float64  `json:"faceMaskScore"`
	Indicators    []string `json:"indicators,omitempty"`
}

// DeepfakeAssessment is the synthetic-media verdict for an image or video.
type DeepfakeAssessment struct {
	IsDeepfake       bool               `json:"isDeepfake"`
	Score            float64            `json:"deepfakeScore"`
	Confidence       float64            `json:"confidence"`
	Verdict          string             `json:"verdict"`
	MediaType        string             `json:"mediaType"`
	DetectionMethods []string           `json:"detectionMethods"`
	Indicators       []string           `json:"indicators"`
	Explainability   *Explainability    `json:"explainability,omitempty"`
	FaceMaskDetected bool               `json:"faceMaskDetected"`
	FaceMaskScore    float64            `json:"faceMaskScore"`
	Frames           []FrameResult      `json:"frames,omitempty"`
	TechnicalDetails map[string]float64 `json:"technicalDetails,omitempty"`
}

// VoiceAssessment is the synthetic-voice and spam-call verdict for audio.
type VoiceAssessment struct {
	IsDeepfake       bool               `json:"isDeepfake"`
	Score            float64            `json:"deepfakeScore"`
	Confidence       float64            `json:"confidence"`
	Verdict          string             `json:"verdict"`
	DetectionMethods []string           `json:"detectionMethods"`
	FailedMethods    []string           `json:"failedMethods,omitempty"`
	Indicators       []string           `json:"indicators"`
	SpamIndicators   []string           `json:"spamIndicators"`
	TechnicalDetails map[string]float64 `json:"technicalDetails,omitempty"`
}

// Flagged reports whether the voice assessment marks the audio synthetic.
func (v *VoiceAssessment) Flagged() bool {
	return v != nil && v.IsDeepfake
}
