package domain

// ProfileTier names a sensitivity tier.
type ProfileTier string

const (
	ProfileStrict   ProfileTier = "strict"
	ProfileBalanced ProfileTier = "balanced"
	ProfileLenient  ProfileTier = "lenient"
)

// ThresholdProfile is the complete set of numeric cutoffs used by the image
// forensics analyzers. A profile is a value: analyzers receive a copy and
// never mutate it.
type ThresholdProfile struct {
	Tier    ProfileTier `json:"tier" yaml:"tier"`
	Version int64       `json:"version" yaml:"-"`

	// Error-level analysis (mean of recompression difference)
	ELAEditedThreshold float64 `json:"elaEditedThreshold" yaml:"ela_edited_threshold"`
	ELAHighThreshold   float64 `json:"elaHighThreshold" yaml:"ela_high_threshold"`
	ELAStdThreshold    float64 `json:"elaStdThreshold" yaml:"ela_std_threshold"`

	// Frequency-domain variance must exceed mean × ratio to flag
	FrequencyVarianceRatio float64 `json:"frequencyVarianceRatio" yaml:"frequency_variance_ratio"`

	// Regional noise inconsistency (std of region stds)
	NoiseStdHigh     float64 `json:"noiseStdHigh" yaml:"noise_std_high"`
	NoiseStdModerate float64 `json:"noiseStdModerate" yaml:"noise_std_moderate"`

	// Fraction of sharp-gradient pixels
	SharpEdgeHigh     float64 `json:"sharpEdgeHigh" yaml:"sharp_edge_high"`
	SharpEdgeModerate float64 `json:"sharpEdgeModerate" yaml:"sharp_edge_moderate"`

	// Global std below this is penalized. Higher values flag more images.
	LowVarianceThreshold float64 `json:"lowVarianceThreshold" yaml:"low_variance_threshold"`

	// Mean 8×8 block variance below this is penalized on non-screenshots.
	BlockVarianceFloor float64 `json:"blockVarianceFloor" yaml:"block_variance_floor"`

	// Edit-score cutoffs for the final edit determination
	EditScoreHigh     float64 `json:"editScoreHigh" yaml:"edit_score_high"`
	EditScoreModerate float64 `json:"editScoreModerate" yaml:"edit_score_moderate"`
	EditScoreLow      float64 `json:"editScoreLow" yaml:"edit_score_low"`

	// Forgery verdict cutoffs
	ForgeryCleanThreshold      float64 `json:"forgeryCleanThreshold" yaml:"forgery_clean_threshold"`
	ForgerySuspiciousThreshold float64 `json:"forgerySuspiciousThreshold" yaml:"forgery_suspicious_threshold"`

	// Penalty for absent capture metadata on non-screenshots. Decreases as tiers relax.
	MissingMetadataScore float64 `json:"missingMetadataScore" yaml:"missing_metadata_score"`

	// StrongSignalCutoff marks a ForensicSignal as strong.
	StrongSignalCutoff float64 `json:"strongSignalCutoff" yaml:"strong_signal_cutoff"`

	// AuthenticStrongLimit is the largest strong-signal count a screenshot may
	// carry and still be treated as an authentic candidate.
	AuthenticStrongLimit int `json:"authenticStrongLimit" yaml:"authentic_strong_limit"`

	Screenshot  ScreenshotFeatures           `json:"screenshot" yaml:"screenshot"`
	Adjustments GenuineScreenshotAdjustments `json:"adjustments" yaml:"adjustments"`
}

// ScreenshotFeatures describes what a native device capture looks like.
type ScreenshotFeatures struct {
	CommonAspectRatios     []float64 `json:"commonAspectRatios" yaml:"common_aspect_ratios"`
	RatioTolerance         float64   `json:"ratioTolerance" yaml:"ratio_tolerance"`
	MinMobileShortSide     int       `json:"minMobileShortSide" yaml:"min_mobile_short_side"`
	MinMobileLongSide      int       `json:"minMobileLongSide" yaml:"min_mobile_long_side"`
	MinWidth               int       `json:"minWidth" yaml:"min_width"`
	MinHeight              int       `json:"minHeight" yaml:"min_height"`
	AuthenticityAdjustment float64   `json:"authenticityAdjustment" yaml:"authenticity_adjustment"`
}

// GenuineScreenshotAdjustments are applied when a screenshot looks authentic.
type GenuineScreenshotAdjustments struct {
	ForgeryScoreReduction float64 `json:"forgeryScoreReduction" yaml:"forgery_score_reduction"`
	ConfidenceReduction   float64 `json:"confidenceReduction" yaml:"confidence_reduction"`
	EditScoreReduction    float64 `json:"editScoreReduction" yaml:"edit_score_reduction"`
}
