package profile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/opensource-finance/harrier/internal/domain"
)

func TestGetKnownTiers(t *testing.T) {
	for _, tier := range Tiers() {
		p, err := Get(tier)
		if err != nil {
			t.Fatalf("Get(%s) failed: %v", tier, err)
		}
		if p.Tier != tier {
			t.Errorf("expected tier %s, got %s", tier, p.Tier)
		}
		if err := Validate(p); err != nil {
			t.Errorf("built-in tier %s is invalid: %v", tier, err)
		}
	}
}

func TestGetUnknownTier(t *testing.T) {
	_, err := Get("paranoid")
	if err == nil {
		t.Fatal("expected error for unknown tier")
	}

	var cfgErr *domain.ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T", err)
	}
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Error("expected error to wrap ErrConfiguration")
	}
	if cfgErr.Tier != "paranoid" {
		t.Errorf("expected tier paranoid in error, got %q", cfgErr.Tier)
	}
}

func TestResolveFallsBackToBalanced(t *testing.T) {
	p := Resolve("unknown")
	if p.Tier != domain.ProfileBalanced {
		t.Errorf("expected balanced fallback, got %s", p.Tier)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	p, _ := Get(domain.ProfileBalanced)
	p.ELAEditedThreshold = 999
	p.Screenshot.CommonAspectRatios[0] = 0

	again, _ := Get(domain.ProfileBalanced)
	if again.ELAEditedThreshold == 999 {
		t.Error("mutating a returned profile changed the built-in tier")
	}
	if again.Screenshot.CommonAspectRatios[0] == 0 {
		t.Error("mutating returned ratios changed the built-in catalogue")
	}
}

func TestTierOrdering(t *testing.T) {
	strict, _ := Get(domain.ProfileStrict)
	balanced, _ := Get(domain.ProfileBalanced)
	lenient, _ := Get(domain.ProfileLenient)

	loosening := map[string]func(domain.ThresholdProfile) float64{
		"ela_edited":          func(p domain.ThresholdProfile) float64 { return p.ELAEditedThreshold },
		"ela_high":            func(p domain.ThresholdProfile) float64 { return p.ELAHighThreshold },
		"ela_std":             func(p domain.ThresholdProfile) float64 { return p.ELAStdThreshold },
		"frequency_ratio":     func(p domain.ThresholdProfile) float64 { return p.FrequencyVarianceRatio },
		"noise_high":          func(p domain.ThresholdProfile) float64 { return p.NoiseStdHigh },
		"noise_moderate":      func(p domain.ThresholdProfile) float64 { return p.NoiseStdModerate },
		"sharp_edge_high":     func(p domain.ThresholdProfile) float64 { return p.SharpEdgeHigh },
		"sharp_edge_moderate": func(p domain.ThresholdProfile) float64 { return p.SharpEdgeModerate },
		"edit_high":           func(p domain.ThresholdProfile) float64 { return p.EditScoreHigh },
		"edit_moderate":       func(p domain.ThresholdProfile) float64 { return p.EditScoreModerate },
		"edit_low":            func(p domain.ThresholdProfile) float64 { return p.EditScoreLow },
		"forgery_clean":       func(p domain.ThresholdProfile) float64 { return p.ForgeryCleanThreshold },
		"forgery_suspicious":  func(p domain.ThresholdProfile) float64 { return p.ForgerySuspiciousThreshold },
	}
	for name, get := range loosening {
		t.Run(name, func(t *testing.T) {
			if !(get(strict) <= get(balanced) && get(balanced) <= get(lenient)) {
				t.Errorf("expected strict <= balanced <= lenient, got %v, %v, %v",
					get(strict), get(balanced), get(lenient))
			}
		})
	}

	penalties := map[string]func(domain.ThresholdProfile) float64{
		"missing_metadata": func(p domain.ThresholdProfile) float64 { return p.MissingMetadataScore },
		"low_variance":     func(p domain.ThresholdProfile) float64 { return p.LowVarianceThreshold },
		"block_variance":   func(p domain.ThresholdProfile) float64 { return p.BlockVarianceFloor },
	}
	for name, get := range penalties {
		t.Run(name, func(t *testing.T) {
			if !(get(strict) >= get(balanced) && get(balanced) >= get(lenient)) {
				t.Errorf("expected strict >= balanced >= lenient, got %v, %v, %v",
					get(strict), get(balanced), get(lenient))
			}
		})
	}
}

func TestValidateRejectsInconsistentProfile(t *testing.T) {
	p, _ := Get(domain.ProfileBalanced)

	t.Run("Negative", func(t *testing.T) {
		bad := p
		bad.NoiseStdHigh = -1
		if err := Validate(bad); err == nil {
			t.Error("expected negative threshold to be rejected")
		}
	})

	t.Run("EditOrder", func(t *testing.T) {
		bad := p
		bad.EditScoreLow = bad.EditScoreHigh + 1
		if err := Validate(bad); err == nil {
			t.Error("expected edit cutoff inversion to be rejected")
		}
	})

	t.Run("ForgeryOrder", func(t *testing.T) {
		bad := p
		bad.ForgeryCleanThreshold = 60
		if err := Validate(bad); err == nil {
			t.Error("expected forgery cutoff inversion to be rejected")
		}
	})
}

func TestManagerReconfigure(t *testing.T) {
	m, err := NewManager(domain.ProfileBalanced)
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}

	if m.Active().Tier != domain.ProfileBalanced {
		t.Fatalf("expected balanced active, got %s", m.Active().Tier)
	}
	v1 := m.Version()

	var notified domain.ThresholdProfile
	m.OnChange(func(p domain.ThresholdProfile) { notified = p })

	p, err := m.Reconfigure(domain.ProfileStrict)
	if err != nil {
		t.Fatalf("Reconfigure failed: %v", err)
	}
	if p.Version <= v1 {
		t.Errorf("expected version to increase past %d, got %d", v1, p.Version)
	}
	if m.Active().Tier != domain.ProfileStrict {
		t.Errorf("expected strict active, got %s", m.Active().Tier)
	}
	if notified.Tier != domain.ProfileStrict {
		t.Errorf("expected OnChange with strict, got %s", notified.Tier)
	}

	if _, err := m.Reconfigure("bogus"); err == nil {
		t.Error("expected error for unknown tier")
	}
	if m.Active().Tier != domain.ProfileStrict {
		t.Error("failed reconfigure must keep the active profile")
	}
}

func TestManagerConcurrentSwaps(t *testing.T) {
	m, _ := NewManager(domain.ProfileBalanced)

	var (
		mu   sync.Mutex
		seen []int64
	)
	m.OnChange(func(p domain.ThresholdProfile) {
		mu.Lock()
		seen = append(seen, p.Version)
		mu.Unlock()
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("base: strict\n"), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	const rounds = 50
	var wg sync.WaitGroup
	for i := 0; i < rounds; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			m.Reconfigure(domain.ProfileLenient)
		}()
		go func() {
			defer wg.Done()
			if _, err := m.Load(path); err != nil {
				t.Errorf("Load failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := m.Version(); got != 1+2*rounds {
		t.Errorf("expected the active profile to carry the last version %d, got %d", 1+2*rounds, got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2*rounds {
		t.Fatalf("expected %d callbacks, got %d", 2*rounds, len(seen))
	}
	for i := 1; i < len(seen); i++ {
		if seen[i] <= seen[i-1] {
			t.Fatalf("callbacks out of version order at %d: %v", i, seen[i-1:i+1])
		}
	}
}

func TestParseDocument(t *testing.T) {
	doc := []byte(`
base: lenient
thresholds:
  ela_edited_threshold: 26
  missing_metadata_score: 4
`)
	p, err := Parse(doc)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p.Tier != domain.ProfileLenient {
		t.Errorf("expected lenient base, got %s", p.Tier)
	}
	if p.ELAEditedThreshold != 26 {
		t.Errorf("expected override 26, got %v", p.ELAEditedThreshold)
	}
	if p.MissingMetadataScore != 4 {
		t.Errorf("expected override 4, got %v", p.MissingMetadataScore)
	}
	if p.ELAHighThreshold != 35 {
		t.Errorf("expected untouched lenient ela_high 35, got %v", p.ELAHighThreshold)
	}
}

func TestParseRejectsInvalidDocument(t *testing.T) {
	tests := []struct {
		name  string
		doc   string
		field string
	}{
		{"UnknownBase", "base: extreme\n", ""},
		{"Inverted", "base: balanced\nthresholds:\n  ela_edited_threshold: 90\n", ""},
		{"Malformed", "base: [\n", ""},
		{"LooserThanNeighbour", "base: strict\nthresholds:\n  edit_score_high: 95\n", "edit_score_high"},
		{"PenaltyBelowNeighbour", "base: strict\nthresholds:\n  missing_metadata_score: 1\n", "missing_metadata_score"},
		{"StricterThanNeighbour", "base: lenient\nthresholds:\n  noise_std_high: 25\n  noise_std_moderate: 20\n", "noise_std_high"},
		{"PenaltyAboveNeighbour", "base: balanced\nthresholds:\n  low_variance_threshold: 21\n", "low_variance_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.doc))
			if !errors.Is(err, domain.ErrConfiguration) {
				t.Fatalf("expected configuration error, got %v", err)
			}
			if tt.field != "" && !strings.Contains(err.Error(), tt.field) {
				t.Errorf("expected error naming %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidateOrderingBuiltins(t *testing.T) {
	for _, tier := range Tiers() {
		p, _ := Get(tier)
		if err := ValidateOrdering(p); err != nil {
			t.Errorf("built-in tier %s fails ordering: %v", tier, err)
		}
	}

	p, _ := Get(domain.ProfileBalanced)
	p.EditScoreHigh = 50
	if err := ValidateOrdering(p); err != nil {
		t.Errorf("value equal to the stricter neighbour must pass: %v", err)
	}
}

func TestManagerLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	if err := os.WriteFile(path, []byte("base: strict\nthresholds:\n  noise_std_high: 22\n"), 0o644); err != nil {
		t.Fatalf("failed to write profile: %v", err)
	}

	m, _ := NewManager(domain.ProfileBalanced)
	p, err := m.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if p.Tier != domain.ProfileStrict || p.NoiseStdHigh != 22 {
		t.Errorf("unexpected loaded profile: tier=%s noise_high=%v", p.Tier, p.NoiseStdHigh)
	}
	if m.Active().NoiseStdHigh != 22 {
		t.Error("loaded profile was not activated")
	}
}
