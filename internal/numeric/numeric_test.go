package numeric

import (
	"math"
	"testing"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPopStdDev(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"Empty", nil, 0},
		{"Single", []float64{5}, 0},
		{"Constant", []float64{3, 3, 3}, 0},
		{"Known", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := PopStdDev(tt.in); !approx(got, tt.want) {
				t.Errorf("PopStdDev(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestPercentile(t *testing.T) {
	x := []float64{5, 1, 4, 2, 3}
	if got := Percentile(x, 0); got != 1 {
		t.Errorf("p0 = %v, want 1", got)
	}
	if got := Percentile(x, 100); got != 5 {
		t.Errorf("p100 = %v, want 5", got)
	}
	if x[0] != 5 {
		t.Error("Percentile must not reorder its input")
	}
	if got := Percentile(nil, 50); got != 0 {
		t.Errorf("empty percentile = %v, want 0", got)
	}
}

func TestCorrelation(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	if got := Correlation(x, []float64{2, 4, 6, 8}); !approx(got, 1) {
		t.Errorf("perfect correlation = %v, want 1", got)
	}
	if got := Correlation(x, []float64{4, 3, 2, 1}); !approx(got, -1) {
		t.Errorf("inverse correlation = %v, want -1", got)
	}
	if got := Correlation(x, []float64{7, 7, 7, 7}); got != 0 {
		t.Errorf("constant series correlation = %v, want 0", got)
	}
	if got := Correlation(x, []float64{1}); got != 0 {
		t.Errorf("mismatched lengths = %v, want 0", got)
	}
}

func TestClampAndRound(t *testing.T) {
	if Clamp(120, 0, 100) != 100 || Clamp(-3, 0, 100) != 0 || Clamp(42, 0, 100) != 42 {
		t.Error("Clamp did not bound values")
	}
	if Round1(33.333) != 33.3 {
		t.Errorf("Round1(33.333) = %v", Round1(33.333))
	}
}
