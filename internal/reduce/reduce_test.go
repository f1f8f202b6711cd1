package reduce

import (
	"math"
	"reflect"
	"testing"
)

func TestStep_PairwiseFold(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want []float64
	}{
		{"two elements", []float64{1, 2}, []float64{3}},
		{"three elements", []float64{1, 2, 3}, []float64{3, 3}},
		{"six elements", []float64{0, 1, 2, 3, 4, 5}, []float64{1, 2, 3, 4, 5}},
		{"negatives", []float64{-4, 4, 7}, []float64{0, 7}},
		{"fractions", []float64{0.5, 0.25, 1}, []float64{0.75, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Step(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Step(%v): got %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestStep_TerminalInputsUnchanged(t *testing.T) {
	if got := Step(nil); len(got) != 0 {
		t.Errorf("Step(nil): got %v, want empty", got)
	}
	if got := Step([]float64{7}); !reflect.DeepEqual(got, []float64{7}) {
		t.Errorf("Step([7]): got %v, want [7]", got)
	}
}

func TestStep_DoesNotModifyInput(t *testing.T) {
	in := []float64{1, 2, 3}
	Step(in)
	if !reflect.DeepEqual(in, []float64{1, 2, 3}) {
		t.Errorf("input modified: %v", in)
	}
}

func TestTerminal(t *testing.T) {
	if !Terminal(nil) || !Terminal([]float64{1}) {
		t.Error("Terminal: length <= 1 must be terminal")
	}
	if Terminal([]float64{1, 2}) {
		t.Error("Terminal: length 2 must not be terminal")
	}
}

func TestFinal(t *testing.T) {
	if got := Final(nil); got != 0 {
		t.Errorf("Final(nil): got %v, want 0", got)
	}
	if got := Final([]float64{7}); got != 7 {
		t.Errorf("Final([7]): got %v, want 7", got)
	}
}

// TestConvergence checks that iterating Step reduces any finite sequence to
// its arithmetic sum in exactly max(len-1, 0) steps.
func TestConvergence(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		sum  float64
	}{
		{"empty", nil, 0},
		{"singleton", []float64{7}, 7},
		{"pair", []float64{3, 4}, 7},
		{"zero through five", []float64{0, 1, 2, 3, 4, 5}, 15},
		{"alternating signs", []float64{10, -10, 5, -5, 2.5}, 2.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			xs := tt.in
			steps := 0
			for !Terminal(xs) {
				next := Step(xs)
				if len(next) != len(xs)-1 {
					t.Fatalf("step %d: length went %d -> %d, want %d",
						steps, len(xs), len(next), len(xs)-1)
				}
				xs = next
				steps++
			}

			wantSteps := len(tt.in) - 1
			if wantSteps < 0 {
				wantSteps = 0
			}
			if steps != wantSteps {
				t.Errorf("steps: got %d, want %d", steps, wantSteps)
			}
			if got := Final(xs); math.Abs(got-tt.sum) > 1e-9 {
				t.Errorf("final: got %v, want %v", got, tt.sum)
			}
		})
	}
}
