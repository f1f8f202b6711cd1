// Package reduce implements the incremental pairwise reduction at the heart
// of the pipeline. Each step folds the first two elements of a sequence into
// their sum, so a sequence of length n converges to a single value in
// max(n-1, 0) steps regardless of interleaving with other chains.
package reduce

// Step replaces the first two elements of xs with their sum, returning a new
// slice one element shorter. Inputs of length <= 1 are already terminal and
// are returned unchanged. The input slice is never modified.
func Step(xs []float64) []float64 {
	if len(xs) <= 1 {
		return xs
	}
	out := make([]float64, 0, len(xs)-1)
	out = append(out, xs[0]+xs[1])
	return append(out, xs[2:]...)
}

// Terminal reports whether xs needs no further reduction steps.
func Terminal(xs []float64) bool {
	return len(xs) <= 1
}

// Final collapses a terminal sequence to its value: the empty sequence sums
// to zero, a singleton to its only element. Callers must check Terminal first.
func Final(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	return xs[0]
}
