// Package cascade provides an ordered first-match combinator used wherever a
// value is resolved by trying candidates in priority order.
package cascade

// First returns the result of the first candidate for which try succeeds.
// Candidates after the first match are not evaluated.
func First[C, R any](candidates []C, try func(C) (R, bool)) (R, bool) {
	for _, candidate := range candidates {
		if result, ok := try(candidate); ok {
			return result, true
		}
	}
	var zero R
	return zero, false
}

// FirstFunc is First over a list of attempts that take no argument.
func FirstFunc[R any](attempts ...func() (R, bool)) (R, bool) {
	return First(attempts, func(attempt func() (R, bool)) (R, bool) {
		return attempt()
	})
}
