package agro

// Outcome is a value that is always usable, tagged with the reason it had to be
// produced on a degraded path. Reason is nil for Ok outcomes.
type Outcome[T any] struct {
	Value  T
	Reason error
}

// Ok wraps a value produced on the normal path.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Value: v}
}

// Degraded wraps a substitute value together with the failure that caused it.
func Degraded[T any](v T, reason error) Outcome[T] {
	return Outcome[T]{Value: v, Reason: reason}
}

// IsDegraded reports whether the value came from a fallback path.
func (o Outcome[T]) IsDegraded() bool {
	return o.Reason != nil
}
