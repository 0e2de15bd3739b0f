package util

// Ptr returns a pointer to v, for filling optional patch and spec fields from literals.
func Ptr[T any](v T) *T {
	return &v
}
