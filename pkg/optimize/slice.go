package optimize

// GrowSlice returns s resized to newLen, reusing its backing array when the
// capacity allows. Existing elements are preserved.
func GrowSlice[T any](s []T, newLen int) []T {
	if newLen <= cap(s) {
		return s[:newLen]
	}

	newCap := cap(s) * 2
	if newCap < newLen {
		newCap = newLen
	}

	grown := make([]T, newLen, newCap)
	copy(grown, s)
	return grown
}
