package slices

func Map[T any, V any](s []T, f func(T) V) []V {
	result := make([]V, len(s))
	for i, v := range s {
		result[i] = f(v)
	}
	return result
}
