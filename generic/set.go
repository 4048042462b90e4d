package generic

// Set is an unordered collection of distinct items.
type Set[T any] interface {
	Add(item T) bool
	// Contains is true only if every item is in the set.
	Contains(items ...T) bool
	Count() int
	ToSlice() []T
}

func NewSet[T comparable](items ...T) Set[T] {
	res := make(set[T])
	for _, item := range items {
		res.Add(item)
	}
	return &res
}

type set[T comparable] map[T]Void

func (s *set[T]) Add(item T) bool {
	if _, found := (*s)[item]; found {
		return false
	}
	(*s)[item] = NewVoid()
	return true
}

func (s *set[T]) Contains(items ...T) bool {
	for _, item := range items {
		if _, found := (*s)[item]; !found {
			return false
		}
	}
	return true
}

func (s *set[T]) Count() int {
	return len(*s)
}

func (s *set[T]) ToSlice() []T {
	slice := make([]T, 0, s.Count())
	for item := range *s {
		slice = append(slice, item)
	}
	return slice
}
