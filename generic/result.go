package generic

import "fmt"

// A Result carries the (T, error) pair of a function call as a single value, e.g. across a channel.
type Result[T any] struct {
	Value T
	Error error
}

// NewResult wraps a (T, error) return value from another function call as a Result[T].
func NewResult[T any](value T, err error) Result[T] {
	return Result[T]{Value: value, Error: err}
}

// NewResult_ is like NewResult, but for return values that are just an error.
func NewResult_(err error) Result[Void] {
	return NewResult(NewVoid(), err)
}

// Ok wraps a value as a Result[T] containing that value.
func Ok[T any](value T) Result[T] {
	return Result[T]{Value: value}
}

// Err wraps an error as a Result[T] containing that error.
func Err[T any](err error) Result[T] {
	return Result[T]{Error: err}
}

// Parts splits the Result[T] back into a (T, error) pair.
func (r Result[T]) Parts() (T, error) {
	return r.Value, r.Error
}

func (r Result[T]) IsErr() bool {
	return r.Error != nil
}

func (r Result[T]) IsOk() bool {
	return r.Error == nil
}

// Expect returns the contained value if IsOk(), or panics with the supplied error message and the contained error
// if IsErr().
func (r Result[T]) Expect(msg string) T {
	if r.IsOk() {
		return r.Value
	} else {
		panic(fmt.Errorf("%s: %w", msg, r.Error))
	}
}

// Unwrap returns the contained value, or panics if IsErr.
func (r Result[T]) Unwrap() T {
	return r.Expect("tried to Unwrap() an Err")
}

// Unwrap_ panics if err is not nil. Useful for "Must" variants of functions that only return an error.
func Unwrap_(err error) {
	NewResult_(err).Unwrap()
}
