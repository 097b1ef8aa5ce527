package fn

import "fmt"

// Result[T] carries either a value or the error that prevented producing it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok wraps v.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err wraps a failure.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// Errf is Err with fmt.Errorf formatting, so %w wraps.
func Errf[T any](format string, args ...any) Result[T] {
	return Result[T]{err: fmt.Errorf(format, args...)}
}

// FromPair adapts a conventional (v, err) return.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Err[T](err)
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool { return r.ok }

func (r Result[T]) IsErr() bool { return !r.ok }

// Unwrap converts back to a (v, err) pair.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }

// UnwrapOr discards the error in favour of fallback.
func (r Result[T]) UnwrapOr(fallback T) T {
	if !r.ok {
		return fallback
	}
	return r.val
}

// OrElse returns r when it is ok, otherwise the result of next.
func (r Result[T]) OrElse(next func(error) Result[T]) Result[T] {
	if r.ok {
		return r
	}
	return next(r.err)
}

// MapResult applies an infallible f to an ok value.
func MapResult[T, U any](r Result[T], f func(T) U) Result[U] {
	if !r.ok {
		return Err[U](r.err)
	}
	return Ok(f(r.val))
}

// Bind chains a fallible step onto a Result, changing its type.
func Bind[T, U any](r Result[T], f func(T) Result[U]) Result[U] {
	if !r.ok {
		return Err[U](r.err)
	}
	return f(r.val)
}

// FirstOk runs attempts in order and returns the first successful Result.
// When every attempt fails the last failure is returned.
func FirstOk[T any](attempts ...func() Result[T]) Result[T] {
	last := Errf[T]("fn: no attempts")
	for _, a := range attempts {
		last = a()
		if last.ok {
			return last
		}
	}
	return last
}

// Collect gathers ok values in order; the first failure (by position) wins.
func Collect[T any](results []Result[T]) Result[[]T] {
	out := make([]T, len(results))
	for i, r := range results {
		if !r.ok {
			return Err[[]T](r.err)
		}
		out[i] = r.val
	}
	return Ok(out)
}
