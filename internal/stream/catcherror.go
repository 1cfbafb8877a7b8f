package stream

import "context"

// CatchError wraps fn so a failure becomes a downstream-empty result
// instead of propagating (spec §4.6 catchError): ok is false and
// emitErrors(item, err) has already been invoked.
func CatchError[T, R any](fn func(context.Context, T) (R, error), emitErrors func(T, error)) func(context.Context, T) (R, bool) {
	return func(ctx context.Context, item T) (R, bool) {
		r, err := fn(ctx, item)
		if err != nil {
			emitErrors(item, err)
			var zero R
			return zero, false
		}
		return r, true
	}
}
