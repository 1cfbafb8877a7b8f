package stream

import "context"

// MapOrdered applies fn sequentially, preserving input order (spec §4.6
// mapOrdered). A failing call is reported through emitErrors and produces
// no output; processing continues with the next item.
func MapOrdered[T, R any](ctx context.Context, in Stream[T], fn func(context.Context, T) (R, error), emitErrors func(T, error)) Stream[R] {
	out := make(chan R)
	go func() {
		defer close(out)
		for item := range in {
			r, err := fn(ctx, item)
			if err != nil {
				emitErrors(item, err)
				continue
			}
			select {
			case out <- r:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Partition splits in into two streams by predicate: items for which pred
// returns true go to matched, everything else to rest (spec §4.6
// partition). Both outputs must be drained or the goroutine feeding them
// will block.
func Partition[T any](in Stream[T], pred func(T) bool) (matched, rest Stream[T]) {
	outMatched := make(chan T)
	outRest := make(chan T)
	go func() {
		defer close(outMatched)
		defer close(outRest)
		for item := range in {
			if pred(item) {
				outMatched <- item
			} else {
				outRest <- item
			}
		}
	}()
	return outMatched, outRest
}
