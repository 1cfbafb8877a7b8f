package stream

import (
	"context"

	"github.com/alitto/pond/v2"
)

// MapConcurrent applies fn to every item of in with at most n calls in
// flight (spec §4.6 mapConcurrent); output order relative to input is not
// guaranteed. A failing call is reported through emitErrors and produces
// no output. Grounded on canopy-network-canopyx's scheduler pool
// (app/indexer/activity/context.go), which backs its own concurrent
// per-chain work with alitto/pond rather than a hand-rolled semaphore.
func MapConcurrent[T, R any](ctx context.Context, in Stream[T], n int, fn func(context.Context, T) (R, error), emitErrors func(T, error)) Stream[R] {
	if n <= 0 {
		n = 1
	}
	out := make(chan R)
	pool := pond.NewPool(n)

	go func() {
		defer close(out)
		for item := range in {
			item := item
			pool.Submit(func() {
				r, err := fn(ctx, item)
				if err != nil {
					emitErrors(item, err)
					return
				}
				select {
				case out <- r:
				case <-ctx.Done():
				}
			})
		}
		pool.StopAndWait()
	}()
	return out
}
