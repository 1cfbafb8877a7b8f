package stream

import "time"

// BufferTime groups items arriving on in into slices, emitting a group
// whenever maxWait has elapsed since the first item of the current group
// arrived, or maxCount items have accumulated, whichever comes first
// (spec §4.6 bufferTime). Groups of size 0 are never emitted. maxWait <= 0
// disables the timer bound (groups flush only on maxCount). maxCount <= 0
// disables the count bound (groups flush only on the timer). Closing in
// flushes any partial group and closes the output.
func BufferTime[T any](in Stream[T], maxWait time.Duration, maxCount int) Stream[[]T] {
	out := make(chan []T)
	go func() {
		defer close(out)
		var buf []T
		var timer *time.Timer
		var timerC <-chan time.Time

		flush := func() {
			if len(buf) == 0 {
				return
			}
			out <- buf
			buf = nil
			if timer != nil {
				timer.Stop()
				timer = nil
				timerC = nil
			}
		}

		for {
			select {
			case item, ok := <-in:
				if !ok {
					flush()
					return
				}
				buf = append(buf, item)
				if timer == nil && maxWait > 0 {
					timer = time.NewTimer(maxWait)
					timerC = timer.C
				}
				if maxCount > 0 && len(buf) >= maxCount {
					flush()
				}
			case <-timerC:
				flush()
			}
		}
	}()
	return out
}
