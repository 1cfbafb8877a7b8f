package stream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBufferTimeFlushesOnMaxCount(t *testing.T) {
	in := make(chan int)
	out := BufferTime(Stream[int](in), time.Hour, 3)

	go func() {
		for i := 0; i < 6; i++ {
			in <- i
		}
		close(in)
	}()

	first := <-out
	require.Equal(t, []int{0, 1, 2}, first)
	second := <-out
	require.Equal(t, []int{3, 4, 5}, second)
}

func TestBufferTimeFlushesOnTimeout(t *testing.T) {
	in := make(chan int)
	out := BufferTime(Stream[int](in), 10*time.Millisecond, 1000)

	go func() {
		in <- 1
		in <- 2
		time.Sleep(50 * time.Millisecond)
		close(in)
	}()

	group := <-out
	require.Equal(t, []int{1, 2}, group)
}

func TestBufferTimeDropsEmptyGroups(t *testing.T) {
	in := make(chan int)
	out := BufferTime(Stream[int](in), 5*time.Millisecond, 1000)
	close(in)

	_, ok := <-out
	require.False(t, ok, "closing an empty input must not emit an empty group")
}
