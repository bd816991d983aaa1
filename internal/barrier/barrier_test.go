package barrier

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBarrierReleasesOnlyAfterAllPartiesArrive(t *testing.T) {
	b := New(2)
	var released int32
	done := make(chan struct{})

	go func() {
		b.Wait()
		atomic.AddInt32(&released, 1)
		close(done)
	}()

	// Give the first goroutine a chance to block on the barrier before the
	// second party arrives.
	time.Sleep(20 * time.Millisecond)
	require.EqualValues(t, 0, atomic.LoadInt32(&released), "barrier must not release with only 1 of 2 parties")

	b.Wait()
	<-done
	require.EqualValues(t, 1, atomic.LoadInt32(&released))
}

func TestBarrierReleasesAllPartiesSimultaneously(t *testing.T) {
	const n = 5
	b := New(n)
	var wg sync.WaitGroup
	var arrived int32

	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			b.Wait()
			atomic.AddInt32(&arrived, 1)
		}()
	}
	wg.Wait()
	require.EqualValues(t, n, arrived)
}
