package parallel

import (
	"sync/atomic"
	"testing"
)

func TestParallelizeCoversEveryIndex(t *testing.T) {
	const items = 1000
	var hits [items]int32

	Parallelize(items, func(start, end int) {
		for i := start; i < end; i++ {
			atomic.AddInt32(&hits[i], 1)
		}
	})

	for i, h := range hits {
		if h != 1 {
			t.Fatalf("index %d visited %d times", i, h)
		}
	}
}

func TestParallelizeEmpty(t *testing.T) {
	called := false
	Parallelize(0, func(start, end int) {
		called = true
	})
	if called {
		t.Error("fn called for zero items")
	}
}

func TestParallelizeFewerItemsThanWorkers(t *testing.T) {
	var total int32
	Parallelize(3, func(start, end int) {
		atomic.AddInt32(&total, int32(end-start))
	})
	if total != 3 {
		t.Errorf("covered %d items, want 3", total)
	}
}

func TestParallelizeWithThresholdSequential(t *testing.T) {
	calls := 0
	ParallelizeWithThreshold(10, 10, func(start, end int) {
		calls++
		if start != 0 || end != 10 {
			t.Errorf("sequential call got range [%d, %d), want [0, 10)", start, end)
		}
	})
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}
