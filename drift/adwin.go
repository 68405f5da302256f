package drift

import (
	"math"
	"sync"
)

// ADWIN implements the Adaptive Windowing drift detector of Bifet and
// Gavalda (2007), "Learning from time-changing data with adaptive
// windowing". It maintains a variable-length window over a univariate
// stream and shrinks it whenever two sub-windows have means that differ by
// more than a Hoeffding bound, dropping the stale prefix.
type ADWIN struct {
	delta      float64
	maxBuckets int

	buckets    []adwinBucket
	totalSum   float64
	totalCount int

	mu sync.RWMutex
}

type adwinBucket struct {
	sum   float64
	count int
}

// ADWINOption configures an ADWIN detector.
type ADWINOption func(*ADWIN)

// WithADWINDelta sets the confidence parameter. Smaller values make the
// detector less sensitive. Defaults to 0.002.
func WithADWINDelta(delta float64) ADWINOption {
	return func(a *ADWIN) {
		a.delta = delta
	}
}

// WithADWINMaxBuckets caps the bucket list; the oldest bucket is evicted
// beyond the cap. Defaults to 1000.
func WithADWINMaxBuckets(n int) ADWINOption {
	return func(a *ADWIN) {
		a.maxBuckets = n
	}
}

// NewADWIN creates an ADWIN detector with the given options.
func NewADWIN(opts ...ADWINOption) *ADWIN {
	a := &ADWIN{
		delta:      0.002,
		maxBuckets: 1000,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Update consumes one value and reports whether a change in the stream mean
// was detected. On detection the window prefix preceding the change point is
// discarded.
func (a *ADWIN) Update(value float64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.addElement(value)
	return a.detectChange()
}

func (a *ADWIN) addElement(value float64) {
	fresh := adwinBucket{sum: value, count: 1}
	if n := len(a.buckets); n > 0 && a.buckets[n-1].count == fresh.count {
		a.buckets[n-1].sum += fresh.sum
		a.buckets[n-1].count += fresh.count
	} else {
		a.buckets = append(a.buckets, fresh)
	}

	a.totalSum += value
	a.totalCount++

	if len(a.buckets) > a.maxBuckets {
		oldest := a.buckets[0]
		a.totalSum -= oldest.sum
		a.totalCount -= oldest.count
		a.buckets = a.buckets[1:]
	}
}

func (a *ADWIN) detectChange() bool {
	if len(a.buckets) < 2 || a.totalCount < 5 {
		return false
	}

	for split := 1; split < len(a.buckets); split++ {
		n0, n1, mean0, mean1 := a.splitStats(split)
		if n0 <= 0 || n1 <= 0 {
			continue
		}
		if math.Abs(mean0-mean1) > a.hoeffdingBound(n0, n1) {
			a.buckets = a.buckets[split:]
			a.recount()
			return true
		}
	}
	return false
}

func (a *ADWIN) splitStats(split int) (n0, n1 int, mean0, mean1 float64) {
	var sum0, sum1 float64
	for i := 0; i < split; i++ {
		sum0 += a.buckets[i].sum
		n0 += a.buckets[i].count
	}
	for i := split; i < len(a.buckets); i++ {
		sum1 += a.buckets[i].sum
		n1 += a.buckets[i].count
	}
	if n0 > 0 {
		mean0 = sum0 / float64(n0)
	}
	if n1 > 0 {
		mean1 = sum1 / float64(n1)
	}
	return n0, n1, mean0, mean1
}

func (a *ADWIN) hoeffdingBound(n0, n1 int) float64 {
	m := 1.0/float64(n0) + 1.0/float64(n1)
	return math.Sqrt(0.5 * m * math.Log(2.0/a.delta))
}

func (a *ADWIN) recount() {
	a.totalSum = 0
	a.totalCount = 0
	for _, b := range a.buckets {
		a.totalSum += b.sum
		a.totalCount += b.count
	}
}

// Mean returns the mean of the current window.
func (a *ADWIN) Mean() float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.totalCount == 0 {
		return 0
	}
	return a.totalSum / float64(a.totalCount)
}

// Width returns the number of values in the current window.
func (a *ADWIN) Width() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.totalCount
}

// Reset discards the window.
func (a *ADWIN) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buckets = nil
	a.totalSum = 0
	a.totalCount = 0
}
