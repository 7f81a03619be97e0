package monitoring

import "math"

// rollingBaseline keeps a bounded window of samples and exposes their mean
// and standard deviation.
type rollingBaseline struct {
	window []float64
	head   int
	size   int
}

func newRollingBaseline(capacity int) *rollingBaseline {
	return &rollingBaseline{window: make([]float64, capacity)}
}

func (b *rollingBaseline) add(v float64) {
	b.window[b.head] = v
	b.head = (b.head + 1) % len(b.window)
	if b.size < len(b.window) {
		b.size++
	}
}

func (b *rollingBaseline) mean() float64 {
	if b.size == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < b.size; i++ {
		sum += b.window[i]
	}
	return sum / float64(b.size)
}

func (b *rollingBaseline) std() float64 {
	if b.size < 2 {
		return 0
	}
	m := b.mean()
	sum := 0.0
	for i := 0; i < b.size; i++ {
		diff := b.window[i] - m
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(b.size))
}
