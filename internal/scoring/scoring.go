// Package scoring turns windows into scored highlight candidates. The
// message-rate term is a z-score against the VOD-wide mean and variance, so
// final scores can only be emitted once the whole VOD has been windowed;
// Batch buffers windows and finalizes in a second pass.
package scoring

import (
	"math"

	"github.com/you/hypecut/internal/config"
	"github.com/you/hypecut/internal/core"
)

// Welford is a numerically stable single-pass mean/variance accumulator.
type Welford struct {
	n    int
	mean float64
	m2   float64
}

// Observe folds one sample into the running statistics.
func (w *Welford) Observe(x float64) {
	w.n++
	delta := x - w.mean
	w.mean += delta / float64(w.n)
	w.m2 += delta * (x - w.mean)
}

// Count returns the number of observed samples.
func (w *Welford) Count() int { return w.n }

// Mean returns the running mean, 0 before any sample.
func (w *Welford) Mean() float64 { return w.mean }

// Variance returns the population variance, 0 with fewer than two samples.
func (w *Welford) Variance() float64 {
	if w.n < 2 {
		return 0
	}
	return w.m2 / float64(w.n)
}

// StdDev returns the population standard deviation.
func (w *Welford) StdDev() float64 { return math.Sqrt(w.Variance()) }

// ZScore places x relative to the accumulated distribution. A degenerate
// distribution (stddev 0) maps everything to 0.
func (w *Welford) ZScore(x float64) float64 {
	sd := w.StdDev()
	if sd == 0 {
		return 0
	}
	return (x - w.mean) / sd
}

// Score is the pure scoring function: the same window, statistics and
// config always produce the same ScoredWindow.
func Score(w core.Window, stats *Welford, cfg config.ScoringConfig) core.ScoredWindow {
	score := cfg.RateWeight*stats.ZScore(float64(w.MessageCount)) +
		cfg.EmoteWeight*w.EmoteDensity +
		cfg.SentimentWeight*math.Abs(w.SentimentAvg())
	return core.ScoredWindow{
		Window:      w,
		Score:       score,
		IsCandidate: score >= cfg.Sensitivity,
	}
}

// Batch accumulates one VOD's windows and their message-rate statistics.
// Owned by a single run; never shared across VODs.
type Batch struct {
	cfg     config.ScoringConfig
	stats   Welford
	windows []core.Window
}

// NewBatch creates a Batch for one VOD run.
func NewBatch(cfg config.ScoringConfig) *Batch {
	return &Batch{cfg: cfg}
}

// Add buffers a completed window. Windows must arrive in index order; the
// Batch preserves that order into Finalize.
func (b *Batch) Add(w core.Window) {
	b.stats.Observe(float64(w.MessageCount))
	b.windows = append(b.windows, w)
}

// Stats exposes the running accumulator (read-only use).
func (b *Batch) Stats() *Welford { return &b.stats }

// Finalize scores every buffered window against the full-VOD statistics
// and returns them in the order they were added.
func (b *Batch) Finalize() []core.ScoredWindow {
	out := make([]core.ScoredWindow, 0, len(b.windows))
	for _, w := range b.windows {
		out = append(out, Score(w, &b.stats, b.cfg))
	}
	return out
}
