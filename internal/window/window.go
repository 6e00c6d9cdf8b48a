// Package window buckets a time-ordered stream of chat events into
// fixed-width windows for one VOD. At most two buckets are open at a time:
// the current one and the trailing one kept for late arrivals inside the
// grace period.
package window

import (
	"math"

	"github.com/you/hypecut/internal/core"
)

type bucket struct {
	index          int
	messageCount   int
	authors        map[string]struct{}
	emoteSum       int
	sentimentSum   float64
	sentimentCount int
}

// Engine is a single-pass bucketer. Not safe for concurrent use; each VOD
// run owns its own instance.
type Engine struct {
	vodID string
	width float64
	grace float64

	prev    *bucket // trailing bucket, still accepts grace-period arrivals
	current *bucket

	lateMerged  int
	lateDropped int
	started     bool
}

// NewEngine creates an Engine with the given bucket width W and grace G,
// both in seconds. W must be positive (validated at config time).
func NewEngine(vodID string, widthSeconds, graceSeconds float64) *Engine {
	return &Engine{vodID: vodID, width: widthSeconds, grace: graceSeconds}
}

// Add routes one event and returns any windows completed by the bucket
// shift it caused, in ascending index order.
func (e *Engine) Add(ev core.ChatEvent) []core.Window {
	idx := int(math.Floor(ev.OffsetSeconds / e.width))

	if !e.started {
		e.started = true
		out := e.initAt(idx)
		e.addTo(e.current, ev)
		return out
	}

	switch {
	case idx == e.current.index:
		e.addTo(e.current, ev)
		return nil

	case idx > e.current.index:
		out := e.shiftTo(idx)
		e.addTo(e.current, ev)
		return out

	default:
		// Behind the current bucket. Within grace the event merges into
		// the trailing bucket; otherwise it is dropped with accounting.
		currentStart := float64(e.current.index) * e.width
		if ev.OffsetSeconds >= currentStart-e.grace && e.prev != nil {
			e.addTo(e.prev, ev)
			e.lateMerged++
			return nil
		}
		e.lateDropped++
		return nil
	}
}

// Flush closes all open buckets at end of stream and returns them in
// ascending index order. The Engine is spent afterwards.
func (e *Engine) Flush() []core.Window {
	var out []core.Window
	if e.prev != nil {
		out = append(out, e.seal(e.prev))
		e.prev = nil
	}
	if e.current != nil {
		out = append(out, e.seal(e.current))
		e.current = nil
	}
	return out
}

// LateMerged reports events attributed to the trailing bucket via grace.
func (e *Engine) LateMerged() int { return e.lateMerged }

// LateDropped reports events beyond grace that were discarded.
func (e *Engine) LateDropped() int { return e.lateDropped }

// initAt opens bucket idx as current. Earlier indices are emitted empty so
// the per-VOD index sequence stays contiguous from 0; idx-1 stays open as
// the trailing bucket.
func (e *Engine) initAt(idx int) []core.Window {
	var out []core.Window
	for i := 0; i < idx-1; i++ {
		out = append(out, e.seal(e.newBucket(i)))
	}
	if idx > 0 {
		e.prev = e.newBucket(idx - 1)
	}
	e.current = e.newBucket(idx)
	return out
}

// shiftTo advances current to idx, emitting every bucket that falls out of
// the two-bucket open set, gap buckets included.
func (e *Engine) shiftTo(idx int) []core.Window {
	var out []core.Window
	if e.prev != nil {
		out = append(out, e.seal(e.prev))
		e.prev = nil
	}
	if idx == e.current.index+1 {
		e.prev = e.current
	} else {
		out = append(out, e.seal(e.current))
		for i := e.current.index + 1; i < idx-1; i++ {
			out = append(out, e.seal(e.newBucket(i)))
		}
		e.prev = e.newBucket(idx - 1)
	}
	e.current = e.newBucket(idx)
	return out
}

func (e *Engine) newBucket(idx int) *bucket {
	return &bucket{index: idx, authors: make(map[string]struct{})}
}

func (e *Engine) addTo(b *bucket, ev core.ChatEvent) {
	b.messageCount++
	if ev.AuthorID != "" {
		b.authors[ev.AuthorID] = struct{}{}
	}
	b.emoteSum += ev.EmoteCount
	if ev.HasSentiment {
		b.sentimentSum += ev.Sentiment
		b.sentimentCount++
	}
}

func (e *Engine) seal(b *bucket) core.Window {
	w := core.Window{
		VODID:             e.vodID,
		Index:             b.index,
		StartSeconds:      float64(b.index) * e.width,
		EndSeconds:        float64(b.index+1) * e.width,
		MessageCount:      b.messageCount,
		UniqueAuthorCount: len(b.authors),
		SentimentSum:      b.sentimentSum,
		SentimentCount:    b.sentimentCount,
	}
	if b.messageCount > 0 {
		w.EmoteDensity = float64(b.emoteSum) / float64(b.messageCount)
	}
	return w
}
