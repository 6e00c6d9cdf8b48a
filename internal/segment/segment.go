// Package segment merges candidate windows into highlight segments and
// ranks them.
package segment

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"

	"github.com/you/hypecut/internal/core"
)

// Options control merging and ranking.
type Options struct {
	MergeGap int // candidates within this index gap coalesce; 1 = adjacent only, 0 = never
	TopK     int // 0 = unlimited
}

// Merge coalesces candidate windows into segments, ranks them by score
// descending (earlier start wins ties) and applies the TopK cap. Input must
// be in ascending window-index order, which is how the windowing engine
// emits and the scoring batch preserves them. A zero MergeGap keeps every
// candidate as its own segment.
func Merge(scored []core.ScoredWindow, opts Options) []core.HighlightSegment {
	gap := opts.MergeGap

	var segments []core.HighlightSegment
	var open *core.HighlightSegment
	lastIdx := 0

	for _, sw := range scored {
		if !sw.IsCandidate {
			continue
		}
		if open != nil && sw.Index-lastIdx <= gap {
			open.EndSeconds = sw.EndSeconds
			if sw.Score > open.Score {
				open.Score = sw.Score
			}
			open.WindowIndices = append(open.WindowIndices, sw.Index)
			lastIdx = sw.Index
			continue
		}
		if open != nil {
			segments = append(segments, *open)
		}
		open = &core.HighlightSegment{
			VODID:         sw.VODID,
			StartSeconds:  sw.StartSeconds,
			EndSeconds:    sw.EndSeconds,
			Score:         sw.Score,
			WindowIndices: []int{sw.Index},
		}
		lastIdx = sw.Index
	}
	if open != nil {
		segments = append(segments, *open)
	}

	for i := range segments {
		segments[i].ID = ID(segments[i].VODID, segments[i].StartSeconds, segments[i].EndSeconds)
	}

	sort.SliceStable(segments, func(i, j int) bool {
		if segments[i].Score != segments[j].Score {
			return segments[i].Score > segments[j].Score
		}
		return segments[i].StartSeconds < segments[j].StartSeconds
	})

	if opts.TopK > 0 && len(segments) > opts.TopK {
		segments = segments[:opts.TopK]
	}
	return segments
}

// ID derives the stable segment identifier: hex sha256 over
// vod_id, start_seconds and end_seconds joined with 0x1f, floats rendered
// with strconv.FormatFloat(.., 'g', -1, 64). Pure; identical inputs always
// collide and distinct intervals on one VOD never do.
func ID(vodID string, startSeconds, endSeconds float64) string {
	payload := vodID + "\x1f" +
		strconv.FormatFloat(startSeconds, 'g', -1, 64) + "\x1f" +
		strconv.FormatFloat(endSeconds, 'g', -1, 64)
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}
