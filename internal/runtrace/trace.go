package runtrace

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Stage labels one accounting counter of a pipeline run.
type Stage string

const (
	StageSeenFromSource   Stage = "seen_from_source"
	StageNormalizedOK     Stage = "normalized_ok"
	StageWindowsEmitted   Stage = "windows_emitted"
	StageCandidatesFound  Stage = "candidates_found"
	StageSegmentsProduced Stage = "segments_produced"
	StageWindowsWritten   Stage = "windows_written"
	StageSegmentsWritten  Stage = "segments_written"

	StageDroppedPrefix = "dropped_"
)

// StageDropped creates a Stage for records dropped with the given reason.
func StageDropped(reason string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageDroppedPrefix, reason))
}

// RunTrace accumulates per-stage counters for one VOD run. Safe for
// concurrent increments, though a run is effectively single-threaded.
type RunTrace struct {
	RunID string
	VODID string

	mu       sync.Mutex
	counters map[Stage]int64
}

// New seeds a trace for a VOD run with a fresh run ID.
func New(vodID string) *RunTrace {
	return &RunTrace{
		RunID:    uuid.NewString(),
		VODID:    vodID,
		counters: make(map[Stage]int64),
	}
}

// Inc increments the counter for a stage and returns the updated value.
func (t *RunTrace) Inc(stage Stage) int64 {
	return t.Add(stage, 1)
}

// Add bumps a stage counter by n and returns the updated value.
func (t *RunTrace) Add(stage Stage, n int64) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.counters[stage] += n
	return t.counters[stage]
}

// Count reads one stage counter.
func (t *RunTrace) Count(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// Log emits the trace with all counters through structured logging.
func (t *RunTrace) Log(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info(msg,
		"run_id", t.RunID,
		"vod_id", t.VODID,
		"counters", t.snapshot(),
	)
}

func (t *RunTrace) snapshot() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		out[stage] = count
	}
	return out
}
