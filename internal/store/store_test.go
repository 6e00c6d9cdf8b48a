package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/you/hypecut/internal/core"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	// sqlite keeps the tests free of native DuckDB bindings; the DDL and
	// upsert statements are identical on both drivers.
	s, err := Open("sqlite", filepath.Join(t.TempDir(), "hypecut.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func scoredWindow(vodID string, idx, msgs int, score float64, candidate bool) core.ScoredWindow {
	return core.ScoredWindow{
		Window: core.Window{
			VODID:             vodID,
			Index:             idx,
			StartSeconds:      float64(idx) * 30,
			EndSeconds:        float64(idx+1) * 30,
			MessageCount:      msgs,
			UniqueAuthorCount: msgs,
			EmoteDensity:      0.5,
		},
		Score:       score,
		IsCandidate: candidate,
	}
}

func TestOpenRejectsUnknownDriver(t *testing.T) {
	_, err := Open("postgres", "ignored")
	require.Error(t, err)
}

func TestVODUpsert(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := core.VOD{
		ID:              "v1",
		ChannelID:       "c1",
		Title:           "speedrun",
		DurationSeconds: 3600,
		CreatedAt:       time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, s.UpsertVOD(ctx, v))

	v.Title = "speedrun (part 2)"
	require.NoError(t, s.UpsertVOD(ctx, v))

	var title string
	require.NoError(t, s.db.QueryRow(`SELECT title FROM vods WHERE id = 'v1'`).Scan(&title))
	require.Equal(t, "speedrun (part 2)", title)
}

func TestChannelEmotesReplace(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ReplaceChannelEmotes(ctx, "c1", []Emote{
		{ID: "1", Source: "bttv", Name: "KEKW"},
		{ID: "2", Source: "7tv", Name: "Pog"},
	}))
	names, err := s.ChannelEmotes(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"KEKW", "Pog"}, names)

	require.NoError(t, s.ReplaceChannelEmotes(ctx, "c1", []Emote{
		{ID: "3", Source: "7tv", Name: "Clap"},
	}))
	names, err = s.ChannelEmotes(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"Clap"}, names)
}

func TestWriteRunRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	windows := []core.ScoredWindow{
		scoredWindow("v1", 0, 3, 0.1, false),
		scoredWindow("v1", 1, 40, 2.7, true),
	}
	segments := []core.HighlightSegment{{
		ID:            "seg-a",
		VODID:         "v1",
		StartSeconds:  30,
		EndSeconds:    60,
		Score:         2.7,
		WindowIndices: []int{1},
	}}

	stats, err := s.WriteRun(ctx, "v1", windows, segments, time.Now())
	require.NoError(t, err)
	require.Equal(t, 2, stats.WindowsWritten)
	require.Equal(t, 1, stats.SegmentsWritten)
	require.Equal(t, 0, stats.SegmentsSuperseded)

	got, err := s.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 40, got[1].MessageCount)
	require.True(t, got[1].IsCandidate)

	segs, err := s.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, "active", segs[0].Status)
	require.Equal(t, []int{1}, segs[0].WindowIndices)
}

func TestWriteRunIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	windows := []core.ScoredWindow{scoredWindow("v1", 0, 10, 1.5, false)}
	segments := []core.HighlightSegment{{
		ID: "seg-a", VODID: "v1", StartSeconds: 0, EndSeconds: 30, Score: 1.5, WindowIndices: []int{0},
	}}

	firstTS := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.WriteRun(ctx, "v1", windows, segments, firstTS)
	require.NoError(t, err)

	// Same data again: nothing rewritten, window keeps the first run_ts.
	stats, err := s.WriteRun(ctx, "v1", windows, segments, firstTS.Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, 0, stats.WindowsWritten)
	require.Equal(t, 1, stats.WindowsUnchanged)

	got, err := s.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, formatTime(firstTS), got[0].RunTS)

	segs, err := s.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
}

func TestWriteRunRewritesChangedWindow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	firstTS := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	_, err := s.WriteRun(ctx, "v1", []core.ScoredWindow{scoredWindow("v1", 0, 10, 1.5, false)}, nil, firstTS)
	require.NoError(t, err)

	secondTS := firstTS.Add(time.Hour)
	stats, err := s.WriteRun(ctx, "v1", []core.ScoredWindow{scoredWindow("v1", 0, 12, 1.9, false)}, nil, secondTS)
	require.NoError(t, err)
	require.Equal(t, 1, stats.WindowsWritten)

	got, err := s.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, 12, got[0].MessageCount)
	require.Equal(t, formatTime(secondTS), got[0].RunTS)
}

func TestSupersededSegmentsKept(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	old := []core.HighlightSegment{{
		ID: "seg-old", VODID: "v1", StartSeconds: 0, EndSeconds: 30, Score: 2.2, WindowIndices: []int{0},
	}}
	_, err := s.WriteRun(ctx, "v1", nil, old, time.Now())
	require.NoError(t, err)

	// A rescore produces a different segment; the old one must survive as
	// superseded, not vanish.
	next := []core.HighlightSegment{{
		ID: "seg-new", VODID: "v1", StartSeconds: 60, EndSeconds: 90, Score: 3.1, WindowIndices: []int{2},
	}}
	stats, err := s.WriteRun(ctx, "v1", nil, next, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SegmentsSuperseded)

	active, err := s.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "seg-new", active[0].SegmentID)

	all, err := s.SegmentsForVOD(ctx, "v1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestSupersedeAllWhenRunProducesNone(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	segs := []core.HighlightSegment{{
		ID: "seg-a", VODID: "v1", StartSeconds: 0, EndSeconds: 30, Score: 2.2, WindowIndices: []int{0},
	}}
	_, err := s.WriteRun(ctx, "v1", nil, segs, time.Now())
	require.NoError(t, err)

	stats, err := s.WriteRun(ctx, "v1", nil, nil, time.Now())
	require.NoError(t, err)
	require.Equal(t, 1, stats.SegmentsSuperseded)

	active, err := s.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Empty(t, active)
}

func TestSegmentsRankedByScore(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	segs := []core.HighlightSegment{
		{ID: "low", VODID: "v1", StartSeconds: 0, EndSeconds: 30, Score: 2.1, WindowIndices: []int{0}},
		{ID: "high", VODID: "v1", StartSeconds: 60, EndSeconds: 120, Score: 3.4, WindowIndices: []int{2, 3}},
	}
	_, err := s.WriteRun(ctx, "v1", nil, segs, time.Now())
	require.NoError(t, err)

	got, err := s.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Equal(t, "high", got[0].SegmentID)
	require.Equal(t, "low", got[1].SegmentID)
}

func TestRunsRecorded(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(ctx, core.RunResult{
		RunID:            "r1",
		VODID:            "v1",
		Status:           core.RunSucceeded,
		WindowsWritten:   5,
		SegmentsWritten:  2,
		MalformedRecords: 1,
		StartedAt:        started,
		FinishedAt:       started.Add(2 * time.Second),
	}))
	require.NoError(t, s.InsertRun(ctx, core.RunResult{
		RunID:      "r2",
		VODID:      "v2",
		Status:     core.RunFailed,
		Stage:      "acquire",
		Err:        context.DeadlineExceeded,
		StartedAt:  started.Add(time.Minute),
		FinishedAt: started.Add(time.Minute + time.Second),
	}))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "r2", runs[0].RunID)
	require.Equal(t, "failed", runs[0].Status)
	require.Equal(t, "acquire", runs[0].Stage)
	require.NotEmpty(t, runs[0].Error)
	require.Equal(t, "r1", runs[1].RunID)
	require.Equal(t, 5, runs[1].WindowsWritten)
}

func TestRunsOrderedAcrossSubsecondStarts(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// A whole-second start must sort before one half a second later; the
	// stored strings are compared lexicographically.
	base := time.Date(2025, 4, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, s.InsertRun(ctx, core.RunResult{
		RunID: "whole", VODID: "v1", Status: core.RunSucceeded,
		StartedAt: base, FinishedAt: base.Add(time.Second),
	}))
	require.NoError(t, s.InsertRun(ctx, core.RunResult{
		RunID: "halfsec", VODID: "v1", Status: core.RunSucceeded,
		StartedAt: base.Add(500 * time.Millisecond), FinishedAt: base.Add(2 * time.Second),
	}))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "halfsec", runs[0].RunID)
	require.Equal(t, "whole", runs[1].RunID)
}

func TestEmptyReads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	windows, err := s.WindowsForVOD(ctx, "missing")
	require.NoError(t, err)
	require.Empty(t, windows)

	segs, err := s.SegmentsForVOD(ctx, "missing", true)
	require.NoError(t, err)
	require.Empty(t, segs)

	runs, err := s.RecentRuns(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, runs)
}
