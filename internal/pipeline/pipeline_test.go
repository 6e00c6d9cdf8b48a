package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/you/hypecut/internal/config"
	"github.com/you/hypecut/internal/core"
	"github.com/you/hypecut/internal/sentiment"
	"github.com/you/hypecut/internal/source"
	"github.com/you/hypecut/internal/store"
)

func testPipeline(t *testing.T) (*Pipeline, *store.Store) {
	t.Helper()
	st, err := store.Open("sqlite", filepath.Join(t.TempDir(), "hypecut.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := config.Default()
	cfg.Store.Driver = "sqlite"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, st, sentiment.Null{}, logger), st
}

// writeDump builds a JSONL chat dump: vod header, emote header, then one
// comment per (offset, author) pair.
func writeDump(t *testing.T, dir, vodID string, comments []string) string {
	t.Helper()
	path := filepath.Join(dir, vodID+".jsonl")
	var lines []byte
	lines = append(lines, []byte(fmt.Sprintf(
		`{"type":"vod","vod":{"id":%q,"channel_id":"c1","title":"test stream","duration_seconds":300,"created_at":"2025-04-01T12:00:00Z"}}`+"\n", vodID))...)
	lines = append(lines, []byte(`{"type":"emotes","emotes":[{"id":"1","source":"bttv","name":"KEKW"}]}`+"\n")...)
	for _, c := range comments {
		lines = append(lines, []byte(c+"\n")...)
	}
	require.NoError(t, os.WriteFile(path, lines, 0o644))
	return path
}

func comment(id string, offset float64, author, text string) string {
	return fmt.Sprintf(
		`{"type":"comment","comment":{"id":%q,"offset_seconds":%g,"author_id":%q,"fragments":[{"id":%q,"text":%q}]}}`,
		id, offset, author, id+"-f", text)
}

// steadyWithBurst emits ten 30s windows of chat, ten messages each except
// sixty in window 4. Mean 15, stddev 15, so the burst scores z=3.
func steadyWithBurst() []string {
	var out []string
	n := 0
	for w := 0; w < 10; w++ {
		count := 10
		if w == 4 {
			count = 60
		}
		for m := 0; m < count; m++ {
			offset := float64(w)*30 + float64(m)*0.4
			out = append(out, comment(fmt.Sprintf("c%d", n), offset, fmt.Sprintf("u%d", n), "hello chat"))
			n++
		}
	}
	return out
}

func TestRunFileBurstProducesOneSegment(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	path := writeDump(t, t.TempDir(), "v1", steadyWithBurst())
	result := p.RunFile(ctx, "v1", path)

	require.Equal(t, core.RunSucceeded, result.Status)
	require.NoError(t, result.Err)
	require.Equal(t, 10, result.WindowsWritten)
	require.Equal(t, 1, result.SegmentsWritten)
	require.Zero(t, result.MalformedRecords)

	windows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, windows, 10)
	for i, w := range windows {
		require.Equal(t, i, w.Index)
	}
	require.True(t, windows[4].IsCandidate)
	require.InDelta(t, 3.0, windows[4].Score, 1e-9)
	for i, w := range windows {
		if i != 4 {
			require.False(t, w.IsCandidate, "window %d", i)
		}
	}

	segs, err := st.SegmentsForVOD(ctx, "v1", false)
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Equal(t, 120.0, segs[0].StartSeconds)
	require.Equal(t, 150.0, segs[0].EndSeconds)
	require.Equal(t, []int{4}, segs[0].WindowIndices)
}

func TestRunFileIdempotent(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	path := writeDump(t, t.TempDir(), "v1", steadyWithBurst())
	first := p.RunFile(ctx, "v1", path)
	require.Equal(t, core.RunSucceeded, first.Status)

	firstWindows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)

	second := p.RunFile(ctx, "v1", path)
	require.Equal(t, core.RunSucceeded, second.Status)
	require.Zero(t, second.WindowsWritten, "unchanged windows must not rewrite")

	secondWindows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Equal(t, firstWindows, secondWindows)

	segs, err := st.SegmentsForVOD(ctx, "v1", true)
	require.NoError(t, err)
	require.Len(t, segs, 1, "re-run must not duplicate or supersede identical segments")

	runs, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
}

func TestRunFileEmptyDumpSucceeds(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	path := writeDump(t, t.TempDir(), "v1", nil)
	result := p.RunFile(ctx, "v1", path)

	require.Equal(t, core.RunSucceeded, result.Status)
	require.Zero(t, result.WindowsWritten)
	require.Zero(t, result.SegmentsWritten)

	windows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Empty(t, windows)
}

func TestRunFileMissingDumpFailsAtAcquire(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	result := p.RunFile(ctx, "v1", filepath.Join(t.TempDir(), "nope.jsonl"))
	require.Equal(t, core.RunFailed, result.Status)
	require.Equal(t, StageAcquire, result.Stage)
	require.Error(t, result.Err)

	// The failure still leaves a bookkeeping row.
	runs, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "failed", runs[0].Status)
}

func TestRunFileAccountsMalformedAndDuplicates(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	comments := []string{
		comment("c1", 5, "alice", "hello"),
		comment("c1", 5, "alice", "hello"), // redelivered
		`{"type":"comment","comment":{"id":"c2","author_id":"bob","fragments":[{"id":"f2","text":"no offset"}]}}`,
		`this line is not json`,
		comment("c3", 12, "carol", "hey"),
	}
	path := writeDump(t, t.TempDir(), "v1", comments)
	result := p.RunFile(ctx, "v1", path)

	require.Equal(t, core.RunSucceeded, result.Status)
	require.Equal(t, 2, result.MalformedRecords)
	require.Equal(t, 1, result.DuplicateRecords)

	windows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.Equal(t, 2, windows[0].MessageCount)
}

func TestRunFileVODMetadataAndEmotesStored(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()

	// KEKW comes from the dump's emote header, so it counts as an emote
	// and drops out of the message text.
	path := writeDump(t, t.TempDir(), "v1", []string{comment("c1", 5, "alice", "KEKW nice")})
	result := p.RunFile(ctx, "v1", path)
	require.Equal(t, core.RunSucceeded, result.Status)

	names, err := st.ChannelEmotes(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, []string{"KEKW"}, names)

	windows, err := st.WindowsForVOD(ctx, "v1")
	require.NoError(t, err)
	require.Len(t, windows, 1)
	require.InDelta(t, 1.0, windows[0].EmoteDensity, 1e-9)
}

type stubSource struct {
	records []source.RawComment
	errs    []error
	i       int
}

func (s *stubSource) Next(ctx context.Context) (source.RawComment, error) {
	if err := ctx.Err(); err != nil {
		return source.RawComment{}, err
	}
	if s.i >= len(s.records) {
		return source.RawComment{}, io.EOF
	}
	rc, err := s.records[s.i], s.errs[s.i]
	s.i++
	return rc, err
}

func TestRunLateEventAccounting(t *testing.T) {
	p, _ := testPipeline(t)
	ctx := context.Background()

	// Third event is 4s behind window 2's start (inside grace 5), fourth
	// is far behind anything still open.
	records := []source.RawComment{
		{ID: "c1", Offset: 10.0, AuthorID: "a"},
		{ID: "c2", Offset: 65.0, AuthorID: "b"},
		{ID: "c3", Offset: 56.0, AuthorID: "c"},
		{ID: "c4", Offset: 3.0, AuthorID: "d"},
	}
	src := &stubSource{records: records, errs: make([]error, len(records))}

	result := p.Run(ctx, "v1", src, nil)
	require.Equal(t, core.RunSucceeded, result.Status)
	require.Equal(t, 1, result.LateMerged)
	require.Equal(t, 1, result.LateDropped)
}

func TestRunCancelledContextFails(t *testing.T) {
	p, _ := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result := p.Run(ctx, "v1", &stubSource{}, nil)
	require.Equal(t, core.RunFailed, result.Status)
	require.Equal(t, StageAcquire, result.Stage)
}

func TestRunnerReportsEveryResult(t *testing.T) {
	p, _ := testPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()

	jobs := []Job{
		{VODID: "v1", Path: writeDump(t, dir, "v1", []string{comment("c1", 5, "alice", "hi")})},
		{VODID: "v2", Path: filepath.Join(dir, "missing.jsonl")},
	}

	var mu sync.Mutex
	seen := make(map[string]core.RunStatus)

	runner := NewRunner(p, 2)
	runner.OnResult = func(r core.RunResult) {
		mu.Lock()
		defer mu.Unlock()
		seen[r.VODID] = r.Status
	}

	runner.RunAll(ctx, jobs)
	require.Len(t, seen, 2)
	require.Equal(t, core.RunSucceeded, seen["v1"])
	require.Equal(t, core.RunFailed, seen["v2"])
}

func TestRunnerReportsCancelledJobs(t *testing.T) {
	p, _ := testPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var count int
	var mu sync.Mutex
	runner := NewRunner(p, 1)
	runner.OnResult = func(core.RunResult) {
		mu.Lock()
		count++
		mu.Unlock()
	}

	runner.RunAll(ctx, []Job{{VODID: "v1", Path: "irrelevant"}, {VODID: "v2", Path: "irrelevant"}})
	require.Equal(t, 2, count, "jobs failed by cancellation must still be reported")
}

func TestRunnerProcessesAllJobs(t *testing.T) {
	p, st := testPipeline(t)
	ctx := context.Background()
	dir := t.TempDir()

	jobs := []Job{
		{VODID: "v1", Path: writeDump(t, dir, "v1", []string{comment("c1", 5, "alice", "hi")})},
		{VODID: "v2", Path: writeDump(t, dir, "v2", []string{comment("c1", 40, "bob", "yo")})},
		{VODID: "v3", Path: filepath.Join(dir, "missing.jsonl")},
	}

	results := NewRunner(p, 2).RunAll(ctx, jobs)
	require.Len(t, results, 3)
	require.Equal(t, core.RunSucceeded, results[0].Status)
	require.Equal(t, core.RunSucceeded, results[1].Status)
	require.Equal(t, core.RunFailed, results[2].Status)

	runs, err := st.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 3)
}
