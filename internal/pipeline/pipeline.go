// Package pipeline sequences one VOD's chat dump through normalization,
// windowing, scoring, merging and persistence. A run either commits its
// whole output or reports the stage it died in; partial writes never
// happen because persistence is one transaction.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/you/hypecut/internal/config"
	"github.com/you/hypecut/internal/core"
	"github.com/you/hypecut/internal/normalize"
	"github.com/you/hypecut/internal/runtrace"
	"github.com/you/hypecut/internal/scoring"
	"github.com/you/hypecut/internal/segment"
	"github.com/you/hypecut/internal/sentiment"
	"github.com/you/hypecut/internal/source"
	"github.com/you/hypecut/internal/store"
	"github.com/you/hypecut/internal/window"
)

// Stage names recorded on failed runs.
const (
	StageAcquire = "acquire"
	StagePersist = "persist"
)

// Pipeline runs VODs against one store with one configuration. Safe for
// concurrent Run calls; per-run state lives on the stack.
type Pipeline struct {
	cfg    config.Config
	store  *store.Store
	scorer sentiment.Scorer
	log    *slog.Logger
}

// New wires a Pipeline. A nil scorer disables sentiment; a nil logger
// falls back to slog.Default.
func New(cfg config.Config, st *store.Store, scorer sentiment.Scorer, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{cfg: cfg, store: st, scorer: scorer, log: logger}
}

// Run processes one VOD from an already-open source. emoteLexicon lists the
// channel's emote codes for fragment classification. The returned RunResult
// is also persisted to the runs table, success or failure.
func (p *Pipeline) Run(ctx context.Context, vodID string, src source.ChatSource, emoteLexicon []string) core.RunResult {
	tr := runtrace.New(vodID)
	started := time.Now()

	norm := normalize.New(vodID, emoteLexicon, p.scorer)
	eng := window.NewEngine(vodID, p.cfg.Pipeline.WindowWidthSeconds, p.cfg.Pipeline.GraceSeconds)
	batch := scoring.NewBatch(p.cfg.Scoring)

	for {
		rc, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, source.ErrBadLine) {
				tr.Inc(runtrace.StageDropped("malformed"))
				continue
			}
			return p.finish(ctx, tr, eng, started, StageAcquire, err)
		}
		tr.Inc(runtrace.StageSeenFromSource)

		ev, err := norm.Normalize(rc)
		if err != nil {
			var malformed *normalize.MalformedRecordError
			switch {
			case errors.As(err, &malformed):
				tr.Inc(runtrace.StageDropped("malformed"))
				p.log.Debug("record dropped", "run_id", tr.RunID, "vod_id", vodID, "reason", malformed.Reason, "record_id", malformed.RecordID)
			case errors.Is(err, normalize.ErrDuplicate):
				tr.Inc(runtrace.StageDropped("duplicate"))
			default:
				tr.Inc(runtrace.StageDropped("malformed"))
			}
			continue
		}
		tr.Inc(runtrace.StageNormalizedOK)

		for _, w := range eng.Add(ev) {
			batch.Add(w)
			tr.Inc(runtrace.StageWindowsEmitted)
		}
	}

	for _, w := range eng.Flush() {
		batch.Add(w)
		tr.Inc(runtrace.StageWindowsEmitted)
	}

	scored := batch.Finalize()
	for _, sw := range scored {
		if sw.IsCandidate {
			tr.Inc(runtrace.StageCandidatesFound)
		}
	}

	segments := segment.Merge(scored, segment.Options{
		MergeGap: p.cfg.Pipeline.MergeGap,
		TopK:     p.cfg.Pipeline.TopK,
	})
	tr.Add(runtrace.StageSegmentsProduced, int64(len(segments)))

	stats, err := p.store.WriteRun(ctx, vodID, scored, segments, started)
	if err != nil {
		return p.finish(ctx, tr, eng, started, StagePersist, err)
	}
	tr.Add(runtrace.StageWindowsWritten, int64(stats.WindowsWritten))
	tr.Add(runtrace.StageSegmentsWritten, int64(stats.SegmentsWritten))

	result := p.finish(ctx, tr, eng, started, "", nil)
	tr.Log(p.log, "run complete")
	return result
}

// finish assembles the RunResult, records it in the runs table and returns
// it. A failed bookkeeping insert is logged, not propagated; the run's
// outcome is already decided.
func (p *Pipeline) finish(ctx context.Context, tr *runtrace.RunTrace, eng *window.Engine, started time.Time, stage string, runErr error) core.RunResult {
	result := core.RunResult{
		RunID:            tr.RunID,
		VODID:            tr.VODID,
		Status:           core.RunSucceeded,
		WindowsWritten:   int(tr.Count(runtrace.StageWindowsWritten)),
		SegmentsWritten:  int(tr.Count(runtrace.StageSegmentsWritten)),
		MalformedRecords: int(tr.Count(runtrace.StageDropped("malformed"))),
		DuplicateRecords: int(tr.Count(runtrace.StageDropped("duplicate"))),
		LateMerged:       eng.LateMerged(),
		LateDropped:      eng.LateDropped(),
		StartedAt:        started,
		FinishedAt:       time.Now(),
	}
	if runErr != nil {
		result.Status = core.RunFailed
		result.Stage = stage
		result.Err = runErr
		p.log.Error("run failed", "run_id", tr.RunID, "vod_id", tr.VODID, "stage", stage, "err", runErr)
	}

	// Record bookkeeping outside the run's own context so a cancelled run
	// still leaves its failure row behind.
	insertCtx := ctx
	if insertCtx.Err() != nil {
		var cancel context.CancelFunc
		insertCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
	}
	if err := p.store.InsertRun(insertCtx, result); err != nil {
		p.log.Error("run bookkeeping insert failed", "run_id", tr.RunID, "err", err)
	}
	return result
}

// RunFile opens a JSONL chat dump, registers its header metadata in the
// store and runs the pipeline over its comments. The emote lexicon is the
// dump header's, falling back to emotes previously stored for the channel.
func (p *Pipeline) RunFile(ctx context.Context, vodID, path string) core.RunResult {
	src, err := source.OpenJSONL(vodID, path)
	if err != nil {
		tr := runtrace.New(vodID)
		return p.finish(ctx, tr, window.NewEngine(vodID, p.cfg.Pipeline.WindowWidthSeconds, p.cfg.Pipeline.GraceSeconds), time.Now(), StageAcquire, err)
	}
	defer src.Close()

	channelID := ""
	if v := src.VOD(); v != nil {
		channelID = v.ChannelID
		if err := p.store.UpsertVOD(ctx, *v); err != nil {
			p.log.Error("vod metadata upsert failed", "vod_id", vodID, "err", err)
		}
	}

	lexicon := make([]string, 0, len(src.Emotes()))
	if headerEmotes := src.Emotes(); len(headerEmotes) > 0 {
		stored := make([]store.Emote, 0, len(headerEmotes))
		for _, e := range headerEmotes {
			lexicon = append(lexicon, e.Name)
			stored = append(stored, store.Emote{ID: e.ID, Source: e.Source, Name: e.Name})
		}
		if channelID != "" {
			if err := p.store.ReplaceChannelEmotes(ctx, channelID, stored); err != nil {
				p.log.Error("emote lexicon replace failed", "channel_id", channelID, "err", err)
			}
		}
	} else if channelID != "" {
		known, err := p.store.ChannelEmotes(ctx, channelID)
		if err != nil {
			p.log.Error("emote lexicon load failed", "channel_id", channelID, "err", err)
		}
		lexicon = known
	}

	return p.Run(ctx, vodID, src, lexicon)
}
