// Package store persists windows, segments and run bookkeeping in a
// columnar database. DuckDB is the primary driver; SQLite is a drop-in
// fallback for hosts without the native bindings.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/you/hypecut/internal/core"
)

// floatEpsilon bounds the feature comparison that decides whether an
// existing window row actually changed. Unchanged rows keep their run_ts.
const floatEpsilon = 1e-9

// WriteError is a store-side failure. Writes are idempotent, so callers
// may retry the whole run safely.
type WriteError struct {
	VODID string
	Err   error
}

func (e *WriteError) Error() string {
	return "store write failed for vod " + e.VODID + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error { return e.Err }

// Store wraps one database handle and exposes domain persistence.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects using the named driver ("duckdb" or "sqlite") and ensures
// the schema exists.
func Open(driver, path string) (*Store, error) {
	driver = strings.ToLower(strings.TrimSpace(driver))
	switch driver {
	case "duckdb", "sqlite":
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s %s", driver, path)
	}
	if driver == "sqlite" {
		if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
			_ = db.Close()
			return nil, errors.Wrap(err, "set WAL")
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	return &Store{db: db, driver: driver}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies the connection.
func (s *Store) Ping() error { return s.db.Ping() }

// Driver reports which backend the store runs on.
func (s *Store) Driver() string { return s.driver }

// --- VOD metadata ---

// UpsertVOD inserts or refreshes broadcast metadata.
func (s *Store) UpsertVOD(ctx context.Context, v core.VOD) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vods (id, channel_id, title, duration_seconds, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			channel_id = excluded.channel_id,
			title = excluded.title,
			duration_seconds = excluded.duration_seconds,
			created_at = excluded.created_at
	`, v.ID, v.ChannelID, v.Title, v.DurationSeconds, formatTime(v.CreatedAt))
	return errors.Wrap(err, "upsert vod")
}

// --- Channel emote lexicon ---

// Emote is one channel-emote lexicon entry.
type Emote struct {
	ID     string
	Source string
	Name   string
}

// ReplaceChannelEmotes swaps the whole lexicon for a channel in one tx.
func (s *Store) ReplaceChannelEmotes(ctx context.Context, channelID string, emotes []Emote) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM emotes WHERE channel_id = ?`, channelID); err != nil {
		return errors.Wrap(err, "clear emotes")
	}
	for _, e := range emotes {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO emotes (id, channel_id, source, name) VALUES (?, ?, ?, ?)
			ON CONFLICT (channel_id, id) DO UPDATE SET source = excluded.source, name = excluded.name
		`, e.ID, channelID, e.Source, e.Name); err != nil {
			return errors.Wrapf(err, "insert emote %s", e.ID)
		}
	}
	return errors.Wrap(tx.Commit(), "commit emotes")
}

// ChannelEmotes returns the emote codes known for a channel.
func (s *Store) ChannelEmotes(ctx context.Context, channelID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM emotes WHERE channel_id = ? ORDER BY name`, channelID)
	if err != nil {
		return nil, errors.Wrap(err, "query emotes")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, errors.Wrap(err, "scan emote")
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// --- Pipeline output ---

// WriteStats reports what one WriteRun call actually changed.
type WriteStats struct {
	WindowsWritten     int
	WindowsUnchanged   int
	SegmentsWritten    int
	SegmentsSuperseded int
}

// WriteRun commits one run's windows and segments as a single transaction.
// Safe to call repeatedly for the same VOD: windows upsert on
// (vod_id, window_index) only when their data differs, segments upsert by
// segment_id, and active segments missing from this run are marked
// superseded rather than deleted.
func (s *Store) WriteRun(ctx context.Context, vodID string, windows []core.ScoredWindow, segments []core.HighlightSegment, runTS time.Time) (WriteStats, error) {
	var stats WriteStats
	ts := formatTime(runTS)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return stats, &WriteError{VODID: vodID, Err: errors.Wrap(err, "begin tx")}
	}
	defer tx.Rollback()

	for _, w := range windows {
		changed, err := upsertWindow(ctx, tx, w, ts)
		if err != nil {
			return stats, &WriteError{VODID: vodID, Err: errors.Wrapf(err, "window %d", w.Index)}
		}
		if changed {
			stats.WindowsWritten++
		} else {
			stats.WindowsUnchanged++
		}
	}

	superseded, err := supersedeMissing(ctx, tx, vodID, segments, ts)
	if err != nil {
		return stats, &WriteError{VODID: vodID, Err: err}
	}
	stats.SegmentsSuperseded = superseded

	for _, seg := range segments {
		indices, err := json.Marshal(seg.WindowIndices)
		if err != nil {
			return stats, &WriteError{VODID: vodID, Err: errors.Wrap(err, "encode window indices")}
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO segments (segment_id, vod_id, start_seconds, end_seconds, score, window_indices, status, run_ts)
			VALUES (?, ?, ?, ?, ?, ?, 'active', ?)
			ON CONFLICT (segment_id) DO UPDATE SET
				score = excluded.score,
				window_indices = excluded.window_indices,
				status = 'active',
				run_ts = excluded.run_ts
		`, seg.ID, seg.VODID, seg.StartSeconds, seg.EndSeconds, seg.Score, string(indices), ts); err != nil {
			return stats, &WriteError{VODID: vodID, Err: errors.Wrapf(err, "segment %s", seg.ID)}
		}
		stats.SegmentsWritten++
	}

	if err := tx.Commit(); err != nil {
		return stats, &WriteError{VODID: vodID, Err: errors.Wrap(err, "commit")}
	}
	return stats, nil
}

func upsertWindow(ctx context.Context, tx *sql.Tx, w core.ScoredWindow, ts string) (bool, error) {
	var (
		existing     core.ScoredWindow
		sentimentAvg float64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT message_count, unique_author_count, emote_density, sentiment_avg, score, is_candidate
		FROM windows WHERE vod_id = ? AND window_index = ?
	`, w.VODID, w.Index).Scan(
		&existing.MessageCount, &existing.UniqueAuthorCount, &existing.EmoteDensity,
		&sentimentAvg, &existing.Score, &existing.IsCandidate,
	)
	switch {
	case err == sql.ErrNoRows:
		// fall through to insert
	case err != nil:
		return false, errors.Wrap(err, "read existing window")
	default:
		if windowEqual(w, existing, sentimentAvg) {
			return false, nil
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO windows (vod_id, window_index, start_seconds, end_seconds,
			message_count, unique_author_count, emote_density, sentiment_avg,
			score, is_candidate, run_ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (vod_id, window_index) DO UPDATE SET
			start_seconds = excluded.start_seconds,
			end_seconds = excluded.end_seconds,
			message_count = excluded.message_count,
			unique_author_count = excluded.unique_author_count,
			emote_density = excluded.emote_density,
			sentiment_avg = excluded.sentiment_avg,
			score = excluded.score,
			is_candidate = excluded.is_candidate,
			run_ts = excluded.run_ts
	`, w.VODID, w.Index, w.StartSeconds, w.EndSeconds,
		w.MessageCount, w.UniqueAuthorCount, w.EmoteDensity, w.SentimentAvg(),
		w.Score, w.IsCandidate, ts)
	if err != nil {
		return false, errors.Wrap(err, "upsert window")
	}
	return true, nil
}

func windowEqual(w core.ScoredWindow, existing core.ScoredWindow, existingSentimentAvg float64) bool {
	return w.MessageCount == existing.MessageCount &&
		w.UniqueAuthorCount == existing.UniqueAuthorCount &&
		w.IsCandidate == existing.IsCandidate &&
		math.Abs(w.EmoteDensity-existing.EmoteDensity) <= floatEpsilon &&
		math.Abs(w.SentimentAvg()-existingSentimentAvg) <= floatEpsilon &&
		math.Abs(w.Score-existing.Score) <= floatEpsilon
}

func supersedeMissing(ctx context.Context, tx *sql.Tx, vodID string, current []core.HighlightSegment, ts string) (int, error) {
	if len(current) == 0 {
		res, err := tx.ExecContext(ctx,
			`UPDATE segments SET status = 'superseded', run_ts = ? WHERE vod_id = ? AND status = 'active'`,
			ts, vodID)
		if err != nil {
			return 0, errors.Wrap(err, "supersede segments")
		}
		n, _ := res.RowsAffected()
		return int(n), nil
	}

	placeholders := make([]string, 0, len(current))
	args := []any{ts, vodID}
	for _, seg := range current {
		placeholders = append(placeholders, "?")
		args = append(args, seg.ID)
	}
	query := fmt.Sprintf(
		`UPDATE segments SET status = 'superseded', run_ts = ? WHERE vod_id = ? AND status = 'active' AND segment_id NOT IN (%s)`,
		strings.Join(placeholders, ","))
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "supersede segments")
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// InsertRun records one run's bookkeeping row, success or failure.
func (s *Store) InsertRun(ctx context.Context, r core.RunResult) error {
	errText := ""
	if r.Err != nil {
		errText = r.Err.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (run_id, vod_id, status, stage, windows_written, segments_written,
			malformed, duplicates, late_merged, late_dropped, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (run_id) DO NOTHING
	`, r.RunID, r.VODID, string(r.Status), r.Stage, r.WindowsWritten, r.SegmentsWritten,
		r.MalformedRecords, r.DuplicateRecords, r.LateMerged, r.LateDropped,
		errText, formatTime(r.StartedAt), formatTime(r.FinishedAt))
	return errors.Wrap(err, "insert run")
}

// --- Read side ---

// WindowRow is one persisted window as served by the API.
type WindowRow struct {
	VODID             string  `json:"vod_id"`
	Index             int     `json:"window_index"`
	StartSeconds      float64 `json:"start_seconds"`
	EndSeconds        float64 `json:"end_seconds"`
	MessageCount      int     `json:"message_count"`
	UniqueAuthorCount int     `json:"unique_author_count"`
	EmoteDensity      float64 `json:"emote_density"`
	SentimentAvg      float64 `json:"sentiment_avg"`
	Score             float64 `json:"score"`
	IsCandidate       bool    `json:"is_candidate"`
	RunTS             string  `json:"run_ts"`
}

// WindowsForVOD returns all persisted windows for a VOD in index order.
func (s *Store) WindowsForVOD(ctx context.Context, vodID string) ([]WindowRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vod_id, window_index, start_seconds, end_seconds, message_count,
			unique_author_count, emote_density, sentiment_avg, score, is_candidate, run_ts
		FROM windows WHERE vod_id = ? ORDER BY window_index
	`, vodID)
	if err != nil {
		return nil, errors.Wrap(err, "query windows")
	}
	defer rows.Close()

	var out []WindowRow
	for rows.Next() {
		var w WindowRow
		if err := rows.Scan(&w.VODID, &w.Index, &w.StartSeconds, &w.EndSeconds,
			&w.MessageCount, &w.UniqueAuthorCount, &w.EmoteDensity, &w.SentimentAvg,
			&w.Score, &w.IsCandidate, &w.RunTS); err != nil {
			return nil, errors.Wrap(err, "scan window")
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// SegmentRow is one persisted segment as served by the API.
type SegmentRow struct {
	SegmentID     string  `json:"segment_id"`
	VODID         string  `json:"vod_id"`
	StartSeconds  float64 `json:"start_seconds"`
	EndSeconds    float64 `json:"end_seconds"`
	Score         float64 `json:"score"`
	WindowIndices []int   `json:"window_indices"`
	Status        string  `json:"status"`
	RunTS         string  `json:"run_ts"`
}

// SegmentsForVOD returns segments for a VOD ranked by score. Superseded
// rows are included only on request.
func (s *Store) SegmentsForVOD(ctx context.Context, vodID string, includeSuperseded bool) ([]SegmentRow, error) {
	query := `
		SELECT segment_id, vod_id, start_seconds, end_seconds, score, window_indices, status, run_ts
		FROM segments WHERE vod_id = ?`
	if !includeSuperseded {
		query += ` AND status = 'active'`
	}
	query += ` ORDER BY score DESC, start_seconds ASC`

	rows, err := s.db.QueryContext(ctx, query, vodID)
	if err != nil {
		return nil, errors.Wrap(err, "query segments")
	}
	defer rows.Close()

	var out []SegmentRow
	for rows.Next() {
		var (
			seg     SegmentRow
			indices string
		)
		if err := rows.Scan(&seg.SegmentID, &seg.VODID, &seg.StartSeconds, &seg.EndSeconds,
			&seg.Score, &indices, &seg.Status, &seg.RunTS); err != nil {
			return nil, errors.Wrap(err, "scan segment")
		}
		if err := json.Unmarshal([]byte(indices), &seg.WindowIndices); err != nil {
			return nil, errors.Wrapf(err, "decode window indices for %s", seg.SegmentID)
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// RunRow is one run bookkeeping record as served by the API.
type RunRow struct {
	RunID           string `json:"run_id"`
	VODID           string `json:"vod_id"`
	Status          string `json:"status"`
	Stage           string `json:"stage,omitempty"`
	WindowsWritten  int    `json:"windows_written"`
	SegmentsWritten int    `json:"segments_written"`
	Malformed       int    `json:"malformed"`
	Duplicates      int    `json:"duplicates"`
	LateMerged      int    `json:"late_merged"`
	LateDropped     int    `json:"late_dropped"`
	Error           string `json:"error,omitempty"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
}

// RecentRuns lists run records, most recent first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, vod_id, status, stage, windows_written, segments_written,
			malformed, duplicates, late_merged, late_dropped, error, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query runs")
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var r RunRow
		if err := rows.Scan(&r.RunID, &r.VODID, &r.Status, &r.Stage,
			&r.WindowsWritten, &r.SegmentsWritten, &r.Malformed, &r.Duplicates,
			&r.LateMerged, &r.LateDropped, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, errors.Wrap(err, "scan run")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// timeLayout is RFC3339 with fixed-width nanoseconds. RFC3339Nano trims
// trailing zeros, which breaks lexicographic ORDER BY on the stored
// strings; the padded form sorts chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}
