package core

import "time"

// ChatEvent is the normalized form of one chat comment on a VOD timeline.
// Immutable once produced by the normalizer.
type ChatEvent struct {
	VODID         string
	OffsetSeconds float64 // seconds from VOD start, >= 0
	AuthorID      string
	Text          string
	EmoteCount    int
	FragmentIDs   []string
	Sentiment     float64
	HasSentiment  bool
}

// Window aggregates chat activity over one fixed-width slice of a VOD.
// Identity is (VODID, Index); boundaries derive from Index and the
// configured width, never from the events themselves.
type Window struct {
	VODID             string
	Index             int
	StartSeconds      float64
	EndSeconds        float64
	MessageCount      int
	UniqueAuthorCount int
	EmoteDensity      float64 // emotes per message, 0 for empty windows
	SentimentSum      float64
	SentimentCount    int
}

// SentimentAvg returns the mean per-message sentiment, 0 when no message
// carried a sentiment value.
func (w Window) SentimentAvg() float64 {
	if w.SentimentCount == 0 {
		return 0
	}
	return w.SentimentSum / float64(w.SentimentCount)
}

// ScoredWindow is a Window plus its composite engagement score. Derived
// data: recomputable from the Window and the scoring config alone.
type ScoredWindow struct {
	Window
	Score       float64
	IsCandidate bool
}

// HighlightSegment is one reportable interval of contiguous high-engagement
// windows. Immutable once written; superseded, never mutated, on re-runs.
type HighlightSegment struct {
	ID            string // sha256 over vod_id, start and end; see segment.ID
	VODID         string
	StartSeconds  float64
	EndSeconds    float64
	Score         float64
	WindowIndices []int // contributing windows, ascending
}

// VOD is the broadcast metadata carried alongside a chat dump.
type VOD struct {
	ID              string
	ChannelID       string
	Title           string
	DurationSeconds float64
	CreatedAt       time.Time
}

// RunStatus reports the outcome of one pipeline run.
type RunStatus string

const (
	RunSucceeded RunStatus = "success"
	RunFailed    RunStatus = "failed"
)

// RunResult is returned to the scheduling caller after a per-VOD run.
type RunResult struct {
	RunID            string
	VODID            string
	Status           RunStatus
	Stage            string // stage that failed, empty on success
	WindowsWritten   int
	SegmentsWritten  int
	MalformedRecords int
	DuplicateRecords int
	LateMerged       int
	LateDropped      int
	Err              error
	StartedAt        time.Time
	FinishedAt       time.Time
}
