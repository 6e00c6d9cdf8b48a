// Package normalize is the validating adapter between raw acquisition
// records and the pipeline's canonical ChatEvent.
package normalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/you/hypecut/internal/core"
	"github.com/you/hypecut/internal/sentiment"
	"github.com/you/hypecut/internal/source"
)

// MalformedRecordError reports a record that cannot become a ChatEvent.
// Always recovered by skip-and-count, never fatal to a run.
type MalformedRecordError struct {
	RecordID string
	Reason   string
}

func (e *MalformedRecordError) Error() string {
	return fmt.Sprintf("malformed record %q: %s", e.RecordID, e.Reason)
}

// ErrDuplicate marks a redelivered record (same author, text, offset and
// fragment ids as one already seen). Dropped to keep downstream idempotent.
var ErrDuplicate = errors.New("duplicate record")

// Normalizer converts raw comments for one VOD. Not safe for concurrent
// use; each VOD run owns its own instance.
type Normalizer struct {
	vodID   string
	lexicon map[string]struct{}
	scorer  sentiment.Scorer
	seen    map[string]struct{}
}

// New builds a Normalizer. emoteLexicon lists the channel's known emote
// codes (may be empty); scorer supplies per-message sentiment (nil disables
// sentiment tagging).
func New(vodID string, emoteLexicon []string, scorer sentiment.Scorer) *Normalizer {
	lex := make(map[string]struct{}, len(emoteLexicon))
	for _, name := range emoteLexicon {
		if name = strings.TrimSpace(name); name != "" {
			lex[name] = struct{}{}
		}
	}
	if scorer == nil {
		scorer = sentiment.Null{}
	}
	return &Normalizer{
		vodID:   vodID,
		lexicon: lex,
		scorer:  scorer,
		seen:    make(map[string]struct{}),
	}
}

// Normalize produces zero or one ChatEvent from a raw record. It returns a
// *MalformedRecordError for unusable records and ErrDuplicate for
// redelivered ones.
func (n *Normalizer) Normalize(rc source.RawComment) (core.ChatEvent, error) {
	offset, err := parseOffset(rc)
	if err != nil {
		return core.ChatEvent{}, err
	}

	var (
		words       []string
		fragmentIDs []string
		emotes      int
	)
	for _, frag := range rc.Fragments {
		if frag.ID != "" {
			fragmentIDs = append(fragmentIDs, frag.ID)
		}
		if frag.EmoteID != "" {
			emotes++
			continue
		}
		for _, word := range strings.Fields(frag.Text) {
			if _, ok := n.lexicon[word]; ok {
				emotes++
			} else {
				words = append(words, word)
			}
		}
	}
	text := strings.Join(words, " ")

	key := identity(rc.AuthorID, text, offset, fragmentIDs)
	if _, dup := n.seen[key]; dup {
		return core.ChatEvent{}, ErrDuplicate
	}
	n.seen[key] = struct{}{}

	ev := core.ChatEvent{
		VODID:         n.vodID,
		OffsetSeconds: offset,
		AuthorID:      authorKey(rc),
		Text:          text,
		EmoteCount:    emotes,
		FragmentIDs:   fragmentIDs,
	}
	if _, isNull := n.scorer.(sentiment.Null); !isNull {
		ev.Sentiment = n.scorer.ScoreText(text)
		ev.HasSentiment = true
	}
	return ev, nil
}

func parseOffset(rc source.RawComment) (float64, error) {
	var offset float64
	switch v := rc.Offset.(type) {
	case nil:
		return 0, &MalformedRecordError{RecordID: rc.ID, Reason: "missing offset"}
	case float64:
		offset = v
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, &MalformedRecordError{RecordID: rc.ID, Reason: "non-numeric offset"}
		}
		offset = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, &MalformedRecordError{RecordID: rc.ID, Reason: "non-numeric offset"}
		}
		offset = f
	default:
		return 0, &MalformedRecordError{RecordID: rc.ID, Reason: fmt.Sprintf("offset has unusable type %T", v)}
	}
	if offset < 0 {
		return 0, &MalformedRecordError{RecordID: rc.ID, Reason: "negative offset"}
	}
	return offset, nil
}

func authorKey(rc source.RawComment) string {
	if rc.AuthorID != "" {
		return rc.AuthorID
	}
	return rc.AuthorName
}

// identity hashes the fields that define a logical record so that page
// redelivery from the acquisition side collapses to one event.
func identity(author, text string, offset float64, fragmentIDs []string) string {
	frags := append([]string(nil), fragmentIDs...)
	sort.Strings(frags)
	payload := author + "\x1f" + text + "\x1f" +
		strconv.FormatFloat(offset, 'g', -1, 64) + "\x1f" +
		strings.Join(frags, "\x1e")
	digest := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(digest[:])
}
