// Package source defines the acquisition boundary. The pipeline only ever
// sees an iterator of raw comment records; fetching, paging and auth live
// on the collaborator's side of this interface.
package source

import (
	"context"

	"github.com/pkg/errors"
)

// RawComment is the unvalidated record shape handed over by the acquisition
// collaborator. Fields are loosely typed on purpose; the normalizer is the
// validating adapter.
type RawComment struct {
	ID         string        `json:"id"`
	Offset     any           `json:"offset_seconds"` // number, numeric string, or absent
	AuthorID   string        `json:"author_id"`
	AuthorName string        `json:"author_name"`
	Fragments  []RawFragment `json:"fragments"`
}

// RawFragment is one piece of a comment message. EmoteID is set when the
// platform tagged the fragment as an emote.
type RawFragment struct {
	ID      string `json:"id"`
	Text    string `json:"text"`
	EmoteID string `json:"emote_id,omitempty"`
}

// EmotePayload is one channel-emote lexicon entry carried in a dump header.
type EmotePayload struct {
	ID     string `json:"id"`
	Source string `json:"source"` // "twitch", "bttv", "ffz", "7tv"
	Name   string `json:"name"`
}

// ErrBadLine marks a record the source could not decode at all. Callers
// skip and count it; it never aborts a run.
var ErrBadLine = errors.New("source: undecodable record")

// AcquisitionError is a hard fetch failure. It aborts the VOD run and is
// retryable by the scheduling caller.
type AcquisitionError struct {
	VODID string
	Err   error
}

func (e *AcquisitionError) Error() string {
	return "acquisition failed for vod " + e.VODID + ": " + e.Err.Error()
}

func (e *AcquisitionError) Unwrap() error { return e.Err }

// ChatSource streams raw comment records for one VOD. Next returns io.EOF
// after the last record, ErrBadLine for skippable garbage, and an
// *AcquisitionError for hard failures.
type ChatSource interface {
	Next(ctx context.Context) (RawComment, error)
}
