package source

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/you/hypecut/internal/core"
)

// dump files are newline-delimited JSON. Header lines (vod metadata, channel
// emote lexicon) come first, then one comment line per chat message.
type dumpLine struct {
	Type    string         `json:"type"` // "vod", "emotes", "comment"
	VOD     *vodPayload    `json:"vod,omitempty"`
	Emotes  []EmotePayload `json:"emotes,omitempty"`
	Comment *RawComment    `json:"comment,omitempty"`
}

type vodPayload struct {
	ID              string  `json:"id"`
	ChannelID       string  `json:"channel_id"`
	Title           string  `json:"title"`
	DurationSeconds float64 `json:"duration_seconds"`
	CreatedAt       string  `json:"created_at"`
}

// JSONLSource reads an exported chat dump file. It satisfies ChatSource.
type JSONLSource struct {
	vodID   string
	file    *os.File
	scanner *bufio.Scanner

	vod    *core.VOD
	emotes []EmotePayload

	pending    *RawComment // first comment, buffered while reading the header
	pendingBad bool        // undecodable line hit while reading the header
	done       bool
}

// OpenJSONL opens a dump and consumes its header lines so that VOD and
// Emotes are available before iteration starts.
func OpenJSONL(vodID, path string) (*JSONLSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &AcquisitionError{VODID: vodID, Err: errors.Wrap(err, "open dump")}
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024) // chat lines are small, headers may not be

	s := &JSONLSource{vodID: vodID, file: f, scanner: sc}
	if err := s.readHeader(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return s, nil
}

func (s *JSONLSource) readHeader() error {
	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var dl dumpLine
		if err := json.Unmarshal([]byte(line), &dl); err != nil {
			// Garbage before the first comment is still skippable garbage;
			// hand it to Next so the run can count it.
			s.pendingBad = true
			return nil
		}
		switch dl.Type {
		case "vod":
			if dl.VOD != nil {
				s.vod = convertVOD(*dl.VOD)
			}
		case "emotes":
			s.emotes = append(s.emotes, dl.Emotes...)
		case "comment":
			s.pending = dl.Comment
			return nil
		default:
			// unknown header line, ignore
		}
	}
	if err := s.scanner.Err(); err != nil {
		return &AcquisitionError{VODID: s.vodID, Err: errors.Wrap(err, "read dump header")}
	}
	s.done = true
	return nil
}

// VOD returns the broadcast metadata from the dump header, or nil.
func (s *JSONLSource) VOD() *core.VOD { return s.vod }

// Emotes returns the channel emote lexicon from the dump header.
func (s *JSONLSource) Emotes() []EmotePayload { return s.emotes }

// Next returns the next raw comment record. io.EOF ends the stream.
func (s *JSONLSource) Next(ctx context.Context) (RawComment, error) {
	if err := ctx.Err(); err != nil {
		return RawComment{}, err
	}
	if s.pendingBad {
		s.pendingBad = false
		return RawComment{}, ErrBadLine
	}
	if s.pending != nil {
		rc := *s.pending
		s.pending = nil
		return rc, nil
	}
	if s.done {
		return RawComment{}, io.EOF
	}

	for s.scanner.Scan() {
		line := strings.TrimSpace(s.scanner.Text())
		if line == "" {
			continue
		}
		var dl dumpLine
		if err := json.Unmarshal([]byte(line), &dl); err != nil {
			return RawComment{}, ErrBadLine
		}
		if dl.Type != "comment" || dl.Comment == nil {
			return RawComment{}, ErrBadLine
		}
		return *dl.Comment, nil
	}
	if err := s.scanner.Err(); err != nil {
		return RawComment{}, &AcquisitionError{VODID: s.vodID, Err: errors.Wrap(err, "read dump")}
	}
	s.done = true
	return RawComment{}, io.EOF
}

// Close releases the underlying file.
func (s *JSONLSource) Close() error { return s.file.Close() }

func convertVOD(p vodPayload) *core.VOD {
	v := &core.VOD{
		ID:              p.ID,
		ChannelID:       p.ChannelID,
		Title:           p.Title,
		DurationSeconds: p.DurationSeconds,
	}
	if t, err := time.Parse(time.RFC3339, p.CreatedAt); err == nil {
		v.CreatedAt = t
	}
	return v
}
