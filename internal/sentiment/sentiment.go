// Package sentiment defines the pluggable per-message text scorer the
// pipeline consumes. The default lexicon scorer is intentionally crude; a
// model-backed implementation can replace it without touching the pipeline.
package sentiment

import "strings"

// Scorer maps message text to a valence in roughly [-1, 1].
type Scorer interface {
	ScoreText(text string) float64
}

// Null scores every message as neutral. Used when sentiment is disabled.
type Null struct{}

func (Null) ScoreText(string) float64 { return 0 }

// Lexicon scores by averaging the valence of known tokens. Unknown tokens
// contribute nothing; a message with no known token scores 0.
type Lexicon struct {
	valence map[string]float64
}

// NewLexicon builds a scorer from the built-in valence table, optionally
// extended by extra entries (later entries win).
func NewLexicon(extra map[string]float64) *Lexicon {
	v := make(map[string]float64, len(defaultValence)+len(extra))
	for w, s := range defaultValence {
		v[w] = s
	}
	for w, s := range extra {
		v[strings.ToLower(w)] = s
	}
	return &Lexicon{valence: v}
}

func (l *Lexicon) ScoreText(text string) float64 {
	var sum float64
	var hits int
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, "!?.,:;\"'()")
		if s, ok := l.valence[tok]; ok {
			sum += s
			hits++
		}
	}
	if hits == 0 {
		return 0
	}
	return sum / float64(hits)
}

// defaultValence covers the vocabulary that actually shows up in stream
// chat. Scores are hand-set, not trained.
var defaultValence = map[string]float64{
	"pog":             0.9,
	"poggers":         0.9,
	"pogchamp":        0.9,
	"hype":            0.8,
	"lets":            0.2,
	"go":              0.2,
	"insane":          0.8,
	"crazy":           0.7,
	"clip":            0.6,
	"clipped":         0.6,
	"lol":             0.4,
	"lmao":            0.5,
	"lul":             0.4,
	"omegalul":        0.5,
	"kekw":            0.5,
	"wow":             0.5,
	"gg":              0.5,
	"ez":              0.3,
	"nice":            0.4,
	"amazing":         0.8,
	"unreal":          0.7,
	"clutch":          0.8,
	"ace":             0.7,
	"win":             0.5,
	"winner":          0.5,
	"love":            0.6,
	"best":            0.6,
	"sadge":           -0.6,
	"pepehands":       -0.6,
	"f":               -0.3,
	"rip":             -0.4,
	"throw":           -0.5,
	"thrown":          -0.5,
	"lose":            -0.4,
	"lost":            -0.4,
	"bad":             -0.4,
	"worst":           -0.7,
	"trash":           -0.6,
	"boring":          -0.5,
	"residentsleeper": -0.6,
	"scam":            -0.5,
	"hate":            -0.6,
	"cringe":          -0.5,
	"oof":             -0.3,
	"monkas":          -0.2,
	"wtf":             -0.2,
}
