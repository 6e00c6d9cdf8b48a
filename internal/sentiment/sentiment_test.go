package sentiment

import "testing"

func TestLexiconPositiveBurst(t *testing.T) {
	s := NewLexicon(nil)
	if got := s.ScoreText("POG POG insane clutch"); got <= 0 {
		t.Fatalf("expected positive score, got %v", got)
	}
}

func TestLexiconNegative(t *testing.T) {
	s := NewLexicon(nil)
	if got := s.ScoreText("worst throw Sadge"); got >= 0 {
		t.Fatalf("expected negative score, got %v", got)
	}
}

func TestLexiconUnknownTokensNeutral(t *testing.T) {
	s := NewLexicon(nil)
	if got := s.ScoreText("qwerty asdf"); got != 0 {
		t.Fatalf("expected 0 for unknown tokens, got %v", got)
	}
}

func TestLexiconExtraEntriesWin(t *testing.T) {
	s := NewLexicon(map[string]float64{"pog": -1})
	if got := s.ScoreText("pog"); got != -1 {
		t.Fatalf("extra entry should override builtin, got %v", got)
	}
}

func TestLexiconStripsPunctuation(t *testing.T) {
	s := NewLexicon(nil)
	if got := s.ScoreText("insane!!!"); got <= 0 {
		t.Fatalf("expected punctuation-stripped match, got %v", got)
	}
}

func TestNullScorer(t *testing.T) {
	if got := (Null{}).ScoreText("pog"); got != 0 {
		t.Fatalf("null scorer must return 0, got %v", got)
	}
}
