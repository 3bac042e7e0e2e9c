// Package speech speaks conversational replies back to the contributor.
//
// Before synthesis, every spelling of the contributor's display name that
// sounds like it is replaced by the contributor's chosen pronunciation, so
// the voice says the name the way its owner does. Matching combines Double
// Metaphone codes with Jaro-Winkler similarity:
//
//  1. A window of words whose phonetic codes overlap the name's codes is a
//     candidate and is accepted at the phonetic threshold.
//  2. Without phonetic overlap a window must clear the stricter fuzzy
//     threshold on string similarity alone.
//
// Thresholds are high because the matcher runs over free text, where short
// common words sound like many names.
package speech

import (
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.90
	defaultFuzzyThreshold    = 0.93
)

var wordRE = regexp.MustCompile(`[\p{L}\p{N}']+`)

// MatcherOption configures a [Matcher].
type MatcherOption func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for a window
// with overlapping phonetic codes. Default: 0.90.
func WithPhoneticThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.phoneticThreshold = threshold }
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for a window
// without phonetic overlap. Default: 0.93.
func WithFuzzyThreshold(threshold float64) MatcherOption {
	return func(m *Matcher) { m.fuzzyThreshold = threshold }
}

// Matcher finds spellings of a name in text. It is read-only after
// construction and safe for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewMatcher returns a matcher with the default thresholds.
func NewMatcher(opts ...MatcherOption) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Matches reports whether phrase is a spelling of name, and how similar the
// two are.
func (m *Matcher) Matches(phrase, name string) (float64, bool) {
	p := strings.Fields(strings.ToLower(phrase))
	n := strings.Fields(strings.ToLower(name))
	if len(p) == 0 || len(n) == 0 {
		return 0, false
	}
	if strings.Join(p, " ") == strings.Join(n, " ") {
		return 1, true
	}
	score := bestJWScore(p, n)
	if codesOverlap(codesForTokens(p), codesForTokens(n)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// Substitute replaces every spelling of name in text with say. Punctuation
// and spacing around the replaced words are kept.
func (m *Matcher) Substitute(text, name, say string) string {
	width := len(strings.Fields(name))
	if width == 0 || strings.TrimSpace(say) == "" {
		return text
	}
	words := wordRE.FindAllStringIndex(text, -1)

	var b strings.Builder
	last := 0
	for i := 0; i+width <= len(words); {
		start, end := words[i][0], words[i+width-1][1]
		if _, ok := m.Matches(text[start:end], name); !ok {
			i++
			continue
		}
		b.WriteString(text[last:start])
		b.WriteString(say)
		last = end
		i += width
	}
	b.WriteString(text[last:])
	return b.String()
}

// codesForTokens returns the union of the Double Metaphone codes of tokens.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore is the higher of the full-phrase and space-stripped
// Jaro-Winkler similarities. Per-token pairs are not considered so that a
// single shared word does not match a multi-word name.
func bestJWScore(phrase, name []string) float64 {
	score := matchr.JaroWinkler(strings.Join(phrase, " "), strings.Join(name, " "), false)
	if len(phrase) > 1 || len(name) > 1 {
		if s := matchr.JaroWinkler(strings.Join(phrase, ""), strings.Join(name, ""), false); s > score {
			score = s
		}
	}
	return score
}
