// Package wake matches spoken phrases against a configured phrase list:
// wakeup words reported by the client and exit commands found in transcripts.
//
// Recognition mangles short phrases ("hey parlo" arrives as "hey, parler."),
// so matching is layered:
//
//  1. Exact comparison after lowercasing and punctuation stripping.
//  2. Phonetic candidate filtering: Double Metaphone codes are computed for
//     every token; a phrase sharing at least one code with the input becomes
//     a candidate and is accepted when its Jaro-Winkler similarity reaches
//     the phonetic threshold (default 0.70).
//  3. Pure Jaro-Winkler fallback against all phrases with a stricter
//     threshold (default 0.85) when no phonetic candidate qualified.
//
// A Matcher is read-only after construction and safe for concurrent use.
package wake

import (
	"strings"
	"unicode"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// Option configures a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched phrase to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic candidate qualifies and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// phrase is one configured phrase with its precomputed matching forms.
type phrase struct {
	raw    string
	norm   string
	tokens []string
	codes  map[string]struct{}
}

// Matcher matches free text against a fixed phrase list.
type Matcher struct {
	phrases           []phrase
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New creates a matcher over the given phrases. Blank phrases are skipped.
// The phrase forms and phonetic codes are computed once here, not per call.
func New(phrases []string, opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	for _, raw := range phrases {
		norm := normalize(raw)
		if norm == "" {
			continue
		}
		tokens := strings.Fields(norm)
		m.phrases = append(m.phrases, phrase{
			raw:    raw,
			norm:   norm,
			tokens: tokens,
			codes:  codesForTokens(tokens),
		})
	}
	return m
}

// Empty reports whether the matcher has no phrases to match against.
func (m *Matcher) Empty() bool {
	return len(m.phrases) == 0
}

// Match finds the configured phrase most similar to text. It returns the
// phrase as configured (original casing), the similarity score, and whether
// any phrase qualified. An exact match after normalization scores 1.
func (m *Matcher) Match(text string) (matched string, score float64, ok bool) {
	norm := normalize(text)
	if norm == "" || len(m.phrases) == 0 {
		return "", 0, false
	}

	for _, p := range m.phrases {
		if p.norm == norm {
			return p.raw, 1, true
		}
	}

	tokens := strings.Fields(norm)
	inputCodes := codesForTokens(tokens)

	type candidate struct {
		raw      string
		score    float64
		phonetic bool
	}
	var best candidate

	for _, p := range m.phrases {
		jw := bestJWScore(tokens, p.tokens, norm, p.norm)

		if codesOverlap(inputCodes, p.codes) {
			if jw >= m.phoneticThreshold && (!best.phonetic || jw > best.score) {
				best = candidate{raw: p.raw, score: jw, phonetic: true}
			}
		} else if !best.phonetic && jw >= m.fuzzyThreshold && jw > best.score {
			best = candidate{raw: p.raw, score: jw, phonetic: false}
		}
	}

	if best.raw == "" {
		return "", 0, false
	}
	return best.raw, best.score, true
}

// normalize lowercases s, strips punctuation and symbols, and collapses
// whitespace runs to single spaces.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsPunct(r) || unicode.IsSymbol(r) {
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// codesForTokens returns the union of the Double Metaphone codes of the
// tokens. Tokens with no codes (too short, no consonants, non-Latin script)
// contribute nothing; matching then rests on the Jaro-Winkler stages.
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

// codesOverlap reports whether the two code sets share at least one code.
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

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and a phrase across three comparisons: the full strings, the space-stripped
// strings, and the best pairwise token score.
func bestJWScore(inputTokens, phraseTokens []string, inputFull, phraseFull string) float64 {
	score := matchr.JaroWinkler(inputFull, phraseFull, false)

	if len(inputTokens) > 1 || len(phraseTokens) > 1 {
		joined := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(phraseTokens, ""), false)
		if joined > score {
			score = joined
		}
	}

	for _, it := range inputTokens {
		for _, pt := range phraseTokens {
			if s := matchr.JaroWinkler(it, pt, false); s > score {
				score = s
			}
		}
	}

	return score
}
