package dialog

import (
	"strings"
	"unicode/utf8"
)

// defaultMinSegmentRunes is the shortest segment worth synthesizing on its
// own. Shorter sentences are merged with the following one so the player is
// not fed a stream of tiny clips.
const defaultMinSegmentRunes = 6

// Segmenter accumulates streamed reply text and cuts it into sentence-sized
// segments at punctuation boundaries. Not safe for concurrent use; each
// reply owns one Segmenter.
type Segmenter struct {
	buf      strings.Builder
	minRunes int
}

// NewSegmenter creates a segmenter. minRunes zero or negative means the
// default.
func NewSegmenter(minRunes int) *Segmenter {
	if minRunes <= 0 {
		minRunes = defaultMinSegmentRunes
	}
	return &Segmenter{minRunes: minRunes}
}

// Feed appends streamed text and returns any segments completed by it, in
// order. A completed sentence shorter than the minimum is held and merged
// with the next.
func (g *Segmenter) Feed(text string) []string {
	if text == "" {
		return nil
	}
	g.buf.WriteString(text)

	var out []string
	for {
		s := g.buf.String()
		idx := sentenceBoundary(s)
		if idx < 0 {
			break
		}
		// A sentence too short to speak alone is merged with the following
		// ones until the segment reaches the minimum. If the buffer holds no
		// further boundary yet, wait for more text.
		for idx >= 0 && utf8.RuneCountInString(s[:idx]) < g.minRunes {
			next := sentenceBoundary(s[idx:])
			if next < 0 {
				idx = -1
				break
			}
			idx += next
		}
		if idx < 0 {
			break
		}
		segment := strings.TrimSpace(s[:idx])
		rest := strings.TrimLeft(s[idx:], " \t\n\r")
		g.buf.Reset()
		g.buf.WriteString(rest)
		if segment != "" {
			out = append(out, segment)
		}
	}
	return out
}

// Flush returns whatever partial text remains, trimmed. The segmenter is
// empty afterwards.
func (g *Segmenter) Flush() string {
	s := strings.TrimSpace(g.buf.String())
	g.buf.Reset()
	return s
}

// sentenceBoundary returns the byte index just past the first sentence
// boundary in s, or -1. Full-width terminators end a sentence on their own;
// ASCII terminators count only when followed by whitespace, so decimals and
// abbreviations inside a sentence do not split it.
func sentenceBoundary(s string) int {
	for i, r := range s {
		switch r {
		case '。', '！', '？', '；':
			return i + utf8.RuneLen(r)
		case '.', '!', '?', ';':
			if i+1 < len(s) {
				switch s[i+1] {
				case ' ', '\n', '\r', '\t':
					return i + 1
				}
			}
		}
	}
	return -1
}
