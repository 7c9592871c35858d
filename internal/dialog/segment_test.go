package dialog_test

import (
	"slices"
	"testing"

	"github.com/MrWong99/parlo/internal/dialog"
)

// ─── TestSegmenter_Feed ──────────────────────────────────────────────────────

// TestSegmenter_Feed exercises the sentence-boundary heuristic across the
// speech patterns replies actually contain: streamed partial sentences,
// short sentences that merge forward, full-width punctuation, and decimal
// points that must not split.
func TestSegmenter_Feed(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		minRunes int
		feeds    []string
		want     []string
		wantRest string
	}{
		{
			name:  "single sentence with trailing space",
			feeds: []string{"Hello there! "},
			want:  []string{"Hello there!"},
		},
		{
			name:     "sentence split across feeds",
			feeds:    []string{"The weather is ni", "ce today. And sunny."},
			want:     []string{"The weather is nice today."},
			wantRest: "And sunny.",
		},
		{
			name:  "short sentence merges forward",
			feeds: []string{"No. I will not go there. "},
			want:  []string{"No. I will not go there."},
		},
		{
			name:  "short sentence held for more text",
			feeds: []string{"OK. ", "Sounds good. "},
			want:  []string{"OK. Sounds good."},
		},
		{
			name:     "full-width terminators split alone",
			minRunes: 1,
			feeds:    []string{"你好！今天天气怎么样？"},
			want:     []string{"你好！", "今天天气怎么样？"},
		},
		{
			name:  "decimal point does not split",
			feeds: []string{"Pi is 3.14 give or take. "},
			want:  []string{"Pi is 3.14 give or take."},
		},
		{
			name:     "no boundary yet",
			feeds:    []string{"Hello there"},
			want:     nil,
			wantRest: "Hello there",
		},
		{
			name:     "newline ends a sentence",
			feeds:    []string{"First line.\nSecond"},
			want:     []string{"First line."},
			wantRest: "Second",
		},
		{
			name:  "semicolon splits a long clause",
			feeds: []string{"One thing; another thing. "},
			want:  []string{"One thing;", "another thing."},
		},
		{
			name:  "empty input",
			feeds: []string{""},
			want:  nil,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			seg := dialog.NewSegmenter(tc.minRunes)
			var got []string
			for _, f := range tc.feeds {
				got = append(got, seg.Feed(f)...)
			}
			if !slices.Equal(got, tc.want) {
				t.Errorf("segments: want %q, got %q", tc.want, got)
			}
			if rest := seg.Flush(); rest != tc.wantRest {
				t.Errorf("flush: want %q, got %q", tc.wantRest, rest)
			}
		})
	}
}

// ─── TestSegmenter_Flush ─────────────────────────────────────────────────────

// TestSegmenter_Flush verifies that Flush drains the held partial exactly
// once.
func TestSegmenter_Flush(t *testing.T) {
	t.Parallel()

	seg := dialog.NewSegmenter(0)
	seg.Feed("Hello the")

	if got := seg.Flush(); got != "Hello the" {
		t.Errorf("first Flush: want %q, got %q", "Hello the", got)
	}
	if got := seg.Flush(); got != "" {
		t.Errorf("second Flush: want empty, got %q", got)
	}
}

// ─── TestSegmenter_ShortFinalSentence ────────────────────────────────────────

// TestSegmenter_ShortFinalSentence verifies that a reply ending in a short
// sentence still comes out whole via Flush.
func TestSegmenter_ShortFinalSentence(t *testing.T) {
	t.Parallel()

	seg := dialog.NewSegmenter(0)
	got := seg.Feed("Of course I can help with that. Done. ")
	if !slices.Equal(got, []string{"Of course I can help with that."}) {
		t.Fatalf("segments: got %q", got)
	}
	if rest := seg.Flush(); rest != "Done." {
		t.Errorf("flush: want %q, got %q", "Done.", rest)
	}
}
