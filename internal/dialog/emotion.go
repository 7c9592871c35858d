package dialog

import (
	"strings"
	"unicode"
)

// emojiEmotions maps reply emojis onto the emotion labels devices render.
// The first emoji found in a reply decides the emotion for the whole turn.
var emojiEmotions = map[rune]string{
	'😀': "happy",
	'😁': "happy",
	'😄': "happy",
	'😊': "happy",
	'🙂': "happy",
	'😂': "laughing",
	'🤣': "laughing",
	'😉': "winking",
	'😍': "loving",
	'🥰': "loving",
	'❤': "loving",
	'😎': "cool",
	'😌': "relaxed",
	'😢': "sad",
	'😔': "sad",
	'😭': "crying",
	'😠': "angry",
	'😡': "angry",
	'😮': "surprised",
	'😯': "surprised",
	'😲': "shocked",
	'🤔': "thinking",
	'😕': "confused",
	'😳': "embarrassed",
	'😴': "sleepy",
}

// neutralEmotion is reported when a reply carries no recognised emoji.
const neutralEmotion = "neutral"

// detectEmotion returns the emotion label for a reply.
func detectEmotion(text string) string {
	for _, r := range text {
		if emotion, ok := emojiEmotions[r]; ok {
			return emotion
		}
	}
	return neutralEmotion
}

// emojiRanges covers the Unicode blocks replies realistically use for
// emoji, plus the joiners and selectors that accompany them.
var emojiRanges = &unicode.RangeTable{
	R16: []unicode.Range16{
		{Lo: 0x200d, Hi: 0x200d, Stride: 1}, // zero-width joiner
		{Lo: 0x2600, Hi: 0x27bf, Stride: 1}, // misc symbols, dingbats
		{Lo: 0xfe0e, Hi: 0xfe0f, Stride: 1}, // variation selectors
	},
	R32: []unicode.Range32{
		{Lo: 0x1f1e6, Hi: 0x1f1ff, Stride: 1}, // regional indicators
		{Lo: 0x1f300, Hi: 0x1f5ff, Stride: 1}, // symbols and pictographs
		{Lo: 0x1f600, Hi: 0x1f64f, Stride: 1}, // emoticons
		{Lo: 0x1f680, Hi: 0x1f6ff, Stride: 1}, // transport
		{Lo: 0x1f900, Hi: 0x1f9ff, Stride: 1}, // supplemental symbols
		{Lo: 0x1fa70, Hi: 0x1faff, Stride: 1}, // extended pictographs
	},
}

// stripEmoji removes emoji from text bound for synthesis; the voices spell
// them out otherwise.
func stripEmoji(text string) string {
	return strings.Map(func(r rune) rune {
		if unicode.Is(emojiRanges, r) {
			return -1
		}
		return r
	}, text)
}
