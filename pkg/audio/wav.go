package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

var errNotWAV = errors.New("not a RIFF/WAVE stream")

// DecodeWAV extracts the raw PCM and its format from a WAV container. Only
// uncompressed 16-bit PCM is supported, which covers everything the TTS
// providers and canned assets produce.
func DecodeWAV(data []byte) ([]byte, Format, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, Format{}, errNotWAV
	}

	var (
		format  Format
		bits    uint16
		havefmt bool
		pcm     []byte
	)
	rest := data[12:]
	for len(rest) >= 8 {
		id := string(rest[0:4])
		size := int(binary.LittleEndian.Uint32(rest[4:8]))
		rest = rest[8:]
		if size > len(rest) {
			size = len(rest)
		}
		body := rest[:size]
		// Chunks are word-aligned; odd sizes carry a pad byte.
		if size%2 == 1 && size < len(rest) {
			size++
		}
		rest = rest[size:]

		switch id {
		case "fmt ":
			if len(body) < 16 {
				return nil, Format{}, errors.New("wav: truncated fmt chunk")
			}
			audioFormat := binary.LittleEndian.Uint16(body[0:2])
			if audioFormat != 1 {
				return nil, Format{}, fmt.Errorf("wav: unsupported audio format %d, want PCM", audioFormat)
			}
			format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
			format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = binary.LittleEndian.Uint16(body[14:16])
			havefmt = true
		case "data":
			pcm = body
		}
	}

	if !havefmt {
		return nil, Format{}, errors.New("wav: missing fmt chunk")
	}
	if bits != 16 {
		return nil, Format{}, fmt.Errorf("wav: unsupported bit depth %d, want 16", bits)
	}
	if pcm == nil {
		return nil, Format{}, errors.New("wav: missing data chunk")
	}
	if format.Channels < 1 || format.Channels > 2 {
		return nil, Format{}, fmt.Errorf("wav: unsupported channel count %d", format.Channels)
	}
	return pcm, format, nil
}

// EncodeWAV wraps raw s16le PCM in a minimal WAV container. The speech
// recognition upload path uses this to hand utterances to HTTP providers.
func EncodeWAV(pcm []byte, format Format) []byte {
	const headerSize = 44
	buf := bytes.NewBuffer(make([]byte, 0, headerSize+len(pcm)))

	blockAlign := format.Channels * 2
	byteRate := format.SampleRate * blockAlign

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(format.Channels))
	binary.Write(buf, binary.LittleEndian, uint32(format.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(byteRate))
	binary.Write(buf, binary.LittleEndian, uint16(blockAlign))
	binary.Write(buf, binary.LittleEndian, uint16(16)) // bits per sample
	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
