// Package edge provides a TTS provider backed by the Edge read-aloud
// WebSocket endpoint. It implements the tts.Provider interface and needs no
// API key, which makes it the usual zero-cost default for hobby deployments.
//
// One Synthesize call opens one WebSocket turn: a speech.config message
// selects the output format, an SSML message carries the text, and the server
// answers with binary audio messages until it signals turn.end. The provider
// requests a raw PCM output format so no container parsing is needed; the
// default format already matches the pipeline rate.
package edge

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/MrWong99/parlo/pkg/audio"
	"github.com/MrWong99/parlo/pkg/provider/tts"
	"github.com/MrWong99/parlo/pkg/types"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	wsEndpoint     = "wss://speech.platform.bing.com/consumer/speech/synthesize/readaloud/edge/v1"
	voicesEndpoint = "https://speech.platform.bing.com/consumer/speech/synthesize/readaloud/voices/list"

	// trustedClientToken is the fixed token the Edge browser sends; the
	// endpoint rejects connections without it.
	trustedClientToken = "6A5AA1D4EAFF4E9FB37E23D68491D6F4"

	// gecVersion is the browser version string paired with the Sec-MS-GEC
	// checksum query parameter.
	gecVersion = "1-130.0.2849.68"

	defaultVoice        = "en-US-AriaNeural"
	defaultOutputFormat = "raw-16khz-16bit-mono-pcm"

	// maxMessageSize raises the read limit above the default; audio messages
	// arrive in chunks of up to several hundred KiB.
	maxMessageSize = 1 << 20
)

// outputFormatRates maps the supported raw PCM output formats to their sample
// rates. All are 16-bit mono.
var outputFormatRates = map[string]int{
	"raw-8khz-16bit-mono-pcm":  8000,
	"raw-16khz-16bit-mono-pcm": 16000,
	"raw-24khz-16bit-mono-pcm": 24000,
	"raw-48khz-16bit-mono-pcm": 48000,
}

// Option is a functional option for configuring an Edge Provider.
type Option func(*Provider) error

// WithOutputFormat sets the audio output format. Supported values are the raw
// PCM formats ("raw-8khz-16bit-mono-pcm" through "raw-48khz-16bit-mono-pcm").
// Defaults to "raw-16khz-16bit-mono-pcm".
func WithOutputFormat(format string) Option {
	return func(p *Provider) error {
		rate, ok := outputFormatRates[format]
		if !ok {
			return fmt.Errorf("edge: unsupported output format %q", format)
		}
		p.outputFormat = format
		p.sampleRate = rate
		return nil
	}
}

// WithLanguage sets the xml:lang attribute of generated SSML (e.g., "en-US",
// "de-DE"). Defaults to "en-US". The spoken language is determined by the
// voice; this only affects SSML metadata.
func WithLanguage(lang string) Option {
	return func(p *Provider) error {
		p.language = lang
		return nil
	}
}

// Provider implements tts.Provider backed by the Edge read-aloud service.
// It is safe for concurrent use; each Synthesize call opens its own
// connection.
type Provider struct {
	outputFormat string
	sampleRate   int
	language     string
	httpClient   *http.Client
}

// New creates a new Edge Provider.
func New(opts ...Option) (*Provider, error) {
	p := &Provider{
		outputFormat: defaultOutputFormat,
		sampleRate:   outputFormatRates[defaultOutputFormat],
		language:     "en-US",
		httpClient:   &http.Client{Timeout: 10 * time.Second},
	}
	for _, o := range opts {
		if err := o(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Synthesize implements tts.Provider. It opens a WebSocket connection,
// performs one synthesis turn, and returns the accumulated PCM.
func (p *Provider) Synthesize(ctx context.Context, text string, voice types.VoiceProfile) (tts.Clip, error) {
	if text == "" {
		return tts.Clip{}, nil
	}

	voiceName := voice.ID
	if voiceName == "" {
		voiceName = defaultVoice
	}

	conn, err := p.dial(ctx)
	if err != nil {
		return tts.Clip{}, fmt.Errorf("edge: dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")
	conn.SetReadLimit(maxMessageSize)

	if err := conn.Write(ctx, websocket.MessageText, speechConfigMessage(p.outputFormat, time.Now())); err != nil {
		return tts.Clip{}, fmt.Errorf("edge: send speech.config: %w", err)
	}

	ssml := buildSSML(text, voiceName, p.language, prosodyRate(voice.SpeedFactor), prosodyPitch(voice.PitchShift))
	reqID := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := conn.Write(ctx, websocket.MessageText, ssmlMessage(reqID, ssml, time.Now())); err != nil {
		return tts.Clip{}, fmt.Errorf("edge: send ssml: %w", err)
	}

	var pcm []byte
	for {
		typ, msg, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return tts.Clip{}, ctx.Err()
			}
			return tts.Clip{}, fmt.Errorf("edge: read: %w", err)
		}

		switch typ {
		case websocket.MessageText:
			if messagePath(msg) == "turn.end" {
				return tts.Clip{
					PCM:    pcm,
					Format: audio.Format{SampleRate: p.sampleRate, Channels: 1},
				}, nil
			}
			// turn.start, response and audio.metadata messages carry no audio.

		case websocket.MessageBinary:
			header, payload, err := parseBinaryMessage(msg)
			if err != nil {
				return tts.Clip{}, fmt.Errorf("edge: parse audio message: %w", err)
			}
			if strings.Contains(header, "Path:audio") {
				pcm = append(pcm, payload...)
			}
		}
	}
}

// dial opens the read-aloud WebSocket with the required token, checksum and
// browser headers.
func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	connID := strings.ReplaceAll(uuid.NewString(), "-", "")
	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s&ConnectionId=%s",
		wsEndpoint, trustedClientToken, secMSGEC(time.Now()), gecVersion, connID)

	h := http.Header{}
	h.Set("Origin", "chrome-extension://jdiccldimpdaibmpdkjnbmckianbfold")
	h.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36 Edg/130.0.0.0")

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: h})
	return conn, err
}

// ListVoices returns the read-aloud voice catalogue.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	url := fmt.Sprintf("%s?trustedclienttoken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		voicesEndpoint, trustedClientToken, secMSGEC(time.Now()), gecVersion)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("edge: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("edge: list voices: unexpected status %d", resp.StatusCode)
	}

	var voices []edgeVoice
	if err := json.NewDecoder(resp.Body).Decode(&voices); err != nil {
		return nil, fmt.Errorf("edge: list voices decode: %w", err)
	}
	return mapVoices(voices), nil
}

// edgeVoice is a single entry from the voices/list response.
type edgeVoice struct {
	Name         string `json:"Name"`
	ShortName    string `json:"ShortName"`
	Gender       string `json:"Gender"`
	Locale       string `json:"Locale"`
	FriendlyName string `json:"FriendlyName"`
}

// mapVoices converts the raw catalogue entries to VoiceProfiles.
func mapVoices(voices []edgeVoice) []types.VoiceProfile {
	profiles := make([]types.VoiceProfile, 0, len(voices))
	for _, v := range voices {
		name := v.FriendlyName
		if name == "" {
			name = v.ShortName
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:   v.ShortName,
			Name: name,
		})
	}
	return profiles
}

// ---- protocol helpers ----

// secMSGEC computes the Sec-MS-GEC checksum: the SHA-256 of the current
// Windows file time (rounded down to five minutes) concatenated with the
// trusted client token, upper-case hex.
func secMSGEC(now time.Time) string {
	// Seconds between the Windows epoch (1601-01-01) and the Unix epoch.
	const epochDelta = 11644473600
	ticks := now.Unix() + epochDelta
	ticks -= ticks % 300
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d%s", ticks*10_000_000, trustedClientToken)))
	return strings.ToUpper(hex.EncodeToString(sum[:]))
}

// speechConfigMessage builds the speech.config text message selecting the
// output format.
func speechConfigMessage(outputFormat string, now time.Time) []byte {
	payload := fmt.Sprintf(
		`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"false"},"outputFormat":"%s"}}}}`,
		outputFormat)
	return []byte("X-Timestamp:" + timestamp(now) + "\r\n" +
		"Content-Type:application/json; charset=utf-8\r\n" +
		"Path:speech.config\r\n\r\n" +
		payload)
}

// ssmlMessage builds the SSML text message carrying the synthesis request.
func ssmlMessage(requestID, ssml string, now time.Time) []byte {
	return []byte("X-RequestId:" + requestID + "\r\n" +
		"Content-Type:application/ssml+xml\r\n" +
		"X-Timestamp:" + timestamp(now) + "\r\n" +
		"Path:ssml\r\n\r\n" +
		ssml)
}

// timestamp formats a time the way the endpoint expects in X-Timestamp
// headers.
func timestamp(t time.Time) string {
	return t.UTC().Format("Mon Jan 02 2006 15:04:05") + " GMT+0000 (Coordinated Universal Time)"
}

// xmlEscaper escapes text for embedding in SSML.
var xmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	"'", "&apos;",
	`"`, "&quot;",
)

// buildSSML renders the SSML document for one synthesis turn.
func buildSSML(text, voiceName, lang, rate, pitch string) string {
	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'>"+
			"<voice name='%s'><prosody pitch='%s' rate='%s' volume='+0%%'>%s</prosody></voice></speak>",
		lang, voiceName, pitch, rate, xmlEscaper.Replace(text))
}

// prosodyRate maps a VoiceProfile speed factor to an SSML rate attribute.
// 0 means the provider default of 1.0.
func prosodyRate(speed float64) string {
	if speed == 0 {
		speed = 1.0
	}
	return fmt.Sprintf("%+.0f%%", (speed-1.0)*100)
}

// prosodyPitch maps a VoiceProfile pitch shift (-10..+10) to an SSML pitch
// attribute in Hz.
func prosodyPitch(shift float64) string {
	return fmt.Sprintf("%+.0fHz", shift*10)
}

// messagePath extracts the Path header value from a text message.
func messagePath(msg []byte) string {
	head, _, _ := strings.Cut(string(msg), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		if v, ok := strings.CutPrefix(line, "Path:"); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseBinaryMessage splits a binary message into its header block and audio
// payload. The first two bytes carry the big-endian header length.
func parseBinaryMessage(msg []byte) (header string, payload []byte, err error) {
	if len(msg) < 2 {
		return "", nil, errors.New("message too short")
	}
	headerLen := int(binary.BigEndian.Uint16(msg[:2]))
	if 2+headerLen > len(msg) {
		return "", nil, fmt.Errorf("header length %d exceeds message size %d", headerLen, len(msg))
	}
	return string(msg[2 : 2+headerLen]), msg[2+headerLen:], nil
}
