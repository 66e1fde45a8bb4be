// Package deepgram provides an [stt.Transcriber] backed by the Deepgram live
// WebSocket API. Each utterance opens its own connection: the samples are
// written in chunks, the stream is closed, and the final results are joined.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/valet/pkg/audio"
	"github.com/MrWong99/valet/pkg/provider/stt"
)

var _ stt.Transcriber = (*Transcriber)(nil)

const (
	deepgramEndpoint  = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000

	// chunkSamples is 100ms at 16kHz.
	chunkSamples = 1600
)

// Option is a functional option for configuring the Deepgram Transcriber.
type Option func(*Transcriber)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(t *Transcriber) { t.model = model }
}

// WithLanguage sets the default BCP-47 language. A request language wins.
func WithLanguage(language string) Option {
	return func(t *Transcriber) { t.language = language }
}

// WithKeywords boosts recognition of the given words, typically the wake
// phrases, so the echo can be stripped reliably.
func WithKeywords(words ...string) Option {
	return func(t *Transcriber) { t.keywords = append(t.keywords, words...) }
}

// WithEndpoint overrides the WebSocket URL. Used by tests.
func WithEndpoint(endpoint string) Option {
	return func(t *Transcriber) { t.endpoint = endpoint }
}

// Transcriber implements stt.Transcriber using Deepgram.
type Transcriber struct {
	apiKey   string
	model    string
	language string
	keywords []string
	endpoint string
}

// New creates a new Deepgram Transcriber. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Transcriber, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	t := &Transcriber{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(t)
	}
	return t, nil
}

// Transcribe streams req to Deepgram and returns the joined final transcript.
func (t *Transcriber) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Samples) == 0 {
		return "", stt.ErrNoAudio
	}
	wsURL, err := t.buildURL(req)
	if err != nil {
		return "", fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+t.apiKey)
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return "", fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()

	// The reader runs concurrently so a full server buffer can never stall
	// the writes.
	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := readFinals(ctx, conn)
		done <- result{text, err}
	}()

	for off := 0; off < len(req.Samples); off += chunkSamples {
		end := min(off+chunkSamples, len(req.Samples))
		if err := conn.Write(ctx, websocket.MessageBinary, audio.SamplesToBytes(req.Samples[off:end])); err != nil {
			return "", fmt.Errorf("deepgram: send audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return "", fmt.Errorf("deepgram: close stream: %w", err)
	}

	select {
	case r := <-done:
		if r.err != nil {
			return "", r.err
		}
		conn.Close(websocket.StatusNormalClosure, "done")
		return stt.Clean(r.text), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// buildURL constructs the endpoint URL for one request.
func (t *Transcriber) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(t.endpoint)
	if err != nil {
		return "", err
	}
	lang := req.Language
	if lang == "" {
		lang = t.language
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}

	q := u.Query()
	q.Set("model", t.model)
	q.Set("language", lang)
	q.Set("punctuate", "true")
	q.Set("encoding", "linear16")
	q.Set("channels", "1")
	q.Set("sample_rate", strconv.Itoa(sr))
	for _, kw := range t.keywords {
		// Deepgram keyword format: word:boost
		q.Add("keywords", kw+":2")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// response is the JSON structure returned by Deepgram for a Results event.
type response struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// readFinals collects final results until the server closes the stream.
func readFinals(ctx context.Context, conn *websocket.Conn) (string, error) {
	var parts []string
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return strings.Join(parts, " "), nil
			}
			return "", fmt.Errorf("deepgram: read: %w", err)
		}
		text, final, ok := parseResponse(msg)
		if !ok || !final || text == "" {
			continue
		}
		parts = append(parts, text)
	}
}

// parseResponse extracts the best alternative from a Results message.
func parseResponse(data []byte) (text string, final, ok bool) {
	var resp response
	if err := json.Unmarshal(data, &resp); err != nil {
		return "", false, false
	}
	if resp.Type != "Results" || len(resp.Channel.Alternatives) == 0 {
		return "", false, false
	}
	return resp.Channel.Alternatives[0].Transcript, resp.IsFinal, true
}
