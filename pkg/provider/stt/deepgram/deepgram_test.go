package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/valet/pkg/provider/stt"
)

func results(text string, final bool) []byte {
	var r response
	r.Type = "Results"
	r.IsFinal = final
	r.Channel.Alternatives = append(r.Channel.Alternatives, struct {
		Transcript string  `json:"transcript"`
		Confidence float64 `json:"confidence"`
	}{Transcript: text, Confidence: 0.9})
	b, _ := json.Marshal(r)
	return b
}

// fakeServer accepts one stream, reports how many audio bytes arrived and
// answers with the given messages after CloseStream.
func fakeServer(t *testing.T, replies [][]byte, gotBytes chan<- int, gotAuth chan<- string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		ctx := r.Context()
		n := 0
		for {
			typ, data, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if typ == websocket.MessageBinary {
				n += len(data)
				continue
			}
			if strings.Contains(string(data), "CloseStream") {
				break
			}
		}
		gotBytes <- n
		for _, m := range replies {
			_ = conn.Write(ctx, websocket.MessageText, m)
		}
		conn.Close(websocket.StatusNormalClosure, "")
	}))
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestBuildURL(t *testing.T) {
	t.Parallel()

	tr, err := New("key", WithModel("base"), WithLanguage("de"), WithKeywords("valet"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw, err := tr.buildURL(stt.Request{SampleRate: 22050})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, _ := url.Parse(raw)
	q := u.Query()
	for key, want := range map[string]string{
		"model":       "base",
		"language":    "de",
		"sample_rate": "22050",
		"encoding":    "linear16",
		"keywords":    "valet:2",
	} {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}

	raw, _ = tr.buildURL(stt.Request{Language: "fr"})
	u, _ = url.Parse(raw)
	if got := u.Query().Get("language"); got != "fr" {
		t.Errorf("request language: got %q, want fr", got)
	}
	if got := u.Query().Get("sample_rate"); got != "16000" {
		t.Errorf("default sample_rate: got %q, want 16000", got)
	}
}

func TestParseResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		data      []byte
		wantText  string
		wantFinal bool
		wantOK    bool
	}{
		{"final", results("hello", true), "hello", true, true},
		{"interim", results("hel", false), "hel", false, true},
		{"metadata", []byte(`{"type":"Metadata"}`), "", false, false},
		{"garbage", []byte(`{`), "", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, final, ok := parseResponse(tt.data)
			if text != tt.wantText || final != tt.wantFinal || ok != tt.wantOK {
				t.Errorf("parseResponse = (%q, %v, %v), want (%q, %v, %v)",
					text, final, ok, tt.wantText, tt.wantFinal, tt.wantOK)
			}
		})
	}
}

func TestTranscribe_JoinsFinals(t *testing.T) {
	t.Parallel()

	gotBytes := make(chan int, 1)
	gotAuth := make(chan string, 1)
	srv := fakeServer(t, [][]byte{
		results("what", false),
		results("what time", true),
		[]byte(`{"type":"Metadata"}`),
		results("is it", true),
	}, gotBytes, gotAuth)
	defer srv.Close()

	tr, err := New("secret", WithEndpoint(wsURL(srv)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	samples := make([]int16, 4000)
	text, err := tr.Transcribe(context.Background(), stt.Request{Samples: samples, SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "what time is it" {
		t.Errorf("text = %q, want %q", text, "what time is it")
	}
	if n := <-gotBytes; n != len(samples)*2 {
		t.Errorf("server received %d bytes, want %d", n, len(samples)*2)
	}
	if auth := <-gotAuth; auth != "Token secret" {
		t.Errorf("Authorization = %q, want %q", auth, "Token secret")
	}
}

func TestTranscribe_NoAudio(t *testing.T) {
	t.Parallel()

	tr, _ := New("key")
	if _, err := tr.Transcribe(context.Background(), stt.Request{}); !errors.Is(err, stt.ErrNoAudio) {
		t.Errorf("err = %v, want ErrNoAudio", err)
	}
}

func TestTranscribe_DialError(t *testing.T) {
	t.Parallel()

	tr, _ := New("key", WithEndpoint("ws://127.0.0.1:1/v1/listen"))
	_, err := tr.Transcribe(context.Background(), stt.Request{Samples: make([]int16, 10)})
	if err == nil || !strings.Contains(err.Error(), "deepgram: dial") {
		t.Errorf("err = %v, want dial error", err)
	}
}
