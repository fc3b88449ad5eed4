package oneshot

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

type fakeOpenAI struct {
	mu          sync.Mutex
	transcribed []byte
	chatBody    map[string]any
	speechBody  map[string]any
	failStatus  int
}

func (f *fakeOpenAI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/audio/transcriptions", func(w http.ResponseWriter, r *http.Request) {
		if f.failStatus != 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(f.failStatus)
			_, _ = io.WriteString(w, `{"error":{"message":"bad key","type":"invalid_request_error","code":"invalid_api_key"}}`)
			return
		}
		_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		if err != nil {
			t.Errorf("content type: %v", err)
			return
		}
		mr := multipart.NewReader(r.Body, params["boundary"])
		for {
			part, err := mr.NextPart()
			if err != nil {
				break
			}
			if part.FormName() == "file" {
				data, _ := io.ReadAll(part)
				f.mu.Lock()
				f.transcribed = data
				f.mu.Unlock()
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":" hello there "}`)
	})
	mux.HandleFunc("/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.chatBody = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"general kenobi"}}]}`)
	})
	mux.HandleFunc("/audio/speech", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		f.mu.Lock()
		f.speechBody = body
		f.mu.Unlock()
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake-mp3"))
	})
	return mux
}

func newTestClient(t *testing.T, f *fakeOpenAI, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)
	return New("sk-test", cfg, nil,
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
		option.WithHTTPClient(srv.Client()),
	)
}

func TestClient_ProcessRunsFullPipeline(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, Config{})

	res, err := c.Process(context.Background(), []byte("RIFFfakeWAVE"), "", "")
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if res.Transcript != "hello there" {
		t.Fatalf("Transcript=%q, want %q", res.Transcript, "hello there")
	}
	if res.Reply != "general kenobi" {
		t.Fatalf("Reply=%q", res.Reply)
	}
	if res.Speech.ContentType != "audio/mpeg" || string(res.Speech.Audio) != "ID3fake-mp3" {
		t.Fatalf("Speech=%+v", res.Speech)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if string(f.transcribed) != "RIFFfakeWAVE" {
		t.Fatalf("uploaded=%q", f.transcribed)
	}
	if f.chatBody["model"] != "gpt-4o" {
		t.Fatalf("chat model=%v, want gpt-4o", f.chatBody["model"])
	}
	msgs := f.chatBody["messages"].([]any)
	if len(msgs) != 1 || msgs[0].(map[string]any)["content"] != "hello there" {
		t.Fatalf("messages=%v", msgs)
	}
	if f.speechBody["voice"] != "nova" || f.speechBody["model"] != "tts-1" || f.speechBody["input"] != "general kenobi" {
		t.Fatalf("speech body=%v", f.speechBody)
	}
}

func TestClient_ChatIncludesInstructions(t *testing.T) {
	f := &fakeOpenAI{}
	c := newTestClient(t, f, Config{Instructions: "be brief"})

	if _, err := c.Chat(context.Background(), "hi"); err != nil {
		t.Fatalf("Chat: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs := f.chatBody["messages"].([]any)
	if len(msgs) != 2 || msgs[0].(map[string]any)["role"] != "system" {
		t.Fatalf("messages=%v", msgs)
	}
}

func TestClient_TranscribeSurfacesAPIError(t *testing.T) {
	f := &fakeOpenAI{failStatus: http.StatusUnauthorized}
	c := newTestClient(t, f, Config{})

	_, err := c.Transcribe(context.Background(), []byte("x"), "a.wav", "audio/wav")
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		t.Fatalf("err=%v, want *openai.Error", err)
	}
	if apiErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("StatusCode=%d, want 401", apiErr.StatusCode)
	}
	if !strings.HasPrefix(err.Error(), "transcribe: ") {
		t.Fatalf("err=%q, want transcribe prefix", err.Error())
	}
}

func TestClient_TranscribeRejectsEmptyAudio(t *testing.T) {
	c := New("sk-test", Config{}, nil)
	if _, err := c.Transcribe(context.Background(), nil, "", ""); err == nil {
		t.Fatalf("expected error for empty audio")
	}
}

func TestContentTypeForFormat(t *testing.T) {
	cases := map[string]string{"mp3": "audio/mpeg", "": "audio/mpeg", "wav": "audio/wav", "opus": "audio/opus", "pcm": "audio/pcm"}
	for in, want := range cases {
		if got := ContentTypeForFormat(in); got != want {
			t.Errorf("ContentTypeForFormat(%q)=%q, want %q", in, got, want)
		}
	}
}
