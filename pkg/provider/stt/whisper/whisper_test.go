package whisper_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/toecm/pureconvo/pkg/audio"
	"github.com/toecm/pureconvo/pkg/provider/stt"
	"github.com/toecm/pureconvo/pkg/provider/stt/whisper"
)

// ---- helpers ----------------------------------------------------------------

// capturedForm holds the multipart fields seen by the mock server.
type capturedForm struct {
	fields map[string]string
	file   []byte
}

// newMockServer creates a test server that responds to POST /inference with a
// JSON body containing responseText. Each request's form is sent on forms.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, forms chan<- capturedForm) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if forms != nil {
			if err := r.ParseMultipartForm(1 << 20); err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			cf := capturedForm{fields: map[string]string{}}
			for k, v := range r.MultipartForm.Value {
				cf.fields[k] = v[0]
			}
			if f, _, err := r.FormFile("file"); err == nil {
				cf.file, _ = io.ReadAll(f)
				f.Close()
			}
			forms <- cf
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
}

func speechWAV() []byte {
	return audio.EncodeWAV(audio.PCM([]int16{1000, -1000, 2000, -2000}), audio.CaptureFormat)
}

// ---- provider construction --------------------------------------------------

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestNew_WithOptions_DoesNotError(t *testing.T) {
	p, err := whisper.New("http://localhost:8080",
		whisper.WithModel("small"),
		whisper.WithLanguage("de"),
		whisper.WithHTTPClient(http.DefaultClient),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p == nil {
		t.Fatal("expected non-nil Provider")
	}
}

// ---- transcription ----------------------------------------------------------

func TestTranscribe_ReturnsServerText(t *testing.T) {
	forms := make(chan capturedForm, 1)
	srv := newMockServer(t, "  wah the queue so long  ", nil, forms)
	defer srv.Close()

	p, _ := whisper.New(srv.URL+"/", whisper.WithModel("small"))
	wav := speechWAV()
	text, err := p.Transcribe(context.Background(), stt.Request{WAV: wav, Language: "Singlish"})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "wah the queue so long" {
		t.Errorf("text = %q, want trimmed server text", text)
	}

	form := <-forms
	if string(form.file) != string(wav) {
		t.Errorf("uploaded file differs from recording (%d vs %d bytes)", len(form.file), len(wav))
	}
	if form.fields["language"] != "en" {
		t.Errorf("language = %q, want en", form.fields["language"])
	}
	if form.fields["model"] != "small" {
		t.Errorf("model = %q, want small", form.fields["model"])
	}
}

func TestTranscribe_UnknownDialect_UsesDefaultLanguage(t *testing.T) {
	forms := make(chan capturedForm, 1)
	srv := newMockServer(t, "ok", nil, forms)
	defer srv.Close()

	p, _ := whisper.New(srv.URL, whisper.WithLanguage("ko"))
	if _, err := p.Transcribe(context.Background(), stt.Request{WAV: speechWAV(), Language: "Busan Satoori"}); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if got := (<-forms).fields["language"]; got != "ko" {
		t.Errorf("language = %q, want ko", got)
	}
}

func TestTranscribe_RejectsBadAudio(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "unexpected", &calls, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	ctx := context.Background()

	if _, err := p.Transcribe(ctx, stt.Request{WAV: []byte("nope")}); !errors.Is(err, audio.ErrNotWAV) {
		t.Errorf("non-wav err = %v, want ErrNotWAV", err)
	}
	empty := audio.EncodeWAV(nil, audio.CaptureFormat)
	if _, err := p.Transcribe(ctx, stt.Request{WAV: empty}); !errors.Is(err, stt.ErrEmptyAudio) {
		t.Errorf("empty err = %v, want ErrEmptyAudio", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("server called %d times, want 0", n)
	}
}

func TestTranscribe_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	if _, err := p.Transcribe(context.Background(), stt.Request{WAV: speechWAV()}); err == nil {
		t.Fatal("expected error for HTTP 500, got nil")
	}
}

func TestTranscribe_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "late", nil, nil)
	defer srv.Close()

	p, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Transcribe(ctx, stt.Request{WAV: speechWAV()}); err == nil {
		t.Fatal("expected error for cancelled context, got nil")
	}
}
