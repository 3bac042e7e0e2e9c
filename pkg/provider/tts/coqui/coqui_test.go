package coqui

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/toecm/pureconvo/pkg/audio"
	"github.com/toecm/pureconvo/pkg/provider/tts"
)

func TestSentenceEnd(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"Hello there. How are", 12},
		{"No terminator yet", -1},
		{"Trailing dot.", -1},
		{"Wah! So fast", 4},
		{"3.14 is pi", -1},
	}
	for _, tt := range tests {
		if got := sentenceEnd(tt.in); got != tt.want {
			t.Errorf("sentenceEnd(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSynthesizeStream_SplitsSentences(t *testing.T) {
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != apiTTSEndpoint {
			http.NotFound(w, r)
			return
		}
		mu.Lock()
		texts = append(texts, r.URL.Query().Get("text"))
		mu.Unlock()
		// 22.05 kHz mono, the native rate of most Coqui models.
		w.Header().Set("Content-Type", "audio/wav")
		_, _ = w.Write(audio.EncodeWAV(make([]byte, 2205*2), audio.Format{SampleRate: 22050, Channels: 1}))
	}))
	defer srv.Close()

	p, err := New(srv.URL)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	in := make(chan string, 3)
	in <- "Hello Kofi. How "
	in <- "was school? Tell me"
	in <- " more"
	close(in)

	out, err := p.SynthesizeStream(context.Background(), in, tts.VoiceProfile{})
	if err != nil {
		t.Fatalf("SynthesizeStream: %v", err)
	}
	var chunks [][]byte
	for c := range out {
		chunks = append(chunks, c)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	// 100 ms at 16 kHz mono.
	if len(chunks[0]) != 1600*2 {
		t.Errorf("chunk len = %d, want %d (resampled to 16 kHz)", len(chunks[0]), 1600*2)
	}

	mu.Lock()
	defer mu.Unlock()
	want := []string{"Hello Kofi.", "How was school?", "Tell me more"}
	for i := range want {
		if i >= len(texts) || texts[i] != want[i] {
			t.Errorf("texts = %q, want %q", texts, want)
			break
		}
	}
}

func TestListVoices(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantNames []string
	}{
		{"multi speaker", `{"model_name":"vctk","speakers":["p236","p225"]}`, []string{"p225", "p236"}},
		{"single speaker", `{"model_name":"ljspeech"}`, []string{"ljspeech"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p, _ := New(srv.URL)
			voices, err := p.ListVoices(context.Background())
			if err != nil {
				t.Fatalf("ListVoices: %v", err)
			}
			if len(voices) != len(tt.wantNames) {
				t.Fatalf("voices = %d, want %d", len(voices), len(tt.wantNames))
			}
			for i, v := range voices {
				if v.Name != tt.wantNames[i] {
					t.Errorf("voice[%d] = %q, want %q", i, v.Name, tt.wantNames[i])
				}
			}
		})
	}
}
