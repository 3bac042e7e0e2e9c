package tts_test

import (
	"context"
	"errors"
	"testing"

	"github.com/toecm/pureconvo/pkg/provider/tts"
	"github.com/toecm/pureconvo/pkg/provider/tts/mock"
)

func TestSynthesize_ConcatenatesChunks(t *testing.T) {
	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 2}, {3}}}
	pcm, err := tts.Synthesize(context.Background(), p, "Hello Ama", tts.VoiceProfile{ID: "v1"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(pcm) != string([]byte{1, 2, 3}) {
		t.Errorf("pcm = %v, want [1 2 3]", pcm)
	}
	calls := p.Calls()
	if len(calls) != 1 || len(calls[0].Text) != 1 || calls[0].Text[0] != "Hello Ama" {
		t.Errorf("calls = %+v, want one call with the text", calls)
	}
	if calls[0].Voice.ID != "v1" {
		t.Errorf("voice = %q, want v1", calls[0].Voice.ID)
	}
}

func TestSynthesize_StartError(t *testing.T) {
	want := errors.New("quota exceeded")
	p := &mock.Provider{SynthesizeErr: want}
	if _, err := tts.Synthesize(context.Background(), p, "hi", tts.VoiceProfile{ID: "v1"}); !errors.Is(err, want) {
		t.Errorf("err = %v, want %v", err, want)
	}
}
