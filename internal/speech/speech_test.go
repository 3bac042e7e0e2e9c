package speech_test

import (
	"context"
	"errors"
	"testing"

	"github.com/toecm/pureconvo/internal/speech"
	"github.com/toecm/pureconvo/pkg/provider/tts"
	"github.com/toecm/pureconvo/pkg/provider/tts/mock"
)

func TestMatcher_Substitute(t *testing.T) {
	t.Parallel()

	m := speech.NewMatcher()
	tests := []struct {
		name     string
		text     string
		who, say string
		want     string
	}{
		{"exact", "Hello Mina, how are you?", "Mina", "Meena", "Hello Meena, how are you?"},
		{"case insensitive", "MINA said so", "Mina", "Meena", "Meena said so"},
		{"misspelled", "Thanks Siobahn!", "Siobhan", "Shiv-awn", "Thanks Shiv-awn!"},
		{"similar word kept", "Is this mine?", "Mina", "Meena", "Is this mine?"},
		{"multi-word", "I met ada lovelace today", "Ada Lovelace", "Ay-da", "I met Ay-da today"},
		{"repeated", "Mina, Mina!", "Mina", "Meena", "Meena, Meena!"},
		{"empty override", "Hello Mina", "Mina", "", "Hello Mina"},
		{"empty name", "Hello Mina", "", "Meena", "Hello Mina"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := m.Substitute(tt.text, tt.who, tt.say); got != tt.want {
				t.Errorf("Substitute(%q) = %q, want %q", tt.text, got, tt.want)
			}
		})
	}
}

func TestMatcher_Matches(t *testing.T) {
	t.Parallel()

	m := speech.NewMatcher()
	if score, ok := m.Matches("siobahn", "Siobhan"); !ok || score < 0.9 {
		t.Errorf("Matches(siobahn) = %f, %v; want match", score, ok)
	}
	if _, ok := m.Matches("", "Siobhan"); ok {
		t.Error("empty phrase matched")
	}

	loose := speech.NewMatcher(speech.WithPhoneticThreshold(0.8))
	if _, ok := loose.Matches("mine", "Mina"); !ok {
		t.Error("loose matcher rejected mine/Mina")
	}
}

func TestSpeaker_Speak(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{SynthesizeChunks: [][]byte{{1, 0}, {2, 0}}}
	s := speech.NewSpeaker(p, nil)

	u, err := s.Speak(context.Background(), "Nice story, Mina.", "voice-1", speech.Pronunciation{Name: "Mina", Say: "Meena"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if u.Text != "Nice story, Mina." || u.Spoken != "Nice story, Meena." {
		t.Errorf("utterance = %+v", u)
	}
	if len(u.WAV) != 44+4 {
		t.Errorf("WAV len = %d, want 48", len(u.WAV))
	}
	calls := p.Calls()
	if len(calls) != 1 || calls[0].Voice.ID != "voice-1" || calls[0].Text[0] != "Nice story, Meena." {
		t.Errorf("calls = %+v", calls)
	}
}

func TestSpeaker_Errors(t *testing.T) {
	t.Parallel()

	s := speech.NewSpeaker(&mock.Provider{}, nil)
	if _, err := s.Speak(context.Background(), "hi", "", speech.Pronunciation{}); !errors.Is(err, tts.ErrNoVoice) || !errors.Is(err, speech.ErrSpeech) {
		t.Errorf("no voice: err = %v", err)
	}

	boom := errors.New("boom")
	s = speech.NewSpeaker(&mock.Provider{SynthesizeErr: boom}, nil)
	u, err := s.Speak(context.Background(), "hi", "v", speech.Pronunciation{})
	if !errors.Is(err, boom) || !errors.Is(err, speech.ErrSpeech) {
		t.Errorf("provider failure: err = %v", err)
	}
	if u.Text != "hi" {
		t.Errorf("failed utterance lost its text: %+v", u)
	}
}

func TestSpeaker_Voices(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{ListVoicesResult: []tts.VoiceProfile{{ID: "a"}}}
	v, err := speech.NewSpeaker(p, nil).Voices(context.Background())
	if err != nil || len(v) != 1 {
		t.Errorf("Voices = %v, %v", v, err)
	}
}
