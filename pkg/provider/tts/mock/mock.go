// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
//	    ListVoicesResult: []tts.VoiceProfile{{ID: "v1", Name: "Alice"}},
//	}
//	ch, _ := p.SynthesizeStream(ctx, textCh, voice)
package mock

import (
	"context"
	"sync"

	"github.com/toecm/pureconvo/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of SynthesizeStream. Text holds
// every fragment read from the input channel.
type SynthesizeCall struct {
	Text  []string
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeChunks is emitted on the audio channel after the text channel
	// has been drained.
	SynthesizeChunks [][]byte

	// SynthesizeErr, if non-nil, is returned from SynthesizeStream.
	SynthesizeErr error

	// ListVoicesResult and ListVoicesErr are returned from ListVoices.
	ListVoicesResult []tts.VoiceProfile
	ListVoicesErr    error

	SynthesizeCalls []SynthesizeCall
	ListVoicesCalls int
}

// SynthesizeStream drains text, records it, and emits SynthesizeChunks.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	err, chunks := p.SynthesizeErr, p.SynthesizeChunks
	p.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var fragments []string
	for s := range text {
		fragments = append(fragments, s)
	}
	p.mu.Lock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Text: fragments, Voice: voice})
	p.mu.Unlock()

	out := make(chan []byte, len(chunks))
	for _, c := range chunks {
		out <- c
	}
	close(out)
	return out, ctx.Err()
}

// ListVoices returns ListVoicesResult, ListVoicesErr.
func (p *Provider) ListVoices(context.Context) ([]tts.VoiceProfile, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ListVoicesCalls++
	return p.ListVoicesResult, p.ListVoicesErr
}

// Calls returns a copy of the recorded synthesis calls.
func (p *Provider) Calls() []SynthesizeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SynthesizeCall(nil), p.SynthesizeCalls...)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
