// Package mock provides a test double for [inference.Gateway].
//
// Set the response and Err fields before use; every call is recorded so tests
// can assert on what the pipeline sent. Hooks, when set, run before the
// canned response is returned and may block to simulate a slow service.
package mock

import (
	"context"
	"sync"

	"github.com/toecm/pureconvo/internal/inference"
)

var _ inference.Gateway = (*Gateway)(nil)

// TranscribeCall records one Transcribe invocation.
type TranscribeCall struct {
	WAV     []byte
	Dialect string
}

// ClarifyCall records one Clarify invocation.
type ClarifyCall struct {
	Text    string
	Dialect string
}

// Gateway is a mock [inference.Gateway].
type Gateway struct {
	mu sync.Mutex

	DialectList   []string
	DialectsErr   error
	Transcript    string
	TranscribeErr error

	// Clarification is returned by Clarify unless ClarifyFunc is set.
	Clarification inference.Clarification
	ClarifyErr    error
	ClarifyFunc   func(text, dialect string) (inference.Clarification, error)

	Prompt     inference.Prompt
	MissionErr error

	AckMessage string
	SubmitErr  error

	Sync    inference.SyncStatus
	SyncErr error

	// BeforeTranscribe, when set, runs at the start of Transcribe outside the
	// lock.
	BeforeTranscribe func(ctx context.Context)

	// BeforeMission is the same hook for GenerateMission.
	BeforeMission func(ctx context.Context)

	DialectsCalls   int
	TranscribeCalls []TranscribeCall
	ClarifyCalls    []ClarifyCall
	MissionCalls    []string
	SubmitCalls     []inference.Submission
	CloudSyncCalls  int
}

// Dialects implements [inference.Gateway].
func (g *Gateway) Dialects(context.Context) ([]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.DialectsCalls++
	if g.DialectsErr != nil {
		return nil, g.DialectsErr
	}
	return append([]string(nil), g.DialectList...), nil
}

// Transcribe implements [inference.Gateway].
func (g *Gateway) Transcribe(ctx context.Context, wav []byte, dialect string) (string, error) {
	g.mu.Lock()
	hook := g.BeforeTranscribe
	g.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.TranscribeCalls = append(g.TranscribeCalls, TranscribeCall{WAV: wav, Dialect: dialect})
	if g.TranscribeErr != nil {
		return "", g.TranscribeErr
	}
	return g.Transcript, nil
}

// Clarify implements [inference.Gateway].
func (g *Gateway) Clarify(_ context.Context, text, dialect string) (inference.Clarification, error) {
	g.mu.Lock()
	g.ClarifyCalls = append(g.ClarifyCalls, ClarifyCall{Text: text, Dialect: dialect})
	fn, c, err := g.ClarifyFunc, g.Clarification, g.ClarifyErr
	g.mu.Unlock()
	if fn != nil {
		return fn(text, dialect)
	}
	return c, err
}

// GenerateMission implements [inference.Gateway].
func (g *Gateway) GenerateMission(ctx context.Context, topic string) (inference.Prompt, error) {
	g.mu.Lock()
	hook := g.BeforeMission
	g.mu.Unlock()
	if hook != nil {
		hook(ctx)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.MissionCalls = append(g.MissionCalls, topic)
	if g.MissionErr != nil {
		return inference.Prompt{}, g.MissionErr
	}
	return g.Prompt, nil
}

// Submit implements [inference.Gateway].
func (g *Gateway) Submit(_ context.Context, sub inference.Submission) (inference.Ack, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.SubmitCalls = append(g.SubmitCalls, sub)
	if g.SubmitErr != nil {
		return inference.Ack{}, g.SubmitErr
	}
	return inference.Ack{Message: g.AckMessage}, nil
}

// CloudSync implements [inference.Gateway].
func (g *Gateway) CloudSync(context.Context) (inference.SyncStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.CloudSyncCalls++
	return g.Sync, g.SyncErr
}

// Set runs fn under the mock's lock so tests can change responses while
// calls may be in flight.
func (g *Gateway) Set(fn func(g *Gateway)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g)
}

// Submits returns a copy of the recorded submissions.
func (g *Gateway) Submits() []inference.Submission {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]inference.Submission(nil), g.SubmitCalls...)
}

// Clarifies returns a copy of the recorded clarify calls.
func (g *Gateway) Clarifies() []ClarifyCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]ClarifyCall(nil), g.ClarifyCalls...)
}

// Transcribes returns a copy of the recorded transcribe calls.
func (g *Gateway) Transcribes() []TranscribeCall {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]TranscribeCall(nil), g.TranscribeCalls...)
}
