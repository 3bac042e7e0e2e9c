// Package direct implements inference.Gateway on self-hosted building blocks:
// a speech-to-text provider, a language model and the contribution ledger.
// It lets the companion run without the hosted service or stand behind it as
// a failover.
package direct

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/ledger"
	"github.com/toecm/pureconvo/pkg/provider/llm"
	"github.com/toecm/pureconvo/pkg/provider/stt"
)

const clarifyPrompt = `You help linguists document spoken dialects. The user message is a ` +
	`transcript spoken in %s. Answer with a single JSON object and nothing else: ` +
	`{"meaning": "<the transcript rewritten in plain standard English>", ` +
	`"context": "<one word social setting, e.g. Marketplace or Family>", ` +
	`"pragmatics": "<short note on tone, slang or implied intent, or empty>"}`

const missionPrompt = `You write one-sentence speaking prompts that coax a volunteer into ` +
	`talking naturally in their own dialect. The user message is the topic or the ` +
	`volunteer's last remark. Answer with a single JSON object and nothing else: ` +
	`{"text": "<the prompt, at most 20 words>", "emoji": "<one fitting emoji>"}`

// Backend is a self-hosted [inference.Gateway].
type Backend struct {
	stt     stt.Provider
	llm     llm.Provider
	ledger  ledger.Ledger
	builtin []string
	temp    float64
}

var _ inference.Gateway = (*Backend)(nil)

// Option configures a [Backend].
type Option func(*Backend)

// WithBuiltinDialects sets the list Dialects returns while the ledger has no
// registered dialects yet.
func WithBuiltinDialects(names []string) Option {
	return func(b *Backend) { b.builtin = names }
}

// WithTemperature sets the sampling temperature for clarify and mission
// completions.
func WithTemperature(t float64) Option {
	return func(b *Backend) { b.temp = t }
}

// New returns a Backend. All three collaborators are required.
func New(s stt.Provider, l llm.Provider, led ledger.Ledger, opts ...Option) (*Backend, error) {
	if s == nil || l == nil || led == nil {
		return nil, errors.New("direct: stt, llm and ledger are required")
	}
	b := &Backend{stt: s, llm: l, ledger: led, temp: 0.3}
	for _, o := range opts {
		o(b)
	}
	return b, nil
}

// Dialects returns the ledger's registered dialects, or the built-in list
// when none are registered.
func (b *Backend) Dialects(ctx context.Context) ([]string, error) {
	names, err := b.ledger.Dialects(ctx)
	if err != nil {
		return nil, fmt.Errorf("direct: dialects: %w: %w", inference.ErrRemote, err)
	}
	if len(names) == 0 {
		return append([]string(nil), b.builtin...), nil
	}
	return names, nil
}

// Transcribe implements [inference.Gateway].
func (b *Backend) Transcribe(ctx context.Context, wav []byte, dialect string) (string, error) {
	text, err := b.stt.Transcribe(ctx, stt.Request{WAV: wav, Language: dialect})
	if err != nil {
		return "", fmt.Errorf("direct: transcribe: %w: %w", inference.ErrTranscription, err)
	}
	return strings.TrimSpace(text), nil
}

// Clarify implements [inference.Gateway]. Replies that are not the requested
// JSON become an opaque meaning.
func (b *Backend) Clarify(ctx context.Context, text, dialect string) (inference.Clarification, error) {
	if dialect == "" {
		dialect = "an unidentified dialect of English"
	}
	content, err := b.complete(ctx, fmt.Sprintf(clarifyPrompt, dialect), text)
	if err != nil {
		return inference.Clarification{}, fmt.Errorf("direct: clarify: %w", err)
	}
	return inference.DecodeClarification(content), nil
}

// GenerateMission implements [inference.Gateway].
func (b *Backend) GenerateMission(ctx context.Context, topic string) (inference.Prompt, error) {
	if topic == "" {
		topic = inference.DefaultContext
	}
	content, err := b.complete(ctx, missionPrompt, topic)
	if err != nil {
		return inference.Prompt{}, fmt.Errorf("direct: mission: %w", err)
	}
	p, ok := inference.DecodePrompt(content)
	if !ok {
		return inference.Prompt{}, fmt.Errorf("direct: mission: %w: empty prompt", inference.ErrRemote)
	}
	return p, nil
}

// Submit stores sub in the ledger. When the dialect is the catalog sentinel
// the custom name is stored instead.
func (b *Backend) Submit(ctx context.Context, sub inference.Submission) (inference.Ack, error) {
	dialect := sub.Dialect
	if dialect == catalog.Sentinel {
		dialect = strings.TrimSpace(sub.CustomDialect)
	}
	e, err := b.ledger.Append(ctx, ledger.Entry{
		Transcript: sub.Transcript,
		Dialect:    dialect,
		Meaning:    sub.Meaning,
		Tone:       sub.Tone,
		Context:    sub.Context,
		Pragmatics: sub.Pragmatics,
		SourceTag:  sub.SourceTag,
		EditSource: sub.EditSource,
		Operator:   sub.Operator,
		Admin:      sub.Admin,
	}, sub.Audio)
	if err != nil {
		return inference.Ack{}, fmt.Errorf("direct: submit: %w: %w", inference.ErrSubmission, err)
	}
	slog.Info("direct: contribution stored", "id", e.ID, "dialect", e.Dialect, "source", e.SourceTag)
	return inference.Ack{Message: "Saved " + e.ID.String()}, nil
}

// CloudSync pings the ledger. An unreachable ledger is reported in the
// status, not as an error.
func (b *Backend) CloudSync(ctx context.Context) (inference.SyncStatus, error) {
	if err := b.ledger.Ping(ctx); err != nil {
		return inference.SyncStatus{OK: false, Detail: err.Error()}, nil
	}
	n, err := b.ledger.Count(ctx)
	if err != nil {
		return inference.SyncStatus{OK: false, Detail: err.Error()}, nil
	}
	return inference.SyncStatus{OK: true, Detail: fmt.Sprintf("%d contributions", n)}, nil
}

func (b *Backend) complete(ctx context.Context, system, user string) (string, error) {
	resp, err := b.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: system,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: user}},
		Temperature:  b.temp,
		MaxTokens:    256,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", inference.ErrRemote, err)
	}
	return stripFence(resp.Content), nil
}

// stripFence removes a Markdown code fence around a model reply.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
