// Package inference defines the contract of the remote inference service that
// transcribes recordings, paraphrases transcripts, generates mission prompts,
// and accepts finished contributions.
//
// Package remote talks to the hosted service over a single reusable WebSocket
// connection; package direct composes self-hosted speech and language
// providers with the ledger. The resilience package can put one in front of
// the other.
//
// Payloads coming back from the service are loosely typed: the same logical
// result may arrive as a structured value or as a JSON-encoded string. The
// Decode* functions in this package normalise both shapes and are the only
// place that knows about them.
package inference

import (
	"context"
	"errors"
)

// Sentinel errors. Implementations wrap them with %w so callers can classify
// failures with [errors.Is].
var (
	// ErrConnection means the endpoint was unreachable or the handshake failed.
	ErrConnection = errors.New("inference: connection failed")

	// ErrTranscription means the transcribe call failed.
	ErrTranscription = errors.New("inference: transcription failed")

	// ErrClarificationParse means a clarify payload was malformed. It is
	// recovered by [DecodeClarification] and never returned by a Gateway.
	ErrClarificationParse = errors.New("inference: malformed clarification payload")

	// ErrSubmission means the ledger rejected or never received a submission.
	ErrSubmission = errors.New("inference: submission failed")

	// ErrRemote is a service-side failure of any other call.
	ErrRemote = errors.New("inference: remote call failed")
)

// DefaultContext is the context tag used when a clarification carries none.
const DefaultContext = "General"

// Clarification is the paraphrase of a transcript. All fields are always
// set; Context defaults to [DefaultContext] and Pragmatics to "".
type Clarification struct {
	Meaning    string `json:"meaning"`
	Context    string `json:"context"`
	Pragmatics string `json:"pragmatics"`
}

// Prompt is a generated mission prompt.
type Prompt struct {
	Text  string `json:"text"`
	Emoji string `json:"emoji,omitempty"`
}

// Submission is an approved contribution. Field order follows the service's
// check_and_submit_logic argument list.
type Submission struct {
	Transcript    string
	Dialect       string
	CustomDialect string
	Meaning       string
	Tone          string
	Context       string
	Pragmatics    string
	SourceTag     string

	// EditSource is "human" when the transcript or meaning was corrected by
	// the contributor and "model" otherwise.
	EditSource string

	// Operator is the derived operator id of the contributing session.
	Operator string

	// Audio is the recording as a WAV container.
	Audio []byte

	// Admin is passed through to the ledger unchanged.
	Admin bool
}

// Ack is the service's acknowledgement of a submission.
type Ack struct {
	Message string
}

// SyncStatus reports whether the service can reach its backing ledger.
type SyncStatus struct {
	OK     bool
	Detail string
}

// Gateway is the remote inference contract. Implementations must be safe for
// concurrent use and must not retry internally; retry policy belongs to the
// caller.
type Gateway interface {
	// Dialects returns the service's dialect catalog.
	Dialects(ctx context.Context) ([]string, error)

	// Transcribe converts a WAV recording to text. dialect may be empty to let
	// the service detect it. Failures wrap [ErrTranscription] or
	// [ErrConnection].
	Transcribe(ctx context.Context, wav []byte, dialect string) (string, error)

	// Clarify paraphrases text. Malformed payloads are absorbed; only
	// transport and service failures are returned.
	Clarify(ctx context.Context, text, dialect string) (Clarification, error)

	// GenerateMission returns a prompt for topic. Callers supply their own
	// fallback prompt on error.
	GenerateMission(ctx context.Context, topic string) (Prompt, error)

	// Submit persists an approved contribution. Failures wrap [ErrSubmission].
	Submit(ctx context.Context, sub Submission) (Ack, error)

	// CloudSync reports the service's ledger connectivity.
	CloudSync(ctx context.Context) (SyncStatus, error)
}
