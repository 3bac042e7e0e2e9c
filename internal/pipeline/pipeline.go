// Package pipeline implements the verification pipeline that carries one
// contribution from a finished recording to the ledger.
//
// A [Machine] moves through
//
//	RECORD → ANALYZING → REVIEW → (REGENERATING) → MINTING → DONE
//
// with two back-edges into RECORD: a contributor retry from review, and a
// failed submission. DONE is transient and returns to RECORD after
// [Config.DoneDelay]. Variants that need set-up before the first recording
// declare pre-stages ([StageSetup], [StageOnboarding]) that precede RECORD.
//
// Only one attempt is live per machine. Remote calls run without the lock;
// each captures the attempt generation and its result is dropped if the
// contributor moved on in the meantime.
package pipeline

import (
	"errors"
	"time"

	"github.com/toecm/pureconvo/internal/mission"
)

// Stage is a pipeline state.
type Stage string

const (
	StageSetup        Stage = "SETUP"
	StageOnboarding   Stage = "ONBOARDING"
	StageRecord       Stage = "RECORD"
	StageAnalyzing    Stage = "ANALYZING"
	StageReview       Stage = "REVIEW"
	StageRegenerating Stage = "REGENERATING"
	StageMinting      Stage = "MINTING"
	StageDone         Stage = "DONE"
)

// Transient reports whether s only exists while a remote call or the done
// delay is in progress. Transient stages are not resumed after a restart.
func (s Stage) Transient() bool {
	switch s {
	case StageAnalyzing, StageReview, StageRegenerating, StageMinting, StageDone:
		return true
	}
	return false
}

// ParseStage returns the stage named s.
func ParseStage(s string) (Stage, bool) {
	switch st := Stage(s); st {
	case StageSetup, StageOnboarding, StageRecord, StageAnalyzing,
		StageReview, StageRegenerating, StageMinting, StageDone:
		return st, true
	}
	return "", false
}

// Errors returned by [Machine] operations. Guard failures leave the machine
// unchanged.
var (
	ErrWrongStage            = errors.New("pipeline: operation not allowed in current stage")
	ErrNoArtifact            = errors.New("pipeline: no recording to analyze")
	ErrNoDialect             = errors.New("pipeline: no dialect selected")
	ErrUnknownDialect        = errors.New("pipeline: dialect not in catalog")
	ErrUnknownTone           = errors.New("pipeline: unknown tone")
	ErrEmptyTranscript       = errors.New("pipeline: transcript is empty")
	ErrEmptyMeaning          = errors.New("pipeline: meaning is empty")
	ErrCustomDialectRequired = errors.New("pipeline: new dialect needs a name")
	ErrChallengeFailed       = errors.New("pipeline: verification answer is wrong")
)

// Challenge is the human-verification question asked before a new dialect
// is submitted.
type Challenge struct {
	Question string `json:"question"`
	Answer   string `json:"-"`
}

// DefaultChallenge is the fixed arithmetic check.
var DefaultChallenge = Challenge{Question: "3 + 4", Answer: "7"}

// DefaultDoneDelay is how long DONE is shown.
const DefaultDoneDelay = 2 * time.Second

// Config parameterizes a [Machine] for one game variant.
type Config struct {
	// Variant names the game variant in metrics and logs.
	Variant string

	// Reward is the XP granted per confirmed submission.
	Reward int

	// SourceTag is attached to every submission.
	SourceTag string

	// Continuous variants fetch a new mission after DONE; the others set
	// [Snapshot.Finished] and call OnExit.
	Continuous bool

	// DoneDelay defaults to [DefaultDoneDelay].
	DoneDelay time.Duration

	// Challenge defaults to [DefaultChallenge].
	Challenge Challenge

	// Admin is passed through with every submission.
	Admin bool

	// PreStages run, in order, before the first RECORD.
	PreStages []Stage

	// Missions supplies missions for continuous play and skips. May be nil.
	Missions mission.Source

	// OnSubmitted runs after every confirmed submission, after the reward
	// was granted and before the done delay starts. It runs on the
	// submitting goroutine, so Submit returns only after it does.
	OnSubmitted func(Receipt)

	// OnExit runs when a single-shot variant leaves DONE.
	OnExit func()
}

func (c Config) withDefaults() Config {
	if c.DoneDelay <= 0 {
		c.DoneDelay = DefaultDoneDelay
	}
	if c.Challenge.Answer == "" {
		c.Challenge = DefaultChallenge
	}
	return c
}

// Notice kinds carried in [Snapshot.Notice].
const (
	NoticeSaved              = "saved"
	NoticeSubmissionFailed   = "submission_failed"
	NoticeTranscriptionLost  = "transcription_unavailable"
	NoticeClarificationLost  = "clarification_unavailable"
	NoticeRegenerationFailed = "regeneration_failed"
)

// Notice is a message for the contributor about the last transition.
type Notice struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// Receipt describes a confirmed submission.
type Receipt struct {
	Attempt Attempt
	Dialect string
	Ack     string
	Reward  int
	Total   int
}

// AttemptView is the contributor-visible part of the live attempt.
type AttemptView struct {
	ArtifactID string `json:"artifact_id"`
	Transcript string `json:"transcript"`
	Meaning    string `json:"meaning"`
	Tone       string `json:"tone"`
	Context    string `json:"context"`
	Pragmatics string `json:"pragmatics"`
	Edited     bool   `json:"edited"`
}

// Snapshot is the observable state of a [Machine].
type Snapshot struct {
	Variant       string          `json:"variant"`
	Stage         Stage           `json:"stage"`
	Mission       mission.Mission `json:"mission"`
	Dialect       string          `json:"dialect"`
	CustomDialect string          `json:"custom_dialect,omitempty"`
	Challenge     string          `json:"challenge,omitempty"`
	Attempt       *AttemptView    `json:"attempt,omitempty"`
	Notice        *Notice         `json:"notice,omitempty"`
	Finished      bool            `json:"finished,omitempty"`
}
