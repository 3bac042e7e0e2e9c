package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/observe"
	"github.com/toecm/pureconvo/internal/session"
)

// missionTimeout bounds the mission fetch that follows DONE.
const missionTimeout = 30 * time.Second

// Clearer releases the last recording. [*capture.Controller] satisfies it.
type Clearer interface {
	Clear()
}

var _ Clearer = (*capture.Controller)(nil)

// Option configures a [Machine].
type Option func(*Machine)

// WithRecorder clears rec whenever an attempt is discarded or finished.
func WithRecorder(rec Clearer) Option {
	return func(m *Machine) { m.rec = rec }
}

// WithMetrics records stage transitions, submissions and edits into met.
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Machine) { m.metrics = met }
}

// WithAfterFunc replaces [time.AfterFunc] for the done delay. The returned
// function stops the pending call.
func WithAfterFunc(fn func(d time.Duration, f func()) (stop func() bool)) Option {
	return func(m *Machine) { m.afterFunc = fn }
}

// Machine is the verification pipeline of one variant instance. All methods
// are safe for concurrent use.
type Machine struct {
	cfg       Config
	gw        inference.Gateway
	sess      *session.State
	rec       Clearer
	metrics   *observe.Metrics
	afterFunc func(time.Duration, func()) func() bool
	unsub     func()

	mu         sync.Mutex
	stage      Stage
	gen        uint64
	missionGen uint64
	guard      uuid.UUID
	attempt    *Attempt
	dialect    string
	custom     string
	mission    mission.Mission
	notice     *Notice
	finished   bool
	stopDone   func() bool
	subs       map[int]func(Snapshot)
	nextSub    int
}

// New returns a machine in its first stage. The initial dialect is the
// first catalog entry.
func New(cfg Config, gw inference.Gateway, sess *session.State, opts ...Option) *Machine {
	m := &Machine{
		cfg:     cfg.withDefaults(),
		gw:      gw,
		sess:    sess,
		dialect: sess.Catalog().Rehome(""),
		mission: mission.Initial,
		subs:    make(map[int]func(Snapshot)),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
	for _, o := range opts {
		o(m)
	}
	m.stage = m.initialStage()
	m.unsub = sess.Catalog().Subscribe(m.onCatalog)
	return m
}

// Config returns the machine's configuration.
func (m *Machine) Config() Config { return m.cfg }

// Stage returns the current stage.
func (m *Machine) Stage() Stage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stage
}

// Mission returns the current mission.
func (m *Machine) Mission() mission.Mission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mission
}

// Snapshot returns the observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn to receive a snapshot after every change. fn runs
// on the goroutine that made the change and must not block.
func (m *Machine) Subscribe(fn func(Snapshot)) (cancel func()) {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Analyze runs transcription and clarification for a finished recording and
// moves to REVIEW. It runs at most once per artifact: a repeated delivery
// returns false and no error. Gateway failures never fail the call; they
// leave an editable placeholder and a notice instead.
func (m *Machine) Analyze(ctx context.Context, art *capture.Artifact) (bool, error) {
	if art == nil || len(art.WAV) == 0 {
		return false, ErrNoArtifact
	}

	m.mu.Lock()
	if art.ID == m.guard {
		m.mu.Unlock()
		slog.Debug("pipeline: ignoring repeated artifact", "variant", m.cfg.Variant, "artifact", art.ID)
		return false, nil
	}
	if m.stage != StageRecord {
		stage := m.stage
		m.mu.Unlock()
		return false, fmt.Errorf("pipeline: analyze in %s: %w", stage, ErrWrongStage)
	}
	if m.dialect == "" {
		m.mu.Unlock()
		return false, ErrNoDialect
	}
	if m.dialect == catalog.Sentinel && strings.TrimSpace(m.custom) == "" {
		m.mu.Unlock()
		return false, ErrCustomDialectRequired
	}
	m.guard = art.ID
	m.gen++
	gen := m.gen
	m.finished = false
	m.notice = nil
	m.attempt = &Attempt{
		ArtifactID: art.ID,
		Audio:      art.WAV,
		Tone:       DefaultTone,
		Context:    m.defaultContextLocked(),
	}
	dialect := m.effectiveDialectLocked()
	m.setStageLocked(StageAnalyzing)
	m.unlockAndPublish()

	ctx, span := observe.StartAttemptSpan(ctx, "analyze", m.cfg.Variant, dialect)
	defer span.End()

	text, err := m.gw.Transcribe(ctx, art.WAV, dialect)
	text = strings.TrimSpace(text)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		slog.Debug("pipeline: dropping stale transcript", "variant", m.cfg.Variant)
		return true, nil
	}
	if err != nil || text == "" {
		slog.Warn("pipeline: transcription unavailable", "variant", m.cfg.Variant, "err", err)
		m.attempt.Transcript = Placeholder
		m.attempt.modelTranscript = Placeholder
		m.notice = &Notice{Kind: NoticeTranscriptionLost, Text: "Transcription unavailable. Type what you said."}
		m.setStageLocked(StageReview)
		m.unlockAndPublish()
		return true, nil
	}
	m.attempt.Transcript = text
	m.attempt.modelTranscript = text
	m.unlockAndPublish()

	clar, err := m.gw.Clarify(ctx, text, dialect)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		slog.Debug("pipeline: dropping stale clarification", "variant", m.cfg.Variant)
		return true, nil
	}
	if err != nil {
		slog.Warn("pipeline: clarification unavailable", "variant", m.cfg.Variant, "err", err)
		m.notice = &Notice{Kind: NoticeClarificationLost, Text: "Meaning unavailable. Describe it yourself."}
	} else {
		m.applyClarificationLocked(clar)
	}
	m.setStageLocked(StageReview)
	m.unlockAndPublish()
	return true, nil
}

// EditTranscript replaces the transcript during REVIEW.
func (m *Machine) EditTranscript(text string) error {
	return m.edit(func(a *Attempt) error { a.Transcript = text; return nil })
}

// EditMeaning replaces the meaning during REVIEW.
func (m *Machine) EditMeaning(text string) error {
	return m.edit(func(a *Attempt) error { a.Meaning = text; return nil })
}

// SelectTone sets the attempt's tone during REVIEW. tone must be one of
// [Tones].
func (m *Machine) SelectTone(tone string) error {
	if !slices.Contains(Tones, tone) {
		return fmt.Errorf("%w: %q", ErrUnknownTone, tone)
	}
	return m.edit(func(a *Attempt) error { a.Tone = tone; return nil })
}

func (m *Machine) edit(fn func(*Attempt) error) error {
	m.mu.Lock()
	if m.stage != StageReview || m.attempt == nil {
		m.mu.Unlock()
		return ErrWrongStage
	}
	if err := fn(m.attempt); err != nil {
		m.mu.Unlock()
		return err
	}
	m.unlockAndPublish()
	return nil
}

// Regenerate asks for a new meaning of the current, possibly edited,
// transcript. A failure keeps the previous meaning and sets a notice.
func (m *Machine) Regenerate(ctx context.Context) error {
	m.mu.Lock()
	if m.stage != StageReview || m.attempt == nil {
		m.mu.Unlock()
		return ErrWrongStage
	}
	if !m.attempt.hasTranscript() {
		m.mu.Unlock()
		return ErrEmptyTranscript
	}
	gen := m.gen
	text := m.attempt.Transcript
	dialect := m.effectiveDialectLocked()
	m.notice = nil
	m.setStageLocked(StageRegenerating)
	m.unlockAndPublish()

	clar, err := m.gw.Clarify(ctx, text, dialect)

	m.mu.Lock()
	if gen != m.gen || m.stage != StageRegenerating {
		m.mu.Unlock()
		return nil
	}
	if err != nil {
		slog.Warn("pipeline: regeneration failed", "variant", m.cfg.Variant, "err", err)
		m.notice = &Notice{Kind: NoticeRegenerationFailed, Text: "Could not regenerate. The previous meaning was kept."}
	} else {
		m.applyClarificationLocked(clar)
	}
	m.setStageLocked(StageReview)
	m.unlockAndPublish()
	return nil
}

// Retry discards the live attempt and its recording and returns to RECORD.
// Results of calls still in flight are ignored.
func (m *Machine) Retry() error {
	m.mu.Lock()
	switch m.stage {
	case StageAnalyzing, StageReview, StageRegenerating:
	default:
		m.mu.Unlock()
		return ErrWrongStage
	}
	m.discardLocked()
	m.setStageLocked(StageRecord)
	m.unlockAndPublish()
	m.clearRecording()
	return nil
}

// Submit sends the reviewed attempt to the ledger. Guard failures return an
// error and leave REVIEW untouched without calling the gateway. answer is
// the reply to the verification challenge and is only checked when a new
// dialect is being submitted.
//
// On success the reward is granted, a new dialect joins the catalog and the
// machine enters DONE. On failure the attempt is discarded, the machine
// returns to RECORD with a [NoticeSubmissionFailed] notice and the reward is
// unchanged.
func (m *Machine) Submit(ctx context.Context, answer string) (Receipt, error) {
	m.mu.Lock()
	if m.stage != StageReview || m.attempt == nil {
		m.mu.Unlock()
		return Receipt{}, ErrWrongStage
	}
	if err := m.checkSubmitLocked(answer); err != nil {
		m.mu.Unlock()
		return Receipt{}, err
	}

	a := *m.attempt
	custom := ""
	if m.dialect == catalog.Sentinel {
		custom = strings.TrimSpace(m.custom)
	}
	sub := inference.Submission{
		Transcript:    strings.TrimSpace(a.Transcript),
		Dialect:       m.dialect,
		CustomDialect: custom,
		Meaning:       strings.TrimSpace(a.Meaning),
		Tone:          a.Tone,
		Context:       a.Context,
		Pragmatics:    a.Pragmatics,
		SourceTag:     m.cfg.SourceTag,
		EditSource:    a.EditSource(),
		Operator:      m.sess.Identity().OperatorID,
		Audio:         a.Audio,
		Admin:         m.cfg.Admin,
	}
	gen := m.gen
	m.notice = nil
	m.setStageLocked(StageMinting)
	m.unlockAndPublish()

	ctx, span := observe.StartAttemptSpan(ctx, "submit", m.cfg.Variant, sub.Dialect)
	ack, err := m.gw.Submit(ctx, sub)
	observe.EndSpan(span, err)
	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordSubmission(ctx, m.cfg.Variant, 0, err)
		}
		slog.Warn("pipeline: submission failed", "variant", m.cfg.Variant, "err", err)
		m.mu.Lock()
		if gen == m.gen {
			m.discardLocked()
			m.notice = &Notice{Kind: NoticeSubmissionFailed, Text: "Upload failed. The recording was not saved."}
			m.setStageLocked(StageRecord)
		}
		m.unlockAndPublish()
		m.clearRecording()
		return Receipt{}, fmt.Errorf("pipeline: submit: %w", err)
	}

	total := m.sess.Reward()
	if m.cfg.Reward > 0 {
		if total, err = m.sess.AddReward(ctx, m.cfg.Reward); err != nil {
			slog.Warn("pipeline: reward not persisted", "variant", m.cfg.Variant, "err", err)
		}
	}
	if custom != "" && m.sess.Catalog().AddCustom(custom) {
		slog.Info("pipeline: new dialect added", "dialect", custom)
	}
	if m.metrics != nil {
		m.metrics.RecordSubmission(ctx, m.cfg.Variant, m.cfg.Reward, nil)
		m.metrics.RecordReviewEdits(ctx, m.cfg.Variant, sub.EditSource, a.WordEdits())
	}

	r := Receipt{Attempt: a, Dialect: sub.Dialect, Ack: ack.Message, Reward: m.cfg.Reward, Total: total}
	if custom != "" {
		r.Dialect = custom
	}
	slog.Info("pipeline: contribution saved",
		"variant", m.cfg.Variant,
		"dialect", r.Dialect,
		"edit_source", sub.EditSource,
		"xp", total,
	)

	m.mu.Lock()
	if gen == m.gen {
		m.attempt = nil
		if custom != "" {
			m.dialect, m.custom = custom, ""
		}
		m.notice = &Notice{Kind: NoticeSaved, Text: "✅ Saved to the ledger"}
		m.setStageLocked(StageDone)
		m.stopDone = m.afterFunc(m.cfg.DoneDelay, func() { m.leaveDone(gen) })
	}
	m.unlockAndPublish()
	m.clearRecording()

	if m.cfg.OnSubmitted != nil {
		m.cfg.OnSubmitted(r)
	}
	return r, nil
}

func (m *Machine) checkSubmitLocked(answer string) error {
	a := m.attempt
	switch {
	case !a.hasTranscript():
		return ErrEmptyTranscript
	case strings.TrimSpace(a.Meaning) == "":
		return ErrEmptyMeaning
	case m.dialect != catalog.Sentinel:
		return nil
	case strings.TrimSpace(m.custom) == "":
		return ErrCustomDialectRequired
	case strings.TrimSpace(answer) != m.cfg.Challenge.Answer:
		return ErrChallengeFailed
	}
	return nil
}

// leaveDone ends the DONE display for the attempt of generation gen.
func (m *Machine) leaveDone(gen uint64) {
	m.mu.Lock()
	if m.stage != StageDone || m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.stopDone = nil
	m.notice = nil
	m.setStageLocked(StageRecord)
	fetch := m.cfg.Continuous && m.cfg.Missions != nil
	var exit func()
	if !m.cfg.Continuous {
		m.finished = true
		exit = m.cfg.OnExit
	}
	m.unlockAndPublish()

	if fetch {
		ctx, cancel := context.WithTimeout(context.Background(), missionTimeout)
		defer cancel()
		m.NextMission(ctx)
	}
	if exit != nil {
		exit()
	}
}

// NextMission fetches a new mission from the configured source and makes it
// current. Without a source the current mission is returned unchanged.
func (m *Machine) NextMission(ctx context.Context) mission.Mission {
	if m.cfg.Missions == nil {
		return m.Mission()
	}
	m.mu.Lock()
	m.missionGen++
	mg := m.missionGen
	m.mission = mission.Mission{Text: mission.Placeholder, Context: m.mission.Context}
	m.unlockAndPublish()

	next := m.cfg.Missions.Next(ctx)

	m.mu.Lock()
	if mg == m.missionGen {
		m.mission = next
	}
	m.unlockAndPublish()
	return next
}

// SetMission makes mi current, superseding any fetch in progress.
func (m *Machine) SetMission(mi mission.Mission) {
	m.mu.Lock()
	m.missionGen++
	m.mission = mi
	m.unlockAndPublish()
}

// Skip abandons the live attempt, if any, and fetches a new mission.
func (m *Machine) Skip(ctx context.Context) (mission.Mission, error) {
	m.mu.Lock()
	switch m.stage {
	case StageRecord, StageAnalyzing, StageReview, StageRegenerating:
	default:
		m.mu.Unlock()
		return mission.Mission{}, ErrWrongStage
	}
	hadAttempt := m.attempt != nil
	m.discardLocked()
	m.finished = false
	m.setStageLocked(StageRecord)
	m.unlockAndPublish()
	if hadAttempt {
		m.clearRecording()
	}
	return m.NextMission(ctx), nil
}

// SelectDialect selects a catalog entry. custom is the new dialect's name
// and is only kept when name is [catalog.Sentinel].
func (m *Machine) SelectDialect(name, custom string) error {
	if !m.sess.Catalog().Contains(name) {
		return fmt.Errorf("%w: %q", ErrUnknownDialect, name)
	}
	m.mu.Lock()
	if m.stage == StageMinting {
		m.mu.Unlock()
		return ErrWrongStage
	}
	m.dialect = name
	m.custom = ""
	if name == catalog.Sentinel {
		m.custom = strings.TrimSpace(custom)
	}
	m.unlockAndPublish()
	return nil
}

// CompleteStage finishes pre-stage s and moves to the next pre-stage, or to
// RECORD after the last one.
func (m *Machine) CompleteStage(s Stage) error {
	m.mu.Lock()
	i := slices.Index(m.cfg.PreStages, s)
	if i < 0 || m.stage != s {
		m.mu.Unlock()
		return fmt.Errorf("pipeline: complete %s: %w", s, ErrWrongStage)
	}
	next := StageRecord
	if i+1 < len(m.cfg.PreStages) {
		next = m.cfg.PreStages[i+1]
	}
	m.setStageLocked(next)
	m.unlockAndPublish()
	return nil
}

// Restore resumes a saved stage and mission. Transient stages resume at
// RECORD, as do pre-stages this machine does not have. A zero mission keeps
// the current one. It returns the stage actually entered.
func (m *Machine) Restore(stage Stage, mi mission.Mission) Stage {
	switch {
	case stage == "" || stage.Transient():
		stage = StageRecord
	case stage != StageRecord && !slices.Contains(m.cfg.PreStages, stage):
		stage = StageRecord
	}

	m.mu.Lock()
	m.discardLocked()
	m.stopDoneLocked()
	if !mi.IsZero() {
		m.missionGen++
		m.mission = mi
	}
	m.setStageLocked(stage)
	m.unlockAndPublish()
	return stage
}

// Reset abandons everything and returns to the first stage with the initial
// mission.
func (m *Machine) Reset() {
	m.mu.Lock()
	m.discardLocked()
	m.stopDoneLocked()
	m.finished = false
	m.missionGen++
	m.mission = mission.Initial
	m.setStageLocked(m.initialStage())
	m.unlockAndPublish()
	m.clearRecording()
}

// Close detaches the machine from the catalog and stops the done timer.
func (m *Machine) Close() {
	m.unsub()
	m.mu.Lock()
	m.stopDoneLocked()
	m.subs = make(map[int]func(Snapshot))
	m.mu.Unlock()
}

func (m *Machine) onCatalog(names []string) {
	m.mu.Lock()
	if slices.Contains(names, m.dialect) || len(names) == 0 {
		m.mu.Unlock()
		return
	}
	slog.Info("pipeline: selected dialect left the catalog", "variant", m.cfg.Variant, "dialect", m.dialect, "now", names[0])
	m.dialect = names[0]
	if m.dialect != catalog.Sentinel {
		m.custom = ""
	}
	m.unlockAndPublish()
}

func (m *Machine) initialStage() Stage {
	if len(m.cfg.PreStages) > 0 {
		return m.cfg.PreStages[0]
	}
	return StageRecord
}

// discardLocked drops the live attempt and invalidates calls in flight.
func (m *Machine) discardLocked() {
	m.gen++
	m.attempt = nil
	m.guard = uuid.Nil
	m.notice = nil
}

func (m *Machine) stopDoneLocked() {
	if m.stopDone != nil {
		m.stopDone()
		m.stopDone = nil
	}
}

func (m *Machine) clearRecording() {
	if m.rec != nil {
		m.rec.Clear()
	}
}

func (m *Machine) effectiveDialectLocked() string {
	if m.dialect == catalog.Sentinel {
		return strings.TrimSpace(m.custom)
	}
	return m.dialect
}

func (m *Machine) defaultContextLocked() string {
	if c := m.mission.Context; c != "" && c != mission.Initial.Context {
		return c
	}
	return inference.DefaultContext
}

func (m *Machine) applyClarificationLocked(c inference.Clarification) {
	m.attempt.Meaning = c.Meaning
	m.attempt.modelMeaning = c.Meaning
	m.attempt.Pragmatics = c.Pragmatics
	if m.attempt.Context == inference.DefaultContext && c.Context != "" {
		m.attempt.Context = c.Context
	}
}

func (m *Machine) setStageLocked(to Stage) {
	from := m.stage
	if from == to {
		return
	}
	m.stage = to
	slog.Debug("pipeline: stage", "variant", m.cfg.Variant, "from", from, "to", to)
	if m.metrics != nil && from != "" {
		m.metrics.RecordStageTransition(context.Background(), m.cfg.Variant, string(from), string(to))
	}
}

// unlockAndPublish releases m.mu and delivers the resulting snapshot to
// subscribers.
func (m *Machine) unlockAndPublish() {
	snap := m.snapshotLocked()
	subs := make([]func(Snapshot), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(snap)
	}
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		Variant:       m.cfg.Variant,
		Stage:         m.stage,
		Mission:       m.mission,
		Dialect:       m.dialect,
		CustomDialect: m.custom,
		Finished:      m.finished,
	}
	if m.dialect == catalog.Sentinel {
		s.Challenge = m.cfg.Challenge.Question
	}
	if m.notice != nil {
		n := *m.notice
		s.Notice = &n
	}
	if a := m.attempt; a != nil {
		s.Attempt = &AttemptView{
			ArtifactID: a.ArtifactID.String(),
			Transcript: a.Transcript,
			Meaning:    a.Meaning,
			Tone:       a.Tone,
			Context:    a.Context,
			Pragmatics: a.Pragmatics,
			Edited:     a.IsHumanEdited(),
		}
	}
	return s
}
