package pipeline_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/toecm/pureconvo/internal/capture"
	"github.com/toecm/pureconvo/internal/catalog"
	"github.com/toecm/pureconvo/internal/inference"
	"github.com/toecm/pureconvo/internal/inference/mock"
	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/session"
)

// fakeTimers captures done-delay callbacks so tests can fire them.
type fakeTimers struct {
	mu      sync.Mutex
	pending []func()
	delays  []time.Duration
}

func (f *fakeTimers) afterFunc(d time.Duration, fn func()) func() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.pending)
	f.pending = append(f.pending, fn)
	f.delays = append(f.delays, d)
	return func() bool {
		f.mu.Lock()
		defer f.mu.Unlock()
		stopped := f.pending[i] != nil
		f.pending[i] = nil
		return stopped
	}
}

// fire runs the most recent pending callback.
func (f *fakeTimers) fire(t *testing.T) {
	t.Helper()
	f.mu.Lock()
	var fn func()
	for i := len(f.pending) - 1; i >= 0; i-- {
		if f.pending[i] != nil {
			fn, f.pending[i] = f.pending[i], nil
			break
		}
	}
	f.mu.Unlock()
	if fn == nil {
		t.Fatal("no pending timer")
	}
	fn()
}

type fakeRecorder struct {
	mu      sync.Mutex
	cleared int
}

func (r *fakeRecorder) Clear() {
	r.mu.Lock()
	r.cleared++
	r.mu.Unlock()
}

func (r *fakeRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cleared
}

type fixedSource struct{ m mission.Mission }

func (s fixedSource) Next(context.Context) mission.Mission { return s.m }

type harness struct {
	m      *pipeline.Machine
	gw     *mock.Gateway
	sess   *session.State
	cat    *catalog.Catalog
	rec    *fakeRecorder
	timers *fakeTimers
}

func newHarness(t *testing.T, cfg pipeline.Config) *harness {
	t.Helper()
	cat := catalog.New([]string{"Korean English", "Singlish"})
	sess, err := session.Open(context.Background(), localstore.NewMemStore(), cat)
	if err != nil {
		t.Fatalf("session.Open: %v", err)
	}
	h := &harness{
		gw: &mock.Gateway{
			Transcript:    "I am going to the market",
			Clarification: inference.Clarification{Meaning: "Heading to the market", Context: "Marketplace", Pragmatics: "casual"},
			AckMessage:    "Saved 1",
		},
		sess:   sess,
		cat:    cat,
		rec:    &fakeRecorder{},
		timers: &fakeTimers{},
	}
	if cfg.Variant == "" {
		cfg.Variant = "speed_chat"
	}
	if cfg.Reward == 0 {
		cfg.Reward = 50
	}
	h.m = pipeline.New(cfg, h.gw, sess,
		pipeline.WithRecorder(h.rec),
		pipeline.WithAfterFunc(h.timers.afterFunc),
	)
	t.Cleanup(h.m.Close)
	return h
}

func artifact() *capture.Artifact {
	return &capture.Artifact{ID: uuid.New(), WAV: []byte("RIFF-test-audio")}
}

func (h *harness) analyze(t *testing.T) {
	t.Helper()
	ok, err := h.m.Analyze(context.Background(), artifact())
	if err != nil || !ok {
		t.Fatalf("Analyze = %v, %v; want true, nil", ok, err)
	}
}

func TestScenarioA_HappyPath(t *testing.T) {
	h := newHarness(t, pipeline.Config{
		Continuous: true,
		Missions:   fixedSource{mission.Mission{Text: "Next one", Context: "Rain"}},
	})
	ctx := context.Background()

	h.analyze(t)
	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageReview {
		t.Fatalf("Stage = %s, want REVIEW", snap.Stage)
	}
	if snap.Attempt.Transcript != "I am going to the market" || snap.Attempt.Meaning != "Heading to the market" {
		t.Errorf("attempt = %+v", snap.Attempt)
	}
	if snap.Attempt.Tone != pipeline.DefaultTone {
		t.Errorf("Tone = %q, want default", snap.Attempt.Tone)
	}
	if snap.Attempt.Edited {
		t.Error("unedited attempt reported as edited")
	}
	if got := h.gw.Clarifies(); len(got) != 1 || got[0].Text != "I am going to the market" {
		t.Errorf("clarify calls = %+v", got)
	}

	r, err := h.m.Submit(ctx, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if r.Total != 50 || h.sess.Reward() != 50 {
		t.Errorf("reward total = %d/%d, want 50", r.Total, h.sess.Reward())
	}
	subs := h.gw.Submits()
	if len(subs) != 1 {
		t.Fatalf("submits = %d, want 1", len(subs))
	}
	if subs[0].EditSource != pipeline.EditModel || subs[0].Dialect != "Korean English" {
		t.Errorf("submission = %+v", subs[0])
	}
	if subs[0].Operator != h.sess.Identity().OperatorID {
		t.Errorf("Operator = %q, want %q", subs[0].Operator, h.sess.Identity().OperatorID)
	}

	snap = h.m.Snapshot()
	if snap.Stage != pipeline.StageDone || snap.Attempt != nil {
		t.Fatalf("after submit: stage %s attempt %+v", snap.Stage, snap.Attempt)
	}
	if snap.Notice == nil || snap.Notice.Kind != pipeline.NoticeSaved {
		t.Errorf("Notice = %+v, want saved", snap.Notice)
	}
	if h.timers.delays[0] != pipeline.DefaultDoneDelay {
		t.Errorf("done delay = %v, want %v", h.timers.delays[0], pipeline.DefaultDoneDelay)
	}

	h.timers.fire(t)
	snap = h.m.Snapshot()
	if snap.Stage != pipeline.StageRecord {
		t.Errorf("Stage = %s, want RECORD", snap.Stage)
	}
	if snap.Mission.Text != "Next one" {
		t.Errorf("Mission = %+v, want next mission", snap.Mission)
	}
	if snap.Finished {
		t.Error("continuous variant reported finished")
	}
}

func TestScenarioB_TranscriptionFailure(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.gw.TranscribeErr = inference.ErrConnection

	h.analyze(t)
	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageReview {
		t.Fatalf("Stage = %s, want REVIEW", snap.Stage)
	}
	if snap.Attempt.Transcript != pipeline.Placeholder {
		t.Errorf("Transcript = %q, want placeholder", snap.Attempt.Transcript)
	}
	if snap.Notice == nil || snap.Notice.Kind != pipeline.NoticeTranscriptionLost {
		t.Errorf("Notice = %+v", snap.Notice)
	}
	if n := len(h.gw.Clarifies()); n != 0 {
		t.Errorf("clarify calls = %d, want 0", n)
	}

	if _, err := h.m.Submit(context.Background(), ""); !errors.Is(err, pipeline.ErrEmptyTranscript) {
		t.Fatalf("Submit err = %v, want ErrEmptyTranscript", err)
	}
	if h.m.Stage() != pipeline.StageReview {
		t.Errorf("guard failure left REVIEW")
	}

	if err := h.m.EditTranscript("typed by hand"); err != nil {
		t.Fatalf("EditTranscript: %v", err)
	}
	if _, err := h.m.Submit(context.Background(), ""); !errors.Is(err, pipeline.ErrEmptyMeaning) {
		t.Fatalf("Submit err = %v, want ErrEmptyMeaning", err)
	}
	if err := h.m.EditMeaning("what I meant"); err != nil {
		t.Fatalf("EditMeaning: %v", err)
	}
	if _, err := h.m.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	subs := h.gw.Submits()
	if len(subs) != 1 || subs[0].EditSource != pipeline.EditHuman || subs[0].Transcript != "typed by hand" {
		t.Errorf("submissions = %+v", subs)
	}
}

func TestScenarioC_SubmissionFailure(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.gw.SubmitErr = inference.ErrSubmission

	h.analyze(t)
	if err := h.m.EditMeaning("edited meaning"); err != nil {
		t.Fatalf("EditMeaning: %v", err)
	}
	_, err := h.m.Submit(context.Background(), "")
	if !errors.Is(err, inference.ErrSubmission) {
		t.Fatalf("Submit err = %v, want ErrSubmission", err)
	}

	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageRecord {
		t.Errorf("Stage = %s, want RECORD", snap.Stage)
	}
	if snap.Attempt != nil {
		t.Errorf("attempt retained: %+v", snap.Attempt)
	}
	if snap.Notice == nil || snap.Notice.Kind != pipeline.NoticeSubmissionFailed {
		t.Errorf("Notice = %+v, want submission_failed", snap.Notice)
	}
	if h.sess.Reward() != 0 {
		t.Errorf("reward = %d, want 0", h.sess.Reward())
	}
	if h.rec.count() == 0 {
		t.Error("recording not cleared")
	}

	// The next attempt starts from scratch.
	h.gw.Set(func(g *mock.Gateway) { g.SubmitErr = nil })
	h.analyze(t)
	if got := h.m.Snapshot().Attempt.Meaning; got != "Heading to the market" {
		t.Errorf("Meaning = %q, previous edit leaked", got)
	}
}

func TestScenarioD_CustomDialectGate(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	ctx := context.Background()
	h.analyze(t)

	if err := h.m.SelectDialect(catalog.Sentinel, ""); err != nil {
		t.Fatalf("SelectDialect: %v", err)
	}
	if snap := h.m.Snapshot(); snap.Challenge != pipeline.DefaultChallenge.Question {
		t.Errorf("Challenge = %q", snap.Challenge)
	}
	if _, err := h.m.Submit(ctx, "7"); !errors.Is(err, pipeline.ErrCustomDialectRequired) {
		t.Errorf("blank name: err = %v", err)
	}

	if err := h.m.SelectDialect(catalog.Sentinel, " Manglish "); err != nil {
		t.Fatalf("SelectDialect: %v", err)
	}
	if _, err := h.m.Submit(ctx, "8"); !errors.Is(err, pipeline.ErrChallengeFailed) {
		t.Errorf("wrong answer: err = %v", err)
	}
	if n := len(h.gw.Submits()); n != 0 {
		t.Fatalf("submit called %d times behind the gate", n)
	}
	if h.cat.Contains("Manglish") {
		t.Fatal("custom dialect added before a successful submission")
	}

	if _, err := h.m.Submit(ctx, " 7 "); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	sub := h.gw.Submits()[0]
	if sub.Dialect != catalog.Sentinel || sub.CustomDialect != "Manglish" {
		t.Errorf("submission dialect = %q/%q", sub.Dialect, sub.CustomDialect)
	}
	names := h.cat.Names()
	if names[len(names)-2] != "Manglish" || names[len(names)-1] != catalog.Sentinel {
		t.Errorf("catalog = %v", names)
	}
	if got := h.m.Snapshot().Dialect; got != "Manglish" {
		t.Errorf("Dialect = %q, want the new dialect selected", got)
	}
}

func TestCustomDialect_NotAddedOnFailure(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.gw.SubmitErr = inference.ErrSubmission
	h.analyze(t)
	_ = h.m.SelectDialect(catalog.Sentinel, "Manglish")
	if _, err := h.m.Submit(context.Background(), "7"); err == nil {
		t.Fatal("Submit succeeded")
	}
	if h.cat.Contains("Manglish") {
		t.Error("custom dialect added after a failed submission")
	}
}

func TestAnalyze_Idempotent(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	art := artifact()

	ok, err := h.m.Analyze(context.Background(), art)
	if !ok || err != nil {
		t.Fatalf("first Analyze = %v, %v", ok, err)
	}
	ok, err = h.m.Analyze(context.Background(), art)
	if ok || err != nil {
		t.Errorf("second Analyze = %v, %v; want false, nil", ok, err)
	}
	if n := len(h.gw.Transcribes()); n != 1 {
		t.Errorf("transcribe calls = %d, want 1", n)
	}
}

func TestAnalyze_Guards(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	if _, err := h.m.Analyze(context.Background(), nil); !errors.Is(err, pipeline.ErrNoArtifact) {
		t.Errorf("nil artifact: err = %v", err)
	}
	h.analyze(t)
	if _, err := h.m.Analyze(context.Background(), artifact()); !errors.Is(err, pipeline.ErrWrongStage) {
		t.Errorf("second attempt while reviewing: err = %v", err)
	}
}

func TestAnalyze_SentinelSendsCustomName(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	_ = h.m.SelectDialect(catalog.Sentinel, "Manglish")
	h.analyze(t)
	if got := h.gw.Transcribes()[0].Dialect; got != "Manglish" {
		t.Errorf("transcribe dialect = %q, want Manglish", got)
	}
}

func TestAnalyze_SentinelNeedsCustomName(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	_ = h.m.SelectDialect(catalog.Sentinel, " ")
	art := artifact()
	if _, err := h.m.Analyze(context.Background(), art); !errors.Is(err, pipeline.ErrCustomDialectRequired) {
		t.Fatalf("err = %v, want ErrCustomDialectRequired", err)
	}
	if got := h.m.Snapshot().Stage; got != pipeline.StageRecord {
		t.Errorf("Stage = %s, want RECORD", got)
	}
	if n := len(h.gw.Transcribes()); n != 0 {
		t.Errorf("transcribe called %d times", n)
	}

	// The same recording is accepted once the name is filled in.
	_ = h.m.SelectDialect(catalog.Sentinel, "Manglish")
	if ok, err := h.m.Analyze(context.Background(), art); !ok || err != nil {
		t.Fatalf("Analyze after naming = %v, %v", ok, err)
	}
}

func TestAnalyze_ClarifyFailure(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.gw.ClarifyErr = inference.ErrConnection
	h.analyze(t)

	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageReview || snap.Attempt.Meaning != "" {
		t.Errorf("snapshot = %+v", snap)
	}
	if snap.Attempt.Transcript != "I am going to the market" {
		t.Errorf("Transcript = %q", snap.Attempt.Transcript)
	}
	if snap.Notice == nil || snap.Notice.Kind != pipeline.NoticeClarificationLost {
		t.Errorf("Notice = %+v", snap.Notice)
	}
}

func TestAnalyze_ContextFromMission(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.m.SetMission(mission.Mission{Text: "Describe the rain", Context: "Rain"})
	h.analyze(t)
	if got := h.m.Snapshot().Attempt.Context; got != "Rain" {
		t.Errorf("Context = %q, want Rain", got)
	}
}

func TestRetry_DropsStaleResult(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	entered := make(chan struct{})
	release := make(chan struct{})
	h.gw.BeforeTranscribe = func(context.Context) {
		close(entered)
		<-release
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.m.Analyze(context.Background(), artifact())
		done <- err
	}()
	<-entered

	if err := h.m.Retry(); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("Analyze: %v", err)
	}

	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageRecord || snap.Attempt != nil {
		t.Errorf("stale result applied: %+v", snap)
	}
	if n := len(h.gw.Clarifies()); n != 0 {
		t.Errorf("clarify calls = %d, want 0", n)
	}
	if h.rec.count() != 1 {
		t.Errorf("recording cleared %d times, want 1", h.rec.count())
	}
}

func TestRetry_WrongStage(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	if err := h.m.Retry(); !errors.Is(err, pipeline.ErrWrongStage) {
		t.Errorf("Retry in RECORD: err = %v", err)
	}
}

func TestRegenerate(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	h.analyze(t)
	_ = h.m.EditTranscript("I am going to the night market")

	h.gw.Set(func(g *mock.Gateway) {
		g.ClarifyFunc = func(text, _ string) (inference.Clarification, error) {
			return inference.Clarification{Meaning: "re: " + text, Context: "General"}, nil
		}
	})
	if err := h.m.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageReview {
		t.Errorf("Stage = %s", snap.Stage)
	}
	if snap.Attempt.Meaning != "re: I am going to the night market" {
		t.Errorf("Meaning = %q", snap.Attempt.Meaning)
	}

	h.gw.Set(func(g *mock.Gateway) {
		g.ClarifyFunc = func(string, string) (inference.Clarification, error) {
			return inference.Clarification{}, inference.ErrConnection
		}
	})
	if err := h.m.Regenerate(context.Background()); err != nil {
		t.Fatalf("Regenerate: %v", err)
	}
	snap = h.m.Snapshot()
	if snap.Attempt.Meaning != "re: I am going to the night market" {
		t.Errorf("failed regeneration replaced meaning: %q", snap.Attempt.Meaning)
	}
	if snap.Notice == nil || snap.Notice.Kind != pipeline.NoticeRegenerationFailed {
		t.Errorf("Notice = %+v", snap.Notice)
	}
}

func TestSelectTone(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	if err := h.m.SelectTone("Casual / Slang"); !errors.Is(err, pipeline.ErrWrongStage) {
		t.Errorf("tone outside review: err = %v", err)
	}
	h.analyze(t)
	if err := h.m.SelectTone("Shouting"); !errors.Is(err, pipeline.ErrUnknownTone) {
		t.Errorf("unknown tone: err = %v", err)
	}
	if err := h.m.SelectTone("Proverb / Idiom"); err != nil {
		t.Fatalf("SelectTone: %v", err)
	}
	_, _ = h.m.Submit(context.Background(), "")
	if got := h.gw.Submits()[0].Tone; got != "Proverb / Idiom" {
		t.Errorf("Tone = %q", got)
	}
}

func TestRewardMonotonic(t *testing.T) {
	h := newHarness(t, pipeline.Config{Continuous: true})
	ctx := context.Background()
	for i := range 3 {
		h.analyze(t)
		if i == 1 {
			h.gw.Set(func(g *mock.Gateway) { g.SubmitErr = inference.ErrSubmission })
			if _, err := h.m.Submit(ctx, ""); err == nil {
				t.Fatal("Submit succeeded")
			}
			h.gw.Set(func(g *mock.Gateway) { g.SubmitErr = nil })
			continue
		}
		if _, err := h.m.Submit(ctx, ""); err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		h.timers.fire(t)
	}
	if got := h.sess.Reward(); got != 100 {
		t.Errorf("reward = %d, want 100", got)
	}
}

func TestSingleShotExits(t *testing.T) {
	exited := 0
	h := newHarness(t, pipeline.Config{Variant: "archivist", OnExit: func() { exited++ }})
	h.analyze(t)
	if _, err := h.m.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	h.timers.fire(t)
	snap := h.m.Snapshot()
	if !snap.Finished || exited != 1 {
		t.Errorf("Finished = %v, exits = %d", snap.Finished, exited)
	}
	if snap.Stage != pipeline.StageRecord {
		t.Errorf("Stage = %s, want RECORD", snap.Stage)
	}
}

func TestOnSubmitted(t *testing.T) {
	var got pipeline.Receipt
	h := newHarness(t, pipeline.Config{Reward: 25, OnSubmitted: func(r pipeline.Receipt) { got = r }})
	h.analyze(t)
	if _, err := h.m.Submit(context.Background(), ""); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if got.Reward != 25 || got.Total != 25 || got.Ack != "Saved 1" {
		t.Errorf("receipt = %+v", got)
	}
	if got.Attempt.Transcript != "I am going to the market" {
		t.Errorf("receipt transcript = %q", got.Attempt.Transcript)
	}
}

func TestDialectRehoming(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	if err := h.m.SelectDialect("Singlish", ""); err != nil {
		t.Fatalf("SelectDialect: %v", err)
	}
	if err := h.m.SelectDialect("Klingon", ""); !errors.Is(err, pipeline.ErrUnknownDialect) {
		t.Errorf("unknown dialect: err = %v", err)
	}

	h.gw.DialectList = []string{"Nigerian Pidgin", "Korean English"}
	if _, err := h.cat.Refresh(context.Background(), h.gw); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := h.m.Snapshot().Dialect; got != "Nigerian Pidgin" {
		t.Errorf("Dialect = %q, want first entry", got)
	}
}

func TestPreStages(t *testing.T) {
	h := newHarness(t, pipeline.Config{PreStages: []pipeline.Stage{pipeline.StageSetup, pipeline.StageOnboarding}})
	if got := h.m.Stage(); got != pipeline.StageSetup {
		t.Fatalf("initial stage = %s, want SETUP", got)
	}
	if _, err := h.m.Analyze(context.Background(), artifact()); !errors.Is(err, pipeline.ErrWrongStage) {
		t.Errorf("Analyze during setup: err = %v", err)
	}
	if err := h.m.CompleteStage(pipeline.StageOnboarding); !errors.Is(err, pipeline.ErrWrongStage) {
		t.Errorf("out of order: err = %v", err)
	}
	for _, s := range []pipeline.Stage{pipeline.StageSetup, pipeline.StageOnboarding} {
		if err := h.m.CompleteStage(s); err != nil {
			t.Fatalf("CompleteStage(%s): %v", s, err)
		}
	}
	if got := h.m.Stage(); got != pipeline.StageRecord {
		t.Errorf("stage = %s, want RECORD", got)
	}

	h.m.Reset()
	if got := h.m.Stage(); got != pipeline.StageSetup {
		t.Errorf("after Reset stage = %s, want SETUP", got)
	}
}

func TestRestore(t *testing.T) {
	saved := mission.Mission{Text: "Saved prompt", Context: "Food"}
	tests := []struct {
		name      string
		pre       []pipeline.Stage
		stage     pipeline.Stage
		wantStage pipeline.Stage
	}{
		{"record", nil, pipeline.StageRecord, pipeline.StageRecord},
		{"transient review", nil, pipeline.StageReview, pipeline.StageRecord},
		{"transient minting", nil, pipeline.StageMinting, pipeline.StageRecord},
		{"empty", nil, "", pipeline.StageRecord},
		{"onboarding kept", []pipeline.Stage{pipeline.StageSetup, pipeline.StageOnboarding}, pipeline.StageOnboarding, pipeline.StageOnboarding},
		{"foreign pre-stage", nil, pipeline.StageSetup, pipeline.StageRecord},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, pipeline.Config{PreStages: tt.pre})
			if got := h.m.Restore(tt.stage, saved); got != tt.wantStage {
				t.Errorf("Restore = %s, want %s", got, tt.wantStage)
			}
			if got := h.m.Mission(); got != saved {
				t.Errorf("Mission = %+v, want %+v", got, saved)
			}
		})
	}
}

func TestSkip(t *testing.T) {
	next := mission.Mission{Text: "Fresh", Context: "School"}
	h := newHarness(t, pipeline.Config{Continuous: true, Missions: fixedSource{next}})
	h.analyze(t)

	got, err := h.m.Skip(context.Background())
	if err != nil {
		t.Fatalf("Skip: %v", err)
	}
	if got != next {
		t.Errorf("Skip = %+v, want %+v", got, next)
	}
	snap := h.m.Snapshot()
	if snap.Stage != pipeline.StageRecord || snap.Attempt != nil || snap.Mission != next {
		t.Errorf("snapshot = %+v", snap)
	}
	if h.rec.count() != 1 {
		t.Errorf("recording cleared %d times, want 1", h.rec.count())
	}
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, pipeline.Config{})
	var stages []pipeline.Stage
	cancel := h.m.Subscribe(func(s pipeline.Snapshot) {
		if len(stages) == 0 || stages[len(stages)-1] != s.Stage {
			stages = append(stages, s.Stage)
		}
	})
	h.analyze(t)
	_, _ = h.m.Submit(context.Background(), "")
	cancel()
	h.timers.fire(t)

	want := []pipeline.Stage{pipeline.StageAnalyzing, pipeline.StageReview, pipeline.StageMinting, pipeline.StageDone}
	if len(stages) != len(want) {
		t.Fatalf("stages = %v, want %v", stages, want)
	}
	for i := range want {
		if stages[i] != want[i] {
			t.Errorf("stages[%d] = %s, want %s", i, stages[i], want[i])
		}
	}
}

func TestWordEdits(t *testing.T) {
	tests := []struct {
		from, to string
		want     int
	}{
		{"", "", 0},
		{"a b c", "a b c", 0},
		{"a b c", "a x c", 1},
		{"a b c", "a c", 1},
		{"", "one two", 2},
		{"the cat sat", "the  cat   sat", 0},
	}
	for _, tt := range tests {
		if got := pipeline.WordEdits(tt.from, tt.to); got != tt.want {
			t.Errorf("WordEdits(%q, %q) = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestParseStage(t *testing.T) {
	if s, ok := pipeline.ParseStage("REVIEW"); !ok || s != pipeline.StageReview {
		t.Errorf("ParseStage(REVIEW) = %q, %v", s, ok)
	}
	if _, ok := pipeline.ParseStage("{\"stage\":1}"); ok {
		t.Error("ParseStage accepted garbage")
	}
}
