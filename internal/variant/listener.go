package variant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/toecm/pureconvo/internal/localstore"
	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/pipeline"
	"github.com/toecm/pureconvo/internal/progress"
	"github.com/toecm/pureconvo/internal/session"
	"github.com/toecm/pureconvo/internal/speech"
)

// replyTimeout bounds follow-up generation and synthesis after a submission.
const replyTimeout = 45 * time.Second

// Errors returned by the conversational set-up steps.
var (
	ErrInvalidSetup   = errors.New("variant: invalid listener setup")
	ErrInvalidProfile = errors.New("variant: invalid listener profile")
)

// Output is how replies reach the contributor.
type Output string

const (
	OutputVoice Output = "voice"
	OutputText  Output = "text"
)

// Setup is the one-time listener configuration.
type Setup struct {
	VoiceID string `json:"voice_id,omitempty"`
	Dialect string `json:"dialect"`
	Output  Output `json:"output"`
}

// Profile is how the listener addresses the contributor. Pronounce only
// affects speech output and never reaches the ledger.
type Profile struct {
	DisplayName string `json:"display_name"`
	Pronounce   string `json:"pronounce,omitempty"`
}

// Turn is one line of the conversation.
type Turn struct {
	Speaker string    `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Turn speakers.
const (
	SpeakerContributor = "contributor"
	SpeakerListener    = "listener"
)

// Memory is the persisted conversational state.
type Memory struct {
	Setup   *Setup   `json:"setup,omitempty"`
	Profile *Profile `json:"profile,omitempty"`
	History []Turn   `json:"history"`
}

// ListenerView is the contributor-visible listener state.
type ListenerView struct {
	Setup    *Setup   `json:"setup,omitempty"`
	Profile  *Profile `json:"profile,omitempty"`
	History  []Turn   `json:"history"`
	HasAudio bool     `json:"has_audio"`
}

// Listener is the conversational extension of a driver.
type Listener struct {
	machine *pipeline.Machine
	gen     mission.Generator
	sess    *session.State
	speaker *speech.Speaker
	blob    *progress.Blob[Memory]
	now     func() time.Time

	mu    sync.Mutex
	mem   Memory
	reply *speech.Utterance

	// turn increases with every listener turn and reset; a reply for an
	// older turn is dropped.
	turn uint64
}

func newListener(m *pipeline.Machine, gen mission.Generator, sess *session.State, kv localstore.Store, sp *speech.Speaker) *Listener {
	return &Listener{
		machine: m,
		gen:     gen,
		sess:    sess,
		speaker: sp,
		blob:    progress.NewBlob[Memory](kv, localstore.MemoryKey(sess.Identity().SessionID)),
		now:     time.Now,
	}
}

// View returns the current state.
func (l *Listener) View() ListenerView {
	l.mu.Lock()
	defer l.mu.Unlock()
	return ListenerView{
		Setup:    l.mem.Setup,
		Profile:  l.mem.Profile,
		History:  append([]Turn(nil), l.mem.History...),
		HasAudio: l.reply != nil && len(l.reply.WAV) > 0,
	}
}

// Reply returns the last spoken reply, or nil.
func (l *Listener) Reply() *speech.Utterance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reply
}

// Configure completes SETUP.
func (l *Listener) Configure(ctx context.Context, s Setup) error {
	if st := l.machine.Stage(); st != pipeline.StageSetup {
		return fmt.Errorf("variant: setup in %s: %w", st, pipeline.ErrWrongStage)
	}
	if s.Output == "" {
		s.Output = OutputVoice
	}
	switch s.Output {
	case OutputText:
	case OutputVoice:
		if strings.TrimSpace(s.VoiceID) == "" {
			return fmt.Errorf("%w: voice output needs a voice", ErrInvalidSetup)
		}
		if l.speaker == nil {
			return fmt.Errorf("%w: voice output is not available", ErrInvalidSetup)
		}
	default:
		return fmt.Errorf("%w: unknown output %q", ErrInvalidSetup, s.Output)
	}
	if err := l.machine.SelectDialect(s.Dialect, ""); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSetup, err)
	}

	if err := l.update(ctx, func(m *Memory) bool { m.Setup = &s; return true }); err != nil {
		return err
	}
	return l.machine.CompleteStage(pipeline.StageSetup)
}

// Onboard completes ONBOARDING and greets the contributor.
func (l *Listener) Onboard(ctx context.Context, p Profile) error {
	if st := l.machine.Stage(); st != pipeline.StageOnboarding {
		return fmt.Errorf("variant: onboard in %s: %w", st, pipeline.ErrWrongStage)
	}
	p.DisplayName = strings.TrimSpace(p.DisplayName)
	p.Pronounce = strings.TrimSpace(p.Pronounce)
	if p.DisplayName == "" {
		return fmt.Errorf("%w: display name is empty", ErrInvalidProfile)
	}

	if err := l.update(ctx, func(m *Memory) bool { m.Profile = &p; return true }); err != nil {
		return err
	}
	if err := l.sess.SetNickname(ctx, p.DisplayName); err != nil {
		slog.Warn("variant: nickname not saved", "err", err)
	}
	if err := l.machine.CompleteStage(pipeline.StageOnboarding); err != nil {
		return err
	}
	l.say(ctx, l.nextTurn(), fmt.Sprintf("Hi %s! What's on your mind today?", p.DisplayName))
	return nil
}

// heard records the contributor's submitted transcript and opens the turn
// the listener answers.
func (l *Listener) heard(ctx context.Context, r pipeline.Receipt) uint64 {
	transcript := strings.TrimSpace(r.Attempt.Transcript)
	if err := l.update(ctx, func(m *Memory) bool {
		m.History = append(m.History, Turn{Speaker: SpeakerContributor, Text: transcript, At: l.now().UTC()})
		return true
	}); err != nil {
		slog.Warn("variant: conversation not saved", "err", err)
	}
	return l.nextTurn()
}

// followUp generates and speaks the answer to turn.
func (l *Listener) followUp(parent context.Context, turn uint64, r pipeline.Receipt) {
	ctx, cancel := context.WithTimeout(parent, replyTimeout)
	defer cancel()

	next := mission.FollowUp(ctx, l.gen, strings.TrimSpace(r.Attempt.Transcript))
	l.say(ctx, turn, next.Text)
}

func (l *Listener) nextTurn() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.turn++
	return l.turn
}

// say records text as the listener's turn, shows it as the current prompt
// and speaks it when voice output is on. Nothing happens once turn has been
// superseded.
func (l *Listener) say(ctx context.Context, turn uint64, text string) {
	if err := l.update(ctx, func(m *Memory) bool {
		if l.turn != turn {
			return false
		}
		m.History = append(m.History, Turn{Speaker: SpeakerListener, Text: text, At: l.now().UTC()})
		return true
	}); err != nil {
		slog.Warn("variant: conversation not saved", "err", err)
	}

	l.mu.Lock()
	if l.turn != turn {
		l.mu.Unlock()
		slog.Debug("variant: dropping superseded reply", "turn", turn)
		return
	}
	l.machine.SetMission(mission.Mission{Text: text, Emoji: "💬", Context: "Conversation"})
	setup, profile := l.mem.Setup, l.mem.Profile
	l.reply = nil
	l.mu.Unlock()
	if setup == nil || setup.Output != OutputVoice || l.speaker == nil {
		return
	}

	var pr speech.Pronunciation
	if profile != nil {
		pr = speech.Pronunciation{Name: profile.DisplayName, Say: profile.Pronounce}
	}
	u, err := l.speaker.Speak(ctx, text, setup.VoiceID, pr)
	if err != nil {
		slog.Warn("variant: reply not spoken", "err", err)
		return
	}
	l.mu.Lock()
	if l.turn == turn {
		l.reply = &u
	}
	l.mu.Unlock()
}

// update applies fn to the memory and writes it through. fn returning false
// leaves the memory as it was.
func (l *Listener) update(ctx context.Context, fn func(*Memory) bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := l.mem
	next.History = append([]Turn(nil), l.mem.History...)
	if !fn(&next) {
		return nil
	}
	if err := l.blob.Save(ctx, next); err != nil {
		return fmt.Errorf("variant: save listener memory: %w", err)
	}
	l.mem = next
	return nil
}

func (l *Listener) restore(ctx context.Context) error {
	mem, _, err := l.blob.Load(ctx)
	if err != nil {
		return fmt.Errorf("load listener memory: %w", err)
	}
	l.mu.Lock()
	l.mem = mem
	l.reply = nil
	l.turn++
	l.mu.Unlock()
	if mem.Setup != nil && mem.Setup.Dialect != "" {
		if err := l.machine.SelectDialect(mem.Setup.Dialect, ""); err != nil {
			slog.Info("variant: saved listener dialect unavailable", "dialect", mem.Setup.Dialect, "err", err)
		}
	}
	return nil
}

func (l *Listener) reset(ctx context.Context) error {
	if err := l.blob.Clear(ctx); err != nil {
		return fmt.Errorf("clear listener memory: %w", err)
	}
	l.mu.Lock()
	l.mem = Memory{}
	l.reply = nil
	l.turn++
	l.mu.Unlock()
	return nil
}
