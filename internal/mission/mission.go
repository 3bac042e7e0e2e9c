// Package mission supplies the prompts contributors respond to. Every source
// in this package degrades to a static prompt when generation fails, so a
// contributor is never left without something to say.
package mission

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/toecm/pureconvo/internal/inference"
)

// Placeholder is shown while a mission is being generated.
const Placeholder = "Receiving transmissions..."

// Contexts are the scene contexts used for image missions.
var Contexts = []string{"Marketplace", "School", "Traffic", "Food", "Street", "Family", "Rain", "Hospital"}

// Fallback is the prompt used when generation fails.
var Fallback = inference.Prompt{Text: "Describe what you see in this image.", Emoji: "📸"}

// Initial is the mission shown before the first one has been fetched.
var Initial = Mission{
	Text:     "Connecting to Satellite...",
	Emoji:    "🛰️",
	Context:  "Loading",
	ImageURL: "https://loremflickr.com/400/220/city",
}

// Mission is one prompt presented to the contributor. It is persisted as part
// of a progress snapshot.
type Mission struct {
	Text     string `json:"text"`
	Emoji    string `json:"emoji,omitempty"`
	Context  string `json:"ctx"`
	ImageURL string `json:"image,omitempty"`
}

// IsZero reports whether m carries no prompt.
func (m Mission) IsZero() bool { return m.Text == "" }

// Generator produces a prompt for a topic. [inference.Gateway] satisfies it.
type Generator interface {
	GenerateMission(ctx context.Context, topic string) (inference.Prompt, error)
}

// Source hands out missions. Next never fails.
type Source interface {
	Next(ctx context.Context) Mission
}

// Option configures a [Deck].
type Option func(*Deck)

// WithFirst forces the topic of the first mission.
func WithFirst(topic string) Option { return func(d *Deck) { d.first = topic } }

// WithImages attaches a scene image for the topic to every mission.
func WithImages() Option { return func(d *Deck) { d.images = true } }

// WithFallback replaces [Fallback] for this deck.
func WithFallback(p inference.Prompt) Option { return func(d *Deck) { d.fallback = p } }

// WithRand sets the random source used to pick topics.
func WithRand(r *rand.Rand) Option { return func(d *Deck) { d.rng = r } }

// WithClock sets the clock used to pin image URLs.
func WithClock(now func() time.Time) Option { return func(d *Deck) { d.now = now } }

// Deck draws a random topic per mission and asks the generator for a prompt
// about it.
type Deck struct {
	gen      Generator
	topics   []string
	first    string
	images   bool
	fallback inference.Prompt
	now      func() time.Time

	mu     sync.Mutex
	rng    *rand.Rand
	served int
}

var _ Source = (*Deck)(nil)

// NewDeck returns a deck over topics. topics must not be empty.
func NewDeck(gen Generator, topics []string, opts ...Option) *Deck {
	d := &Deck{
		gen:      gen,
		topics:   append([]string(nil), topics...),
		fallback: Fallback,
		now:      time.Now,
	}
	for _, o := range opts {
		o(d)
	}
	if d.rng == nil {
		d.rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return d
}

// Scenes is the image-scene deck: random [Contexts], the first mission set in
// traffic, each with a scene image.
func Scenes(gen Generator, opts ...Option) *Deck {
	return NewDeck(gen, Contexts, append([]Option{WithFirst("Traffic"), WithImages()}, opts...)...)
}

// Archive is the oral-history deck used by single-shot sessions.
func Archive(gen Generator, opts ...Option) *Deck {
	base := []Option{WithFallback(inference.Prompt{Text: "Tell a story your family still repeats.", Emoji: "📜"})}
	return NewDeck(gen, ArchiveTopics, append(base, opts...)...)
}

// Quickfire is the short-answer deck used by timed sessions.
func Quickfire(gen Generator, opts ...Option) *Deck {
	base := []Option{WithFallback(inference.Prompt{Text: "What did you eat today?", Emoji: "⏱️"})}
	return NewDeck(gen, QuickTopics, append(base, opts...)...)
}

// ArchiveTopics seed the oral-history deck.
var ArchiveTopics = []string{
	"Childhood games", "Wedding customs", "Harvest season", "Old market songs",
	"Grandparents' sayings", "Festival food", "Neighbourhood legends", "First job",
}

// QuickTopics seed the timed deck.
var QuickTopics = []string{
	"Weather", "Breakfast", "Commute", "Weekend plans", "Favourite snack",
	"Phone calls", "Shopping", "Greetings",
}

// Next draws a topic and returns a generated mission, or the deck's fallback
// prompt when generation fails or returns nothing.
func (d *Deck) Next(ctx context.Context) Mission {
	topic := d.pick()
	m := Mission{Context: topic}
	if d.images {
		m.ImageURL = ImageURL(topic, d.now())
	}

	p, err := d.gen.GenerateMission(ctx, topic)
	if err == nil && strings.TrimSpace(p.Text) == "" {
		err = fmt.Errorf("mission: empty prompt for %q", topic)
	}
	if err != nil {
		slog.Warn("mission: generation failed, using fallback", "topic", topic, "err", err)
		p = d.fallback
	}
	m.Text, m.Emoji = p.Text, p.Emoji
	return m
}

func (d *Deck) pick() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.served++
	if d.served == 1 && d.first != "" {
		return d.first
	}
	return d.topics[d.rng.IntN(len(d.topics))]
}

// ImageURL returns a scene image for topic, pinned to t so reloads keep the
// same picture.
func ImageURL(topic string, t time.Time) string {
	return fmt.Sprintf("https://loremflickr.com/400/220/%s?lock=%d", strings.ToLower(topic), t.UnixMilli())
}

// FollowUpFallback is spoken when no follow-up could be generated.
var FollowUpFallback = inference.Prompt{Text: "Tell me more about that.", Emoji: "💬"}

// FollowUp asks the generator for a reply to what the contributor just said.
// The transcript itself is used as the topic.
func FollowUp(ctx context.Context, gen Generator, transcript string) Mission {
	p, err := gen.GenerateMission(ctx, transcript)
	if err == nil && strings.TrimSpace(p.Text) == "" {
		err = fmt.Errorf("mission: empty follow-up")
	}
	if err != nil {
		slog.Warn("mission: follow-up failed, using fallback", "err", err)
		p = FollowUpFallback
	}
	return Mission{Text: p.Text, Emoji: p.Emoji, Context: "Conversation"}
}
