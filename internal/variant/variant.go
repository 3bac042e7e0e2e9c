// Package variant describes the four game variants and drives one of them.
//
// A variant is data: a [Config] names its reward, timing, mission deck and
// pre-stages. [Driver] binds a config to one verification pipeline, one
// capture controller, the progress store and the mission deck. The
// conversational variant adds a [Listener] on top.
package variant

import (
	"errors"
	"time"

	"github.com/toecm/pureconvo/internal/mission"
	"github.com/toecm/pureconvo/internal/pipeline"
)

// ErrUnknownVariant is returned for a variant name that is not served.
var ErrUnknownVariant = errors.New("variant: unknown variant")

// Variant names.
const (
	NameArchivist      = "archivist"
	NameSpeedChat      = "speed_chat"
	NameVisionQuest    = "vision_quest"
	NameActiveListener = "active_listener"
)

// Config describes one game variant.
type Config struct {
	Name  string
	Title string

	// Reward is the XP granted per confirmed submission.
	Reward int

	// Continuous variants loop to a new mission after each submission.
	Continuous bool

	// TimeBudget, when positive, ends every recording automatically.
	TimeBudget time.Duration

	// SourceTag is attached to every submission.
	SourceTag string

	// PreStages run before the first recording.
	PreStages []pipeline.Stage

	// Conversational variants speak a follow-up after every submission.
	Conversational bool

	// Deck builds the mission source. Nil means missions come from the
	// conversation.
	Deck func(mission.Generator) mission.Source
}

// SpeedChatBudget is the recording budget of Speed-Chat.
const SpeedChatBudget = 10 * time.Second

var (
	Archivist = Config{
		Name:      NameArchivist,
		Title:     "The Archivist",
		Reward:    50,
		SourceTag: "archivist",
		Deck:      func(g mission.Generator) mission.Source { return mission.Archive(g) },
	}

	SpeedChat = Config{
		Name:       NameSpeedChat,
		Title:      "Speed-Chat",
		Reward:     50,
		Continuous: true,
		TimeBudget: SpeedChatBudget,
		SourceTag:  "speed_chat",
		Deck:       func(g mission.Generator) mission.Source { return mission.Quickfire(g) },
	}

	VisionQuest = Config{
		Name:       NameVisionQuest,
		Title:      "Vision-Quest",
		Reward:     50,
		Continuous: true,
		SourceTag:  "vision_quest",
		Deck:       func(g mission.Generator) mission.Source { return mission.Scenes(g) },
	}

	ActiveListener = Config{
		Name:           NameActiveListener,
		Title:          "Active Listener",
		Reward:         25,
		Continuous:     true,
		SourceTag:      "active_listener",
		PreStages:      []pipeline.Stage{pipeline.StageSetup, pipeline.StageOnboarding},
		Conversational: true,
	}
)

// All returns every variant in menu order.
func All() []Config {
	return []Config{Archivist, SpeedChat, VisionQuest, ActiveListener}
}

// Lookup returns the variant called name.
func Lookup(name string) (Config, bool) {
	for _, c := range All() {
		if c.Name == name {
			return c, true
		}
	}
	return Config{}, false
}
