package pipeline

import (
	"strings"

	"github.com/google/uuid"
	"github.com/texttheater/golang-levenshtein/levenshtein"
)

// Placeholder replaces the transcript when transcription fails. It counts
// as an empty transcript for submission.
const Placeholder = "[transcription unavailable: type what you said]"

// Edit sources reported with a submission.
const (
	EditHuman = "human"
	EditModel = "model"
)

// Tones a contributor can attach to a recording. The first is the default.
var Tones = []string{
	"Neutral / Conversational",
	"Casual / Slang",
	"Formal / Professional",
	"Proverb / Idiom",
}

// DefaultTone is the tone every attempt starts with.
var DefaultTone = Tones[0]

// Attempt is one contribution moving through the pipeline. It is owned by a
// single [Machine] and never persisted.
type Attempt struct {
	ArtifactID uuid.UUID
	Audio      []byte

	Transcript string
	Meaning    string
	Tone       string
	Context    string
	Pragmatics string

	// model* hold what the gateway last returned, for edit detection.
	modelTranscript string
	modelMeaning    string
}

// IsHumanEdited reports whether the transcript or meaning differ from what
// the gateway returned.
func (a *Attempt) IsHumanEdited() bool {
	return a.Transcript != a.modelTranscript || a.Meaning != a.modelMeaning
}

// EditSource returns [EditHuman] or [EditModel].
func (a *Attempt) EditSource() string {
	if a.IsHumanEdited() {
		return EditHuman
	}
	return EditModel
}

// WordEdits returns how many transcript words were inserted, deleted or
// substituted relative to the gateway's transcript.
func (a *Attempt) WordEdits() int {
	if a.modelTranscript == Placeholder {
		return WordEdits("", a.Transcript)
	}
	return WordEdits(a.modelTranscript, a.Transcript)
}

func (a *Attempt) hasTranscript() bool {
	t := strings.TrimSpace(a.Transcript)
	return t != "" && t != Placeholder
}

// WordEdits returns the word-level Levenshtein distance between from and to.
// Words are compared exactly after whitespace splitting.
func WordEdits(from, to string) int {
	vocab := make(map[string]rune)
	encode := func(s string) []rune {
		words := strings.Fields(s)
		out := make([]rune, len(words))
		for i, w := range words {
			r, ok := vocab[w]
			if !ok {
				// Supplementary private use area; one code point per distinct word.
				r = rune(0xF0000 + len(vocab))
				vocab[w] = r
			}
			out[i] = r
		}
		return out
	}
	opts := levenshtein.Options{
		InsCost: 1,
		DelCost: 1,
		SubCost: 1,
		Matches: levenshtein.IdenticalRunes,
	}
	return levenshtein.DistanceForStrings(encode(from), encode(to), opts)
}
