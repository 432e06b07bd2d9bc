// ABOUTME: Response-shaping profiles for hands-free contexts
// ABOUTME: A closed enum with a constant table of shaping parameters

package profile

import "strings"

// ConfirmationPolicy controls how write-class intents are gated.
type ConfirmationPolicy string

const (
	// ConfirmAlways gates every intent behind a confirmation.
	ConfirmAlways ConfirmationPolicy = "always"
	// ConfirmSideEffects gates only intents with side effects.
	ConfirmSideEffects ConfirmationPolicy = "side_effects_only"
	// ConfirmNever executes immediately. Debug-only.
	ConfirmNever ConfirmationPolicy = "never"
)

// Profile bundles verbosity, speech rate, confirmation stringency, and
// the notification priority threshold for one hands-free context.
type Profile struct {
	Name         string
	MaxWords     int
	SpeechRate   float64
	Confirmation ConfirmationPolicy
	// MinPriority is the notification throttle threshold. Notifications
	// below it are dropped for users on this profile.
	MinPriority int
}

// The closed profile set. Workout and kitchen force confirmation on
// everything since misheard commands are likeliest there.
var profiles = map[string]Profile{
	"workout": {
		Name:         "workout",
		MaxWords:     15,
		SpeechRate:   1.2,
		Confirmation: ConfirmAlways,
		MinPriority:  4,
	},
	"commute": {
		Name:         "commute",
		MaxWords:     30,
		SpeechRate:   1.0,
		Confirmation: ConfirmSideEffects,
		MinPriority:  3,
	},
	"kitchen": {
		Name:         "kitchen",
		MaxWords:     40,
		SpeechRate:   1.0,
		Confirmation: ConfirmAlways,
		MinPriority:  2,
	},
	"default": {
		Name:         "default",
		MaxWords:     25,
		SpeechRate:   1.0,
		Confirmation: ConfirmSideEffects,
		MinPriority:  1,
	},
}

// Get resolves a profile by name, falling back to "default" for unknown
// or empty names.
func Get(name string) Profile {
	if p, ok := profiles[strings.ToLower(name)]; ok {
		return p
	}
	return profiles["default"]
}

// Valid reports whether name is a member of the closed profile set.
func Valid(name string) bool {
	_, ok := profiles[strings.ToLower(name)]
	return ok
}

// Names returns the closed profile set, for error messages.
func Names() []string {
	return []string{"workout", "commute", "kitchen", "default"}
}

// Shape truncates spoken text to the profile's word cap. Truncation
// prefers the last sentence boundary inside the cap; failing that it
// hard-cuts and appends an ellipsis. Cards are never shaped.
func (p Profile) Shape(spoken string) string {
	words := strings.Fields(spoken)
	if len(words) <= p.MaxWords {
		return spoken
	}

	capped := words[:p.MaxWords]

	// Look backwards for a word ending a sentence.
	for i := len(capped) - 1; i >= 0; i-- {
		if strings.HasSuffix(capped[i], ".") || strings.HasSuffix(capped[i], "!") || strings.HasSuffix(capped[i], "?") {
			return strings.Join(capped[:i+1], " ")
		}
	}

	return strings.Join(capped, " ") + "…"
}
