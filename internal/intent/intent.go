// ABOUTME: Pattern-matched intent parser for spoken command transcripts
// ABOUTME: A strictly ordered regex grammar; first match wins

package intent

import (
	"regexp"
	"strconv"
	"strings"
)

// Unknown is the intent name returned when no grammar rule matches.
const Unknown = "unknown"

// Result is the outcome of parsing one transcript. Entities carry typed
// values: pr_number is an int, everything else a string.
type Result struct {
	Name       string
	Entities   map[string]any
	Confidence float64
}

type rule struct {
	re      *regexp.Regexp
	name    string
	extract func(m []string) map[string]any
}

// The grammar is ordered; earlier rules shadow later ones. Confirm and
// cancel must stay above everything a bare "yes" or "no" could collide
// with, and repeat above the handlers so the router can short-circuit.
var grammar = []rule{
	{
		re:   regexp.MustCompile(`(?i)^(?:repeat|say that again)\.?$`),
		name: "system.repeat",
	},
	{
		re:   regexp.MustCompile(`(?i)^(?:confirm|yes|yep|do it|go ahead)\.?$`),
		name: "system.confirm",
	},
	{
		re:   regexp.MustCompile(`(?i)^(?:cancel|no|nope|stop|never mind)\.?$`),
		name: "system.cancel",
	},
	{
		re:   regexp.MustCompile(`(?i)^set (?:my )?profile to (\w+)\.?$`),
		name: "system.set_profile",
		extract: func(m []string) map[string]any {
			return map[string]any{"profile": strings.ToLower(m[1])}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^(?:inbox|what'?s in my inbox|show (?:me )?my pull requests|list my (?:prs|pull requests))\??\.?$`),
		name: "inbox.list",
	},
	{
		re:   regexp.MustCompile(`(?i)^(?:summarize|tell me about) (?:pr|pull request) ?#?(\d+)\.?$`),
		name: "pr.summarize",
		extract: func(m []string) map[string]any {
			return map[string]any{"pr_number": mustInt(m[1])}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^request (?:a )?review from ([\w.-]+) on (?:pr|pull request) ?#?(\d+)\.?$`),
		name: "pr.request_review",
		extract: func(m []string) map[string]any {
			return map[string]any{"reviewer": m[1], "pr_number": mustInt(m[2])}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^(force )?merge (?:pr|pull request) ?#?(\d+)\.?$`),
		name: "pr.merge",
		extract: func(m []string) map[string]any {
			entities := map[string]any{"pr_number": mustInt(m[2])}
			if m[1] != "" {
				entities["force_merge"] = true
			}
			return entities
		},
	},
	{
		// "merge it" defers the PR number to the session focus.
		re:   regexp.MustCompile(`(?i)^merge (?:it|that)\.?$`),
		name: "pr.merge",
	},
	{
		re:   regexp.MustCompile(`(?i)^what'?s the status of (?:pr |pull request )?#?(\d+)\??\.?$`),
		name: "checks.status",
		extract: func(m []string) map[string]any {
			return map[string]any{"pr_number": mustInt(m[1])}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^are (?:the )?checks passing(?: on (?:pr |pull request )?#?(\d+))?\??\.?$`),
		name: "checks.status",
		extract: func(m []string) map[string]any {
			if m[1] == "" {
				return nil
			}
			return map[string]any{"pr_number": mustInt(m[1])}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^have an agent (.+?)\.?$`),
		name: "agent.delegate",
		extract: func(m []string) map[string]any {
			return map[string]any{"instruction": m[1]}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^delegate(?: to (?:an |the )?agent)?[:,]? (.+?)\.?$`),
		name: "agent.delegate",
		extract: func(m []string) map[string]any {
			return map[string]any{"instruction": m[1]}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^how'?s the agent doing(?: on (\S+?))?\??\.?$`),
		name: "agent.progress",
		extract: func(m []string) map[string]any {
			if m[1] == "" {
				return nil
			}
			return map[string]any{"task_id": m[1]}
		},
	},
	{
		re:   regexp.MustCompile(`(?i)^next(?: one| item)?\.?$`),
		name: "navigation.next",
	},
}

// Parse matches a transcript against the grammar. Matching ignores case
// and surrounding whitespace. Confidence is 1.0 on a match and 0 for
// Unknown.
func Parse(transcript string) Result {
	text := strings.TrimSpace(transcript)

	for _, r := range grammar {
		m := r.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		var entities map[string]any
		if r.extract != nil {
			entities = r.extract(m)
		}
		return Result{Name: r.name, Entities: entities, Confidence: 1.0}
	}

	return Result{Name: Unknown, Confidence: 0}
}

// PRNumber extracts the pr_number entity, if present.
func (r Result) PRNumber() (int, bool) {
	n, ok := r.Entities["pr_number"].(int)
	return n, ok
}

// StringEntity extracts a string entity by name.
func (r Result) StringEntity(key string) (string, bool) {
	s, ok := r.Entities[key].(string)
	return s, ok
}

func mustInt(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		// The grammar only captures \d+ here.
		panic("intent: non-numeric capture: " + s)
	}
	return n
}
