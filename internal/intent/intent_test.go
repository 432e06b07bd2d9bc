// ABOUTME: Tests for the ordered intent grammar
// ABOUTME: Table-driven coverage of every intent plus ordering and unknowns

package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse(t *testing.T) {
	tests := []struct {
		transcript string
		wantName   string
		wantEnts   map[string]any
	}{
		{"repeat", "system.repeat", nil},
		{"Say that again", "system.repeat", nil},
		{"confirm", "system.confirm", nil},
		{"yes", "system.confirm", nil},
		{"do it", "system.confirm", nil},
		{"cancel", "system.cancel", nil},
		{"no", "system.cancel", nil},
		{"stop", "system.cancel", nil},
		{"set profile to workout", "system.set_profile", map[string]any{"profile": "workout"}},
		{"Set my profile to Kitchen", "system.set_profile", map[string]any{"profile": "kitchen"}},
		{"inbox", "inbox.list", nil},
		{"what's in my inbox", "inbox.list", nil},
		{"show my pull requests", "inbox.list", nil},
		{"summarize pr 412", "pr.summarize", map[string]any{"pr_number": 412}},
		{"tell me about PR #7", "pr.summarize", map[string]any{"pr_number": 7}},
		{"request review from octocat on pr 42", "pr.request_review",
			map[string]any{"reviewer": "octocat", "pr_number": 42}},
		{"request a review from jane-doe on pull request #9", "pr.request_review",
			map[string]any{"reviewer": "jane-doe", "pr_number": 9}},
		{"merge pr 412", "pr.merge", map[string]any{"pr_number": 412}},
		{"force merge pr 412", "pr.merge", map[string]any{"pr_number": 412, "force_merge": true}},
		{"merge it", "pr.merge", nil},
		{"what's the status of pr 12", "checks.status", map[string]any{"pr_number": 12}},
		{"are checks passing on 12", "checks.status", map[string]any{"pr_number": 12}},
		{"are the checks passing?", "checks.status", nil},
		{"have an agent fix the flaky login test", "agent.delegate",
			map[string]any{"instruction": "fix the flaky login test"}},
		{"delegate to an agent: clean up the readme", "agent.delegate",
			map[string]any{"instruction": "clean up the readme"}},
		{"how's the agent doing", "agent.progress", nil},
		{"how's the agent doing on t-123", "agent.progress", map[string]any{"task_id": "t-123"}},
		{"next", "navigation.next", nil},
		{"next one", "navigation.next", nil},
		{"order me a pizza", Unknown, nil},
		{"", Unknown, nil},
	}

	for _, tt := range tests {
		t.Run(tt.transcript, func(t *testing.T) {
			got := Parse(tt.transcript)
			assert.Equal(t, tt.wantName, got.Name)
			assert.Equal(t, tt.wantEnts, got.Entities)
			if tt.wantName == Unknown {
				assert.Zero(t, got.Confidence)
			} else {
				assert.Equal(t, 1.0, got.Confidence)
			}
		})
	}
}

func TestParse_TrimsAndIgnoresCase(t *testing.T) {
	got := Parse("  MERGE PR 5  ")
	assert.Equal(t, "pr.merge", got.Name)
	n, ok := got.PRNumber()
	assert.True(t, ok)
	assert.Equal(t, 5, n)
}

func TestParse_OrderingShortCircuits(t *testing.T) {
	// "no" must hit system.cancel before anything more specific could
	// be tempted to swallow it.
	assert.Equal(t, "system.cancel", Parse("no").Name)
	// "yes" likewise maps to confirm, not unknown.
	assert.Equal(t, "system.confirm", Parse("yes").Name)
}

func TestResult_EntityHelpers(t *testing.T) {
	r := Parse("request review from octocat on pr 42")

	n, ok := r.PRNumber()
	assert.True(t, ok)
	assert.Equal(t, 42, n)

	reviewer, ok := r.StringEntity("reviewer")
	assert.True(t, ok)
	assert.Equal(t, "octocat", reviewer)

	_, ok = r.StringEntity("missing")
	assert.False(t, ok)
}
