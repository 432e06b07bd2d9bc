// ABOUTME: Command pipeline types: requests, results, and the response schema
// ABOUTME: Handlers return Results; the router composes Responses

package command

import (
	"context"
	"time"

	"github.com/periscope-dev/periscope/internal/profile"
	"github.com/periscope-dev/periscope/internal/session"
)

// Kind is the closed set of error kinds surfaced in responses.
type Kind string

const (
	KindValidation  Kind = "validation"
	KindAuth        Kind = "auth"
	KindForbidden   Kind = "forbidden"
	KindNotFound    Kind = "not_found"
	KindConflict    Kind = "conflict"
	KindTimeout     Kind = "timeout"
	KindRateLimited Kind = "rate_limited"
	KindUpstream    Kind = "upstream"
	KindInternal    Kind = "internal"
)

// Input is the raw command payload, either text or a reference to audio.
type Input struct {
	Type   string `json:"type"` // text | audio
	Text   string `json:"text,omitempty"`
	URI    string `json:"uri,omitempty"`
	Format string `json:"format,omitempty"`
}

// Request is what a handler receives: the caller, the parsed entities,
// and the session context (nil when the conversation has no history).
type Request struct {
	UserID    string
	SessionID string
	Entities  map[string]any
	Session   *session.Context
	Profile   profile.Profile
}

// ResultKind tags what a handler produced.
type ResultKind int

const (
	// ResultFinal is a read with no side effect.
	ResultFinal ResultKind = iota
	// ResultPropose is a side effect that needs confirmation.
	ResultPropose
	// ResultExecuted is a side effect already performed.
	ResultExecuted
	// ResultError is a typed failure.
	ResultError
)

// Result is a handler's outcome. Use the constructors.
type Result struct {
	Kind     ResultKind
	Spoken   string
	Cards    []Card
	Summary  string
	Entities map[string]any
	ErrKind  Kind
	// FocusRepo and FocusPR, when set, update the session focus.
	FocusRepo string
	FocusPR   int
	// ListCursor, when non-negative, updates the session cursor.
	ListCursor int
}

// Final builds a read-only result.
func Final(spoken string, cards []Card) Result {
	return Result{Kind: ResultFinal, Spoken: spoken, Cards: cards, ListCursor: -1}
}

// Propose builds a confirmation-gated result. Entities are replayed to
// the handler's Execute on confirm.
func Propose(summary string, entities map[string]any) Result {
	return Result{Kind: ResultPropose, Summary: summary, Entities: entities, ListCursor: -1}
}

// Executed builds a performed-side-effect result.
func Executed(spoken string, cards []Card) Result {
	return Result{Kind: ResultExecuted, Spoken: spoken, Cards: cards, ListCursor: -1}
}

// Fail builds a typed error result with a safe spoken message.
func Fail(kind Kind, spoken string) Result {
	return Result{Kind: ResultError, ErrKind: kind, Spoken: spoken, ListCursor: -1}
}

// Handler services one intent. Handle runs on the initial utterance;
// Execute runs on the confirm path with the stored entities.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) Result
	Execute(ctx context.Context, req *Request) Result
}

// Card is one visual item accompanying a spoken response.
type Card struct {
	Type     string   `json:"type"`
	Title    string   `json:"title"`
	Subtitle string   `json:"subtitle,omitempty"`
	Lines    []string `json:"lines,omitempty"`
	DeepLink string   `json:"deep_link,omitempty"`
}

// IntentInfo reports what the parser saw.
type IntentInfo struct {
	Name       string         `json:"name"`
	Confidence float64        `json:"confidence"`
	Entities   map[string]any `json:"entities,omitempty"`
}

// PendingInfo describes an action awaiting confirmation.
type PendingInfo struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	Summary   string    `json:"summary"`
}

// ResponseBody is the spoken/rendered part of a response.
type ResponseBody struct {
	Type      string `json:"type"` // text | audio | error
	Text      string `json:"text,omitempty"`
	AudioURI  string `json:"audio_uri,omitempty"`
	ErrorKind Kind   `json:"error_kind,omitempty"`
}

// Response is the full command response schema.
type Response struct {
	Response          ResponseBody   `json:"response"`
	Intent            IntentInfo     `json:"intent"`
	PendingAction     *PendingInfo   `json:"pending_action,omitempty"`
	Cards             []Card         `json:"cards,omitempty"`
	Debug             map[string]any `json:"debug,omitempty"`
	NeedsConfirmation bool           `json:"needs_confirmation"`
	SpeechRate        float64        `json:"speech_rate,omitempty"`
}
