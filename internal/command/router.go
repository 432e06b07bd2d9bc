// ABOUTME: Command router: STT, parse, dispatch, confirm weave, shaping
// ABOUTME: Serializes per session and caches responses per idempotency key

package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/periscope-dev/periscope/internal/intent"
	"github.com/periscope-dev/periscope/internal/kv"
	"github.com/periscope-dev/periscope/internal/pending"
	"github.com/periscope-dev/periscope/internal/profile"
	"github.com/periscope-dev/periscope/internal/session"
	"github.com/periscope-dev/periscope/internal/speech"
)

// STTTimeout bounds one transcription call.
const STTTimeout = 5 * time.Second

// DefaultIdempotencyWindow is how long a cached response stays valid.
const DefaultIdempotencyWindow = 10 * time.Minute

// HandleRequest is one inbound command.
type HandleRequest struct {
	UserID         string
	SessionID      string
	Input          Input
	Profile        string
	IdempotencyKey string
	Debug          bool
}

// Router orchestrates the command pipeline.
type Router struct {
	handlers  map[string]Handler
	pendings  *pending.Manager
	sessions  *session.Store
	stt       speech.STT
	idem      kv.KV
	idemTTL   time.Duration
	pendTTL   time.Duration
	sessionMu keyedMutex
	logger    *slog.Logger
}

// NewRouter creates a router. Handlers register before serving starts.
func NewRouter(pendings *pending.Manager, sessions *session.Store, stt speech.STT, idemKV kv.KV, idemWindow, pendingTTL time.Duration) *Router {
	if idemWindow <= 0 {
		idemWindow = DefaultIdempotencyWindow
	}
	return &Router{
		handlers: make(map[string]Handler),
		pendings: pendings,
		sessions: sessions,
		stt:      stt,
		idem:     idemKV,
		idemTTL:  idemWindow,
		pendTTL:  pendingTTL,
		logger:   slog.Default().With("component", "command"),
	}
}

// Register installs a handler for its intent name.
func (r *Router) Register(h Handler) {
	r.handlers[h.Name()] = h
}

// Handle runs the full pipeline for one command.
func (r *Router) Handle(ctx context.Context, req *HandleRequest) (*Response, error) {
	if cached, ok := r.idempotentHit(ctx, req.UserID, req.IdempotencyKey); ok {
		return cached, nil
	}

	// Commands within one session never interleave.
	unlock := r.sessionMu.lock(req.SessionID)
	defer unlock()

	resp := r.handle(ctx, req)

	r.idempotentStore(ctx, req.UserID, req.IdempotencyKey, resp)
	return resp, nil
}

func (r *Router) handle(ctx context.Context, req *HandleRequest) *Response {
	prof := profile.Get(req.Profile)

	transcript, errResp := r.resolveInput(ctx, req, prof)
	if errResp != nil {
		return errResp
	}

	parsed := intent.Parse(transcript)
	sc, err := r.sessions.Get(ctx, req.SessionID)
	if err != nil {
		r.logger.Error("loading session", "session_id", req.SessionID, "error", err)
	}
	// A profile stored on the session wins over the request default.
	if sc != nil && sc.Profile != "" && req.Profile == "" {
		prof = profile.Get(sc.Profile)
	}

	switch parsed.Name {
	case "system.repeat":
		return r.repeat(parsed, sc, prof)
	case "system.confirm":
		return r.confirmOutstanding(ctx, req, parsed, prof)
	case "system.cancel":
		return r.cancelOutstanding(ctx, req, parsed, prof)
	case intent.Unknown:
		resp := r.compose(parsed, Fail(KindValidation,
			"I didn't catch that. Try saying 'inbox' or 'summarize PR 123'."), nil, prof)
		r.persistLast(ctx, req, resp)
		return resp
	}

	handler, ok := r.handlers[parsed.Name]
	if !ok {
		resp := r.compose(parsed, Fail(KindInternal, "That isn't wired up yet."), nil, prof)
		r.persistLast(ctx, req, resp)
		return resp
	}

	hreq := &Request{
		UserID:    req.UserID,
		SessionID: req.SessionID,
		Entities:  parsed.Entities,
		Session:   sc,
		Profile:   prof,
	}
	result := handler.Handle(ctx, hreq)

	// The profile may force confirmation onto results a handler chose
	// to execute directly, and ConfirmNever flips proposals straight to
	// the execute path.
	if result.Kind == ResultPropose && prof.Confirmation == profile.ConfirmNever {
		result = handler.Execute(ctx, &Request{
			UserID:    req.UserID,
			SessionID: req.SessionID,
			Entities:  result.Entities,
			Session:   sc,
			Profile:   prof,
		})
	}

	var pend *pending.Action
	if result.Kind == ResultPropose {
		pend, err = r.pendings.Create(ctx, req.UserID, req.SessionID, parsed.Name,
			result.Entities, result.Summary, r.pendTTL)
		if err != nil {
			r.logger.Error("creating pending action", "error", err)
			result = Fail(KindInternal, "I couldn't stage that action. Try again.")
		}
	}

	resp := r.compose(parsed, result, pend, prof)
	r.applySessionEffects(ctx, req, result)
	r.persistLast(ctx, req, resp)
	return resp
}

// Confirm consumes a token and runs the original handler's execute path.
// Used by the confirm endpoint; bare spoken "confirm" funnels here too.
func (r *Router) Confirm(ctx context.Context, userID, token, idempotencyKey string) (*Response, error) {
	if cached, ok := r.idempotentHit(ctx, userID, idempotencyKey); ok {
		return cached, nil
	}

	action, err := r.pendings.Consume(ctx, token)
	if errors.Is(err, pending.ErrExpired) {
		return nil, err
	}
	if errors.Is(err, pending.ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, err
	}
	if action.UserID != userID {
		// Tokens are unguessable, but a cross-user replay is still a
		// hard no.
		return nil, pending.ErrNotFound
	}

	unlock := r.sessionMu.lock(action.SessionID)
	defer unlock()

	resp := r.execute(ctx, userID, action)
	r.idempotentStore(ctx, userID, idempotencyKey, resp)
	return resp, nil
}

func (r *Router) execute(ctx context.Context, userID string, action *pending.Action) *Response {
	prof := profile.Get("")
	sc, err := r.sessions.Get(ctx, action.SessionID)
	if err == nil && sc != nil && sc.Profile != "" {
		prof = profile.Get(sc.Profile)
	}

	parsed := intent.Result{Name: action.Intent, Entities: action.Entities, Confidence: 1.0}

	handler, ok := r.handlers[action.Intent]
	if !ok {
		return r.compose(parsed, Fail(KindInternal, "That isn't wired up yet."), nil, prof)
	}

	result := handler.Execute(ctx, &Request{
		UserID:    userID,
		SessionID: action.SessionID,
		Entities:  action.Entities,
		Session:   sc,
		Profile:   prof,
	})

	resp := r.compose(parsed, result, nil, prof)
	req := &HandleRequest{UserID: userID, SessionID: action.SessionID}
	r.applySessionEffects(ctx, req, result)
	r.persistLast(ctx, req, resp)
	return resp
}

// resolveInput turns the input into a transcript, transcribing audio
// when needed.
func (r *Router) resolveInput(ctx context.Context, req *HandleRequest, prof profile.Profile) (string, *Response) {
	switch req.Input.Type {
	case "text":
		return req.Input.Text, nil
	case "audio":
		data, err := readAudioURI(req.Input.URI)
		if err != nil {
			r.logger.Warn("reading audio uri", "uri", req.Input.URI, "error", err)
			return "", r.errorResponse(KindValidation, "I couldn't read that audio.", prof)
		}

		sttCtx, cancel := context.WithTimeout(ctx, STTTimeout)
		defer cancel()
		transcript, err := r.stt.Transcribe(sttCtx, data, req.Input.Format)
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(sttCtx.Err(), context.DeadlineExceeded) {
			return "", r.errorResponse(KindTimeout, "I'm having trouble hearing you.", prof)
		}
		if err != nil {
			r.logger.Warn("transcription failed", "error", err)
			return "", r.errorResponse(KindUpstream, "I'm having trouble hearing you.", prof)
		}
		return transcript, nil
	default:
		return "", r.errorResponse(KindValidation, "Unsupported input type.", prof)
	}
}

func (r *Router) repeat(parsed intent.Result, sc *session.Context, prof profile.Profile) *Response {
	if sc == nil || sc.LastSpoken == "" {
		return r.composeWithIntent(parsed,
			Fail(KindNotFound, "There's nothing to repeat yet."), prof)
	}

	var cards []Card
	if len(sc.LastCards) > 0 {
		if err := json.Unmarshal(sc.LastCards, &cards); err != nil {
			r.logger.Warn("decoding stored cards", "error", err)
		}
	}

	// Verbatim: the prior text was already shaped.
	return &Response{
		Response:   ResponseBody{Type: "text", Text: sc.LastSpoken},
		Intent:     IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence, Entities: parsed.Entities},
		Cards:      cards,
		SpeechRate: prof.SpeechRate,
	}
}

func (r *Router) confirmOutstanding(ctx context.Context, req *HandleRequest, parsed intent.Result, prof profile.Profile) *Response {
	token, err := r.pendings.Outstanding(ctx, req.UserID, req.SessionID)
	if errors.Is(err, pending.ErrNotFound) {
		return r.composeWithIntent(parsed,
			Fail(KindNotFound, "There's nothing waiting for confirmation."), prof)
	}
	if err != nil {
		return r.composeWithIntent(parsed, Fail(KindInternal, "Something went wrong."), prof)
	}

	action, err := r.pendings.Consume(ctx, token)
	if errors.Is(err, pending.ErrExpired) {
		return r.composeWithIntent(parsed,
			Fail(KindNotFound, "That action expired. Ask again."), prof)
	}
	if err != nil {
		return r.composeWithIntent(parsed,
			Fail(KindNotFound, "There's nothing waiting for confirmation."), prof)
	}

	return r.execute(ctx, req.UserID, action)
}

func (r *Router) cancelOutstanding(ctx context.Context, req *HandleRequest, parsed intent.Result, prof profile.Profile) *Response {
	token, err := r.pendings.Outstanding(ctx, req.UserID, req.SessionID)
	if err == nil {
		if derr := r.pendings.Discard(ctx, token); derr != nil {
			r.logger.Debug("discarding pending action", "error", derr)
		}
	}

	resp := r.composeWithIntent(parsed, Final("Cancelled.", nil), prof)
	r.persistLast(ctx, req, resp)
	return resp
}

// compose translates a handler result into the response schema, shaping
// the spoken text with the profile.
func (r *Router) compose(parsed intent.Result, result Result, pend *pending.Action, prof profile.Profile) *Response {
	resp := &Response{
		Intent:     IntentInfo{Name: parsed.Name, Confidence: parsed.Confidence, Entities: parsed.Entities},
		SpeechRate: prof.SpeechRate,
	}

	switch result.Kind {
	case ResultError:
		resp.Response = ResponseBody{Type: "error", Text: result.Spoken, ErrorKind: result.ErrKind}
	case ResultPropose:
		spoken := fmt.Sprintf("Ready to %s. Say confirm to proceed.", result.Summary)
		resp.Response = ResponseBody{Type: "text", Text: prof.Shape(spoken)}
		resp.NeedsConfirmation = true
		if pend != nil {
			resp.PendingAction = &PendingInfo{
				Token:     pend.Token,
				ExpiresAt: pend.ExpiresAt,
				Summary:   pend.Summary,
			}
		}
	default:
		resp.Response = ResponseBody{Type: "text", Text: prof.Shape(result.Spoken)}
		resp.Cards = result.Cards
	}
	return resp
}

func (r *Router) composeWithIntent(parsed intent.Result, result Result, prof profile.Profile) *Response {
	return r.compose(parsed, result, nil, prof)
}

func (r *Router) errorResponse(kind Kind, spoken string, prof profile.Profile) *Response {
	return &Response{
		Response:   ResponseBody{Type: "error", Text: spoken, ErrorKind: kind},
		Intent:     IntentInfo{Name: intent.Unknown},
		SpeechRate: prof.SpeechRate,
	}
}

// applySessionEffects writes focus and cursor changes a handler asked
// for.
func (r *Router) applySessionEffects(ctx context.Context, req *HandleRequest, result Result) {
	if result.FocusRepo != "" {
		if err := r.sessions.SetRepoPR(ctx, req.UserID, req.SessionID, result.FocusRepo, result.FocusPR); err != nil {
			r.logger.Error("updating session focus", "error", err)
		}
	}
	if result.ListCursor >= 0 {
		if err := r.sessions.SetListCursor(ctx, req.UserID, req.SessionID, result.ListCursor); err != nil {
			r.logger.Error("updating list cursor", "error", err)
		}
	}
}

// persistLast stores the response for the repeat path.
func (r *Router) persistLast(ctx context.Context, req *HandleRequest, resp *Response) {
	if resp.Response.Type == "" || resp.Response.Text == "" {
		return
	}

	var cards json.RawMessage
	if len(resp.Cards) > 0 {
		data, err := json.Marshal(resp.Cards)
		if err == nil {
			cards = data
		}
	}
	if err := r.sessions.SetLastResponse(ctx, req.UserID, req.SessionID, resp.Response.Text, cards); err != nil {
		r.logger.Error("persisting last response", "error", err)
	}
}

func (r *Router) idempotentHit(ctx context.Context, userID, key string) (*Response, bool) {
	if key == "" {
		return nil, false
	}
	data, err := r.idem.Get(ctx, idemKey(userID, key))
	if errors.Is(err, kv.ErrNotFound) {
		return nil, false
	}
	if err != nil {
		r.logger.Warn("idempotency lookup", "error", err)
		return nil, false
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		r.logger.Warn("decoding cached response", "error", err)
		return nil, false
	}
	return &resp, true
}

func (r *Router) idempotentStore(ctx context.Context, userID, key string, resp *Response) {
	if key == "" || resp == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err != nil {
		r.logger.Warn("encoding response for idempotency", "error", err)
		return
	}
	if err := r.idem.Set(ctx, idemKey(userID, key), data, r.idemTTL); err != nil {
		r.logger.Warn("storing idempotent response", "error", err)
	}
}

func idemKey(userID, key string) string {
	return "idem:" + userID + ":" + key
}

// readAudioURI loads audio referenced by a file:// URI, the form the dev
// audio endpoint hands out.
func readAudioURI(uri string) ([]byte, error) {
	path, ok := strings.CutPrefix(uri, "file://")
	if !ok {
		return nil, fmt.Errorf("unsupported audio uri scheme in %q", uri)
	}
	return os.ReadFile(path)
}

// keyedMutex hands out one mutex per key. Entries are never removed;
// the session id space in one process stays small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
