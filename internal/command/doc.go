// Package command runs the spoken-command pipeline: resolve the input to
// a transcript, parse the intent, dispatch to a handler, weave in the
// confirmation flow for side effects, shape the spoken reply with the
// active profile, and persist session state.
//
// Handlers implement two paths. Handle runs on the initial utterance and
// may return a final answer or a proposal; Execute runs when the user
// confirms, with the entities stored at proposal time. The router owns
// everything around that contract: repeat and confirm short-circuits,
// per-session serialization, and idempotent replay of duplicate
// deliveries.
package command
