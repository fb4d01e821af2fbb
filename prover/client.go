// Package prover defines the contract the STM uses to talk to an
// out-of-process interactive theorem prover, and a concrete JSON-RPC
// over stdio implementation of it.
package prover

import (
	"context"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/errors"
)

// Status is the prover's own notion of a sentence's execution state, as
// reported on the event stream. It is distinct from (and translated
// into) the STM's richer per-sentence status.
type Status string

const (
	StatusProcessing Status = "processing"
	StatusInProgress Status = "in_progress"
	StatusIncomplete Status = "incomplete"
	StatusProcessed  Status = "processed"
	StatusComplete   Status = "complete"
)

// MessageLevel mirrors the prover's message severities.
type MessageLevel string

const (
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// FocusChangeKind discriminates a FocusChange.
type FocusChangeKind int

const (
	// NewTip means edit_at simply rewound the spine to StateID.
	NewTip FocusChangeKind = iota
	// NewFocus means edit_at revealed a nested, previously unfocused
	// proof: QedStateID closed while FocusStateID became the new tip.
	NewFocus
)

// FocusChange is the result of a successful edit_at.
type FocusChange struct {
	Kind         FocusChangeKind
	StateID      string
	QedStateID   string
	FocusStateID string
}

// AddResult is the result of a successful add.
type AddResult struct {
	StateID   string
	FocusHint *buffer.Position
}

// Failure is returned (wrapped in a *Failure error) when add or edit_at
// fails at a specific location.
type Failure struct {
	StateID string
	Range   buffer.Range
	Message string
}

func (f *Failure) Error() string {
	return f.Message
}

// AsFailure unwraps err into a *Failure, if it is one.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// EventKind discriminates an Event.
type EventKind int

const (
	EventStatusUpdate EventKind = iota
	EventError
	EventMessage
	EventLtacProfResults
	EventDied
)

// Event is one item on the asynchronous event stream a Client exposes
// after Init.
type Event struct {
	Kind EventKind

	// EventStatusUpdate
	StateID string
	Status  Status

	// EventError
	SubRange buffer.Range
	Message  string

	// EventMessage
	Level MessageLevel
	Text  string
	Rich  string

	// EventLtacProfResults
	Results string

	// EventDied
	Reason string
}

// Client is the contract the STM consumes. Every method may block the
// caller's goroutine until the prover responds; callers are expected to
// run each call on a cancellable context and never issue a second call
// before the first resolves. The STM does not enforce this itself; in
// the server, each document's single-consumer operation queue in
// lspserver serializes calls into the STM.
type Client interface {
	// Init starts the prover conversation and returns the root state id
	// plus the event channel the caller must drain for the lifetime of
	// the client. The channel is closed exactly once, after a Died event
	// or a successful Shutdown.
	Init(ctx context.Context) (rootStateID string, events <-chan Event, err error)

	// Add submits one sentence's text for execution on top of
	// parentStateID. endPos is the sentence's end position in the
	// document as of submission, for prover-side diagnostics; version is
	// the TextBuffer version the text was read from.
	Add(ctx context.Context, text string, parentStateID string, endPos buffer.Position, version int) (AddResult, error)

	// EditAt rewinds execution to stateID, discarding its descendants.
	EditAt(ctx context.Context, stateID string) (FocusChange, error)

	// Query issues a non-mutating command (Locate/Check/Search/SearchAbout)
	// against the current tip and returns its textual result.
	Query(ctx context.Context, command string) (string, error)

	// Interrupt asynchronously signals the prover to abandon its current
	// call. It does not block and does not itself resolve the call it
	// interrupts — the interrupted call's own context/response does that.
	Interrupt()

	// Resize informs the prover of the client's desired pretty-printing
	// width, in columns.
	Resize(ctx context.Context, columns int) error

	// LtacProfile requests tactic profiling results for stateID (or the
	// current tip, if nil). Results arrive asynchronously as an
	// EventLtacProfResults event.
	LtacProfile(ctx context.Context, stateID *string) error

	// Shutdown gracefully ends the conversation and releases the
	// subprocess/connection. After Shutdown returns, the event channel is
	// closed and no further calls are valid.
	Shutdown(ctx context.Context) error
}
