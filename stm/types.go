// Package stm implements the State-Transaction Machine: the sentence
// forest that mirrors the prover's internal DAG, and the operations
// that drive it forward, backward, and through edits.
package stm

import (
	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/prover"
	"github.com/proofls/proofls/sentence"
)

// SentenceID is a local, arena-relative identifier. It is never reused.
type SentenceID int

// noParent marks the root of the forest — it has no sentence parent.
const noParent SentenceID = -1

// Status is a sentence's position in its lifecycle, driven exclusively
// by prover events keyed on state_id.
type Status int

const (
	Parsed Status = iota
	Processing
	InProgress
	Incomplete
	Processed
	Complete
	Error
	Cleared
)

func (s Status) String() string {
	switch s {
	case Parsed:
		return "Parsed"
	case Processing:
		return "Processing"
	case InProgress:
		return "InProgress"
	case Incomplete:
		return "Incomplete"
	case Processed:
		return "Processed"
	case Complete:
		return "Complete"
	case Error:
		return "Error"
	case Cleared:
		return "Cleared"
	default:
		return "Unknown"
	}
}

// SentenceErr is one (sub-range, message) pair attached to a sentence by
// an error event. Named with the Err suffix to avoid colliding with the
// package-level Error status constant.
type SentenceErr struct {
	SubRange buffer.Range
	Message  string
}

// Sentence is the central entity owned by the STM.
type Sentence struct {
	ID SentenceID
	// StateID is empty until a successful add is acknowledged.
	StateID string
	Range   buffer.Range
	// EndOffset is Range.End expressed as a document byte offset, the
	// continuation point handed back to the controller's CommandIterator.
	EndOffset int
	Text      string
	Status    Status
	Parent    SentenceID
	Errors    []SentenceErr
}

// HasStateID reports whether the prover has acknowledged this sentence.
func (s *Sentence) HasStateID() bool {
	return s.StateID != ""
}

// CommandItem is one sentence-shaped slice of the document, produced by
// a CommandIterator the controller supplies. The STM never reads the
// TextBuffer directly; it only ever sees what the iterator hands it.
type CommandItem struct {
	Outcome   sentence.OutcomeKind
	Text      string
	Range     buffer.Range
	EndOffset int
	// FailRange, when Outcome is a parse failure the controller wants
	// surfaced as a diagnostic, names the candidate range; the STM
	// itself never produces ParseError, only relays it (§7: spine stays
	// unchanged).
	FailRange buffer.Range
}

// CommandIterator pulls the next sentence-shaped slice starting at
// fromOffset. It is supplied fresh for every step_forward /
// interpret_to_point call and must not retain state across calls from
// the STM's point of view — the controller is free to implement it
// however it likes against its own TextBuffer and SentenceParser.
type CommandIterator func(fromOffset int) CommandItem

// HighlightUpdate is a single range's new highlight-relevant status,
// the input the controller maps through its fixed status→style table.
type HighlightUpdate struct {
	SentenceID SentenceID
	Range      buffer.Range
	Status     Status
}

// Diagnostic mirrors one sentence error, addressed for client delivery.
type Diagnostic struct {
	Range   buffer.Range
	Message string
}

// Sink receives STM-originated events in strict arrival order, in the
// same goroutine that dispatches prover events — so a highlight update
// for a sentence can never be observed by a Sink after that sentence's
// Cleared update, satisfying the ordering guarantee in the spec.
type Sink interface {
	OnHighlight(HighlightUpdate)
	OnDiagnostics(diags []Diagnostic)
	OnMessage(level prover.MessageLevel, text, rich string)
	OnLtacProfResults(results string)
	OnDied()
}

// CommandResultKind discriminates a CommandResult.
type CommandResultKind int

const (
	ResultAdded CommandResultKind = iota
	ResultFailure
	ResultInterrupted
	ResultEmpty
	ResultNotRunning
	ResultReset
)

// CommandResult is the tagged result of step_forward / step_backward /
// interpret_to_point. Focus is filled in by the STM with the spine's tip
// position at the moment the result was produced; the controller passes
// it through unchanged.
type CommandResult struct {
	Kind       CommandResultKind
	Focus      buffer.Position
	SentenceID SentenceID
	Failure    *prover.Failure
}

// GoalResultKind discriminates a GoalResult.
type GoalResultKind int

const (
	GoalNotRunning GoalResultKind = iota
	GoalNoProof
	GoalProofView
	GoalFailure
	GoalInterrupted
)

// GoalResult is the tagged result of get_goal.
type GoalResult struct {
	Kind    GoalResultKind
	Focus   buffer.Position
	Goals   string
	Message string
	Range   buffer.Range
}
