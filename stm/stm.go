package stm

import (
	"context"
	"sync"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/logger"
	"github.com/proofls/proofls/prover"
	"github.com/proofls/proofls/sentence"
)

// STM is the State-Transaction Machine: it owns the sentence forest and
// the sole handle to the prover connection. Every exported method
// suspends the calling goroutine while a prover call is outstanding;
// callers are expected to serialize their own calls into a single STM
// (the document controller's operation queue does this).
type STM struct {
	client prover.Client
	sink   Sink

	mu          sync.Mutex
	forest      *forest
	rootStateID string
	running     bool
	version     int
}

// New constructs an STM against client, delivering translated events to
// sink. Init must be called before any other method.
func New(client prover.Client, sink Sink) *STM {
	return &STM{client: client, sink: sink, forest: newForest()}
}

// Init starts the prover conversation and the event dispatch loop.
func (m *STM) Init(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.mu.Unlock()

	rootStateID, events, err := m.client.Init(ctx)
	if err != nil {
		return errors.Wrap(err, "stm: init")
	}

	m.mu.Lock()
	m.rootStateID = rootStateID
	m.forest = newForest()
	m.running = true
	m.mu.Unlock()

	go m.pump(events)
	return nil
}

// IsRunning reports whether the STM still considers the prover alive.
func (m *STM) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Reset discards the spine and calls Init again on the same prover
// client, used to recover from ProverDied (§7). It returns Init's error
// if the client refuses to start a new conversation.
func (m *STM) Reset(ctx context.Context) error {
	m.mu.Lock()
	m.forest = newForest()
	m.running = false
	m.mu.Unlock()
	return m.Init(ctx)
}

// Focus returns the current tip position (origin if the spine is empty).
func (m *STM) Focus() buffer.Position {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.forest.focus()
}

// Spine returns a snapshot of the current spine's sentences, in order.
func (m *STM) Spine() []Sentence {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sentence, 0, len(m.forest.spine))
	for _, id := range m.forest.spine {
		out = append(out, *m.forest.get(id))
	}
	return out
}

// StepForward pulls the next command from iter, bound to the current
// tip's end offset, and submits it to the prover.
func (m *STM) StepForward(ctx context.Context, iter CommandIterator) (CommandResult, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return CommandResult{Kind: ResultNotRunning}, ErrNotRunning
	}
	fromOffset := m.forest.focusOffset()
	parentID := m.tipID()
	parentStateID := m.forest.tipStateID(m.rootStateID)
	version := m.version
	m.mu.Unlock()

	item := iter(fromOffset)
	switch item.Outcome {
	case sentence.Empty:
		return CommandResult{Kind: ResultEmpty, Focus: m.Focus()}, nil
	case sentence.Incomplete:
		return m.reportParseFailure(item.FailRange), nil
	}

	result, err := m.client.Add(ctx, item.Text, parentStateID, item.Range.End, version)
	if err != nil {
		if failure, ok := prover.AsFailure(err); ok {
			return m.recordFailure(failure), nil
		}
		if errors.Is(err, context.Canceled) {
			return CommandResult{Kind: ResultInterrupted, Focus: m.Focus()}, nil
		}
		return CommandResult{Kind: ResultNotRunning}, err
	}

	m.mu.Lock()
	id := m.forest.append(parentID, item.Text, item.Range, item.EndOffset)
	m.forest.bindState(id, result.StateID)
	s := m.forest.get(id)
	s.Status = Processing
	update := HighlightUpdate{SentenceID: id, Range: s.Range, Status: Processing}
	focus := m.forest.focus()
	m.mu.Unlock()

	m.sink.OnHighlight(update)
	return CommandResult{Kind: ResultAdded, Focus: focus, SentenceID: id}, nil
}

func (m *STM) tipID() SentenceID {
	if len(m.forest.spine) == 0 {
		return noParent
	}
	return m.forest.spine[len(m.forest.spine)-1]
}

func (m *STM) recordFailure(failure *prover.Failure) CommandResult {
	m.mu.Lock()
	focus := m.forest.focus()
	diags := append(m.forest.errorSet(), Diagnostic{Range: failure.Range, Message: failure.Message})
	m.mu.Unlock()

	m.sink.OnDiagnostics(diags)
	return CommandResult{Kind: ResultFailure, Focus: focus, Failure: failure}
}

// reportParseFailure surfaces a SentenceParser delimiting failure as a
// diagnostic on the candidate range without touching the spine (§7:
// ParseError leaves the spine unchanged).
func (m *STM) reportParseFailure(failRange buffer.Range) CommandResult {
	failure := &prover.Failure{Range: failRange, Message: "could not delimit a complete sentence"}
	m.mu.Lock()
	focus := m.forest.focus()
	diags := append(m.forest.errorSet(), Diagnostic{Range: failRange, Message: failure.Message})
	m.mu.Unlock()

	m.sink.OnDiagnostics(diags)
	return CommandResult{Kind: ResultFailure, Focus: focus, Failure: failure}
}

// StepBackward rewinds the spine by one sentence.
func (m *STM) StepBackward(ctx context.Context) (CommandResult, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return CommandResult{Kind: ResultNotRunning}, ErrNotRunning
	}
	if len(m.forest.spine) == 0 {
		m.mu.Unlock()
		if err := m.Reset(ctx); err != nil {
			return CommandResult{Kind: ResultNotRunning}, err
		}
		return CommandResult{Kind: ResultReset, Focus: buffer.Position{}}, nil
	}
	tipIdx := len(m.forest.spine) - 1
	var parentStateID string
	if tipIdx == 0 {
		parentStateID = m.rootStateID
	} else {
		parentStateID = m.forest.get(m.forest.spine[tipIdx-1]).StateID
	}
	m.mu.Unlock()

	_, err := m.client.EditAt(ctx, parentStateID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return CommandResult{Kind: ResultInterrupted, Focus: m.Focus()}, nil
		}
		return CommandResult{Kind: ResultNotRunning}, err
	}

	m.mu.Lock()
	removed := m.forest.truncateTo(tipIdx)
	diags := m.forest.errorSet()
	focus := m.forest.focus()
	m.mu.Unlock()

	for _, id := range removed {
		s := m.forest.get(id)
		m.sink.OnHighlight(HighlightUpdate{SentenceID: id, Range: s.Range, Status: Cleared})
	}
	m.sink.OnDiagnostics(diags)
	return CommandResult{Kind: ResultAdded, Focus: focus}, nil
}

// InterpretToPoint rewinds or fast-forwards the spine to target. Moving
// forward stops before a sentence that would end past target, and ctx is
// checked before each step: once it is cancelled the prover is
// interrupted and the result is Interrupted, with the spine ending at
// the last completed sentence.
func (m *STM) InterpretToPoint(ctx context.Context, target buffer.Position, iter CommandIterator) (CommandResult, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return CommandResult{Kind: ResultNotRunning}, ErrNotRunning
	}
	focus := m.forest.focus()
	m.mu.Unlock()

	if target.Less(focus) {
		return m.rewindTo(ctx, target)
	}
	return m.fastForwardTo(ctx, target, iter)
}

func (m *STM) rewindTo(ctx context.Context, target buffer.Position) (CommandResult, error) {
	m.mu.Lock()
	keep := 0
	for i, id := range m.forest.spine {
		s := m.forest.get(id)
		if s.Range.End.Less(target) || s.Range.End == target {
			keep = i + 1
		}
	}
	var parentStateID string
	if keep == 0 {
		parentStateID = m.rootStateID
	} else {
		parentStateID = m.forest.get(m.forest.spine[keep-1]).StateID
	}
	m.mu.Unlock()

	_, err := m.client.EditAt(ctx, parentStateID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return CommandResult{Kind: ResultInterrupted, Focus: m.Focus()}, nil
		}
		return CommandResult{Kind: ResultNotRunning}, err
	}

	m.mu.Lock()
	removed := m.forest.truncateTo(keep)
	diags := m.forest.errorSet()
	newFocus := m.forest.focus()
	m.mu.Unlock()

	for _, id := range removed {
		s := m.forest.get(id)
		m.sink.OnHighlight(HighlightUpdate{SentenceID: id, Range: s.Range, Status: Cleared})
	}
	m.sink.OnDiagnostics(diags)
	return CommandResult{Kind: ResultAdded, Focus: newFocus}, nil
}

func (m *STM) fastForwardTo(ctx context.Context, target buffer.Position, iter CommandIterator) (CommandResult, error) {
	last := CommandResult{Kind: ResultAdded, Focus: m.Focus()}
	for {
		select {
		case <-ctx.Done():
			m.client.Interrupt()
			return CommandResult{Kind: ResultInterrupted, Focus: m.Focus()}, nil
		default:
		}

		if !m.Focus().Less(target) {
			return last, nil
		}

		m.mu.Lock()
		fromOffset := m.forest.focusOffset()
		m.mu.Unlock()
		if next := iter(fromOffset); next.Outcome == sentence.Complete && target.Less(next.Range.End) {
			return last, nil
		}

		result, err := m.StepForward(ctx, iter)
		if err != nil {
			return result, err
		}
		switch result.Kind {
		case ResultEmpty, ResultFailure, ResultInterrupted, ResultNotRunning:
			return result, nil
		}
		last = result
		if !result.Focus.Less(target) {
			return last, nil
		}
	}
}

// RangeShift translates a pre-edit Range/offset to its post-edit
// counterpart. The controller builds one from the TextBuffer's
// RangeDelta for each applied change — the STM never touches the
// TextBuffer directly, so it cannot compute this itself.
type RangeShift struct {
	Range  func(buffer.Range) buffer.Range
	Offset func(int) int
}

// ApplyChanges shifts the spine's ranges in response to a buffer edit.
// If the edit is not passive and overlaps an already-processed
// sentence, it first rewinds to that sentence's parent.
func (m *STM) ApplyChanges(ctx context.Context, changed buffer.Range, shift RangeShift, passive bool, newVersion int) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	if newVersion <= m.version {
		m.mu.Unlock()
		return ErrStaleEdit
	}

	firstAffected := -1
	for i, id := range m.forest.spine {
		s := m.forest.get(id)
		if s.Range.Overlaps(changed) {
			firstAffected = i
			break
		}
	}
	m.mu.Unlock()

	if firstAffected >= 0 && !passive {
		var parentStateID string
		if firstAffected == 0 {
			parentStateID = m.rootStateID
		} else {
			parentStateID = m.forest.get(m.forest.spine[firstAffected-1]).StateID
		}
		if _, err := m.client.EditAt(ctx, parentStateID); err != nil && !errors.Is(err, context.Canceled) {
			return errors.Wrap(err, "stm: rewind for edit")
		}
		m.mu.Lock()
		removed := m.forest.truncateTo(firstAffected)
		diags := m.forest.errorSet()
		m.mu.Unlock()
		for _, id := range removed {
			s := m.forest.get(id)
			m.sink.OnHighlight(HighlightUpdate{SentenceID: id, Range: s.Range, Status: Cleared})
		}
		m.sink.OnDiagnostics(diags)
	}

	m.mu.Lock()
	for _, id := range m.forest.spine {
		s := m.forest.get(id)
		s.Range = shift.Range(s.Range)
		s.EndOffset = shift.Offset(s.EndOffset)
	}
	m.version = newVersion
	m.mu.Unlock()
	return nil
}

// GetGoal returns the current proof state at the tip.
func (m *STM) GetGoal(ctx context.Context) GoalResult {
	m.mu.Lock()
	running := m.running
	focus := m.forest.focus()
	tip := m.forest.tip()
	m.mu.Unlock()

	if !running {
		return GoalResult{Kind: GoalNotRunning, Focus: focus}
	}
	if tip == nil {
		return GoalResult{Kind: GoalNoProof, Focus: focus}
	}
	if tip.Status == Error {
		var msg string
		var rng buffer.Range
		if len(tip.Errors) > 0 {
			msg = tip.Errors[len(tip.Errors)-1].Message
			rng = tip.Errors[len(tip.Errors)-1].SubRange
		}
		return GoalResult{Kind: GoalFailure, Focus: focus, Message: msg, Range: rng}
	}

	text, err := m.client.Query(ctx, "goal")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return GoalResult{Kind: GoalInterrupted, Focus: focus}
		}
		return GoalResult{Kind: GoalNoProof, Focus: focus}
	}
	return GoalResult{Kind: GoalProofView, Focus: focus, Goals: text}
}

// DoQuery issues a non-mutating query against the tip.
func (m *STM) DoQuery(ctx context.Context, kind, argument string) (string, error) {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return "", ErrNotRunning
	}
	m.mu.Unlock()
	return m.client.Query(ctx, kind+" "+argument)
}

// Resize updates the prover's pretty-printing width.
func (m *STM) Resize(ctx context.Context, columns int) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.mu.Unlock()
	return m.client.Resize(ctx, columns)
}

// LtacProfile requests tactic profiling results for stateID (or the
// current tip if nil). Results arrive asynchronously through Sink.
func (m *STM) LtacProfile(ctx context.Context, stateID *string) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.mu.Unlock()
	return m.client.LtacProfile(ctx, stateID)
}

// Interrupt asynchronously signals the prover to abandon its current
// call.
func (m *STM) Interrupt() {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	if running {
		m.client.Interrupt()
	}
}

// Shutdown marks the STM not running and shuts the prover client down,
// which closes its event channel. It does not wait for or cancel
// operations already in flight.
func (m *STM) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	m.mu.Unlock()
	return m.client.Shutdown(ctx)
}

// pump drains the prover's event stream for the lifetime of the STM,
// translating each event into a Sink call. It is the only goroutine
// that mutates sentence status, so highlight ordering is exactly
// arrival order.
func (m *STM) pump(events <-chan prover.Event) {
	for ev := range events {
		switch ev.Kind {
		case prover.EventStatusUpdate:
			m.mu.Lock()
			s, ok := m.forest.byStateIDLookup(ev.StateID)
			if !ok {
				m.mu.Unlock()
				continue
			}
			s.Status = statusFromWire(ev.Status)
			update := HighlightUpdate{SentenceID: s.ID, Range: s.Range, Status: s.Status}
			m.mu.Unlock()
			m.sink.OnHighlight(update)

		case prover.EventError:
			m.mu.Lock()
			s, ok := m.forest.byStateIDLookup(ev.StateID)
			if !ok {
				m.mu.Unlock()
				continue
			}
			s.Status = Error
			s.Errors = append(s.Errors, SentenceErr{SubRange: ev.SubRange, Message: ev.Message})
			update := HighlightUpdate{SentenceID: s.ID, Range: s.Range, Status: Error}
			diags := m.forest.errorSet()
			m.mu.Unlock()
			m.sink.OnHighlight(update)
			m.sink.OnDiagnostics(diags)

		case prover.EventMessage:
			m.sink.OnMessage(ev.Level, ev.Text, ev.Rich)

		case prover.EventLtacProfResults:
			m.sink.OnLtacProfResults(ev.Results)

		case prover.EventDied:
			logger.Errorw("stm: prover died", "reason", ev.Reason)
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			m.sink.OnDied()
			return
		}
	}
}

func statusFromWire(s prover.Status) Status {
	switch s {
	case prover.StatusProcessing:
		return Processing
	case prover.StatusInProgress:
		return InProgress
	case prover.StatusIncomplete:
		return Incomplete
	case prover.StatusProcessed:
		return Processed
	case prover.StatusComplete:
		return Complete
	default:
		return Processing
	}
}
