package prover

import (
	"context"
	"fmt"
	"sync"

	"github.com/proofls/proofls/buffer"
)

// FakeClient is an in-process Client used by stm and document tests in
// place of a real subprocess, the same way the gopls service layer is
// tested against a client double rather than a live gopls binary.
type FakeClient struct {
	mu   sync.Mutex
	next int

	// FailOn, if non-empty, makes Add fail whenever the submitted text
	// equals this value, returning FailRange/FailMessage wrapped in a
	// *Failure.
	FailOn      string
	FailRange   buffer.Range
	FailMessage string

	// interrupted, set by Interrupt, makes the next Add/EditAt/Query resolve with
	// context.Canceled instead of performing the call, simulating an
	// interrupt landing mid-call.
	interrupted bool

	events chan Event
	closed bool
}

// NewFakeClient constructs a ready-to-Init FakeClient.
func NewFakeClient() *FakeClient {
	return &FakeClient{events: make(chan Event, 64)}
}

func (f *FakeClient) Init(ctx context.Context) (string, <-chan Event, error) {
	return "root", f.events, nil
}

func (f *FakeClient) Add(ctx context.Context, text string, parentStateID string, endPos buffer.Position, version int) (AddResult, error) {
	if f.consumeInterrupt() {
		return AddResult{}, context.Canceled
	}
	if f.FailOn != "" && text == f.FailOn {
		return AddResult{}, &Failure{StateID: parentStateID, Range: f.FailRange, Message: f.FailMessage}
	}
	f.mu.Lock()
	f.next++
	id := fmt.Sprintf("s%d", f.next)
	f.mu.Unlock()
	f.emit(Event{Kind: EventStatusUpdate, StateID: id, Status: StatusProcessed})
	f.emit(Event{Kind: EventStatusUpdate, StateID: id, Status: StatusComplete})
	return AddResult{StateID: id}, nil
}

func (f *FakeClient) EditAt(ctx context.Context, stateID string) (FocusChange, error) {
	if f.consumeInterrupt() {
		return FocusChange{}, context.Canceled
	}
	return FocusChange{Kind: NewTip, StateID: stateID}, nil
}

func (f *FakeClient) Query(ctx context.Context, command string) (string, error) {
	if f.consumeInterrupt() {
		return "", context.Canceled
	}
	return "ok: " + command, nil
}

// Interrupt arms the next blocking call to resolve as cancelled, as a
// stand-in for the real prover acknowledging an interrupt mid-flight.
func (f *FakeClient) Interrupt() {
	f.mu.Lock()
	f.interrupted = true
	f.mu.Unlock()
}

func (f *FakeClient) consumeInterrupt() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.interrupted {
		f.interrupted = false
		return true
	}
	return false
}

func (f *FakeClient) Resize(ctx context.Context, columns int) error { return nil }

func (f *FakeClient) LtacProfile(ctx context.Context, stateID *string) error {
	f.emit(Event{Kind: EventLtacProfResults, Results: "{}"})
	return nil
}

func (f *FakeClient) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

// Die pushes a Died event onto the stream, simulating prover crash.
func (f *FakeClient) Die(reason string) {
	f.emit(Event{Kind: EventDied, Reason: reason})
}

// EmitStatusUpdate pushes a StatusUpdate event, letting a test simulate
// the prover reporting progress on a state id out of band.
func (f *FakeClient) EmitStatusUpdate(stateID string, status Status) {
	f.emit(Event{Kind: EventStatusUpdate, StateID: stateID, Status: status})
}

func (f *FakeClient) emit(e Event) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return
	}
	f.events <- e
}
