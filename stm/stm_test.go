package stm

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/prover"
	"github.com/proofls/proofls/sentence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSink captures every call the STM makes so tests can assert
// on ordering and content without a real document controller. notify is
// pinged on every call so tests can wait for the async pump goroutine
// without sleeping an arbitrary duration.
type recordingSink struct {
	mu         sync.Mutex
	highlights []HighlightUpdate
	diagnostic [][]Diagnostic
	died       bool
	notify     chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 256)}
}

func (r *recordingSink) ping() {
	select {
	case r.notify <- struct{}{}:
	default:
	}
}

func (r *recordingSink) OnHighlight(u HighlightUpdate) {
	r.mu.Lock()
	r.highlights = append(r.highlights, u)
	r.mu.Unlock()
	r.ping()
}

func (r *recordingSink) OnDiagnostics(d []Diagnostic) {
	r.mu.Lock()
	r.diagnostic = append(r.diagnostic, d)
	r.mu.Unlock()
	r.ping()
}

func (r *recordingSink) OnMessage(prover.MessageLevel, string, string) {}
func (r *recordingSink) OnLtacProfResults(string)                     {}

func (r *recordingSink) OnDied() {
	r.mu.Lock()
	r.died = true
	r.mu.Unlock()
	r.ping()
}

func (r *recordingSink) highlightCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.highlights)
}

func (r *recordingSink) isDied() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.died
}

// waitFor blocks until cond() is true or the timeout elapses, waking on
// every sink notification in between — used to synchronize with the
// STM's asynchronous event-pump goroutine deterministically.
func (r *recordingSink) waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if cond() {
			return
		}
		select {
		case <-r.notify:
		case <-deadline:
			if !cond() {
				t.Fatal("timed out waiting for sink condition")
			}
			return
		}
	}
}

// iteratorFor builds a CommandIterator over a fixed text using the real
// sentence parser, translating byte offsets to Positions the way a
// single-line document would. Ranges start after leading whitespace, as
// the document controller's iterator does.
func iteratorFor(text string) CommandIterator {
	return func(from int) CommandItem {
		out := sentence.Parse(text[from:])
		start := len(text) - len(strings.TrimLeft(text[from:], " \t\r\n\v\f"))
		switch out.Kind {
		case sentence.Empty:
			return CommandItem{Outcome: sentence.Empty}
		case sentence.Incomplete:
			return CommandItem{
				Outcome:   sentence.Incomplete,
				FailRange: buffer.Range{Start: buffer.Position{Character: start}, End: buffer.Position{Character: len(text)}},
			}
		default:
			end := from + out.Length
			return CommandItem{
				Outcome:   sentence.Complete,
				Text:      text[from:end],
				Range:     buffer.Range{Start: buffer.Position{Character: start}, End: buffer.Position{Character: end}},
				EndOffset: end,
			}
		}
	}
}

func newTestSTM(t *testing.T) (*STM, *prover.FakeClient, *recordingSink) {
	t.Helper()
	client := prover.NewFakeClient()
	sink := newRecordingSink()
	m := New(client, sink)
	require.NoError(t, m.Init(context.Background()))
	return m, client, sink
}

func TestS1LinearProgress(t *testing.T) {
	m, _, _ := newTestSTM(t)
	iter := iteratorFor("A. B. C.")

	var last CommandResult
	for i := 0; i < 3; i++ {
		res, err := m.StepForward(context.Background(), iter)
		require.NoError(t, err)
		require.Equal(t, ResultAdded, res.Kind)
		last = res
	}

	spine := m.Spine()
	require.Len(t, spine, 3)
	assert.Equal(t, buffer.Range{Start: buffer.Position{Character: 0}, End: buffer.Position{Character: 2}}, spine[0].Range)
	assert.Equal(t, buffer.Range{Start: buffer.Position{Character: 3}, End: buffer.Position{Character: 5}}, spine[1].Range)
	assert.Equal(t, buffer.Range{Start: buffer.Position{Character: 6}, End: buffer.Position{Character: 8}}, spine[2].Range)
	assert.Equal(t, buffer.Position{Character: 8}, last.Focus)

	res, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	assert.Equal(t, ResultEmpty, res.Kind)
}

func TestS2FailureMidProof(t *testing.T) {
	m, client, sink := newTestSTM(t)
	client.FailOn = " Fail."
	client.FailRange = buffer.Range{Start: buffer.Position{Character: 3}, End: buffer.Position{Character: 7}}
	client.FailMessage = "syntax"

	iter := iteratorFor("A. Fail. C.")

	res1, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	require.Equal(t, ResultAdded, res1.Kind)

	res2, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	require.Equal(t, ResultFailure, res2.Kind)
	require.NotNil(t, res2.Failure)
	assert.Equal(t, "syntax", res2.Failure.Message)

	spine := m.Spine()
	require.Len(t, spine, 1, "failed sentence must not land on the spine")

	sink.mu.Lock()
	require.NotEmpty(t, sink.diagnostic)
	last := sink.diagnostic[len(sink.diagnostic)-1]
	sink.mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, "syntax", last[0].Message)
}

func TestS3RewindViaEditAt(t *testing.T) {
	m, _, sink := newTestSTM(t)
	iter := iteratorFor("A. B. C.")
	for i := 0; i < 3; i++ {
		_, err := m.StepForward(context.Background(), iter)
		require.NoError(t, err)
	}

	res, err := m.InterpretToPoint(context.Background(), buffer.Position{Character: 2}, iter)
	require.NoError(t, err)
	assert.Equal(t, ResultAdded, res.Kind)

	spine := m.Spine()
	require.Len(t, spine, 1, "spine must be truncated to sentence 1")

	sink.mu.Lock()
	foundClear := false
	for _, h := range sink.highlights {
		if h.Status == Cleared {
			foundClear = true
		}
	}
	sink.mu.Unlock()
	assert.True(t, foundClear, "cleared sentences must emit a Cleared highlight")
}

func TestS6ProverDeath(t *testing.T) {
	m, client, sink := newTestSTM(t)
	iter := iteratorFor("A. B. C.")
	_, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)

	client.Die("crashed")
	sink.waitFor(t, 2*time.Second, sink.isDied)

	assert.False(t, m.IsRunning())

	_, err = m.StepForward(context.Background(), iter)
	assert.ErrorIs(t, err, ErrNotRunning)
}

func TestEventsForClearedStateIDAreDropped(t *testing.T) {
	m, client, sink := newTestSTM(t)
	iter := iteratorFor("A. B.")
	_, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	spineBefore := m.Spine()
	staleID := spineBefore[0].StateID

	_, err = m.StepBackward(context.Background())
	require.NoError(t, err)

	before := sink.highlightCount()
	client.EmitStatusUpdate(staleID, prover.StatusComplete)

	// There is nothing further to observe for a dropped event, so rather
	// than waiting for a condition that will never become true, give the
	// pump goroutine one scheduling window and assert no new highlight
	// arrived in it.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, before, sink.highlightCount(), "events for a state_id off the spine must be dropped silently")
}

func TestApplyChangesPassiveDoesNotRewind(t *testing.T) {
	m, _, sink := newTestSTM(t)
	iter := iteratorFor("A. B. C.")
	for i := 0; i < 3; i++ {
		_, err := m.StepForward(context.Background(), iter)
		require.NoError(t, err)
	}
	// Each Add synchronously appends a Processing highlight and
	// asynchronously emits Processed+Complete via the event pump; wait
	// for all nine before taking the baseline so the pump settling
	// during ApplyChanges can't be mistaken for a rewind side effect.
	sink.waitFor(t, 2*time.Second, func() bool { return sink.highlightCount() == 9 })
	before := sink.highlightCount()

	shift := RangeShift{
		Range: func(r buffer.Range) buffer.Range {
			shiftPos := func(p buffer.Position) buffer.Position {
				if p.Character >= 2 {
					p.Character += 5
				}
				return p
			}
			return buffer.Range{Start: shiftPos(r.Start), End: shiftPos(r.End)}
		},
		Offset: func(o int) int {
			if o >= 2 {
				return o + 5
			}
			return o
		},
	}

	changed := buffer.Range{Start: buffer.Position{Character: 2}, End: buffer.Position{Character: 2}}
	err := m.ApplyChanges(context.Background(), changed, shift, true, 2)
	require.NoError(t, err)

	assert.Equal(t, before, sink.highlightCount(), "passive edits must not trigger edit_at/Cleared highlights")

	spine := m.Spine()
	assert.Equal(t, buffer.Position{Character: 8}, spine[1].Range.Start)
	assert.Equal(t, buffer.Position{Character: 10}, spine[1].Range.End)
}

func TestStepBackwardOnEmptySpineResets(t *testing.T) {
	m, _, _ := newTestSTM(t)

	res, err := m.StepBackward(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ResultReset, res.Kind)
	assert.Equal(t, buffer.Position{}, res.Focus)

	assert.True(t, m.IsRunning(), "StepBackward on an empty spine must re-initialize, not just report reset")
	assert.Empty(t, m.Spine())

	// The STM must actually be usable again afterward, not merely flagged
	// running.
	iter := iteratorFor("A.")
	res, err = m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	assert.Equal(t, ResultAdded, res.Kind)
}

func TestStepForwardOnIncompleteSentenceReportsParseFailure(t *testing.T) {
	m, _, sink := newTestSTM(t)
	iter := iteratorFor("A. Unterminated")

	res1, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	require.Equal(t, ResultAdded, res1.Kind)

	res2, err := m.StepForward(context.Background(), iter)
	require.NoError(t, err)
	require.Equal(t, ResultFailure, res2.Kind)
	require.NotNil(t, res2.Failure)
	expectedRange := buffer.Range{Start: buffer.Position{Character: 3}, End: buffer.Position{Character: len("A. Unterminated")}}
	assert.Equal(t, expectedRange, res2.Failure.Range)

	spine := m.Spine()
	require.Len(t, spine, 1, "an unterminated sentence must leave the spine unchanged")

	sink.mu.Lock()
	require.NotEmpty(t, sink.diagnostic)
	last := sink.diagnostic[len(sink.diagnostic)-1]
	sink.mu.Unlock()
	require.Len(t, last, 1)
	assert.Equal(t, expectedRange, last[0].Range)
}
