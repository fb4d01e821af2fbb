// Package document implements the serialization boundary between the
// STM and an editor client: it owns a TextBuffer and an STM for one
// open document, converts client-facing commands into STM calls, and
// turns STM events into the client's highlight/diagnostic/status
// vocabulary.
package document

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/prover"
	"github.com/proofls/proofls/sentence"
	"github.com/proofls/proofls/stm"
)

// HighlightStyle is one of the closed set of client-visible highlight
// kinds.
type HighlightStyle string

const (
	StyleClear         HighlightStyle = "Clear"
	StyleParsing       HighlightStyle = "Parsing"
	StyleProcessing    HighlightStyle = "Processing"
	StyleInProgress    HighlightStyle = "InProgress"
	StyleIncomplete    HighlightStyle = "Incomplete"
	StyleProcessed     HighlightStyle = "Processed"
	StyleComplete      HighlightStyle = "Complete"
	StyleTacticFailure HighlightStyle = "TacticFailure"
)

// statusStyle is the fixed Sentence-status to client-highlight mapping.
var statusStyle = map[stm.Status]HighlightStyle{
	stm.Parsed:     StyleParsing,
	stm.Processing: StyleProcessing,
	stm.InProgress: StyleInProgress,
	stm.Incomplete: StyleIncomplete,
	stm.Processed:  StyleProcessed,
	stm.Complete:   StyleComplete,
	stm.Error:      StyleTacticFailure,
	stm.Cleared:    StyleClear,
}

// HighlightItem is one range's new client-visible style.
type HighlightItem struct {
	Range buffer.Range
	Style HighlightStyle
}

// DiagnosticItem is one client-visible diagnostic. Severity is always
// "Error" today — other levels are reserved for future use (§6).
type DiagnosticItem struct {
	Range    buffer.Range
	Severity string
	Message  string
}

const severityError = "Error"

// Callbacks is the notification surface a Controller drives. Every
// field is optional; a nil callback is simply not invoked.
type Callbacks struct {
	Highlight       func(items []HighlightItem)
	Diagnostics     func(diags []DiagnosticItem)
	Message         func(level prover.MessageLevel, text, rich string)
	Reset           func()
	LtacProf        func(results string)
	ComputingStatus func(status string, elapsedMs int64)
}

const computingStatusInterval = 500 * time.Millisecond

// Controller is the per-document façade: it owns the TextBuffer, the
// STM, and the callback bag, and is the only thing that touches the
// TextBuffer — the STM never sees it directly.
type Controller struct {
	buf     *buffer.TextBuffer
	machine *stm.STM
	cb      Callbacks

	mu            sync.Mutex
	wrappingWidth int
	currentCancel context.CancelFunc
}

// New constructs a Controller over an already-open document's initial
// text and a prover client dedicated to it.
func New(initialText string, version int, client prover.Client, cb Callbacks) *Controller {
	c := &Controller{
		buf:           buffer.New(initialText, version),
		cb:            cb,
		wrappingWidth: 80,
	}
	c.machine = stm.New(client, c)
	return c
}

// Init starts the prover conversation.
func (c *Controller) Init(ctx context.Context) error {
	return c.machine.Init(ctx)
}

// --- stm.Sink ---

func (c *Controller) OnHighlight(u stm.HighlightUpdate) {
	if c.cb.Highlight == nil {
		return
	}
	c.cb.Highlight([]HighlightItem{{Range: u.Range, Style: statusStyle[u.Status]}})
}

func (c *Controller) OnDiagnostics(diags []stm.Diagnostic) {
	if c.cb.Diagnostics == nil {
		return
	}
	items := make([]DiagnosticItem, 0, len(diags))
	for _, d := range diags {
		items = append(items, DiagnosticItem{Range: d.Range, Severity: severityError, Message: d.Message})
	}
	c.cb.Diagnostics(items)
}

func (c *Controller) OnMessage(level prover.MessageLevel, text, rich string) {
	if c.cb.Message != nil {
		c.cb.Message(level, text, rich)
	}
}

func (c *Controller) OnLtacProfResults(results string) {
	if c.cb.LtacProf != nil {
		c.cb.LtacProf(results)
	}
}

func (c *Controller) OnDied() {
	if c.cb.Reset != nil {
		c.cb.Reset()
	}
}

// --- commands ---

// StepForward submits the next sentence starting at the tip.
func (c *Controller) StepForward(ctx context.Context) (stm.CommandResult, error) {
	return c.withCancel(ctx, func(opCtx context.Context) (stm.CommandResult, error) {
		return c.machine.StepForward(opCtx, c.commandIterator())
	})
}

// StepBackward rewinds the spine by one sentence.
func (c *Controller) StepBackward(ctx context.Context) (stm.CommandResult, error) {
	return c.withCancel(ctx, func(opCtx context.Context) (stm.CommandResult, error) {
		return c.machine.StepBackward(opCtx)
	})
}

// InterpretToPoint drives the spine to the sentence boundary at or
// before offset.
func (c *Controller) InterpretToPoint(ctx context.Context, offset int) (stm.CommandResult, error) {
	target := c.buf.PositionAt(offset)
	return c.withComputingStatus(ctx, "interpretToPoint", func(opCtx context.Context) (stm.CommandResult, error) {
		return c.machine.InterpretToPoint(opCtx, target, c.commandIterator())
	})
}

// InterpretToEnd drives the spine forward to the end of the document.
func (c *Controller) InterpretToEnd(ctx context.Context) (stm.CommandResult, error) {
	target := c.buf.PositionAt(len(c.buf.Text()))
	return c.withComputingStatus(ctx, "interpretToEnd", func(opCtx context.Context) (stm.CommandResult, error) {
		return c.machine.InterpretToPoint(opCtx, target, c.commandIterator())
	})
}

// GetGoal returns the current proof state at the tip.
func (c *Controller) GetGoal(ctx context.Context) stm.GoalResult {
	return c.machine.GetGoal(ctx)
}

// Locate, Check, Search, and SearchAbout are the four read-only query
// kinds (§6); none of them mutate the spine.
func (c *Controller) Locate(ctx context.Context, ident string) (string, error) {
	return c.machine.DoQuery(ctx, "Locate", ident)
}

func (c *Controller) Check(ctx context.Context, term string) (string, error) {
	return c.machine.DoQuery(ctx, "Check", term)
}

func (c *Controller) Search(ctx context.Context, query string) (string, error) {
	return c.machine.DoQuery(ctx, "Search", query)
}

func (c *Controller) SearchAbout(ctx context.Context, query string) (string, error) {
	return c.machine.DoQuery(ctx, "SearchAbout", query)
}

// SetWrappingWidth updates the pretty-printing width used for future
// goal/query responses.
func (c *Controller) SetWrappingWidth(ctx context.Context, columns int) error {
	c.mu.Lock()
	c.wrappingWidth = columns
	c.mu.Unlock()
	return c.machine.Resize(ctx, columns)
}

// RequestLtacProfResults asks the prover for tactic profiling data for
// the sentence at offset, or the current tip if offset is nil. Results
// arrive asynchronously via Callbacks.LtacProf.
func (c *Controller) RequestLtacProfResults(ctx context.Context, offset *int) error {
	var stateID *string
	if offset != nil {
		pos := c.buf.PositionAt(*offset)
		for _, s := range c.machine.Spine() {
			if !s.Range.End.Less(pos) {
				id := s.StateID
				stateID = &id
				break
			}
		}
	}
	return c.machine.LtacProfile(ctx, stateID)
}

// Interrupt cancels whichever operation is currently in flight.
func (c *Controller) Interrupt() {
	c.mu.Lock()
	cancel := c.currentCancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	c.machine.Interrupt()
}

// Quit ends the prover conversation without discarding the document's
// buffer or callbacks. A later Reset calls Init on the same prover
// client (see Reset).
func (c *Controller) Quit(ctx context.Context) error {
	return c.machine.Shutdown(ctx)
}

// Reset handles ProverDied (or an explicit client request) by
// re-initializing the STM: it empties the spine, puts focus at the
// origin, and calls Init again on the same prover client. The client is
// not replaced, so a client that refuses calls once it has been shut
// down or has lost its process (as StdioClient does) makes Reset return
// that error.
func (c *Controller) Reset(ctx context.Context) error {
	return c.machine.Reset(ctx)
}

// ApplyTextEdits validates and applies a batch of content changes,
// rewinding the STM past anything they invalidate.
func (c *Controller) ApplyTextEdits(ctx context.Context, changes []buffer.Change, newVersion int) error {
	for i, change := range changes {
		before := buffer.New(c.buf.Text(), c.buf.Version())

		var oldRange buffer.Range
		var oldText string
		if change.FullDocument {
			oldRange = buffer.Range{Start: buffer.Position{}, End: before.PositionAt(len(before.Text()))}
			oldText = before.Text()
		} else {
			oldRange = change.Range
			oldText = before.Slice(change.Range)
		}

		version := c.buf.Version() + 1
		if i == len(changes)-1 {
			version = newVersion
		}
		deltas, err := c.buf.Apply([]buffer.Change{change}, version)
		if err != nil {
			return err
		}
		delta := deltas[0]
		passive := isPassiveEdit(oldText, change.Text)

		buf := c.buf
		shift := stm.RangeShift{
			Range: func(r buffer.Range) buffer.Range {
				start := delta.ShiftOffset(before.OffsetAt(r.Start))
				end := delta.ShiftOffset(before.OffsetAt(r.End))
				return buffer.Range{Start: buf.PositionAt(start), End: buf.PositionAt(end)}
			},
			Offset: func(o int) int {
				return delta.ShiftOffset(o)
			},
		}

		if err := c.machine.ApplyChanges(ctx, oldRange, shift, passive, version); err != nil {
			return err
		}
	}
	return nil
}

// Spine returns a snapshot of the STM's current spine, for callers
// (tests, the lspserver layer) that need to inspect sentence state
// directly rather than through the highlight callback.
func (c *Controller) Spine() []stm.Sentence {
	return c.machine.Spine()
}

// Close tears down the document's prover conversation through the STM's
// Shutdown, which performs the client's shutdown handshake, and returns
// any error from it.
func (c *Controller) Close(ctx context.Context) error {
	return c.machine.Shutdown(ctx)
}

func (c *Controller) commandIterator() stm.CommandIterator {
	return func(from int) stm.CommandItem {
		text := c.buf.Substr(from, len(c.buf.Text())-from)
		out := sentence.Parse(text)
		// Ranges start after the whitespace preceding the sentence; a
		// comment before it stays inside its range.
		start := from + len(text) - len(strings.TrimLeft(text, " \t\r\n\v\f"))
		switch out.Kind {
		case sentence.Empty:
			return stm.CommandItem{Outcome: sentence.Empty}
		case sentence.Incomplete:
			return stm.CommandItem{
				Outcome:   sentence.Incomplete,
				FailRange: buffer.Range{Start: c.buf.PositionAt(start), End: c.buf.PositionAt(len(c.buf.Text()))},
			}
		default:
			end := from + out.Length
			return stm.CommandItem{
				Outcome:   sentence.Complete,
				Text:      text[:out.Length],
				Range:     buffer.Range{Start: c.buf.PositionAt(start), End: c.buf.PositionAt(end)},
				EndOffset: end,
			}
		}
	}
}

func (c *Controller) withCancel(ctx context.Context, fn func(context.Context) (stm.CommandResult, error)) (stm.CommandResult, error) {
	opCtx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.currentCancel = cancel
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.currentCancel = nil
		c.mu.Unlock()
		cancel()
	}()
	return fn(opCtx)
}

func (c *Controller) withComputingStatus(ctx context.Context, status string, fn func(context.Context) (stm.CommandResult, error)) (stm.CommandResult, error) {
	start := time.Now()
	stop := make(chan struct{})
	if c.cb.ComputingStatus != nil {
		go func() {
			ticker := time.NewTicker(computingStatusInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					c.cb.ComputingStatus(status, time.Since(start).Milliseconds())
				case <-stop:
					return
				}
			}
		}()
	}
	result, err := c.withCancel(ctx, fn)
	close(stop)
	return result, err
}

// isPassiveEdit decides whether a content change can only have touched
// whitespace or commentary: both the text it removed and the text it
// inserted must be blank, or a single well-formed block comment.
func isPassiveEdit(removed, inserted string) bool {
	return isBlankOrComment(removed) && isBlankOrComment(inserted)
}

func isBlankOrComment(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return true
	}
	if !strings.HasPrefix(s, "(*") || !strings.HasSuffix(s, "*)") || len(s) < 4 {
		return false
	}
	inner := s[2 : len(s)-2]
	return !strings.Contains(inner, "(*") && !strings.Contains(inner, "*)")
}
