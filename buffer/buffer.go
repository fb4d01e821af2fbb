// Package buffer holds the authoritative mutable text of a single open
// document and the offset/position conversions the rest of the coordinator
// builds on.
package buffer

import (
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/proofls/proofls/errors"
)

// Position is a zero-based (line, character) location, with character
// measured in UTF-16 code units per the LSP convention.
type Position struct {
	Line      int
	Character int
}

// Less reports whether p sorts strictly before o.
func (p Position) Less(o Position) bool {
	if p.Line != o.Line {
		return p.Line < o.Line
	}
	return p.Character < o.Character
}

// Range is the half-open interval [Start, End).
type Range struct {
	Start Position
	End   Position
}

// Overlaps reports whether r and o share any position.
func (r Range) Overlaps(o Range) bool {
	return r.Start.Less(o.End) && o.Start.Less(r.End)
}

// Change is one content change in an Apply batch. A zero Range with
// FullDocument set replaces the entire buffer, mirroring the LSP
// TextDocumentContentChangeEvent union.
type Change struct {
	Range        Range
	Text         string
	FullDocument bool
}

// ErrStaleEdit is returned by Apply when newVersion does not strictly
// exceed the buffer's current version.
var ErrStaleEdit = errors.New("buffer: stale edit")

// TextBuffer is the authoritative mutable document text. It is not
// safe for concurrent use — the document controller is its sole owner
// and serializes access on its behalf.
type TextBuffer struct {
	text       string
	version    int
	lineStarts []int
}

// New constructs a TextBuffer seeded with the given text and version.
func New(text string, version int) *TextBuffer {
	b := &TextBuffer{text: text, version: version}
	b.reindex()
	return b
}

// Text returns the current full document text.
func (b *TextBuffer) Text() string {
	return b.text
}

// Version returns the current version counter.
func (b *TextBuffer) Version() int {
	return b.version
}

func (b *TextBuffer) reindex() {
	starts := []int{0}
	for i := 0; i < len(b.text); i++ {
		switch b.text[i] {
		case '\n':
			starts = append(starts, i+1)
		case '\r':
			if i+1 < len(b.text) && b.text[i+1] == '\n' {
				i++
			}
			starts = append(starts, i+1)
		}
	}
	b.lineStarts = starts
}

// OffsetAt converts a Position to a byte offset into Text(). Positions
// past the end of a line clamp to the line's length; a line beyond the
// last line clamps to len(Text()).
func (b *TextBuffer) OffsetAt(pos Position) int {
	if pos.Line < 0 {
		return 0
	}
	if pos.Line >= len(b.lineStarts) {
		return len(b.text)
	}
	lineStart := b.lineStarts[pos.Line]
	lineEnd := len(b.text)
	if pos.Line+1 < len(b.lineStarts) {
		lineEnd = b.lineStarts[pos.Line+1]
	}
	line := b.text[lineStart:stripEOL(b.text, lineStart, lineEnd)]

	if pos.Character <= 0 {
		return lineStart
	}
	units := utf16.Encode([]rune(line))
	if pos.Character >= len(units) {
		return lineStart + len(line)
	}
	// Walk runes, counting UTF-16 units, to find the byte offset.
	byteOff := 0
	unitCount := 0
	for _, r := range line {
		if unitCount >= pos.Character {
			break
		}
		byteOff += utf8Len(r)
		if r > 0xFFFF {
			unitCount += 2
		} else {
			unitCount++
		}
	}
	return lineStart + byteOff
}

func utf8Len(r rune) int {
	switch {
	case r < 0x80:
		return 1
	case r < 0x800:
		return 2
	case r < 0x10000:
		return 3
	default:
		return 4
	}
}

func stripEOL(text string, start, end int) int {
	if end > start && text[end-1] == '\n' {
		end--
		if end > start && text[end-1] == '\r' {
			end--
		}
	} else if end > start && text[end-1] == '\r' {
		end--
	}
	return end
}

// PositionAt converts a byte offset into Text() to a Position.
func (b *TextBuffer) PositionAt(offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(b.text) {
		offset = len(b.text)
	}
	line := sort.Search(len(b.lineStarts), func(i int) bool {
		return b.lineStarts[i] > offset
	}) - 1
	if line < 0 {
		line = 0
	}
	lineStart := b.lineStarts[line]
	character := len(utf16.Encode([]rune(b.text[lineStart:offset])))
	return Position{Line: line, Character: character}
}

// Slice returns the text within r.
func (b *TextBuffer) Slice(r Range) string {
	start := b.OffsetAt(r.Start)
	end := b.OffsetAt(r.End)
	if end < start {
		start, end = end, start
	}
	return b.text[start:end]
}

// Substr returns length bytes of text starting at the given byte offset,
// clamped to the buffer's bounds.
func (b *TextBuffer) Substr(offset, length int) string {
	if offset < 0 {
		offset = 0
	}
	if offset > len(b.text) {
		offset = len(b.text)
	}
	end := offset + length
	if end > len(b.text) {
		end = len(b.text)
	}
	return b.text[offset:end]
}

// RangeDelta describes how a single content change displaced the
// document, in byte terms, so that callers holding byte offsets derived
// before the edit can translate them to the post-edit buffer.
type RangeDelta struct {
	// OldStart/OldEnd are the byte offsets replaced, in the pre-edit buffer.
	OldStart, OldEnd int
	// NewEnd is the byte offset one past the inserted text, in the
	// post-edit buffer.
	NewEnd int
	// ByteDelta is NewEnd-OldEnd minus nothing — the signed shift to add to
	// any pre-edit offset that fell at or after OldEnd.
	ByteDelta int
}

// Apply applies changes — which must already be ordered latest-position
// first, i.e. reverse document order, exactly as LSP batches them — and
// advances the version counter to newVersion. It returns one RangeDelta
// per change in the same order applied. Apply fails with ErrStaleEdit
// if newVersion does not strictly exceed the current version, and the
// buffer is left unmodified.
func (b *TextBuffer) Apply(changes []Change, newVersion int) ([]RangeDelta, error) {
	if newVersion <= b.version {
		return nil, ErrStaleEdit
	}
	deltas := make([]RangeDelta, 0, len(changes))
	for _, c := range changes {
		if c.FullDocument {
			deltas = append(deltas, RangeDelta{OldStart: 0, OldEnd: len(b.text), NewEnd: len(c.Text), ByteDelta: len(c.Text) - len(b.text)})
			b.text = c.Text
			b.reindex()
			continue
		}
		start := b.OffsetAt(c.Range.Start)
		end := b.OffsetAt(c.Range.End)
		if end < start {
			start, end = end, start
		}
		var sb strings.Builder
		sb.Grow(len(b.text) - (end - start) + len(c.Text))
		sb.WriteString(b.text[:start])
		sb.WriteString(c.Text)
		sb.WriteString(b.text[end:])
		b.text = sb.String()
		b.reindex()
		deltas = append(deltas, RangeDelta{
			OldStart:  start,
			OldEnd:    end,
			NewEnd:    start + len(c.Text),
			ByteDelta: len(c.Text) - (end - start),
		})
	}
	b.version = newVersion
	return deltas, nil
}

// ShiftOffset translates a pre-edit byte offset through a RangeDelta: an
// offset strictly after the edited span moves by ByteDelta; an offset
// inside the edited span collapses to the edit's end; an offset before
// the span is unaffected.
func (d RangeDelta) ShiftOffset(offset int) int {
	switch {
	case offset < d.OldStart:
		return offset
	case offset >= d.OldEnd:
		return offset + d.ByteDelta
	default:
		return d.NewEnd
	}
}
