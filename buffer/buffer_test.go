package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOffsetPositionRoundTrip(t *testing.T) {
	b := New("A. B. C.\nsecond line", 1)

	cases := []struct {
		offset int
		pos    Position
	}{
		{0, Position{0, 0}},
		{3, Position{0, 3}},
		{9, Position{1, 0}},
		{len("A. B. C.\nsecond line"), Position{1, len("second line")}},
	}
	for _, c := range cases {
		assert.Equal(t, c.pos, b.PositionAt(c.offset))
		assert.Equal(t, c.offset, b.OffsetAt(c.pos))
	}
}

func TestOffsetAtUTF16Surrogates(t *testing.T) {
	// U+1F600 (grinning face) is one rune but two UTF-16 code units.
	b := New("a\U0001F600b", 1)
	// "a" at char 0, emoji starts at char 1, "b" at char 3 (emoji = 2 units).
	assert.Equal(t, Position{0, 3}, b.PositionAt(len("a\U0001F600")))
	assert.Equal(t, len("a\U0001F600"), b.OffsetAt(Position{0, 3}))
}

func TestSlice(t *testing.T) {
	b := New("A. B. C.", 1)
	assert.Equal(t, "B.", b.Slice(Range{Position{0, 3}, Position{0, 5}}))
}

func TestApplyReverseOrderBatch(t *testing.T) {
	b := New("A. B. C.", 1)
	// Two non-overlapping changes supplied latest-position-first.
	changes := []Change{
		{Range: Range{Position{0, 6}, Position{0, 8}}, Text: "D."},
		{Range: Range{Position{0, 0}, Position{0, 2}}, Text: "X."},
	}
	deltas, err := b.Apply(changes, 2)
	require.NoError(t, err)
	assert.Equal(t, "X. B. D.", b.Text())
	assert.Equal(t, 2, b.Version())
	require.Len(t, deltas, 2)
}

func TestApplyFullDocument(t *testing.T) {
	b := New("old", 1)
	deltas, err := b.Apply([]Change{{FullDocument: true, Text: "new text"}}, 2)
	require.NoError(t, err)
	assert.Equal(t, "new text", b.Text())
	require.Len(t, deltas, 1)
}

func TestApplyStaleVersionRejected(t *testing.T) {
	b := New("A. B.", 5)
	_, err := b.Apply([]Change{{Range: Range{Position{0, 0}, Position{0, 1}}, Text: "X"}}, 5)
	assert.ErrorIs(t, err, ErrStaleEdit)
	assert.Equal(t, "A. B.", b.Text(), "buffer must be unmodified on rejection")

	_, err = b.Apply([]Change{{Range: Range{Position{0, 0}, Position{0, 1}}, Text: "X"}}, 3)
	assert.ErrorIs(t, err, ErrStaleEdit)
}

func TestRangeDeltaShiftOffset(t *testing.T) {
	d := RangeDelta{OldStart: 3, OldEnd: 5, NewEnd: 8, ByteDelta: 3}
	assert.Equal(t, 2, d.ShiftOffset(2), "before edit: unaffected")
	assert.Equal(t, 8, d.ShiftOffset(3), "at the edit's start: collapses to new end")
	assert.Equal(t, 8, d.ShiftOffset(4), "inside edit: collapses to new end")
	assert.Equal(t, 13, d.ShiftOffset(10), "after edit: shifted by delta")
}

func TestRangeDeltaShiftOffsetZeroWidthInsert(t *testing.T) {
	// A zero-width insert at offset 3 has OldStart == OldEnd == 3: an
	// offset sitting exactly at the insertion point is content that
	// follows it, so it must shift forward with everything else, not
	// stay pinned to the pre-edit position.
	d := RangeDelta{OldStart: 3, OldEnd: 3, NewEnd: 8, ByteDelta: 5}
	assert.Equal(t, 2, d.ShiftOffset(2), "before the insertion: unaffected")
	assert.Equal(t, 8, d.ShiftOffset(3), "at the insertion point: shifted past the inserted text")
	assert.Equal(t, 11, d.ShiftOffset(6), "after the insertion: shifted by delta")
}

func TestRangeOverlaps(t *testing.T) {
	a := Range{Position{0, 0}, Position{0, 5}}
	b2 := Range{Position{0, 3}, Position{0, 8}}
	c := Range{Position{0, 5}, Position{0, 9}}
	assert.True(t, a.Overlaps(b2))
	assert.False(t, a.Overlaps(c), "half-open ranges touching at a boundary do not overlap")
}
