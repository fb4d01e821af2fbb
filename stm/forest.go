package stm

import "github.com/proofls/proofls/buffer"

// forest is the sentence arena plus the active spine and the state_id
// index used for event routing. It intentionally has no pointer
// cycles: parent links are indices into sentences, and the spine is a
// plain slice of indices that can be truncated in one slice operation.
type forest struct {
	sentences []Sentence
	spine     []SentenceID
	byState   map[string]SentenceID
}

func newForest() *forest {
	return &forest{byState: make(map[string]SentenceID)}
}

// append creates a new sentence on top of parent and pushes it onto the
// spine. It does not yet have a StateID — callers set that once the
// prover acknowledges the add.
func (f *forest) append(parent SentenceID, text string, rng buffer.Range, endOffset int) SentenceID {
	id := SentenceID(len(f.sentences))
	f.sentences = append(f.sentences, Sentence{
		ID:        id,
		Range:     rng,
		EndOffset: endOffset,
		Text:      text,
		Status:    Parsed,
		Parent:    parent,
	})
	f.spine = append(f.spine, id)
	return id
}

func (f *forest) get(id SentenceID) *Sentence {
	if id < 0 || int(id) >= len(f.sentences) {
		return nil
	}
	return &f.sentences[id]
}

// tip returns the last sentence on the spine, or nil if the spine is
// empty (the document has no executed sentences yet).
func (f *forest) tip() *Sentence {
	if len(f.spine) == 0 {
		return nil
	}
	return f.get(f.spine[len(f.spine)-1])
}

// tipStateID returns the tip's state id, or rootStateID if the spine is
// empty.
func (f *forest) tipStateID(rootStateID string) string {
	if t := f.tip(); t != nil {
		return t.StateID
	}
	return rootStateID
}

// focus returns the position new commands are appended from: the tip's
// range end, or origin if the spine is empty.
func (f *forest) focus() buffer.Position {
	if t := f.tip(); t != nil {
		return t.Range.End
	}
	return buffer.Position{}
}

// focusOffset is focus expressed as a document byte offset, fed to the
// next CommandIterator call.
func (f *forest) focusOffset() int {
	if t := f.tip(); t != nil {
		return t.EndOffset
	}
	return 0
}

// indexByStateID finds where stateID sits on the current spine.
func (f *forest) indexByStateID(stateID string) (int, bool) {
	for i, id := range f.spine {
		if s := f.get(id); s != nil && s.StateID == stateID {
			return i, true
		}
	}
	return -1, false
}

// truncateTo keeps spine[:keepLen] active and marks every discarded
// sentence Cleared, removing it from the state_id index so that
// late-arriving prover events for it are dropped silently.
func (f *forest) truncateTo(keepLen int) []SentenceID {
	if keepLen >= len(f.spine) {
		return nil
	}
	removed := append([]SentenceID(nil), f.spine[keepLen:]...)
	for _, id := range removed {
		s := f.get(id)
		s.Status = Cleared
		if s.StateID != "" {
			delete(f.byState, s.StateID)
		}
	}
	f.spine = f.spine[:keepLen]
	return removed
}

// bindState records that a sentence was acknowledged by the prover
// under stateID, making future events for it routable.
func (f *forest) bindState(id SentenceID, stateID string) {
	s := f.get(id)
	s.StateID = stateID
	f.byState[stateID] = id
}

// byStateIDLookup routes a prover event to its sentence, if it is still on
// the spine (events for cleared or never-added sentences are dropped).
func (f *forest) byStateIDLookup(stateID string) (*Sentence, bool) {
	id, ok := f.byState[stateID]
	if !ok {
		return nil, false
	}
	return f.get(id), true
}

// errorSet returns the union of sentence errors on the current spine,
// in spine order — exactly what the controller forwards as diagnostics.
func (f *forest) errorSet() []Diagnostic {
	var diags []Diagnostic
	for _, id := range f.spine {
		s := f.get(id)
		for _, e := range s.Errors {
			diags = append(diags, Diagnostic{Range: e.SubRange, Message: e.Message})
		}
	}
	return diags
}
