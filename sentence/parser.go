// Package sentence delimits proof-script sentences inside a text slice.
// The parser is stateless across calls: every call sees only the bytes
// handed to it and never looks past the end of its input.
package sentence

// OutcomeKind discriminates a ParseOutcome.
type OutcomeKind int

const (
	// Complete means bytes were consumed up to and including a terminator.
	Complete OutcomeKind = iota
	// Incomplete means the input ends inside a sentence, with no terminator.
	Incomplete
	// Empty means only whitespace/comments ran to the end of input.
	Empty
)

// ParseOutcome is the result of parsing the next sentence out of a
// suffix of the document.
type ParseOutcome struct {
	Kind   OutcomeKind
	Length int // valid when Kind == Complete: bytes consumed, terminator included
}

type scanState int

const (
	stateTop scanState = iota
	stateString
	stateLineComment // unused: this grammar has no line comments, kept for symmetry with block state machine
	stateBackquote
)

// Parse delimits the next sentence at the start of text. text must begin
// at the intended sentence origin (callers trim already-consumed bytes
// before calling).
func Parse(text string) ParseOutcome {
	i := 0
	n := len(text)

	// Skip leading whitespace and comments; if that consumes everything,
	// the outcome is Empty.
	i = skipBlank(text, i)
	if i >= n {
		return ParseOutcome{Kind: Empty}
	}

	// Braces are one-character sentences on their own; a bullet (a run of
	// one of '-', '+', '*') is likewise a sentence on its own.
	if b := text[i]; b == '{' || b == '}' {
		return ParseOutcome{Kind: Complete, Length: i + 1}
	}
	if b := text[i]; b == '-' || b == '+' || b == '*' {
		j := i
		for j < n && text[j] == b {
			j++
		}
		return ParseOutcome{Kind: Complete, Length: j}
	}

	depth := 0 // block comment nesting
	state := stateTop

	for i < n {
		c := text[i]

		switch state {
		case stateString:
			if c == '"' {
				if i+1 < n && text[i+1] == '"' {
					i += 2
					continue
				}
				state = stateTop
			}
			i++
			continue

		case stateBackquote:
			if c == '`' {
				state = stateTop
			}
			i++
			continue
		}

		// state == stateTop here.
		if depth > 0 {
			if c == '(' && i+1 < n && text[i+1] == '*' {
				depth++
				i += 2
				continue
			}
			if c == '*' && i+1 < n && text[i+1] == ')' {
				depth--
				i += 2
				continue
			}
			i++
			continue
		}

		switch {
		case c == '(' && i+1 < n && text[i+1] == '*':
			depth = 1
			i += 2
			continue
		case c == '"':
			state = stateString
			i++
			continue
		case c == '`':
			state = stateBackquote
			i++
			continue
		case c == '.':
			termLen := 1
			if i+2 < n && text[i+1] == '.' && text[i+2] == '.' {
				termLen = 3
			}
			end := i + termLen
			if end >= n || isTerminatorFollower(text[end]) {
				return ParseOutcome{Kind: Complete, Length: end}
			}
			i = end
			continue
		default:
			i++
		}
	}

	// Ran out of input without a terminator: either we never saw a
	// non-blank byte (handled above) or we're mid-sentence.
	return ParseOutcome{Kind: Incomplete}
}

func isTerminatorFollower(b byte) bool {
	switch b {
	case ' ', '\t', '\r', '\n', '\v', '\f':
		return true
	default:
		return false
	}
}

// skipBlank advances past whitespace and block comments, returning the
// index of the first byte that is neither. A malformed (unterminated)
// comment is treated as consuming to the end of input.
func skipBlank(text string, i int) int {
	n := len(text)
	for i < n {
		c := text[i]
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\v' || c == '\f':
			i++
		case c == '(' && i+1 < n && text[i+1] == '*':
			depth := 1
			i += 2
			for i < n && depth > 0 {
				if text[i] == '(' && i+1 < n && text[i+1] == '*' {
					depth++
					i += 2
				} else if text[i] == '*' && i+1 < n && text[i+1] == ')' {
					depth--
					i += 2
				} else {
					i++
				}
			}
		default:
			return i
		}
	}
	return i
}
