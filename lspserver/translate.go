package lspserver

import (
	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/stm"
	protocol "github.com/tliron/glsp/protocol_3_16"
)

func toProtocolPosition(p buffer.Position) protocol.Position {
	return protocol.Position{Line: uint32(p.Line), Character: uint32(p.Character)}
}

func toBufferPosition(p protocol.Position) buffer.Position {
	return buffer.Position{Line: int(p.Line), Character: int(p.Character)}
}

func toProtocolRange(r buffer.Range) protocol.Range {
	return protocol.Range{Start: toProtocolPosition(r.Start), End: toProtocolPosition(r.End)}
}

func toBufferRange(r protocol.Range) buffer.Range {
	return buffer.Range{Start: toBufferPosition(r.Start), End: toBufferPosition(r.End)}
}

func commandResultKindString(kind stm.CommandResultKind) string {
	switch kind {
	case stm.ResultAdded:
		return "added"
	case stm.ResultFailure:
		return "failure"
	case stm.ResultInterrupted:
		return "interrupted"
	case stm.ResultEmpty:
		return "empty"
	case stm.ResultNotRunning:
		return "notRunning"
	case stm.ResultReset:
		return "reset"
	default:
		return "unknown"
	}
}

func goalResultKindString(kind stm.GoalResultKind) string {
	switch kind {
	case stm.GoalNotRunning:
		return "notRunning"
	case stm.GoalNoProof:
		return "noProof"
	case stm.GoalProofView:
		return "proofView"
	case stm.GoalFailure:
		return "failure"
	case stm.GoalInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// commandResultPayload is the wire shape of every proof/step* and
// proof/interpretTo* response — a tagged union mirroring stm.CommandResult.
type commandResultPayload struct {
	Kind       string           `json:"kind"`
	Focus      protocol.Position `json:"focus"`
	SentenceID int              `json:"sentenceId,omitempty"`
	Message    string           `json:"message,omitempty"`
	Range      *protocol.Range  `json:"range,omitempty"`
}

func toCommandResultPayload(res stm.CommandResult) commandResultPayload {
	p := commandResultPayload{
		Kind:       commandResultKindString(res.Kind),
		Focus:      toProtocolPosition(res.Focus),
		SentenceID: int(res.SentenceID),
	}
	if res.Failure != nil {
		p.Message = res.Failure.Message
		r := toProtocolRange(res.Failure.Range)
		p.Range = &r
	}
	return p
}

// goalResultPayload is the wire shape of a proof/goal response.
type goalResultPayload struct {
	Kind    string           `json:"kind"`
	Focus   protocol.Position `json:"focus"`
	Goals   string           `json:"goals,omitempty"`
	Message string           `json:"message,omitempty"`
	Range   *protocol.Range  `json:"range,omitempty"`
}

func toGoalResultPayload(res stm.GoalResult) goalResultPayload {
	p := goalResultPayload{
		Kind:    goalResultKindString(res.Kind),
		Focus:   toProtocolPosition(res.Focus),
		Goals:   res.Goals,
		Message: res.Message,
	}
	if res.Kind == stm.GoalFailure {
		r := toProtocolRange(res.Range)
		p.Range = &r
	}
	return p
}

// wireHighlightItem is one item of a proofState/highlights notification.
type wireHighlightItem struct {
	Range protocol.Range `json:"range"`
	Style string         `json:"style"`
}
