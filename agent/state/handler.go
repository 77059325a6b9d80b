package state

import (
	"fmt"
	"strings"
)

// HandlerID names one of the domain handlers that can own a conversation turn.
type HandlerID string

const (
	HandlerGeneral    HandlerID = "general"
	HandlerEducation  HandlerID = "education"
	HandlerLab        HandlerID = "lab"
	HandlerIndustrial HandlerID = "industrial"
)

// DefaultHandler is returned whenever the routing stack has nothing to offer.
const DefaultHandler = HandlerGeneral

// AllHandlers lists every known handler in routing-label order.
var AllHandlers = []HandlerID{
	HandlerGeneral,
	HandlerEducation,
	HandlerLab,
	HandlerIndustrial,
}

func (h HandlerID) Valid() bool {
	switch h {
	case HandlerGeneral, HandlerEducation, HandlerLab, HandlerIndustrial:
		return true
	default:
		return false
	}
}

// Label is the upper-case routing label the models are asked to produce.
func (h HandlerID) Label() string {
	return strings.ToUpper(string(h))
}

// ParseHandlerID accepts routing labels ("LAB"), ids ("lab") and the legacy
// "<id>_agent_node" form.
func ParseHandlerID(raw string) (HandlerID, bool) {
	v := strings.ToLower(strings.TrimSpace(raw))
	v = strings.TrimSuffix(v, "_agent_node")
	v = strings.TrimPrefix(v, "toagent")
	h := HandlerID(v)
	if !h.Valid() {
		return "", false
	}
	return h, true
}

/* ------------------------------- Stack ops ------------------------------- */

type StackOpKind uint8

const (
	StackNoOp StackOpKind = iota
	StackPush
	StackPop
)

func (k StackOpKind) String() string {
	switch k {
	case StackPush:
		return "push"
	case StackPop:
		return "pop"
	default:
		return "noop"
	}
}

// StackOp is the only way the routing stack changes.
type StackOp struct {
	Kind    StackOpKind
	Handler HandlerID
}

func PushOp(h HandlerID) StackOp { return StackOp{Kind: StackPush, Handler: h} }
func PopOp() StackOp             { return StackOp{Kind: StackPop} }
func NoOp() StackOp              { return StackOp{Kind: StackNoOp} }

func (op StackOp) String() string {
	if op.Kind == StackPush {
		return fmt.Sprintf("push(%s)", op.Handler)
	}
	return op.Kind.String()
}
