package fix

import (
	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
)

// Kind is the coarse class of an inbound application message.
type Kind int

const (
	KindUnhandled Kind = iota
	KindExecutionReport
	KindReject
	KindOrderCancelReject
)

func (k Kind) String() string {
	switch k {
	case KindExecutionReport:
		return "execution_report"
	case KindReject:
		return "reject"
	case KindOrderCancelReject:
		return "order_cancel_reject"
	default:
		return "unhandled"
	}
}

// Action is what the reconciliation layer must do with a message.
type Action int

const (
	// ActionUnhandled: unknown message type or order status, no mutation.
	ActionUnhandled Action = iota
	// ActionUpdate: update the open order only.
	ActionUpdate
	// ActionPartialFill: record the fill, then update the open order.
	ActionPartialFill
	// ActionFill: record the fill, then close the order.
	ActionFill
	// ActionRemove: close the order without a fill (rejected or canceled).
	ActionRemove
	// ActionLogReject: session-level reject, logged only.
	ActionLogReject
	// ActionLogCancelReject: cancel request refused, logged only.
	ActionLogCancelReject
)

func (a Action) String() string {
	switch a {
	case ActionUpdate:
		return "update"
	case ActionPartialFill:
		return "partial_fill"
	case ActionFill:
		return "fill"
	case ActionRemove:
		return "remove"
	case ActionLogReject:
		return "log_reject"
	case ActionLogCancelReject:
		return "log_cancel_reject"
	default:
		return "unhandled"
	}
}

// Route is the classification of one inbound message.
type Route struct {
	Kind   Kind
	Status OrdStatus // only set for execution reports
	Action Action
}

// Classify maps an inbound message onto the reconciliation action table:
//
//	ExecutionReport New             -> update
//	ExecutionReport PartiallyFilled -> add trade, update order
//	ExecutionReport Filled          -> add trade, remove order
//	ExecutionReport Rejected        -> remove order
//	ExecutionReport Canceled        -> remove order
//	ExecutionReport other           -> unhandled
//	Reject                          -> log
//	OrderCancelReject               -> log
//	anything else                   -> unhandled
func Classify(msg *quickfix.Message) Route {
	switch TypeOf(msg) {
	case MsgTypeExecutionReport:
		status := OrdStatus(GetOr(msg, tag.OrdStatus, ""))
		return Route{Kind: KindExecutionReport, Status: status, Action: execReportAction(status)}
	case MsgTypeReject:
		return Route{Kind: KindReject, Action: ActionLogReject}
	case MsgTypeOrderCancelReject:
		return Route{Kind: KindOrderCancelReject, Action: ActionLogCancelReject}
	default:
		return Route{Kind: KindUnhandled, Action: ActionUnhandled}
	}
}

func execReportAction(status OrdStatus) Action {
	switch status {
	case OrdStatusNew:
		return ActionUpdate
	case OrdStatusPartiallyFilled:
		return ActionPartialFill
	case OrdStatusFilled:
		return ActionFill
	case OrdStatusRejected, OrdStatusCanceled:
		return ActionRemove
	default:
		return ActionUnhandled
	}
}
