package fix

import (
	"sort"

	"github.com/quickfixgo/enum"
	"github.com/quickfixgo/quickfix"
)

// MsgType values (tag 35) the client sends or understands.
type MsgType string

const (
	MsgTypeHeartbeat          = MsgType(enum.MsgType_HEARTBEAT)
	MsgTypeReject             = MsgType(enum.MsgType_REJECT)
	MsgTypeLogout             = MsgType(enum.MsgType_LOGOUT)
	MsgTypeExecutionReport    = MsgType(enum.MsgType_EXECUTION_REPORT)
	MsgTypeOrderCancelReject  = MsgType(enum.MsgType_ORDER_CANCEL_REJECT)
	MsgTypeLogon              = MsgType(enum.MsgType_LOGON)
	MsgTypeNewOrderSingle     = MsgType(enum.MsgType_ORDER_SINGLE)
	MsgTypeOrderCancelRequest = MsgType(enum.MsgType_ORDER_CANCEL_REQUEST)
)

func (m MsgType) String() string {
	switch m {
	case MsgTypeHeartbeat:
		return "Heartbeat"
	case MsgTypeReject:
		return "Reject"
	case MsgTypeLogout:
		return "Logout"
	case MsgTypeExecutionReport:
		return "ExecutionReport"
	case MsgTypeOrderCancelReject:
		return "OrderCancelReject"
	case MsgTypeLogon:
		return "Logon"
	case MsgTypeNewOrderSingle:
		return "NewOrderSingle"
	case MsgTypeOrderCancelRequest:
		return "OrderCancelRequest"
	default:
		return "MsgType(" + string(m) + ")"
	}
}

// OrdStatus values (tag 39).
type OrdStatus string

const (
	OrdStatusNew             = OrdStatus(enum.OrdStatus_NEW)
	OrdStatusPartiallyFilled = OrdStatus(enum.OrdStatus_PARTIALLY_FILLED)
	OrdStatusFilled          = OrdStatus(enum.OrdStatus_FILLED)
	OrdStatusCanceled        = OrdStatus(enum.OrdStatus_CANCELED)
	OrdStatusPendingCancel   = OrdStatus(enum.OrdStatus_PENDING_CANCEL)
	OrdStatusRejected        = OrdStatus(enum.OrdStatus_REJECTED)
	OrdStatusPendingNew      = OrdStatus(enum.OrdStatus_PENDING_NEW)
)

func (s OrdStatus) String() string {
	switch s {
	case OrdStatusNew:
		return "new"
	case OrdStatusPartiallyFilled:
		return "partially_filled"
	case OrdStatusFilled:
		return "filled"
	case OrdStatusCanceled:
		return "canceled"
	case OrdStatusPendingCancel:
		return "pending_cancel"
	case OrdStatusRejected:
		return "rejected"
	case OrdStatusPendingNew:
		return "pending_new"
	case "":
		return "none"
	default:
		return "unknown(" + string(s) + ")"
	}
}

// Side values (tag 54).
type Side string

const (
	SideBuy       = Side(enum.Side_BUY)
	SideSell      = Side(enum.Side_SELL)
	SideSellShort = Side(enum.Side_SELL_SHORT)
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	case SideSellShort:
		return "sell_short"
	default:
		return "unknown(" + string(s) + ")"
	}
}

// ParseSide accepts either the wire value or the lowercase name.
func ParseSide(v string) (Side, bool) {
	switch v {
	case string(SideBuy), "buy":
		return SideBuy, true
	case string(SideSell), "sell":
		return SideSell, true
	case string(SideSellShort), "sell_short":
		return SideSellShort, true
	}
	return "", false
}

// OrdType values (tag 40).
type OrdType string

const (
	OrdTypeMarket = OrdType(enum.OrdType_MARKET)
	OrdTypeLimit  = OrdType(enum.OrdType_LIMIT)
)

func (t OrdType) String() string {
	switch t {
	case OrdTypeMarket:
		return "market"
	case OrdTypeLimit:
		return "limit"
	default:
		return "unknown(" + string(t) + ")"
	}
}

// ParseOrdType accepts either the wire value or the lowercase name.
func ParseOrdType(v string) (OrdType, bool) {
	switch v {
	case string(OrdTypeMarket), "market":
		return OrdTypeMarket, true
	case string(OrdTypeLimit), "limit":
		return OrdTypeLimit, true
	}
	return "", false
}

// SecurityType values (tag 167).
type SecurityType string

const SecurityTypeCommonStock = SecurityType(enum.SecurityType_COMMON_STOCK)

const (
	TimeInForceGoodTillCancel = string(enum.TimeInForce_GOOD_TILL_CANCEL)
	HandlInstAutomatedPrivate = string(enum.HandlInst_AUTOMATED_EXECUTION_ORDER_PRIVATE_NO_BROKER_INTERVENTION)
)

// FieldMap is an unordered tag->value set supplied by callers, e.g. the
// fields identifying an order to cancel.
type FieldMap map[quickfix.Tag]string

// Tags returns the keys in ascending order.
func (fm FieldMap) Tags() []quickfix.Tag {
	tags := make([]quickfix.Tag, 0, len(fm))
	for t := range fm {
		tags = append(tags, t)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
	return tags
}
