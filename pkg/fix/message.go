package fix

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quickfixgo/quickfix"
	"github.com/quickfixgo/tag"
	"github.com/shopspring/decimal"
)

const (
	// SOH is the native FIX field separator.
	SOH = "\x01"
	// DebugDelimiter replaces SOH in anything that gets logged.
	DebugDelimiter = "|"

	// TimestampLayout is UTCTimestamp with millisecond precision.
	TimestampLayout = "20060102-15:04:05.000"
)

// ErrReservedTag is returned by SetFields for tags owned by the session
// layer or by the message builder.
var ErrReservedTag = errors.New("reserved fix tag")

// sessionTags are written by the engine and never taken from callers.
var sessionTags = map[quickfix.Tag]bool{
	tag.BeginString:      true,
	tag.BodyLength:       true,
	tag.MsgType:          true,
	tag.MsgSeqNum:        true,
	tag.SenderCompID:     true,
	tag.TargetCompID:     true,
	tag.SendingTime:      true,
	tag.PossDupFlag:      true,
	tag.PossResend:       true,
	tag.OrigSendingTime:  true,
	tag.CheckSum:         true,
	tag.SenderSubID:      true,
	tag.TargetSubID:      true,
	tag.OnBehalfOfCompID: true,
	tag.DeliverToCompID:  true,
}

// NewMessage starts a FIX.4.2 message with BeginString and MsgType set.
func NewMessage(mt MsgType) *quickfix.Message {
	m := quickfix.NewMessage()
	m.Header.SetString(tag.BeginString, quickfix.BeginStringFIX42)
	m.Header.SetString(tag.MsgType, string(mt))
	return m
}

// TypeOf returns the MsgType of m, empty when the header has none.
func TypeOf(m *quickfix.Message) MsgType {
	v, err := m.MsgType()
	if err != nil {
		return ""
	}
	return MsgType(v)
}

// lookup finds the section holding t, body first.
func lookup(m *quickfix.Message, t quickfix.Tag) (*quickfix.FieldMap, bool) {
	switch {
	case m.Body.Has(t):
		return &m.Body.FieldMap, true
	case m.Header.Has(t):
		return &m.Header.FieldMap, true
	case m.Trailer.Has(t):
		return &m.Trailer.FieldMap, true
	}
	return nil, false
}

func Get(m *quickfix.Message, t quickfix.Tag) (string, bool) {
	fm, ok := lookup(m, t)
	if !ok {
		return "", false
	}
	v, err := fm.GetString(t)
	if err != nil {
		return "", false
	}
	return v, true
}

// GetOr returns the value of t or def when the tag is absent.
func GetOr(m *quickfix.Message, t quickfix.Tag, def string) string {
	if v, ok := Get(m, t); ok {
		return v
	}
	return def
}

func Has(m *quickfix.Message, t quickfix.Tag) bool {
	_, ok := lookup(m, t)
	return ok
}

// SetFields copies fm into the body. Session-level tags and any tag in
// reserved are refused and nothing is written.
func SetFields(m *quickfix.Message, fm FieldMap, reserved ...quickfix.Tag) error {
	for t := range fm {
		if sessionTags[t] {
			return fmt.Errorf("%w: %d", ErrReservedTag, t)
		}
		for _, r := range reserved {
			if t == r {
				return fmt.Errorf("%w: %d", ErrReservedTag, t)
			}
		}
	}
	for _, t := range fm.Tags() {
		m.Body.SetString(t, fm[t])
	}
	return nil
}

// SetDecimal writes d with its own scale.
func SetDecimal(m *quickfix.Message, t quickfix.Tag, d decimal.Decimal) {
	m.Body.SetString(t, d.String())
}

// Decimal reads a numeric tag, zero when absent. A malformed value yields
// the engine's reject for that tag.
func Decimal(m *quickfix.Message, t quickfix.Tag) (decimal.Decimal, error) {
	fm, ok := lookup(m, t)
	if !ok {
		return decimal.Zero, nil
	}
	var v quickfix.FIXDecimal
	if rej := fm.GetField(t, &v); rej != nil {
		return decimal.Zero, rej
	}
	return v.Decimal, nil
}

func SetTime(m *quickfix.Message, t quickfix.Tag, ts time.Time) {
	m.Body.SetField(t, &quickfix.FIXUTCTimestamp{Time: ts.UTC(), Precision: quickfix.Millis})
}

// Time reads a UTCTimestamp tag from any section.
func Time(m *quickfix.Message, t quickfix.Tag) (time.Time, error) {
	fm, ok := lookup(m, t)
	if !ok {
		return time.Time{}, quickfix.RequiredTagMissing(t)
	}
	var v quickfix.FIXUTCTimestamp
	if rej := fm.GetField(t, &v); rej != nil {
		return time.Time{}, rej
	}
	return v.Time, nil
}

// Debug renders m with SOH replaced by "|". Rendering stamps BodyLength
// and CheckSum, so call it from the goroutine that owns m.
func Debug(m *quickfix.Message) string {
	return Normalize(m.String())
}

// Normalize replaces the non-printable field separator with "|".
func Normalize(raw string) string {
	return strings.ReplaceAll(raw, SOH, DebugDelimiter)
}

// ParseMessage reads a complete SOH or "|" delimited message. BodyLength
// must match, as on the wire.
func ParseMessage(text string) (*quickfix.Message, error) {
	raw := strings.ReplaceAll(text, DebugDelimiter, SOH)
	m := quickfix.NewMessage()
	if err := quickfix.ParseMessage(m, bytes.NewBufferString(raw)); err != nil {
		return nil, fmt.Errorf("parse fix message: %w", err)
	}
	return m, nil
}

// FormatUTCTimestamp renders t as YYYYMMDD-HH:MM:SS.mmm in UTC.
func FormatUTCTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}
