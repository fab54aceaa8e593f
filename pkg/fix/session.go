package fix

import (
	"errors"
	"fmt"

	"github.com/quickfixgo/quickfix"
)

// ErrSessionNotFound is returned when the target session is not currently
// established. Callers may retry later; nothing is queued.
var ErrSessionNotFound = errors.New("fix session not found")

// NewSessionID names a FIX.4.2 session between two comp ids.
func NewSessionID(sender, target string) quickfix.SessionID {
	return quickfix.SessionID{
		BeginString:  quickfix.BeginStringFIX42,
		SenderCompID: sender,
		TargetCompID: target,
	}
}

// Transmitter sends an application message on an established session.
// Implementations must not deliver inbound messages synchronously from
// inside Send.
type Transmitter interface {
	Send(msg *quickfix.Message, session quickfix.SessionID) error
}

// Engine transmits through the sessions registered by a quickfix
// initiator or acceptor in this process.
type Engine struct{}

func (Engine) Send(msg *quickfix.Message, session quickfix.SessionID) error {
	if err := quickfix.SendToTarget(msg, session); err != nil {
		return fmt.Errorf("send to %s: %w", session, err)
	}
	return nil
}
