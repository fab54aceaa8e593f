package client

import (
	"errors"

	"github.com/uhyunpark/fixledger/pkg/app/core/ledger"
)

var ErrInvalidHooks = errors.New("invalid reconciliation hooks")

// Reconciler is the trading book surface the dispatcher mutates.
// *book.TradingBook satisfies it.
type Reconciler interface {
	LogTransaction(tx ledger.Transaction) error
	EraseTransaction(tx ledger.Transaction) error
	UpdateTransaction(tx ledger.Transaction) error
}

// Hooks adapts three plain functions into a Reconciler.
type Hooks struct {
	Add    func(ledger.Transaction) error
	Remove func(ledger.Transaction) error
	Update func(ledger.Transaction) error
}

// Validate reports which hooks are missing.
func (h Hooks) Validate() error {
	var missing []error
	if h.Add == nil {
		missing = append(missing, errors.New("add hook missing"))
	}
	if h.Remove == nil {
		missing = append(missing, errors.New("remove hook missing"))
	}
	if h.Update == nil {
		missing = append(missing, errors.New("update hook missing"))
	}
	if len(missing) > 0 {
		return errors.Join(append([]error{ErrInvalidHooks}, missing...)...)
	}
	return nil
}

func (h Hooks) LogTransaction(tx ledger.Transaction) error    { return h.Add(tx) }
func (h Hooks) EraseTransaction(tx ledger.Transaction) error  { return h.Remove(tx) }
func (h Hooks) UpdateTransaction(tx ledger.Transaction) error { return h.Update(tx) }

var _ Reconciler = Hooks{}
