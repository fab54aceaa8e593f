package storage

import (
	"errors"
	"time"
)

// Direction of a journaled message relative to this client.
type Direction string

const (
	Inbound  Direction = "in"
	Outbound Direction = "out"
)

var ErrJournalClosed = errors.New("journal closed")

// Entry is one FIX message as seen on the wire. The journal is an audit
// trail only; nothing is ever rebuilt from it.
type Entry struct {
	Seq       uint64
	Time      time.Time
	Direction Direction
	Session   string
	MsgType   string
	Text      string // delimiter-normalized message text
}

// Journal records inbound and outbound messages in arrival order.
type Journal interface {
	Append(e Entry) (uint64, error)
	// Recent returns up to limit entries, newest first.
	Recent(limit int) ([]Entry, error)
	Close() error
}

type NopJournal struct{}

func NewNopJournal() *NopJournal                { return &NopJournal{} }
func (NopJournal) Append(Entry) (uint64, error) { return 0, nil }
func (NopJournal) Recent(int) ([]Entry, error)  { return nil, nil }
func (NopJournal) Close() error                 { return nil }

var (
	_ Journal = (*NopJournal)(nil)
	_ Journal = (*FileJournal)(nil)
	_ Journal = (*PebbleJournal)(nil)
)
