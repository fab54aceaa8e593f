package storage

import (
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
)

// PebbleJournal stores journal entries in a Pebble database, one key per
// message. Sequence numbers continue across reopen.
type PebbleJournal struct {
	mu     sync.Mutex
	db     *pebble.DB
	seq    uint64
	closed bool
}

func NewPebbleJournal(path string) (*PebbleJournal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	j := &PebbleJournal{db: db}
	last, err := j.lastSeq()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("journal open: %w", err)
	}
	j.seq = last
	return j, nil
}

func (j *PebbleJournal) lastSeq() (uint64, error) {
	prefix := []byte(prefixMessage)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return 0, err
	}
	defer iter.Close()
	if !iter.Last() {
		return 0, nil
	}
	return parseMessageKey(iter.Key())
}

func (j *PebbleJournal) Append(e Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrJournalClosed
	}
	e.Seq = j.seq + 1
	val, err := encodeGob(e)
	if err != nil {
		return 0, fmt.Errorf("encode entry: %w", err)
	}
	if err := j.db.Set(messageKey(e.Seq), val, pebble.Sync); err != nil {
		return 0, fmt.Errorf("journal append: %w", err)
	}
	j.seq = e.Seq
	return e.Seq, nil
}

// Get returns the entry with the given sequence number.
func (j *PebbleJournal) Get(seq uint64) (Entry, bool, error) {
	val, closer, err := j.db.Get(messageKey(seq))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	defer closer.Close()
	var out Entry
	if err := decodeGob(val, &out); err != nil {
		return Entry{}, false, fmt.Errorf("decode entry %d: %w", seq, err)
	}
	return out, true, nil
}

func (j *PebbleJournal) Recent(limit int) ([]Entry, error) {
	prefix := []byte(prefixMessage)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []Entry
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var e Entry
		if err := decodeGob(iter.Value(), &e); err != nil {
			continue // Skip invalid entries
		}
		out = append(out, e)
	}
	return out, nil
}

// Seq returns the sequence number of the last appended entry.
func (j *PebbleJournal) Seq() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

func (j *PebbleJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.db.Close()
}
