package storage

import (
	"fmt"
	"os"
	"sync"
)

// recentCap bounds the in-memory tail kept by FileJournal for Recent.
const recentCap = 1024

// FileJournal appends one line per message to a text file.
type FileJournal struct {
	mu     sync.Mutex
	f      *os.File
	seq    uint64
	recent []Entry
	closed bool
}

func NewFileJournal(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{f: f}, nil
}

func (j *FileJournal) Append(e Entry) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, ErrJournalClosed
	}
	j.seq++
	e.Seq = j.seq
	if _, err := fmt.Fprintf(j.f, "%d %s %s %s %s\n",
		e.Seq, e.Time.UTC().Format("20060102-15:04:05.000000"), e.Direction, e.Session, e.Text); err != nil {
		return 0, fmt.Errorf("journal append: %w", err)
	}
	j.recent = append(j.recent, e)
	if len(j.recent) > recentCap {
		j.recent = j.recent[len(j.recent)-recentCap:]
	}
	return e.Seq, nil
}

func (j *FileJournal) Recent(limit int) ([]Entry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Entry, 0, min(limit, len(j.recent)))
	for i := len(j.recent) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, j.recent[i])
	}
	return out, nil
}

func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	return j.f.Close()
}
