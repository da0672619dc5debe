package order

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

// Journal is an append-only JSON-lines log of registrations and broker
// events. Replaying it into a fresh Tracker rebuilds the session after a
// restart; the tracker's idempotence makes repeated replays harmless.
type Journal struct {
	mu      sync.Mutex
	path    string
	file    *os.File
	written atomic.Uint64
	closed  bool
}

type journalEntry struct {
	Kind   string       `json:"kind"` // order, update, deal
	At     time.Time    `json:"at"`
	Order  *Order       `json:"order,omitempty"`
	Update *OrderUpdate `json:"update,omitempty"`
	Deal   *Deal        `json:"deal,omitempty"`
}

// OpenJournal opens (or creates) the journal at path.
func OpenJournal(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	return &Journal{path: path, file: f}, nil
}

func (j *Journal) Path() string { return j.path }

// Written returns the number of entries appended since open.
func (j *Journal) Written() uint64 { return j.written.Load() }

func (j *Journal) AppendOrder(o Order) error {
	return j.append(journalEntry{Kind: "order", At: time.Now(), Order: &o})
}

func (j *Journal) AppendEvent(ev Event) error {
	switch v := ev.(type) {
	case OrderUpdate:
		return j.append(journalEntry{Kind: "update", At: time.Now(), Update: &v})
	case Deal:
		return j.append(journalEntry{Kind: "deal", At: time.Now(), Deal: &v})
	}
	return fmt.Errorf("journal: unsupported event %T", ev)
}

func (j *Journal) append(e journalEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("journal marshal: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("journal closed")
	}
	if _, err := j.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("journal write: %w", err)
	}
	j.written.Add(1)
	return nil
}

// Close flushes the file to disk and closes it.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.file.Sync(); err != nil {
		j.file.Close()
		return err
	}
	return j.file.Close()
}

// Replay feeds every journaled entry at path into t and returns how many
// were applied. A missing file is not an error. Unparseable lines are
// skipped.
func Replay(path string, t *Tracker) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("open journal for replay: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	n := 0
	for scanner.Scan() {
		var e journalEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			log.Warnf("journal: skipping unparseable line: %v", err)
			continue
		}
		switch {
		case e.Order != nil:
			if err := t.Register(*e.Order); err != nil {
				log.Debugf("journal: replay register: %v", err)
			}
		case e.Update != nil:
			t.OnOrderEvent(*e.Update)
		case e.Deal != nil:
			t.OnDealEvent(*e.Deal)
		default:
			continue
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("journal scan: %w", err)
	}
	if n > 0 {
		log.Infof("journal: replayed %d entries from %s", n, path)
	}
	return n, nil
}
