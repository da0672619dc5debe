package strategy

import (
	"sort"
	"sync"
)

// SessionLog remembers which symbols already produced a signal this session
// and keeps the emitted signals for reporting.
type SessionLog struct {
	mu       sync.Mutex
	signaled map[string]struct{}
	signals  []Signal
}

func NewSessionLog() *SessionLog {
	return &SessionLog{signaled: make(map[string]struct{})}
}

// MarkIfNew reports whether symbol had not been signaled yet, and marks it.
func (l *SessionLog) MarkIfNew(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.signaled[symbol]; ok {
		return false
	}
	l.signaled[symbol] = struct{}{}
	return true
}

// Signaled reports whether symbol is already marked.
func (l *SessionLog) Signaled(symbol string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.signaled[symbol]
	return ok
}

// Reset lets symbol signal again.
func (l *SessionLog) Reset(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.signaled, symbol)
}

// Clear forgets all marks and recorded signals.
func (l *SessionLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signaled = make(map[string]struct{})
	l.signals = nil
}

func (l *SessionLog) Record(s Signal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.signals = append(l.signals, s)
}

func (l *SessionLog) Signals() []Signal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Signal(nil), l.signals...)
}

func (l *SessionLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.signals)
}

// Symbols returns the marked symbols, sorted.
func (l *SessionLog) Symbols() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.signaled))
	for s := range l.signaled {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
