package gateway

import (
	"sync"
	"time"

	"github.com/SimplyPrint/card-gateway/internal/driver"
)

const (
	HistoryCapacity        = 50
	TransactionLogCapacity = 100
)

// boundedList is a newest-first list that never grows past capacity.
type boundedList[T any] struct {
	mu       sync.RWMutex
	items    []T
	capacity int
}

// prepend puts each item at the front in the order given, so the last item
// ends up first, then trims the tail back to capacity.
func (l *boundedList[T]) prepend(items ...T) {
	if len(items) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(items) + len(l.items)
	if n > l.capacity {
		n = l.capacity
	}
	next := make([]T, 0, n)
	for i := len(items) - 1; i >= 0 && len(next) < n; i-- {
		next = append(next, items[i])
	}
	for _, it := range l.items {
		if len(next) == n {
			break
		}
		next = append(next, it)
	}
	l.items = next
}

func (l *boundedList[T]) list() []T {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]T, len(l.items))
	copy(out, l.items)
	return out
}

func (l *boundedList[T]) clear() {
	l.mu.Lock()
	l.items = nil
	l.mu.Unlock()
}

func (l *boundedList[T]) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.items)
}

// HistoryRecord is one successful UID read.
type HistoryRecord struct {
	UID       string    `json:"uid"`
	Timestamp time.Time `json:"timestamp"`
	Reader    string    `json:"reader"`
}

// HistoryStore keeps the most recent successful UID reads.
type HistoryStore struct {
	list boundedList[HistoryRecord]
}

func NewHistoryStore() *HistoryStore {
	return &HistoryStore{list: boundedList[HistoryRecord]{capacity: HistoryCapacity}}
}

// Add records a read, evicting the oldest record when full.
func (h *HistoryStore) Add(rec HistoryRecord) {
	h.list.prepend(rec)
}

// List returns the records newest first.
func (h *HistoryStore) List() []HistoryRecord {
	return h.list.list()
}

func (h *HistoryStore) Clear() {
	h.list.clear()
}

func (h *HistoryStore) Len() int {
	return h.list.len()
}

// LogEntry is one APDU exchange in a transaction log. Index and Total place it
// within the operation that produced it (1-based).
type LogEntry struct {
	Timestamp time.Time         `json:"timestamp"`
	Operation string            `json:"operation"`
	Index     int               `json:"index"`
	Total     int               `json:"total"`
	Trace     driver.TraceEntry `json:"trace"`
}

// TransactionLog holds flattened APDU traces, newest first.
type TransactionLog struct {
	list boundedList[LogEntry]
}

func NewTransactionLog() *TransactionLog {
	return &TransactionLog{list: boundedList[LogEntry]{capacity: TransactionLogCapacity}}
}

// AppendBatch logs one operation's trace. Entries are prepended one at a time
// in trace order, so afterwards the log starts with the batch's last exchange.
func (t *TransactionLog) AppendBatch(operation string, trace []driver.TraceEntry, at time.Time) {
	entries := make([]LogEntry, len(trace))
	for i, e := range trace {
		entries[i] = LogEntry{
			Timestamp: at,
			Operation: operation,
			Index:     i + 1,
			Total:     len(trace),
			Trace:     e,
		}
	}
	t.list.prepend(entries...)
}

func (t *TransactionLog) Entries() []LogEntry {
	return t.list.list()
}

func (t *TransactionLog) Clear() {
	t.list.clear()
}

func (t *TransactionLog) Len() int {
	return t.list.len()
}
