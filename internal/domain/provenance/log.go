// Package provenance keeps a bounded, per-instance record of evaluation
// events so reviewers can see which source produced each signal status.
package provenance

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/abstractor/internal/domain/signal"
)

// DefaultCapacity is used when a non-positive capacity is given.
const DefaultCapacity = 1000

// Entry is a recorded event.
type Entry struct {
	ID         uuid.UUID `json:"id"`
	RecordedAt time.Time `json:"recordedAt"`
	signal.Event
}

// Log is a signal.Observer that keeps the most recent events in a ring
// buffer and writes each one to the logger at debug level.
type Log struct {
	mu     sync.Mutex
	buf    []Entry
	next   int
	full   bool
	logger zerolog.Logger
	now    func() time.Time
}

func NewLog(capacity int, logger zerolog.Logger) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		buf:    make([]Entry, capacity),
		logger: logger.With().Str("component", "provenance").Logger(),
		now:    time.Now,
	}
}

func (l *Log) Observe(e signal.Event) {
	entry := Entry{ID: uuid.New(), RecordedAt: l.now().UTC(), Event: e}

	l.mu.Lock()
	l.buf[l.next] = entry
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	l.logger.Debug().
		Str("event_id", entry.ID.String()).
		Str("kind", string(e.Kind)).
		Str("report_id", e.ReportID).
		Str("module", e.ModuleID).
		Str("signal", e.SignalID).
		Str("group", e.Group).
		Str("status", string(e.Status)).
		Str("source", e.Source).
		Str("detail", e.Detail).
		Msg("evaluation event")
}

// Recent returns up to limit entries, newest first. A non-positive limit
// returns everything held.
func (l *Log) Recent(limit int) []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.next
	if l.full {
		n = len(l.buf)
	}
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Entry, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (l.next - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

// ForReport returns up to limit entries of one evaluation pass, newest
// first. A non-positive limit returns every matching entry held.
func (l *Log) ForReport(reportID string, limit int) []Entry {
	out := []Entry{}
	for _, e := range l.Recent(0) {
		if e.ReportID != reportID {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Len reports how many entries are held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}
