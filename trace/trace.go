// Package trace records heap events into a SQLite database so collections
// of a run can be inspected afterwards.
package trace

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/tliron/commonlog"
	_ "modernc.org/sqlite"

	"github.com/chazu/kestrel/vm"
)

var log = commonlog.GetLogger("kestrel.trace")

// GCEvent is one recorded heap event.
type GCEvent struct {
	Seq       int64
	HeapID    string
	At        time.Time
	Kind      string
	GCType    string
	Space     string
	Size      int
	Site      string
	Duration  time.Duration
	HeapSize  int
	LiveBytes int
	Promoted  int
}

// FromHeapEvent converts a heap event of the heap with the given ID.
func FromHeapEvent(heapID string, e vm.HeapEvent) GCEvent {
	return GCEvent{
		HeapID:    heapID,
		At:        time.Now(),
		Kind:      e.Kind.String(),
		GCType:    e.GCType.String(),
		Space:     e.Space.String(),
		Size:      e.Size,
		Site:      e.Site,
		Duration:  e.Duration,
		HeapSize:  e.HeapSize,
		LiveBytes: e.LiveBytes,
		Promoted:  e.Promoted,
	}
}

const schema = `CREATE TABLE IF NOT EXISTS gc_events (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	heap_id    TEXT NOT NULL,
	at_ns      INTEGER NOT NULL,
	kind       TEXT NOT NULL,
	gc_type    TEXT NOT NULL,
	space      TEXT NOT NULL,
	size       INTEGER NOT NULL,
	site       TEXT NOT NULL,
	duration   INTEGER NOT NULL,
	heap_size  INTEGER NOT NULL,
	live_bytes INTEGER NOT NULL,
	promoted   INTEGER NOT NULL
)`

// Recorder appends heap events to a database.
type Recorder struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
	err  error
}

// Open opens or creates the trace database at path.
func Open(path string) (*Recorder, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set busy timeout for concurrent access
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating table: %w", err)
	}
	return &Recorder{db: db, path: path}, nil
}

// Attach records every event of h from now on. Failures are logged and
// kept for Err; they never interrupt the heap.
func (r *Recorder) Attach(h *vm.Heap) {
	id := h.ID().String()
	h.AddGCListener(func(e vm.HeapEvent) {
		if err := r.Record(FromHeapEvent(id, e)); err != nil {
			log.Errorf("%s: %s", r.path, err)
			r.mu.Lock()
			if r.err == nil {
				r.err = err
			}
			r.mu.Unlock()
		}
	})
}

// Err returns the first error hit by an attached listener.
func (r *Recorder) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Record appends one event.
func (r *Recorder) Record(e GCEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(
		`INSERT INTO gc_events (heap_id, at_ns, kind, gc_type, space, size, site, duration, heap_size, live_bytes, promoted)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.HeapID, e.At.UnixNano(), e.Kind, e.GCType, e.Space, e.Size, e.Site,
		int64(e.Duration), e.HeapSize, e.LiveBytes, e.Promoted,
	)
	if err != nil {
		return fmt.Errorf("recording event: %w", err)
	}
	return nil
}

// Events returns all recorded events in the order they were recorded.
func (r *Recorder) Events() ([]GCEvent, error) {
	return r.query("SELECT seq, heap_id, at_ns, kind, gc_type, space, size, site, duration, heap_size, live_bytes, promoted FROM gc_events ORDER BY seq")
}

// EventsOfKind returns the recorded events of one kind, such as
// "gc-finished", in order.
func (r *Recorder) EventsOfKind(kind string) ([]GCEvent, error) {
	return r.query("SELECT seq, heap_id, at_ns, kind, gc_type, space, size, site, duration, heap_size, live_bytes, promoted FROM gc_events WHERE kind = ? ORDER BY seq", kind)
}

func (r *Recorder) query(q string, args ...any) ([]GCEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var events []GCEvent
	for rows.Next() {
		var e GCEvent
		var at, dur int64
		if err := rows.Scan(&e.Seq, &e.HeapID, &at, &e.Kind, &e.GCType, &e.Space, &e.Size, &e.Site,
			&dur, &e.HeapSize, &e.LiveBytes, &e.Promoted); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		e.At = time.Unix(0, at)
		e.Duration = time.Duration(dur)
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return events, nil
}

// Close closes the database connection.
func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}
