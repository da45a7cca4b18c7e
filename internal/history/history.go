// Package history exports supervisor lifecycle events to an append-only
// audit store. Nothing reads it back for control decisions.
package history

import (
	"context"
	"database/sql"
	"time"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventStart        EventType = "start"
	EventReady        EventType = "ready"
	EventReadyTimeout EventType = "ready_timeout"
	EventStop         EventType = "stop"
	EventFailed       EventType = "failed"
)

// Record describes the supervised server at the time of an event.
type Record struct {
	Home      string    `json:"home"`
	Env       string    `json:"env"`
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	Command   string    `json:"command"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// Event represents a lifecycle event to be exported to external systems.
type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for history events.
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}

// Reader is implemented by sinks that can list what they stored.
type Reader interface {
	// Recent returns up to limit events for home, newest first. An empty
	// home matches every server.
	Recent(ctx context.Context, home string, limit int) ([]Event, error)
}

// Columns lists the table columns in the order used by Args and ScanEvent.
const Columns = "occurred_at, event, home, env, pid, port, command, started_at, error"

// Scanner is satisfied by *sql.Row and *sql.Rows.
type Scanner interface {
	Scan(dest ...any) error
}

// ScanEvent reads one row selected with Columns.
func ScanEvent(sc Scanner) (Event, error) {
	var (
		e      Event
		typ    string
		errMsg sql.NullString
	)
	r := &e.Record
	if err := sc.Scan(&e.OccurredAt, &typ, &r.Home, &r.Env, &r.PID, &r.Port, &r.Command, &r.StartedAt, &errMsg); err != nil {
		return Event{}, err
	}
	e.Type = EventType(typ)
	r.Error = errMsg.String
	return e, nil
}

// Nop discards all events.
type Nop struct{}

func (Nop) Send(context.Context, Event) error { return nil }
func (Nop) Close() error                      { return nil }

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// Args returns the column values of e in Columns order.
func (e Event) Args() []any {
	r := e.Record
	return []any{e.OccurredAt.UTC(), string(e.Type), r.Home, r.Env, r.PID, r.Port, r.Command, r.StartedAt.UTC(), nullable(r.Error)}
}
