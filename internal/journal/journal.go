// Package journal keeps a local audit trail of what the shell did with each
// attempt. The backend stays the system of record.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Type string

const (
	SessionCreated       Type = "session_created"
	SubmitStarted        Type = "submit_started"
	SubmitSucceeded      Type = "submit_succeeded"
	SubmitFailed         Type = "submit_failed"
	EndorsementRequested Type = "endorsement_requested"
	LessonGradeSubmitted Type = "lesson_grade_submitted"
)

type Event struct {
	Seq       int64
	SiteID    string
	Type      Type
	AttemptID string
	Data      json.RawMessage
	CreatedAt int64
}

// Recorder is what the shell writes to. Nop discards everything.
type Recorder interface {
	Record(ctx context.Context, typ Type, attemptID string, data any) error
}

type Nop struct{}

func (Nop) Record(context.Context, Type, string, any) error { return nil }

type Journal struct {
	db     *sql.DB
	siteID string
	now    func() time.Time
}

func Open(ctx context.Context, driver Driver, dsn, siteID string) (*Journal, error) {
	db, err := openDB(ctx, driver, dsn)
	if err != nil {
		return nil, err
	}
	return New(db, siteID), nil
}

// New wraps an already migrated database.
func New(db *sql.DB, siteID string) *Journal {
	if siteID == "" {
		siteID = "local"
	}
	return &Journal{db: db, siteID: siteID, now: time.Now}
}

func (j *Journal) Close() error { return j.db.Close() }

func (j *Journal) Record(ctx context.Context, typ Type, attemptID string, data any) error {
	b, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("journal %s: encode: %w", typ, err)
	}
	return j.Append(ctx, Event{Type: typ, AttemptID: attemptID, Data: b})
}

func (j *Journal) Append(ctx context.Context, e Event) error {
	site := e.SiteID
	if site == "" {
		site = j.siteID
	}
	data := string(e.Data)
	if data == "" {
		data = "null"
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO attempt_events (site_id, typ, attempt_id, data, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		site, string(e.Type), e.AttemptID, data, j.now().Unix())
	return err
}

// Events returns one attempt's events in append order.
func (j *Journal) Events(ctx context.Context, attemptID string) ([]Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT seq, site_id, typ, attempt_id, data, created_at
		 FROM attempt_events WHERE attempt_id = $1 ORDER BY seq`, attemptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Event
	for rows.Next() {
		var e Event
		var typ, data string
		if err := rows.Scan(&e.Seq, &e.SiteID, &typ, &e.AttemptID, &data, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Type = Type(typ)
		e.Data = json.RawMessage(data)
		out = append(out, e)
	}
	return out, rows.Err()
}
