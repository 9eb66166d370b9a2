// Package audit journals the provisioning operations the host performs
// through its connectors.
package audit

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// Event represents an audit log entry.
type Event struct {
	ID          string          `json:"id" db:"id"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	ConnectorID string          `json:"connector_id" db:"connector_id"`
	Action      string          `json:"action" db:"action"` // create, update, delete, search, test
	ObjectClass string          `json:"object_class" db:"object_class"`
	ObjectUID   *string         `json:"object_uid,omitempty" db:"object_uid"`
	ObjectName  *string         `json:"object_name,omitempty" db:"object_name"`
	Details     json.RawMessage `json:"details,omitempty" db:"details"`
	RequestID   *string         `json:"request_id,omitempty" db:"request_id"`
	Outcome     string          `json:"outcome" db:"outcome"` // success, failure
	ErrorKind   *string         `json:"error_kind,omitempty" db:"error_kind"`
}

// Outcomes
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// QueryParams holds parameters for querying audit logs.
type QueryParams struct {
	ConnectorID *string
	Action      *string
	ObjectClass *string
	ObjectUID   *string
	Outcome     *string
	StartTime   *time.Time
	EndTime     *time.Time
	Limit       int
	Offset      int
}

// Store defines audit log storage operations.
type Store interface {
	Log(ctx context.Context, e Event) error
	Query(ctx context.Context, params QueryParams) ([]Event, int, error)
	GetEvent(ctx context.Context, id string) (Event, error)
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS provisioning_audit (
	id           UUID PRIMARY KEY,
	timestamp    TIMESTAMPTZ NOT NULL,
	connector_id TEXT NOT NULL,
	action       TEXT NOT NULL,
	object_class TEXT NOT NULL DEFAULT '',
	object_uid   TEXT,
	object_name  TEXT,
	details      JSONB,
	request_id   TEXT,
	outcome      TEXT NOT NULL,
	error_kind   TEXT
);
CREATE INDEX IF NOT EXISTS provisioning_audit_connector_ts
	ON provisioning_audit (connector_id, timestamp DESC);`

type store struct {
	db *sqlx.DB
}

// NewStore creates a new audit store.
func NewStore(db *sqlx.DB) Store {
	return &store{db: db}
}

// EnsureSchema creates the audit table when it does not exist.
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, schemaSQL)
	return err
}

func (s *store) Log(ctx context.Context, e Event) error {
	var details *string
	if len(e.Details) > 0 {
		d := string(e.Details)
		details = &d
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO provisioning_audit (id, timestamp, connector_id, action, object_class, object_uid, object_name, details, request_id, outcome, error_kind)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.ID, e.Timestamp, e.ConnectorID, e.Action, e.ObjectClass, e.ObjectUID, e.ObjectName, details, e.RequestID, e.Outcome, e.ErrorKind,
	)
	return err
}

func (s *store) Query(ctx context.Context, params QueryParams) ([]Event, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	where := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, cond+" $"+strconv.Itoa(len(args)))
	}
	if params.ConnectorID != nil {
		where("connector_id =", *params.ConnectorID)
	}
	if params.Action != nil {
		where("action =", *params.Action)
	}
	if params.ObjectClass != nil {
		where("object_class =", *params.ObjectClass)
	}
	if params.ObjectUID != nil {
		where("object_uid =", *params.ObjectUID)
	}
	if params.Outcome != nil {
		where("outcome =", *params.Outcome)
	}
	if params.StartTime != nil {
		where("timestamp >=", *params.StartTime)
	}
	if params.EndTime != nil {
		where("timestamp <=", *params.EndTime)
	}

	filter := ""
	if len(conds) > 0 {
		filter = " WHERE " + strings.Join(conds, " AND ")
	}

	// Get total count
	var total int
	if err := s.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM provisioning_audit`+filter, args...); err != nil {
		return nil, 0, err
	}

	// Add pagination
	query := `SELECT * FROM provisioning_audit` + filter + ` ORDER BY timestamp DESC`
	if params.Limit > 0 {
		args = append(args, params.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if params.Offset > 0 {
		args = append(args, params.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	var events []Event
	if err := s.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func (s *store) GetEvent(ctx context.Context, id string) (Event, error) {
	var e Event
	err := s.db.GetContext(ctx, &e, `SELECT * FROM provisioning_audit WHERE id = $1`, id)
	return e, err
}
