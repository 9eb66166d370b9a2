package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LogInput holds input for creating an audit log entry.
type LogInput struct {
	ConnectorID string
	Action      string
	ObjectClass string
	ObjectUID   string
	ObjectName  string
	Details     interface{}
	RequestID   string
	// Err is the operation's error, nil on success.
	Err error
	// ErrorKind classifies Err.
	ErrorKind string
}

// Service defines audit service operations.
type Service interface {
	// Log creates an audit log entry.
	Log(ctx context.Context, input LogInput) error

	// Query retrieves audit logs with filtering.
	Query(ctx context.Context, params QueryParams) ([]Event, int, error)

	// Export retrieves all matching audit logs for export.
	Export(ctx context.Context, params QueryParams) ([]Event, error)

	GetEvent(ctx context.Context, id string) (Event, error)
}

const exportLimit = 10000

type service struct {
	store Store
	now   func() time.Time
}

// NewService creates a new audit service.
func NewService(store Store) Service {
	return &service{store: store, now: time.Now}
}

func (s *service) Log(ctx context.Context, input LogInput) error {
	if input.ConnectorID == "" {
		return fmt.Errorf("connector_id is required")
	}
	if input.Action == "" {
		return fmt.Errorf("action is required")
	}

	e := Event{
		ID:          uuid.NewString(),
		Timestamp:   s.now().UTC(),
		ConnectorID: input.ConnectorID,
		Action:      input.Action,
		ObjectClass: input.ObjectClass,
		ObjectUID:   optional(input.ObjectUID),
		ObjectName:  optional(input.ObjectName),
		RequestID:   optional(input.RequestID),
		Outcome:     OutcomeSuccess,
	}
	// Serialize details to JSON
	if input.Details != nil {
		b, err := json.Marshal(input.Details)
		if err != nil {
			return fmt.Errorf("failed to serialize details: %w", err)
		}
		e.Details = b
	}
	if input.Err != nil {
		e.Outcome = OutcomeFailure
		e.ErrorKind = optional(input.ErrorKind)
		b, err := withError(e.Details, input.Err)
		if err != nil {
			return fmt.Errorf("failed to serialize details: %w", err)
		}
		e.Details = b
	}

	return s.store.Log(ctx, e)
}

func (s *service) Query(ctx context.Context, params QueryParams) ([]Event, int, error) {
	if params.Limit <= 0 {
		params.Limit = 100
	}
	if params.Limit > 1000 {
		params.Limit = 1000
	}
	if params.Offset < 0 {
		params.Offset = 0
	}
	return s.store.Query(ctx, params)
}

func (s *service) Export(ctx context.Context, params QueryParams) ([]Event, error) {
	params.Limit = exportLimit
	params.Offset = 0
	events, _, err := s.store.Query(ctx, params)
	return events, err
}

func (s *service) GetEvent(ctx context.Context, id string) (Event, error) {
	return s.store.GetEvent(ctx, id)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// withError adds the error text to serialized details. Details that are not
// a JSON object are kept under "details".
func withError(details json.RawMessage, opErr error) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(details) > 0 && json.Unmarshal(details, &fields) != nil {
		fields = map[string]json.RawMessage{"details": details}
	}
	if fields == nil {
		fields = map[string]json.RawMessage{}
	}
	msg, err := json.Marshal(opErr.Error())
	if err != nil {
		return nil, err
	}
	fields["error"] = msg
	return json.Marshal(fields)
}
