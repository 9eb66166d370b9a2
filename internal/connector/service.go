package connector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/audit"
	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
	"github.com/dhawalhost/scimbridge/pkg/middleware"
)

// DefaultMaxResults caps the objects one search request collects.
const DefaultMaxResults = 1000

// SearchRequest is a host search against one object class.
type SearchRequest struct {
	// Filter selects the objects. nil selects all of them.
	Filter filter.Expr
	// Members selects groups holding every listed member. It is combined
	// with Filter and resolved against the class's membership attribute.
	Members []string
	Options SearchOptions
}

// SearchResponse holds the collected objects of a search.
type SearchResponse struct {
	Objects               []schema.Object `json:"objects"`
	RemainingPagedResults int             `json:"remainingPagedResults"`
	// Truncated is set when the result hit the collection cap.
	Truncated bool `json:"truncated,omitempty"`
}

// Service defines connector service operations.
type Service interface {
	ListConnectors(ctx context.Context) []Info
	// RegisterConnector opens a connector and persists its configuration
	// when a store is configured. An existing connector with the same id is
	// replaced.
	RegisterConnector(ctx context.Context, config Config) (Info, error)
	RemoveConnector(ctx context.Context, id string) error
	Schema(ctx context.Context, id string) ([]ObjectClassInfo, error)
	TestConnection(ctx context.Context, id string) error

	CreateObject(ctx context.Context, id, objectClass string, attrs []schema.Attribute) (string, error)
	UpdateObject(ctx context.Context, id, objectClass, uid string, deltas []schema.AttributeDelta) error
	DeleteObject(ctx context.Context, id, objectClass, uid string) error
	SearchObjects(ctx context.Context, id, objectClass string, req SearchRequest) (SearchResponse, error)
}

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Audit journals every operation when non-nil.
	Audit audit.Service
	// Store persists connectors registered at runtime when non-nil.
	Store      Store
	Logger     *zap.Logger
	MaxResults int
}

type service struct {
	registry   Registry
	store      Store
	audit      audit.Service
	logger     *zap.Logger
	maxResults int
}

// NewService creates a new connector service.
func NewService(registry Registry, opts ServiceOptions) Service {
	s := &service{
		registry:   registry,
		store:      opts.Store,
		audit:      opts.Audit,
		logger:     opts.Logger,
		maxResults: opts.MaxResults,
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.maxResults <= 0 {
		s.maxResults = DefaultMaxResults
	}
	return s
}

func (s *service) ListConnectors(_ context.Context) []Info {
	conns := s.registry.List()
	out := make([]Info, 0, len(conns))
	for _, c := range conns {
		out = append(out, Info{ID: c.ID(), Name: c.Name(), Type: c.Type()})
	}
	return out
}

// RegisterConnector opens the connector, persists its configuration and only
// then replaces any running instance with the same id.
func (s *service) RegisterConnector(ctx context.Context, config Config) (Info, error) {
	conn, err := s.registry.Open(config)
	if err == nil && s.store != nil {
		if err = s.store.Save(ctx, config); err != nil {
			_ = conn.Close()
			err = fmt.Errorf("persist connector %s: %w", config.ID, err)
		}
	}
	if err == nil {
		s.registry.Install(conn)
	}
	s.record(ctx, audit.LogInput{ConnectorID: config.ID, Action: "register", Details: map[string]string{"type": config.Type}}, err)
	if err != nil {
		return Info{}, err
	}
	return Info{ID: conn.ID(), Name: conn.Name(), Type: conn.Type()}, nil
}

func (s *service) RemoveConnector(ctx context.Context, id string) error {
	if _, ok := s.registry.Get(id); !ok {
		return ErrConnectorNotFound
	}
	err := s.registry.Remove(id)
	if s.store != nil {
		if serr := s.store.Delete(ctx, id); serr != nil {
			err = errors.Join(err, fmt.Errorf("forget connector %s: %w", id, serr))
		}
	}
	s.record(ctx, audit.LogInput{ConnectorID: id, Action: "remove"}, err)
	return err
}

func (s *service) get(id string) (Connector, error) {
	conn, ok := s.registry.Get(id)
	if !ok {
		return nil, ErrConnectorNotFound
	}
	return conn, nil
}

// ErrConnectorNotFound is returned for an unknown connector id.
var ErrConnectorNotFound = errors.New("connector not found")

func (s *service) Schema(_ context.Context, id string) ([]ObjectClassInfo, error) {
	conn, err := s.get(id)
	if err != nil {
		return nil, err
	}
	return conn.Schema(), nil
}

func (s *service) TestConnection(ctx context.Context, id string) error {
	conn, err := s.get(id)
	if err != nil {
		return err
	}
	err = conn.Test(ctx)
	s.record(ctx, audit.LogInput{ConnectorID: id, Action: "test"}, err)
	return err
}

func (s *service) CreateObject(ctx context.Context, id, objectClass string, attrs []schema.Attribute) (string, error) {
	conn, err := s.get(id)
	if err != nil {
		return "", err
	}
	uid, err := conn.Create(ctx, objectClass, attrs)
	s.record(ctx, audit.LogInput{
		ConnectorID: id,
		Action:      "create",
		ObjectClass: objectClass,
		ObjectUID:   uid,
		ObjectName:  nameOf(attrs),
	}, err)
	return uid, err
}

func (s *service) UpdateObject(ctx context.Context, id, objectClass, uid string, deltas []schema.AttributeDelta) error {
	conn, err := s.get(id)
	if err != nil {
		return err
	}
	err = conn.UpdateDelta(ctx, objectClass, uid, deltas)
	changed := make([]string, 0, len(deltas))
	for _, d := range deltas {
		changed = append(changed, d.Name)
	}
	s.record(ctx, audit.LogInput{
		ConnectorID: id,
		Action:      "update",
		ObjectClass: objectClass,
		ObjectUID:   uid,
		Details:     map[string]any{"attributes": changed},
	}, err)
	return err
}

func (s *service) DeleteObject(ctx context.Context, id, objectClass, uid string) error {
	conn, err := s.get(id)
	if err != nil {
		return err
	}
	err = conn.Delete(ctx, objectClass, uid)
	s.record(ctx, audit.LogInput{ConnectorID: id, Action: "delete", ObjectClass: objectClass, ObjectUID: uid}, err)
	return err
}

// SearchObjects translates the request filter for the connector. A filter
// the connector cannot serve is dropped from the backend query and applied
// to each returned object instead.
func (s *service) SearchObjects(ctx context.Context, id, objectClass string, req SearchRequest) (SearchResponse, error) {
	resp := SearchResponse{Objects: []schema.Object{}, RemainingPagedResults: -1}
	conn, err := s.get(id)
	if err != nil {
		return resp, err
	}
	tr, err := conn.Translator(objectClass)
	if err != nil {
		return resp, err
	}
	expr, err := withMembers(tr, req)
	if err != nil {
		return resp, err
	}
	f := tr.Translate(expr)
	hostSide := f == nil && expr != nil
	opts := req.Options
	var types filter.TypeOf
	if hostSide {
		opts = withFilterAttributes(opts, filter.Attributes(expr))
		types = filter.TypesOf(classFields(conn, objectClass))
	}

	result, err := conn.Search(ctx, objectClass, f, func(obj schema.Object) bool {
		if hostSide && !filter.Match(expr, obj, types) {
			return true
		}
		if len(resp.Objects) >= s.maxResults {
			resp.Truncated = true
			return false
		}
		resp.Objects = append(resp.Objects, obj)
		return true
	}, opts)
	resp.RemainingPagedResults = result.RemainingPagedResults

	s.record(ctx, audit.LogInput{
		ConnectorID: id,
		Action:      "search",
		ObjectClass: objectClass,
		Details: map[string]any{
			"filter":    f.String(),
			"host_side": hostSide,
			"returned":  len(resp.Objects),
		},
	}, err)
	return resp, err
}

func (s *service) record(ctx context.Context, in audit.LogInput, opErr error) {
	if s.audit == nil {
		return
	}
	if opErr != nil {
		in.Err = opErr
		in.ErrorKind = connerr.KindOf(opErr).String()
	}
	in.RequestID, _ = middleware.RequestIDFromContext(ctx)
	if err := s.audit.Log(ctx, in); err != nil {
		s.logger.Warn("Failed to record audit event", zap.String("action", in.Action), zap.Error(err))
	}
}

// withFilterAttributes makes sure a host-side filter sees every attribute it
// reads, in full.
func withFilterAttributes(opts SearchOptions, attrs []string) SearchOptions {
	if len(attrs) == 0 {
		return opts
	}
	if len(opts.AttributesToGet) == 0 {
		opts.ReturnDefaultAttributes = true
	}
	opts.AttributesToGet = append(append([]string(nil), opts.AttributesToGet...), attrs...)
	opts.AllowPartialAttributeValues = false
	return opts
}

func withMembers(tr filter.Translator, req SearchRequest) (filter.Expr, error) {
	if len(req.Members) == 0 {
		return req.Filter, nil
	}
	if len(tr.MembershipAttributes) == 0 {
		return nil, connerr.New(connerr.InvalidInput, "object class %s has no membership attribute", tr.ObjectClass)
	}
	values := make([]any, len(req.Members))
	for i, m := range req.Members {
		values[i] = m
	}
	var expr filter.Expr = filter.ContainsAllValues{Attribute: tr.MembershipAttributes[0], Values: values}
	if req.Filter != nil {
		expr = filter.And{Left: expr, Right: req.Filter}
	}
	return expr, nil
}

func nameOf(attrs []schema.Attribute) string {
	for _, a := range attrs {
		if a.Name == schema.NameAttribute && len(a.Values) > 0 {
			if s, ok := a.Values[0].(string); ok {
				return s
			}
		}
	}
	return ""
}

func classFields(conn Connector, objectClass string) []schema.FieldInfo {
	for _, oc := range conn.Schema() {
		if oc.Name == objectClass {
			return oc.Fields
		}
	}
	return nil
}
