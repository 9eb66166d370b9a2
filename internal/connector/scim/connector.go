// Package scim implements a connector for SCIM 2.0 service providers.
//
// A session maps the generic User and Group object classes onto the
// provider's Users and Groups resources: create attributes become a POST
// body, deltas become a PatchOp request and list responses are paged into
// generic objects.
package scim

import (
	"context"
	"errors"

	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/rest"
	"github.com/dhawalhost/scimbridge/internal/schema"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Type is the connector type served by this package.
const Type = "scim"

// Dependencies are shared by every session a factory creates.
type Dependencies struct {
	Logger  *zap.Logger
	Metrics *rest.Metrics
	Tracer  trace.Tracer
}

// NewFactory returns a connector.Factory building SCIM sessions.
func NewFactory(deps Dependencies) connector.Factory {
	return func(config connector.Config) (connector.Connector, error) {
		return New(config, deps)
	}
}

// Connector is one SCIM connector session.
type Connector struct {
	config   connector.Config
	cfg      Config
	logger   *zap.Logger
	client   *client
	handlers map[string]objectHandler
	order    []string
}

// New decodes config.Settings and opens a session.
func New(config connector.Config, deps Dependencies) (*Connector, error) {
	cfg, err := DecodeConfig(config.Settings)
	if err != nil {
		return nil, connerr.Wrap(connerr.InvalidInput, err, "connector %s", config.ID)
	}
	return NewWithConfig(config, cfg, deps)
}

// NewWithConfig opens a session with an already decoded configuration.
func NewWithConfig(config connector.Config, cfg Config, deps Dependencies) (*Connector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, connerr.Wrap(connerr.InvalidInput, err, "connector %s", config.ID)
	}
	policy, err := cfg.emptyValuePolicy()
	if err != nil {
		return nil, connerr.Wrap(connerr.InvalidInput, err, "connector %s", config.ID)
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("connector", config.ID), zap.String("type", Type))

	userDef, err := UserSchema()
	if err != nil {
		return nil, err
	}
	groupDef, err := GroupSchema()
	if err != nil {
		return nil, err
	}

	cl, err := newClient(config.ID, cfg, logger, deps.Metrics, deps.Tracer)
	if err != nil {
		return nil, err
	}

	c := &Connector{
		config: config,
		cfg:    cfg,
		logger: logger,
		client: cl,
		order:  []string{UserObjectClass, GroupObjectClass},
	}
	c.handlers = map[string]objectHandler{
		UserObjectClass:  newUserHandler(cl.users, userDef, policy),
		GroupObjectClass: newGroupHandler(cl.groups, groupDef, &c.cfg, policy),
	}
	logger.Info("SCIM connector session opened", zap.String("base_url", cfg.BaseURL))
	return c, nil
}

func (c *Connector) ID() string   { return c.config.ID }
func (c *Connector) Name() string { return c.config.Name }
func (c *Connector) Type() string { return Type }

// Schema lists the User and Group object classes.
func (c *Connector) Schema() []connector.ObjectClassInfo {
	out := make([]connector.ObjectClassInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.handlers[name].info())
	}
	return out
}

// Test fetches the ServiceProviderConfig document.
func (c *Connector) Test(ctx context.Context) error {
	if err := c.client.test(ctx, c.cfg.PathPrefix); err != nil {
		return c.fail("test", "", "", err)
	}
	return nil
}

// Close releases pooled connections.
func (c *Connector) Close() error {
	c.client.close()
	c.logger.Debug("SCIM connector session closed")
	return nil
}

func (c *Connector) Create(ctx context.Context, objectClass string, attrs []schema.Attribute) (string, error) {
	h, err := c.handler(objectClass)
	if err != nil {
		return "", err
	}
	if len(attrs) == 0 {
		return "", c.fail("create", objectClass, "", connerr.New(connerr.InvalidInput, "no attributes to create"))
	}
	uid, err := h.create(ctx, attrs)
	if err != nil {
		return "", c.fail("create", objectClass, "", err)
	}
	c.logger.Debug("created object", zap.String("object_class", objectClass), zap.String("uid", uid))
	return uid, nil
}

func (c *Connector) UpdateDelta(ctx context.Context, objectClass, uid string, deltas []schema.AttributeDelta) error {
	h, err := c.handler(objectClass)
	if err != nil {
		return err
	}
	if uid == "" {
		return c.fail("update", objectClass, uid, connerr.New(connerr.InvalidInput, "uid is required"))
	}
	if len(deltas) == 0 {
		return c.fail("update", objectClass, uid, connerr.New(connerr.InvalidInput, "no attribute deltas"))
	}
	if err := h.updateDelta(ctx, uid, deltas); err != nil {
		return c.fail("update", objectClass, uid, err)
	}
	return nil
}

func (c *Connector) Delete(ctx context.Context, objectClass, uid string) error {
	h, err := c.handler(objectClass)
	if err != nil {
		return err
	}
	if uid == "" {
		return c.fail("delete", objectClass, uid, connerr.New(connerr.InvalidInput, "uid is required"))
	}
	if err := h.delete(ctx, uid); err != nil {
		return c.fail("delete", objectClass, uid, err)
	}
	return nil
}

func (c *Connector) Translator(objectClass string) (filter.Translator, error) {
	h, err := c.handler(objectClass)
	if err != nil {
		return filter.Translator{}, err
	}
	return h.translator(), nil
}

// Search dispatches on the filter kind. When opts.PageOffset is positive the
// result reports how many objects remain after the delivered page.
func (c *Connector) Search(ctx context.Context, objectClass string, f *filter.Filter, handler connector.ResultsHandler, opts connector.SearchOptions) (connector.SearchResult, error) {
	result := connector.SearchResult{RemainingPagedResults: -1}
	h, err := c.handler(objectClass)
	if err != nil {
		return result, err
	}
	if handler == nil {
		return result, connerr.New(connerr.InvalidInput, "results handler is required")
	}
	if opts.PageOffset < 0 {
		return result, connerr.New(connerr.InvalidInput, "page offset must not be negative, got %d", opts.PageOffset)
	}
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = c.cfg.DefaultQueryPageSize
	}

	requested, fetched := h.attributesToGet(opts.AttributesToGet, opts.ReturnDefaultAttributes)
	delivered := 0
	q := query{
		handler: func(obj schema.Object) bool {
			delivered++
			return handler(obj)
		},
		requested:    requested,
		fetched:      fetched,
		allowPartial: opts.AllowPartialAttributeValues,
		pageSize:     pageSize,
		pageOffset:   opts.PageOffset,
	}

	var total int
	switch {
	case f == nil:
		total, err = h.getAll(ctx, q)
	case f.Kind == filter.ExactMatchByUID:
		total, err = h.getByUID(ctx, f.Value(), q)
	case f.Kind == filter.ExactMatchByName:
		total, err = h.getByName(ctx, f.Value(), q)
	case f.Kind == filter.ContainsAll:
		total, err = h.getByMembers(ctx, f, q)
	default:
		err = connerr.New(connerr.InvalidInput, "unsupported filter %s", f)
	}
	if err != nil {
		return result, c.fail("search", objectClass, "", err)
	}

	c.logger.Debug("search finished",
		zap.String("object_class", objectClass),
		zap.Stringer("filter", f),
		zap.Int("delivered", delivered),
		zap.Int("total", total),
		zap.String("attributes", requested.String()))

	if opts.PageOffset > 0 {
		result.RemainingPagedResults = total - (opts.PageOffset - 1) - delivered
	}
	return result, nil
}

func (c *Connector) handler(objectClass string) (objectHandler, error) {
	h, ok := c.handlers[objectClass]
	if !ok {
		return nil, connerr.New(connerr.InvalidInput, "unsupported object class: %q", objectClass)
	}
	return h, nil
}

// fail tags err with the target and logs it. A conflict or a missing target
// is logged as a warning, anything else as an error.
func (c *Connector) fail(op, objectClass, uid string, err error) error {
	err = connerr.WithTarget(err, objectClass, uid)
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("object_class", objectClass),
		zap.String("uid", uid),
		zap.Error(err),
	}
	switch {
	case errors.Is(err, connerr.ErrAlreadyExists):
		c.logger.Warn("object already exists", fields...)
	case errors.Is(err, connerr.ErrUnknownTarget):
		c.logger.Warn("object not found", fields...)
	case errors.Is(err, connerr.ErrInvalidInput):
		c.logger.Info("rejected invalid input", fields...)
	case errors.Is(err, context.Canceled):
		c.logger.Debug("operation canceled", fields...)
	default:
		c.logger.Error("SCIM operation failed", append(fields, zap.Stringer("kind", connerr.KindOf(err)))...)
	}
	return err
}
