package scim

import (
	"context"
	"net/url"

	"github.com/dhawalhost/scimbridge/internal/connector"
	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/rest"
	"github.com/dhawalhost/scimbridge/internal/schema"
	scimapi "github.com/dhawalhost/scimbridge/internal/scim"
)

// objectHandler serves one object class of the session.
type objectHandler interface {
	info() connector.ObjectClassInfo
	translator() filter.Translator
	attributesToGet(requested []string, returnDefault bool) (schema.Set, schema.Set)

	create(ctx context.Context, attrs []schema.Attribute) (string, error)
	updateDelta(ctx context.Context, uid string, deltas []schema.AttributeDelta) error
	delete(ctx context.Context, uid string) error

	// The query methods return the backend total when q is paged and the
	// number of objects walked otherwise.
	getByUID(ctx context.Context, uid string, q query) (int, error)
	getByName(ctx context.Context, name string, q query) (int, error)
	getByMembers(ctx context.Context, f *filter.Filter, q query) (int, error)
	getAll(ctx context.Context, q query) (int, error)
}

// query carries the per-search state shared by the query methods.
type query struct {
	handler      connector.ResultsHandler
	requested    schema.Set
	fetched      schema.Set
	allowPartial bool
	pageSize     int
	pageOffset   int
}

// resource implements the object class operations shared by users and groups.
type resource[M any] struct {
	def      *schema.Definition[M]
	endpoint *rest.Endpoint[M]
	policy   schema.EmptyValuePolicy
	// nameFilter is the backend attribute matched by name searches.
	nameFilter string
	// newModel returns an empty model ready for create.
	newModel func() M
}

func (r *resource[M]) info() connector.ObjectClassInfo {
	return connector.ObjectClassInfo{Name: r.def.ObjectClass(), Fields: r.def.Fields()}
}

func (r *resource[M]) translator() filter.Translator {
	return filter.Translator{ObjectClass: r.def.ObjectClass()}
}

func (r *resource[M]) attributesToGet(requested []string, returnDefault bool) (schema.Set, schema.Set) {
	return r.def.AttributesToGet(requested, returnDefault)
}

// build maps create attributes onto a fresh model.
func (r *resource[M]) build(attrs []schema.Attribute) (*M, error) {
	model := r.newModel()
	if err := r.def.Apply(attrs, &model); err != nil {
		return nil, err
	}
	return &model, nil
}

// post sends a built model and returns the UID the backend assigned.
func (r *resource[M]) post(ctx context.Context, model *M) (string, error) {
	created, err := r.endpoint.Create(ctx, model)
	if err != nil {
		return "", err
	}
	uid := r.identify(created)
	if uid == "" {
		return "", connerr.New(connerr.UpstreamFailure, "backend returned no id for new %s", r.def.ObjectClass())
	}
	return uid, nil
}

func (r *resource[M]) create(ctx context.Context, attrs []schema.Attribute) (string, error) {
	model, err := r.build(attrs)
	if err != nil {
		return "", err
	}
	return r.post(ctx, model)
}

func (r *resource[M]) updateDelta(ctx context.Context, uid string, deltas []schema.AttributeDelta) error {
	ops := schema.NewPatchOperations(r.policy)
	if err := r.def.ApplyDelta(deltas, ops); err != nil {
		return err
	}
	if !ops.HasChanges() {
		return nil
	}
	return r.endpoint.Patch(ctx, uid, ops)
}

func (r *resource[M]) delete(ctx context.Context, uid string) error {
	return r.endpoint.Delete(ctx, uid)
}

func (r *resource[M]) getByUID(ctx context.Context, uid string, q query) (int, error) {
	found, err := r.endpoint.Get(ctx, uid)
	if err != nil || found == nil {
		return 0, err
	}
	r.deliver(found, q)
	return 1, nil
}

func (r *resource[M]) getByName(ctx context.Context, name string, q query) (int, error) {
	found, err := r.endpoint.GetByName(ctx, r.nameFilter, name)
	if err != nil || found == nil {
		return 0, err
	}
	r.deliver(found, q)
	return 1, nil
}

func (r *resource[M]) getByMembers(context.Context, *filter.Filter, query) (int, error) {
	return 0, connerr.New(connerr.InvalidInput, "%s does not support membership filters", r.def.ObjectClass())
}

func (r *resource[M]) getAll(ctx context.Context, q query) (int, error) {
	return r.search(ctx, nil, q, func(m *M) bool { return r.deliver(m, q) })
}

func (r *resource[M]) search(ctx context.Context, params url.Values, q query, fn func(*M) bool) (int, error) {
	return r.endpoint.Search(ctx, params, q.pageOffset, q.pageSize, fn)
}

func (r *resource[M]) deliver(src *M, q query) bool {
	return q.handler(r.def.ToObject(src, schema.ReadOptions{
		Requested:    q.requested,
		AllowPartial: q.allowPartial,
		Fetched:      q.fetched,
	}))
}

// identify returns the UID of a model.
func (r *resource[M]) identify(src *M) string {
	return r.def.ToObject(src, schema.ReadOptions{Requested: schema.NewSet()}).UID
}

func metaCreated(m *scimapi.Meta) string      { return m.Created }
func metaLastModified(m *scimapi.Meta) string { return m.LastModified }

// metaTime parses one resource timestamp. A missing or unreadable stamp is absent.
func metaTime(m *scimapi.Meta, stamp func(*scimapi.Meta) string) any {
	if m == nil || stamp(m) == "" {
		return nil
	}
	t, err := schema.ParseDateTime(stamp(m))
	if err != nil {
		return nil
	}
	return t
}
