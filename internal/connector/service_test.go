package connector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/audit"
	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

type recordingAudit struct {
	audit.Service
	entries []audit.LogInput
}

func (r *recordingAudit) Log(_ context.Context, in audit.LogInput) error {
	r.entries = append(r.entries, in)
	return nil
}

func newTestService(t *testing.T, opts ServiceOptions) (Service, *fakeConnector) {
	t.Helper()
	fake := newFakeConnector("c1")
	r := NewRegistry()
	r.Register("fake", func(Config) (Connector, error) { return fake, nil })
	_, err := r.Create(Config{ID: "c1", Type: "fake"})
	require.NoError(t, err)
	return NewService(r, opts), fake
}

func seedGroups(t *testing.T, svc Service) {
	t.Helper()
	ctx := context.Background()
	for name, members := range map[string][]any{
		"admins":  {"u1", "u2"},
		"devs":    {"u2", "u3"},
		"readers": {"u1"},
	} {
		_, err := svc.CreateObject(ctx, "c1", "Group", []schema.Attribute{
			schema.NewAttribute(schema.NameAttribute, name),
			schema.NewAttribute(fakeMembers, members...),
		})
		require.NoError(t, err)
	}
}

func names(objs []schema.Object) []string {
	out := make([]string, 0, len(objs))
	for _, o := range objs {
		out = append(out, o.Name)
	}
	return out
}

func TestServiceUnknownConnector(t *testing.T) {
	svc, _ := newTestService(t, ServiceOptions{})
	ctx := context.Background()

	_, err := svc.Schema(ctx, "nope")
	assert.ErrorIs(t, err, ErrConnectorNotFound)
	_, err = svc.SearchObjects(ctx, "nope", "User", SearchRequest{})
	assert.ErrorIs(t, err, ErrConnectorNotFound)
	assert.ErrorIs(t, svc.DeleteObject(ctx, "nope", "User", "1"), ErrConnectorNotFound)
}

func TestServiceSearchPushesDownSupportedFilters(t *testing.T) {
	svc, fake := newTestService(t, ServiceOptions{})
	seedGroups(t, svc)

	resp, err := svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{
		Filter: filter.Equals{Attribute: schema.NameAttribute, Value: "DEVS"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"devs"}, names(resp.Objects))
	require.NotNil(t, fake.lastFilter)
	assert.Equal(t, filter.ExactMatchByName, fake.lastFilter.Kind)

	resp, err = svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{Members: []string{"u1"}})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"admins", "readers"}, names(resp.Objects))
	assert.Equal(t, filter.ContainsAll, fake.lastFilter.Kind)
}

func TestServiceSearchMatchesUnsupportedFiltersOnHost(t *testing.T) {
	svc, fake := newTestService(t, ServiceOptions{})
	seedGroups(t, svc)

	resp, err := svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{
		Filter:  filter.Not{Expr: filter.Equals{Attribute: schema.NameAttribute, Value: "admins"}},
		Members: []string{"u2"},
		Options: SearchOptions{AttributesToGet: []string{"description"}, AllowPartialAttributeValues: true},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"devs"}, names(resp.Objects))

	assert.Nil(t, fake.lastFilter, "a compound filter enumerates everything")
	assert.Equal(t, []string{"description", fakeMembers}, fake.lastOpts.AttributesToGet)
	assert.False(t, fake.lastOpts.AllowPartialAttributeValues)
}

func TestServiceSearchHostSideHonorsCase(t *testing.T) {
	svc, _ := newTestService(t, ServiceOptions{})
	seedGroups(t, svc)
	_, err := svc.CreateObject(context.Background(), "c1", "Group", []schema.Attribute{
		schema.NewAttribute(schema.NameAttribute, "ops"),
		schema.NewAttribute("description", "Ops Team"),
	})
	require.NoError(t, err)

	resp, err := svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{
		Filter: filter.Or{
			Left:  filter.Equals{Attribute: "description", Value: "ops team"},
			Right: filter.Equals{Attribute: schema.NameAttribute, Value: "DEVS"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"devs"}, names(resp.Objects))

	resp, err = svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{
		Filter: filter.Or{
			Left:  filter.Equals{Attribute: "description", Value: "Ops Team"},
			Right: filter.Equals{Attribute: schema.NameAttribute, Value: "nobody"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ops"}, names(resp.Objects))
}

func TestServiceSearchMembersWithoutMembership(t *testing.T) {
	svc, _ := newTestService(t, ServiceOptions{})
	_, err := svc.SearchObjects(context.Background(), "c1", "User", SearchRequest{Members: []string{"u1"}})
	assert.ErrorIs(t, err, connerr.ErrInvalidInput)
}

func TestServiceSearchCapsResults(t *testing.T) {
	svc, _ := newTestService(t, ServiceOptions{MaxResults: 2})
	seedGroups(t, svc)

	resp, err := svc.SearchObjects(context.Background(), "c1", "Group", SearchRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Objects, 2)
	assert.True(t, resp.Truncated)
	assert.Equal(t, -1, resp.RemainingPagedResults)
}

func TestServiceRecordsAudit(t *testing.T) {
	rec := &recordingAudit{}
	svc, _ := newTestService(t, ServiceOptions{Audit: rec})
	ctx := context.Background()

	uid, err := svc.CreateObject(ctx, "c1", "User", []schema.Attribute{schema.NewAttribute(schema.NameAttribute, "jdoe")})
	require.NoError(t, err)
	err = svc.DeleteObject(ctx, "c1", "User", "404")
	require.Error(t, err)

	require.Len(t, rec.entries, 2)
	assert.Equal(t, "create", rec.entries[0].Action)
	assert.Equal(t, uid, rec.entries[0].ObjectUID)
	assert.Equal(t, "jdoe", rec.entries[0].ObjectName)
	assert.NoError(t, rec.entries[0].Err)

	assert.Equal(t, "delete", rec.entries[1].Action)
	assert.Equal(t, "unknown_target", rec.entries[1].ErrorKind)
}

type memStore struct {
	saved   map[string]Config
	saveErr error
}

func (m *memStore) Save(_ context.Context, c Config) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saved[c.ID] = c
	return nil
}

func (m *memStore) List(context.Context) ([]Config, error) {
	out := make([]Config, 0, len(m.saved))
	for _, c := range m.saved {
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	delete(m.saved, id)
	return nil
}

func TestServiceRegisterAndRemove(t *testing.T) {
	st := &memStore{saved: map[string]Config{}}
	r := NewRegistry()
	r.Register("fake", func(c Config) (Connector, error) { return newFakeConnector(c.ID), nil })
	svc := NewService(r, ServiceOptions{Store: st})
	ctx := context.Background()

	info, err := svc.RegisterConnector(ctx, Config{ID: "c2", Type: "fake", Settings: map[string]any{"k": "v"}})
	require.NoError(t, err)
	assert.Equal(t, Info{ID: "c2", Name: "fake c2", Type: "fake"}, info)
	assert.Contains(t, st.saved, "c2")

	_, err = svc.RegisterConnector(ctx, Config{ID: "c3", Type: "nope"})
	assert.ErrorIs(t, err, connerr.ErrInvalidInput)
	assert.NotContains(t, st.saved, "c3")

	st.saveErr = assert.AnError
	_, err = svc.RegisterConnector(ctx, Config{ID: "c4", Type: "fake"})
	assert.ErrorIs(t, err, assert.AnError)
	_, ok := r.Get("c4")
	assert.False(t, ok, "a connector that cannot be persisted is not kept")

	// a failed re-registration keeps the running instance
	running, _ := r.Get("c2")
	_, err = svc.RegisterConnector(ctx, Config{ID: "c2", Name: "renamed", Type: "fake"})
	assert.ErrorIs(t, err, assert.AnError)
	still, ok := r.Get("c2")
	require.True(t, ok)
	assert.Same(t, running, still)
	assert.False(t, running.(*fakeConnector).closed)
	st.saveErr = nil

	require.NoError(t, svc.RemoveConnector(ctx, "c2"))
	assert.NotContains(t, st.saved, "c2")
	assert.ErrorIs(t, svc.RemoveConnector(ctx, "c2"), ErrConnectorNotFound)

	// a restart brings stored connectors back
	st.saved["c5"] = Config{ID: "c5", Type: "fake"}
	st.saved["bad"] = Config{ID: "bad", Type: "nope"}
	n, err := RestoreConnectors(ctx, r, st, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, ok = r.Get("c5")
	assert.True(t, ok)
}
