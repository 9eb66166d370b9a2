package connector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

func newTestRouter(t *testing.T) (*gin.Engine, *fakeConnector) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	svc, fake := newTestService(t, ServiceOptions{})
	seedGroups(t, svc)
	r := gin.New()
	NewHTTPHandler(svc, zap.NewNop()).RegisterRoutes(r.Group(""))
	return r, fake
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIListAndSchema(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodGet, "/connectors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"id":"c1"`)

	w = do(r, http.MethodGet, "/connectors/c1/schema", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"objectClasses"`)

	w = do(r, http.MethodGet, "/connectors/zz/schema", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/connectors/c1/test", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIObjectLifecycle(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/connectors/c1/objects/User", gin.H{
		"attributes": []gin.H{{"name": schema.NameAttribute, "values": []string{"jdoe"}}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct{ UID string }
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))

	w = do(r, http.MethodPost, "/connectors/c1/objects/User", gin.H{
		"attributes": []gin.H{{"name": schema.NameAttribute, "values": []string{"JDOE"}}},
	})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"already_exists"`)

	w = do(r, http.MethodGet, "/connectors/c1/objects/User/"+created.UID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"name":"jdoe"`)

	w = do(r, http.MethodPatch, "/connectors/c1/objects/User/"+created.UID, gin.H{
		"deltas": []gin.H{{"name": "active", "replace": []bool{false}}},
	})
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodPatch, "/connectors/c1/objects/User/"+created.UID, gin.H{
		"deltas": []gin.H{{"name": "active", "replace": []bool{false}, "add": []bool{true}}},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/connectors/c1/objects/User/"+created.UID, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodDelete, "/connectors/c1/objects/User/"+created.UID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = do(r, http.MethodGet, "/connectors/c1/objects/User/"+created.UID, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/connectors/c1/objects/Printer", gin.H{"attributes": []gin.H{}})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPIListObjectsQuery(t *testing.T) {
	r, fake := newTestRouter(t)

	w := do(r, http.MethodGet, "/connectors/c1/objects/Group?member=u1&member=u2&pageSize=5&attrs=members,%20description", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"admins"}, names(resp.Objects))
	assert.Equal(t, 5, fake.lastOpts.PageSize)
	assert.Equal(t, []string{"members", "description"}, fake.lastOpts.AttributesToGet)

	w = do(r, http.MethodGet, "/connectors/c1/objects/Group?name=readers", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"readers"}, names(resp.Objects))

	w = do(r, http.MethodGet, "/connectors/c1/objects/Group?pageOffset=-1", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodGet, "/connectors/c1/objects/Group?allowPartial=maybe", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPISearchExpression(t *testing.T) {
	r, _ := newTestRouter(t)

	w := do(r, http.MethodPost, "/connectors/c1/objects/Group/search", gin.H{
		"filter": gin.H{"op": "or", "filters": []gin.H{
			{"op": "eq", "attribute": schema.NameAttribute, "value": "admins"},
			{"op": "containsAll", "attribute": fakeMembers, "values": []string{"u3"}},
		}},
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SearchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.ElementsMatch(t, []string{"admins", "devs"}, names(resp.Objects))

	w = do(r, http.MethodPost, "/connectors/c1/objects/Group/search", gin.H{
		"filter": gin.H{"op": "like", "attribute": "x"},
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestExpressionExpr(t *testing.T) {
	var nilExpr *Expression
	got, err := nilExpr.Expr()
	require.NoError(t, err)
	assert.Nil(t, got)

	e := Expression{Op: "and", Filters: []Expression{
		{Op: "eq", Attribute: "a", Value: "1"},
		{Op: "eq", Attribute: "b", Value: "2"},
		{Op: "not", Filters: []Expression{{Op: "eq", Attribute: "c", Value: "3"}}},
	}}
	got, err = e.Expr()
	require.NoError(t, err)
	assert.Equal(t, filter.And{
		Left: filter.And{
			Left:  filter.Equals{Attribute: "a", Value: "1"},
			Right: filter.Equals{Attribute: "b", Value: "2"},
		},
		Right: filter.Not{Expr: filter.Equals{Attribute: "c", Value: "3"}},
	}, got)

	for _, bad := range []Expression{
		{Op: "eq"},
		{Op: "containsAll", Attribute: "m"},
		{Op: "not"},
		{Op: "or", Filters: []Expression{{Op: "eq", Attribute: "a"}}},
	} {
		_, err := bad.Expr()
		assert.Error(t, err, bad.Op)
	}
}

func TestStatusOf(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrConnectorNotFound, http.StatusNotFound},
		{connerr.New(connerr.InvalidInput, "x"), http.StatusBadRequest},
		{connerr.New(connerr.AlreadyExists, "x"), http.StatusConflict},
		{connerr.New(connerr.UnknownTarget, "x"), http.StatusNotFound},
		{connerr.New(connerr.ConnectionFailure, "x"), http.StatusBadGateway},
		{connerr.New(connerr.UpstreamFailure, "x"), http.StatusBadGateway},
		{fmt.Errorf("search: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusOf(tt.err), tt.err.Error())
	}
}

func TestAPIUpstreamFailure(t *testing.T) {
	r, fake := newTestRouter(t)
	fake.searchErr = connerr.New(connerr.UpstreamFailure, "backend down")

	w := do(r, http.MethodGet, "/connectors/c1/objects/Group", nil)
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), `"kind":"upstream_failure"`)
}

func TestAPIRegisterAndRemoveConnector(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := NewRegistry()
	reg.Register("fake", func(c Config) (Connector, error) { return newFakeConnector(c.ID), nil })
	r := gin.New()
	NewHTTPHandler(NewService(reg, ServiceOptions{}), zap.NewNop()).RegisterRoutes(r.Group(""))

	w := do(r, http.MethodPost, "/connectors", gin.H{"id": "c9", "type": "fake", "settings": gin.H{"base_url": "x"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"c9"`)

	w = do(r, http.MethodPost, "/connectors", gin.H{"id": "c10"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = do(r, http.MethodPost, "/connectors", gin.H{"id": "c10", "type": "ldap"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(r, http.MethodDelete, "/connectors/c9", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = do(r, http.MethodDelete, "/connectors/c9", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
