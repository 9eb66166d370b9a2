package rest

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

type widget struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// statusServer answers every request with status and body.
func statusServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestEndpoint(baseURL string, metrics *Metrics) *Endpoint[widget] {
	client := NewClient(Options{
		Name:       "test",
		BaseURL:    baseURL + "/",
		Classifier: DefaultStatusClassifier(),
		Logger:     zap.NewNop(),
		Metrics:    metrics,
	})
	return NewEndpoint[widget](client, "Widget", "Widgets", DefaultPaging())
}

func TestClassifier(t *testing.T) {
	c := DefaultStatusClassifier()
	tests := map[int]Classification{
		200: OK,
		201: OK,
		204: OK,
		400: InvalidRequest,
		401: Unauthenticated,
		404: NotFound,
		409: AlreadyExists,
		500: ServerError,
		503: ServerError,
		599: ServerError,
		302: Unexpected,
		403: Unexpected,
		429: Unexpected,
	}
	for status, want := range tests {
		assert.Equal(t, want, c.Classify(status, nil), "status %d", status)
	}

	custom := ClassifierFunc(func(status int, body []byte) Classification {
		if status == 200 && strings.Contains(string(body), "not found") {
			return NotFound
		}
		return c.Classify(status, body)
	})
	assert.Equal(t, NotFound, custom.Classify(200, []byte(`{"error":"not found"}`)))
}

func TestUniversalClassificationAppliesToEveryVerb(t *testing.T) {
	ctx := context.Background()
	verbs := map[string]func(e *Endpoint[widget]) error{
		"create": func(e *Endpoint[widget]) error { _, err := e.Create(ctx, widget{Name: "a"}); return err },
		"get":    func(e *Endpoint[widget]) error { _, err := e.Get(ctx, "1"); return err },
		"put":    func(e *Endpoint[widget]) error { _, err := e.Replace(ctx, "1", widget{}); return err },
		"patch":  func(e *Endpoint[widget]) error { return e.Patch(ctx, "1", map[string]any{}) },
		"delete": func(e *Endpoint[widget]) error { return e.Delete(ctx, "1") },
		"search": func(e *Endpoint[widget]) error {
			_, err := e.Search(ctx, nil, 0, 10, func(*widget) bool { return true })
			return err
		},
	}

	unauth := statusServer(t, http.StatusUnauthorized, `{"detail":"token expired"}`)
	failing := statusServer(t, http.StatusBadGateway, `upstream exploded`)
	for name, call := range verbs {
		t.Run(name, func(t *testing.T) {
			err := call(newTestEndpoint(unauth.URL, nil))
			assert.ErrorIs(t, err, connerr.ErrConnectionFailure)

			err = call(newTestEndpoint(failing.URL, nil))
			assert.ErrorIs(t, err, connerr.ErrUpstreamFailure)
			assert.Contains(t, err.Error(), "upstream exploded")
		})
	}
}

func TestVerbSpecificClassification(t *testing.T) {
	ctx := context.Background()

	notFound := newTestEndpoint(statusServer(t, http.StatusNotFound, `{"detail":"no such widget"}`).URL, nil)
	got, err := notFound.Get(ctx, "missing")
	require.NoError(t, err)
	assert.Nil(t, got)

	n, err := notFound.Search(ctx, nil, 0, 10, func(*widget) bool { return true })
	require.NoError(t, err)
	assert.Zero(t, n)

	err = notFound.Delete(ctx, "missing")
	assert.ErrorIs(t, err, connerr.ErrUnknownTarget)
	assert.Contains(t, err.Error(), "[Widget missing]")
	assert.ErrorIs(t, notFound.Patch(ctx, "missing", map[string]any{}), connerr.ErrUnknownTarget)
	_, err = notFound.Replace(ctx, "missing", widget{})
	assert.ErrorIs(t, err, connerr.ErrUnknownTarget)

	conflict := newTestEndpoint(statusServer(t, http.StatusConflict, `{"detail":"exists"}`).URL, nil)
	_, err = conflict.Create(ctx, widget{Name: "a"})
	assert.ErrorIs(t, err, connerr.ErrAlreadyExists)
	err = conflict.Delete(ctx, "1")
	assert.ErrorIs(t, err, connerr.ErrUpstreamFailure, "409 only means already exists on create")

	bad := newTestEndpoint(statusServer(t, http.StatusBadRequest, `{"detail":"userName is required"}`).URL, nil)
	_, err = bad.Create(ctx, widget{})
	assert.ErrorIs(t, err, connerr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "userName is required")

	teapot := newTestEndpoint(statusServer(t, http.StatusTeapot, `short and stout`).URL, nil)
	_, err = teapot.Get(ctx, "1")
	assert.ErrorIs(t, err, connerr.ErrUpstreamFailure)
	assert.Contains(t, err.Error(), "status=418")
}

func TestTransportFailureIsConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newTestEndpoint(url, nil).Get(context.Background(), "1")
	assert.ErrorIs(t, err, connerr.ErrConnectionFailure)
}

func TestMalformedBodyIsUpstreamFailure(t *testing.T) {
	e := newTestEndpoint(statusServer(t, http.StatusOK, `{not json`).URL, nil)
	_, err := e.Get(context.Background(), "1")
	assert.ErrorIs(t, err, connerr.ErrUpstreamFailure)
}

func TestCreateAndGet(t *testing.T) {
	var gotBody widget
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/Widgets":
			gotContentType = r.Header.Get("Content-Type")
			_ = json.NewDecoder(r.Body).Decode(&gotBody)
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(widget{ID: "w-1", Name: gotBody.Name})
		case r.Method == http.MethodGet && r.URL.Path == "/Widgets/w-1":
			_ = json.NewEncoder(w).Encode(widget{ID: "w-1", Name: "gear"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	e := newTestEndpoint(srv.URL, metrics)

	created, err := e.Create(context.Background(), widget{Name: "gear"})
	require.NoError(t, err)
	assert.Equal(t, "w-1", created.ID)
	assert.Equal(t, "gear", gotBody.Name)
	assert.Equal(t, "application/json", gotContentType)

	fetched, err := e.Get(context.Background(), "w-1")
	require.NoError(t, err)
	assert.Equal(t, &widget{ID: "w-1", Name: "gear"}, fetched)

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("test", "POST", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.RequestsTotal.WithLabelValues("test", "GET", "ok")))
}

func TestSearchSendsPagingAndFilter(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		queries = append(queries, r.URL.RawQuery)
		start, _ := strconv.Atoi(r.URL.Query().Get("startIndex"))
		resp := ListResponse[widget]{TotalResults: 3}
		if start == 1 {
			resp.Resources = []widget{{ID: "1"}, {ID: "2"}}
		} else if start == 3 {
			resp.Resources = []widget{{ID: "3"}}
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	e := newTestEndpoint(srv.URL, nil)
	var ids []string
	n, err := e.Search(context.Background(), FilterQuery(`name eq "x"`), 0, 2, func(w *widget) bool {
		ids = append(ids, w.ID)
		return true
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"1", "2", "3"}, ids)
	require.Len(t, queries, 3)
	assert.Equal(t, "count=2&filter=name+eq+%22x%22&startIndex=1", queries[0])
	assert.Contains(t, queries[2], "startIndex=5")
}

func TestGetByName(t *testing.T) {
	var filterSeen string
	var matches atomic.Int32
	var omitTotal atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filterSeen = r.URL.Query().Get("filter")
		resp := ListResponse[widget]{}
		for i := 0; i < int(matches.Load()); i++ {
			resp.Resources = append(resp.Resources, widget{ID: strconv.Itoa(i), Name: "gear"})
		}
		if !omitTotal.Load() {
			resp.TotalResults = len(resp.Resources)
		}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()
	e := newTestEndpoint(srv.URL, nil)

	matches.Store(1)
	got, err := e.GetByName(context.Background(), "name", `ge"ar`)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0", got.ID)
	assert.Equal(t, `name eq "ge\"ar"`, filterSeen)

	matches.Store(2)
	got, err = e.GetByName(context.Background(), "name", "gear")
	require.NoError(t, err)
	assert.Nil(t, got)

	matches.Store(0)
	got, err = e.GetByName(context.Background(), "name", "gear")
	require.NoError(t, err)
	assert.Nil(t, got)

	// filtered queries without totalResults
	matches.Store(1)
	omitTotal.Store(true)
	got, err = e.GetByName(context.Background(), "name", "gear")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "0", got.ID)
}

func TestTransportHeadersAndToken(t *testing.T) {
	var hdr http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		_ = json.NewEncoder(w).Encode(widget{ID: "1"})
	}))
	defer srv.Close()

	tr, err := NewTransport(TransportConfig{
		Token:          "secret-token",
		UserAgent:      "scimbridge-test",
		ConnectTimeout: time.Second,
		ReadTimeout:    time.Second,
		WriteTimeout:   time.Second,
		RateLimit:      100,
		RateBurst:      5,
	})
	require.NoError(t, err)
	defer tr.Close()

	client := NewClient(Options{Name: "test", BaseURL: srv.URL, HTTPClient: tr.Client()})
	e := NewEndpoint[widget](client, "Widget", "Widgets", DefaultPaging())
	_, err = e.Get(context.Background(), "1")
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-token", hdr.Get("Authorization"))
	assert.Equal(t, "application/json", hdr.Get("Accept"))
	assert.Equal(t, "scimbridge-test", hdr.Get("User-Agent"))
	assert.NotEmpty(t, hdr.Get(RequestIDHeader))
	assert.Equal(t, 3*time.Second, tr.Client().Timeout)
}

func TestTransportRetryIsOptIn(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(widget{ID: "1"})
	}))
	defer srv.Close()

	noRetry, err := NewTransport(TransportConfig{})
	require.NoError(t, err)
	e := NewEndpoint[widget](NewClient(Options{BaseURL: srv.URL, HTTPClient: noRetry.Client()}), "Widget", "Widgets", DefaultPaging())
	_, err = e.Get(context.Background(), "1")
	assert.ErrorIs(t, err, connerr.ErrUpstreamFailure)
	assert.Equal(t, int32(1), calls.Load())

	calls.Store(0)
	retrying, err := NewTransport(TransportConfig{RetryMax: 2, RetryWaitMin: time.Millisecond, RetryWaitMax: 5 * time.Millisecond})
	require.NoError(t, err)
	e = NewEndpoint[widget](NewClient(Options{BaseURL: srv.URL, HTTPClient: retrying.Client()}), "Widget", "Widgets", DefaultPaging())
	got, err := e.Get(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "1", got.ID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestProxyURL(t *testing.T) {
	u, err := proxyURL(TransportConfig{ProxyHost: "proxy.local", ProxyUser: "bob", ProxyPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "http://bob:pw@proxy.local:3128", u.String())

	u, err = proxyURL(TransportConfig{ProxyHost: "proxy.local", ProxyPort: 8080})
	require.NoError(t, err)
	assert.Equal(t, "http://proxy.local:8080", u.String())
}

func TestSnippet(t *testing.T) {
	assert.Equal(t, `Authorization: Bearer [REDACTED]`, Snippet([]byte("  Authorization: Bearer abc.def-123 \n")))
	long := strings.Repeat("x", 2000)
	assert.Len(t, Snippet([]byte(long)), 1024+3)
}

func TestErrorDetailHook(t *testing.T) {
	srv := statusServer(t, http.StatusBadRequest, `{"detail":"displayName is required","status":"400"}`)
	client := NewClient(Options{
		BaseURL: srv.URL,
		ErrorDetail: func(body []byte) string {
			var env struct {
				Detail string `json:"detail"`
			}
			_ = json.Unmarshal(body, &env)
			return env.Detail
		},
	})
	e := NewEndpoint[widget](client, "Widget", "Widgets", DefaultPaging())
	_, err := e.Create(context.Background(), widget{})
	require.Error(t, err)
	assert.True(t, strings.HasSuffix(err.Error(), "bad request: displayName is required"), err.Error())
}
