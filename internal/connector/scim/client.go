package scim

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/rest"
	scimapi "github.com/dhawalhost/scimbridge/internal/scim"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// client talks to the Users and Groups endpoints of one SCIM service provider.
type client struct {
	transport *rest.Transport
	rest      *rest.Client
	users     *rest.Endpoint[scimapi.User]
	groups    *rest.Endpoint[scimapi.Group]
}

func newClient(name string, cfg Config, logger *zap.Logger, metrics *rest.Metrics, tracer trace.Tracer) (*client, error) {
	transport, err := rest.NewTransport(rest.TransportConfig{
		Token:          cfg.Token,
		UserAgent:      cfg.UserAgent,
		ProxyHost:      cfg.HTTPProxyHost,
		ProxyPort:      cfg.HTTPProxyPort,
		ProxyUser:      cfg.HTTPProxyUser,
		ProxyPassword:  cfg.HTTPProxyPassword,
		ConnectTimeout: cfg.ConnectionTimeout,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		RateLimit:      cfg.RateLimit,
		RateBurst:      cfg.RateBurst,
		RetryMax:       cfg.RetryMax,
		RetryWaitMin:   cfg.RetryWaitMin,
		RetryWaitMax:   cfg.RetryWaitMax,
	})
	if err != nil {
		return nil, connerr.Wrap(connerr.InvalidInput, err, "invalid transport settings")
	}

	rc := rest.NewClient(rest.Options{
		Name:        name,
		BaseURL:     cfg.BaseURL,
		HTTPClient:  transport.Client(),
		Logger:      logger,
		Metrics:     metrics,
		Tracer:      tracer,
		ErrorDetail: scimapi.ErrorDetail,
	})

	userPaging := rest.DefaultPaging()
	userPaging.StartFromZero = cfg.UserStartIndexFromZero
	groupPaging := rest.DefaultPaging()
	groupPaging.StartFromZero = cfg.GroupStartIndexFromZero

	return &client{
		transport: transport,
		rest:      rc,
		users:     rest.NewEndpoint[scimapi.User](rc, UserObjectClass, cfg.PathPrefix+"/Users", userPaging),
		groups:    rest.NewEndpoint[scimapi.Group](rc, GroupObjectClass, cfg.PathPrefix+"/Groups", groupPaging),
	}, nil
}

// test fetches the ServiceProviderConfig document, which needs valid credentials.
func (c *client) test(ctx context.Context, prefix string) error {
	req := rest.Request{Method: http.MethodGet, Path: prefix + "/ServiceProviderConfig"}
	resp, err := c.rest.Do(ctx, req)
	if err != nil {
		return err
	}
	if resp.Status != http.StatusOK {
		return connerr.New(connerr.ConnectionFailure, "connection test failed: status=%d: %s",
			resp.Status, rest.Snippet(resp.Body))
	}
	var spc scimapi.ServiceProviderConfig
	return resp.Decode(&spc)
}

func (c *client) close() {
	c.transport.Close()
}

// excluding returns a search query for expr that leaves out the listed
// attributes. Both may be empty.
func excluding(expr string, excluded ...string) url.Values {
	q := rest.FilterQuery(expr)
	if len(excluded) == 0 {
		return q
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("excludedAttributes", strings.Join(excluded, ","))
	return q
}

// byName returns the filter query matching attr exactly.
func byName(attr, value string) string {
	return filter.EqualsQuery(attr, value)
}
