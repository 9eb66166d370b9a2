package rest

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

// RequestIDHeader carries a per-request correlation id.
const RequestIDHeader = "X-Request-Id"

// TransportConfig configures the HTTP stack shared by one connector session.
type TransportConfig struct {
	Token     string
	UserAgent string

	ProxyHost     string
	ProxyPort     int
	ProxyUser     string
	ProxyPassword string

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration

	// RateLimit is the steady request rate per second. Zero disables throttling.
	RateLimit float64
	RateBurst int

	// RetryMax enables transport retries on 429 and 5xx responses when positive.
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Transport owns the pooled connections of one connector session.
type Transport struct {
	base   *http.Transport
	client *http.Client
}

// NewTransport builds the round tripper chain: optional retry, bearer token,
// throttle, default headers and the pooled base transport.
func NewTransport(cfg TransportConfig) (*Transport, error) {
	dialer := &net.Dialer{
		Timeout:   cfg.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	base := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   cfg.ConnectTimeout,
		ResponseHeaderTimeout: cfg.ReadTimeout,
		ExpectContinueTimeout: time.Second,
	}
	if cfg.ProxyHost != "" {
		proxyURL, err := proxyURL(cfg)
		if err != nil {
			return nil, err
		}
		base.Proxy = http.ProxyURL(proxyURL)
	}

	var rt http.RoundTripper = &headerTransport{base: base, userAgent: cfg.UserAgent}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		rt = &throttledTransport{base: rt, limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)}
	}
	if cfg.Token != "" {
		rt = &oauth2.Transport{
			Source: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token, TokenType: "Bearer"}),
			Base:   rt,
		}
	}

	timeout := cfg.ConnectTimeout + cfg.ReadTimeout + cfg.WriteTimeout
	client := &http.Client{Transport: rt, Timeout: timeout}
	if cfg.RetryMax > 0 {
		rc := retryablehttp.NewClient()
		rc.HTTPClient = &http.Client{Transport: rt}
		rc.RetryMax = cfg.RetryMax
		if cfg.RetryWaitMin > 0 {
			rc.RetryWaitMin = cfg.RetryWaitMin
		}
		if cfg.RetryWaitMax > 0 {
			rc.RetryWaitMax = cfg.RetryWaitMax
		}
		// keep the default CheckRetry (429/5xx, honors Retry-After) and hand the
		// final response back so it is classified like any other.
		rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
		rc.Logger = nil
		client = rc.StandardClient()
		client.Timeout = timeout
	}
	return &Transport{base: base, client: client}, nil
}

// Client returns the HTTP client using this transport.
func (t *Transport) Client() *http.Client { return t.client }

// Close evicts pooled idle connections.
func (t *Transport) Close() {
	t.base.CloseIdleConnections()
}

func proxyURL(cfg TransportConfig) (*url.URL, error) {
	port := cfg.ProxyPort
	if port == 0 {
		port = 3128
	}
	u, err := url.Parse("http://" + net.JoinHostPort(cfg.ProxyHost, strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("invalid proxy %s:%d: %w", cfg.ProxyHost, port, err)
	}
	if cfg.ProxyUser != "" {
		u.User = url.UserPassword(cfg.ProxyUser, cfg.ProxyPassword)
	}
	return u, nil
}

type headerTransport struct {
	base      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	if r.Header.Get("Accept") == "" {
		r.Header.Set("Accept", "application/json")
	}
	if t.userAgent != "" {
		r.Header.Set("User-Agent", t.userAgent)
	}
	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, uuid.NewString())
	}
	return t.base.RoundTrip(r)
}

type throttledTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *throttledTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}
