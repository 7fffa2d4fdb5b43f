// Package transport provides the HTTP transport bound to a single tool plugin.
// A Transport injects a fixed Authorization bearer header into every request
// it carries and owns its own connection pool, so tools with different
// credentials never share sockets or headers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// ErrTransportClosed is returned by RoundTrip after Close.
var ErrTransportClosed = errors.New("transport closed")

// Config is the explicit, auditable description of one tool's transport. It
// is resolved once by New; later changes to the environment have no effect.
type Config struct {
	// Plugin names the owning plugin (diagnostics only).
	Plugin string
	// Token is an explicit bearer token. Takes precedence over TokenEnv.
	Token string
	// TokenEnv names the environment variable holding the bearer token.
	TokenEnv string
	// LookupEnv resolves TokenEnv. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// Base is the underlying round tripper. Defaults to a fresh clone of
	// http.DefaultTransport so the pool is owned by this Transport.
	Base http.RoundTripper
	// Header holds additional static headers sent with every request.
	Header http.Header
	// Timeout bounds each request made through Client. Zero means 30s.
	Timeout time.Duration
}

// Transport is an http.RoundTripper applying static headers plus per-call
// overrides carried on the request context.
type Transport struct {
	plugin  string
	header  http.Header
	base    http.RoundTripper
	timeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
}

// New builds a Transport from cfg. It fails with *MissingCredentialError when
// neither Token nor a non-empty TokenEnv value is available.
func New(cfg Config) (*Transport, error) {
	token, err := resolveToken(cfg)
	if err != nil {
		return nil, err
	}

	t := newTransport(cfg)
	t.header.Set("Authorization", "Bearer "+token)

	return t, nil
}

// Bind is the short form of New for an explicit token.
func Bind(base http.RoundTripper, token string) (*Transport, error) {
	return New(Config{Base: base, Token: token})
}

// Unauthenticated builds a Transport that injects no credential. Per-call
// header overrides still apply.
func Unauthenticated(base http.RoundTripper) *Transport {
	return newTransport(Config{Base: base})
}

func newTransport(cfg Config) *Transport {
	base := cfg.Base
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	header := http.Header{}
	for k, vs := range cfg.Header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	return &Transport{plugin: cfg.Plugin, header: header, base: base, timeout: timeout}
}

func resolveToken(cfg Config) (string, error) {
	if token := strings.TrimSpace(cfg.Token); token != "" {
		return token, nil
	}
	if cfg.TokenEnv == "" {
		return "", &MissingCredentialError{Plugin: cfg.Plugin}
	}
	lookup := cfg.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	token, ok := lookup(cfg.TokenEnv)
	if !ok || strings.TrimSpace(token) == "" {
		return "", &MissingCredentialError{Plugin: cfg.Plugin, Env: cfg.TokenEnv}
	}
	return strings.TrimSpace(token), nil
}

// RoundTrip implements http.RoundTripper. Static headers are set first, then
// per-call headers from the request context replace any header of the same
// name. Each header is set, never appended, so Authorization appears once.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}

	r := req.Clone(req.Context())
	for k, vs := range t.header {
		r.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range HeadersFromContext(req.Context()) {
		r.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}

	return t.base.RoundTrip(r)
}

// Client returns an *http.Client that sends requests through t.
func (t *Transport) Client() *http.Client {
	return &http.Client{Transport: t, Timeout: t.timeout}
}

// Authenticated reports whether t injects an Authorization header.
func (t *Transport) Authenticated() bool {
	return t.header.Get("Authorization") != ""
}

// Plugin returns the plugin name the transport was configured for.
func (t *Transport) Plugin() string { return t.plugin }

// Close releases idle pooled connections. Requests issued afterwards fail
// with ErrTransportClosed. Close is idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		if ci, ok := t.base.(interface{ CloseIdleConnections() }); ok {
			ci.CloseIdleConnections()
		}
	})
	return nil
}

// String describes the transport without revealing the token.
func (t *Transport) String() string {
	return fmt.Sprintf("transport(plugin=%q, authenticated=%t)", t.plugin, t.Authenticated())
}

type headersKey struct{}

// WithHeaders returns a context carrying per-call headers. Transports apply
// them after their static headers, so they win on conflicts.
func WithHeaders(ctx context.Context, h http.Header) context.Context {
	if len(h) == 0 {
		return ctx
	}
	return context.WithValue(ctx, headersKey{}, h.Clone())
}

// HeadersFromContext returns the per-call headers carried by ctx, if any.
func HeadersFromContext(ctx context.Context) http.Header {
	h, _ := ctx.Value(headersKey{}).(http.Header)
	return h
}

// BearerHeader returns a header set holding a single bearer Authorization entry.
func BearerHeader(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
