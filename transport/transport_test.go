package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hupe1980/toolmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	headers []http.Header
}

func (r *recorder) server(t *testing.T) *httptest.Server {
	t.Helper()
	router := chi.NewRouter()
	router.Get("/echo", func(w http.ResponseWriter, req *http.Request) {
		r.mu.Lock()
		r.headers = append(r.headers, req.Header.Clone())
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func (r *recorder) last() http.Header {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.headers[len(r.headers)-1]
}

func get(t *testing.T, ctx context.Context, tr *Transport, url string, hdr http.Header) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := tr.Client().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
}

func TestBind_InjectsBearerExactlyOnce(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t)

	tr, err := Bind(nil, "t123")
	require.NoError(t, err)
	defer tr.Close()

	// A caller supplied Authorization is replaced, not duplicated.
	get(t, context.Background(), tr, srv.URL+"/echo", http.Header{"Authorization": {"Bearer stale"}, "X-Trace": {"abc"}})

	h := rec.last()
	assert.Equal(t, []string{"Bearer t123"}, h.Values("Authorization"))
	assert.Equal(t, "abc", h.Get("X-Trace"))
}

func TestNew_TokenFromEnv(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t)

	tr, err := New(Config{
		Plugin:   "ElectricityPlugin",
		TokenEnv: "API_ACCESS_TOKEN",
		LookupEnv: func(k string) (string, bool) {
			if k == "API_ACCESS_TOKEN" {
				return "from-env", true
			}
			return "", false
		},
	})
	require.NoError(t, err)
	defer tr.Close()

	assert.True(t, tr.Authenticated())
	assert.Equal(t, "ElectricityPlugin", tr.Plugin())
	assert.NotContains(t, tr.String(), "from-env")

	get(t, context.Background(), tr, srv.URL+"/echo", nil)
	assert.Equal(t, "Bearer from-env", rec.last().Get("Authorization"))
}

func TestNew_MissingCredential(t *testing.T) {
	noEnv := func(string) (string, bool) { return "", false }
	emptyEnv := func(string) (string, bool) { return "  ", true }

	tests := []struct {
		name string
		cfg  Config
	}{
		{"no source", Config{Plugin: "p"}},
		{"env absent", Config{Plugin: "p", TokenEnv: "API_ACCESS_TOKEN", LookupEnv: noEnv}},
		{"env empty", Config{Plugin: "p", TokenEnv: "API_ACCESS_TOKEN", LookupEnv: emptyEnv}},
		{"blank explicit token", Config{Token: "   "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, err := New(tt.cfg)
			assert.Nil(t, tr)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrMissingCredential))
			var mce *MissingCredentialError
			assert.True(t, errors.As(err, &mce))
		})
	}
}

func TestRoundTrip_PerCallOverrideWins(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t)

	tr, err := Bind(nil, "bound")
	require.NoError(t, err)
	defer tr.Close()

	ctx := WithHeaders(context.Background(), http.Header{
		"Authorization": {"Bearer per-call"},
		"x-request-id":  {"r-1"},
	})
	get(t, ctx, tr, srv.URL+"/echo", nil)

	h := rec.last()
	assert.Equal(t, []string{"Bearer per-call"}, h.Values("Authorization"))
	assert.Equal(t, "r-1", h.Get("X-Request-Id"))
}

func TestUnauthenticated_NoHeaderButOverrides(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t)

	tr := Unauthenticated(nil)
	defer tr.Close()
	assert.False(t, tr.Authenticated())

	get(t, context.Background(), tr, srv.URL+"/echo", nil)
	assert.Empty(t, rec.last().Get("Authorization"))

	get(t, WithHeaders(context.Background(), BearerHeader("x")), tr, srv.URL+"/echo", nil)
	assert.Equal(t, "Bearer x", rec.last().Get("Authorization"))
}

func TestTransports_AreIsolated(t *testing.T) {
	rec := &recorder{}
	srv := rec.server(t)

	a, err := Bind(nil, "token-a")
	require.NoError(t, err)
	defer a.Close()
	b, err := Bind(nil, "token-b")
	require.NoError(t, err)
	defer b.Close()

	for i := 0; i < 3; i++ {
		get(t, context.Background(), a, srv.URL+"/echo", nil)
		assert.Equal(t, []string{"Bearer token-a"}, rec.last().Values("Authorization"))
		get(t, context.Background(), b, srv.URL+"/echo", nil)
		assert.Equal(t, []string{"Bearer token-b"}, rec.last().Values("Authorization"))
	}
}

func TestClose_RejectsLaterRequests(t *testing.T) {
	tr, err := Bind(nil, "t")
	require.NoError(t, err)

	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())

	req, err := http.NewRequest(http.MethodGet, "http://127.0.0.1:1/", nil)
	require.NoError(t, err)
	_, err = tr.RoundTrip(req)
	assert.ErrorIs(t, err, ErrTransportClosed)
}

func TestWithHeaders_CopiesInput(t *testing.T) {
	h := http.Header{"X-A": {"1"}}
	ctx := WithHeaders(context.Background(), h)
	h.Set("X-A", "2")

	assert.Equal(t, "1", HeadersFromContext(ctx).Get("X-A"))
	assert.Nil(t, HeadersFromContext(WithHeaders(context.Background(), nil)))
}
