package testutil

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/toolmesh/openapi"
)

var (
	//go:embed testdata/weather.json
	WeatherDocument []byte

	//go:embed testdata/electricity.json
	ElectricityDocument []byte
)

// Request is one request received by a ToolAPI.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization []string
	Body          string
}

// ToolAPI is a fake weather and electricity API. The electricity routes
// require "Authorization: Bearer <Token>".
type ToolAPI struct {
	Server *httptest.Server
	Token  string

	mu       sync.Mutex
	requests []Request
}

// NewToolAPI starts a ToolAPI accepting token. It is closed with t.
func NewToolAPI(t testing.TB, token string) *ToolAPI {
	t.Helper()
	api := &ToolAPI{Token: token}

	r := chi.NewRouter()
	r.Use(api.record)
	r.Get("/weather/{city}", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"temperature": 21.5,
			"condition":   "sunny in " + chi.URLParam(req, "city"),
			"wind":        map[string]any{"speed": 3.2, "direction": "W"},
		})
	})
	r.Get("/forecast/{city}", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, []any{map[string]any{"temperature": 19, "condition": "cloudy"}})
	})
	r.Group(func(r chi.Router) {
		r.Use(api.requireToken)
		r.Get("/prices", func(w http.ResponseWriter, req *http.Request) {
			q := req.URL.Query()
			writeJSON(w, http.StatusOK, map[string]any{
				"city":   q.Get("city"),
				"date":   q.Get("date"),
				"prices": []any{map[string]any{"hour": 0, "price": 0.42, "currency": "DKK"}},
			})
		})
		r.Post("/alerts", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusCreated, map[string]any{"status": "created"})
		})
	})

	api.Server = httptest.NewServer(r)
	t.Cleanup(api.Server.Close)

	return api
}

func (a *ToolAPI) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		var body []byte
		if req.Body != nil {
			body, _ = io.ReadAll(req.Body)
			req.Body = io.NopCloser(bytes.NewReader(body))
		}
		a.mu.Lock()
		a.requests = append(a.requests, Request{
			Method:        req.Method,
			Path:          req.URL.Path,
			Query:         req.URL.RawQuery,
			Authorization: req.Header.Values("Authorization"),
			Body:          string(body),
		})
		a.mu.Unlock()
		next.ServeHTTP(w, req)
	})
}

func (a *ToolAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.Header.Get("Authorization") != "Bearer "+a.Token {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"message": "Missing or invalid bearer token"})
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Requests returns the received requests in order.
func (a *ToolAPI) Requests() []Request {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Request(nil), a.requests...)
}

// RequestsTo returns the received requests for path.
func (a *ToolAPI) RequestsTo(path string) []Request {
	var out []Request
	for _, r := range a.Requests() {
		if r.Path == path {
			out = append(out, r)
		}
	}
	return out
}

// Weather returns the weather descriptor pointed at the fake API.
func (a *ToolAPI) Weather(t testing.TB) *openapi.Descriptor {
	return Descriptor(t, "weather", WeatherDocument, a.Server.URL)
}

// Electricity returns the electricity descriptor pointed at the fake API.
func (a *ToolAPI) Electricity(t testing.TB) *openapi.Descriptor {
	return Descriptor(t, "electricity", ElectricityDocument, a.Server.URL)
}

// Descriptor parses doc with its server URL replaced by baseURL.
func Descriptor(t testing.TB, name string, doc []byte, baseURL string) *openapi.Descriptor {
	t.Helper()
	d, err := openapi.Parse(name, doc, func(o *openapi.Options) { o.BaseURL = baseURL })
	require.NoError(t, err)
	return d
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
