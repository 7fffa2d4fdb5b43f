package openapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/go-chi/chi/v5"
	"github.com/hupe1980/toolmesh/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_WeatherInlinesReferences(t *testing.T) {
	d, err := Load(context.Background(), "testdata/weather.json")
	require.NoError(t, err)

	assert.Equal(t, "Weather API", d.Title)
	assert.Equal(t, "https://weather.example.com/api", d.BaseURL)
	require.Len(t, d.Operations, 2)

	// Operations are ordered by path.
	assert.Equal(t, "GetForecast", d.Operations[0].ID)
	assert.Equal(t, "GetCurrentWeather", d.Operations[1].ID)

	op, ok := d.Operation("GetCurrentWeather")
	require.True(t, ok)
	assert.Equal(t, "GET", op.Method)
	assert.Equal(t, "/weather/{city}", op.Path)
	require.Len(t, op.Parameters, 2)
	assert.Equal(t, "city", op.Parameters[0].Name)
	assert.True(t, op.Parameters[0].Required)
	assert.Equal(t, "units", op.Parameters[1].Name)
	assert.Equal(t, []any{"metric", "imperial"}, op.Parameters[1].Schema["enum"])

	wind := op.Responses["200"].Schema["properties"].(map[string]any)["wind"].(map[string]any)
	assert.Equal(t, "object", wind["type"])

	raw, err := json.Marshal(d)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "$ref")
}

func TestLoad_ElectricityRequestBodyAndResponses(t *testing.T) {
	d, err := Load(context.Background(), "testdata/electricity.json")
	require.NoError(t, err)

	op, ok := d.Operation("CreatePriceAlert")
	require.True(t, ok)
	require.NotNil(t, op.RequestBody)
	assert.Equal(t, "application/json", op.RequestBody.ContentType)
	assert.True(t, op.RequestBody.Required)
	assert.Equal(t, []any{"city", "threshold"}, op.RequestBody.Schema["required"])
	assert.Equal(t, "Missing or invalid bearer token", op.Responses["401"].Description)

	schema := op.ArgumentsSchema()
	assert.Equal(t, []any{BodyArgument}, schema["required"])
	assert.Contains(t, schema["properties"], BodyArgument)
}

func TestLoad_Idempotent(t *testing.T) {
	for _, src := range []string{"testdata/weather.json", "testdata/electricity.json"} {
		a, err := Load(context.Background(), src)
		require.NoError(t, err)
		b, err := Load(context.Background(), src)
		require.NoError(t, err)
		assert.True(t, a.Equal(b), src)
	}
}

func TestLoad_Failures(t *testing.T) {
	tests := []string{
		"testdata/malformed.json",
		"testdata/cycle.json",
		"testdata/dangling.json",
		"testdata/does-not-exist.json",
	}
	for _, source := range tests {
		t.Run(filepath.Base(source), func(t *testing.T) {
			d, err := Load(context.Background(), source)
			assert.Nil(t, d)
			require.Error(t, err)
			assert.True(t, errors.Is(err, core.ErrSchemaParse))
			var pe *ParseError
			require.True(t, errors.As(err, &pe))
			assert.Equal(t, source, pe.Source)
		})
	}
}

func TestSchemaMap_SelfContainingSchemaIsACycle(t *testing.T) {
	node := openapi3.NewObjectSchema()
	node.Properties = openapi3.Schemas{
		"next": &openapi3.SchemaRef{Ref: "#/components/schemas/Node", Value: node},
	}

	_, err := schemaMap(&openapi3.SchemaRef{Ref: "#/components/schemas/Node", Value: node})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reference cycle")
}

func TestSchemaMap_SharedSchemaIsNotACycle(t *testing.T) {
	price := openapi3.NewFloat64Schema()
	pair := openapi3.NewObjectSchema()
	pair.Properties = openapi3.Schemas{
		"low":  &openapi3.SchemaRef{Ref: "#/components/schemas/Price", Value: price},
		"high": &openapi3.SchemaRef{Ref: "#/components/schemas/Price", Value: price},
	}

	m, err := schemaMap(openapi3.NewSchemaRef("", pair))
	require.NoError(t, err)
	props := m["properties"].(map[string]any)
	assert.Equal(t, "number", props["low"].(map[string]any)["type"])
	assert.Equal(t, "number", props["high"].(map[string]any)["type"])
}

// inlineDoc wraps paths and components in a minimal valid document.
func inlineDoc(paths, components string) string {
	doc := `{"openapi": "3.0.0", "info": {"title": "t", "version": "1"}, "servers": [{"url": "http://x"}], "paths": ` + paths
	if components != "" {
		doc += `, "components": ` + components
	}
	return doc + "}"
}

func TestParse_StructuralErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		msg  string
	}{
		{"not an object", `[]`, ""},
		{"no version", `{"info": {"title": "t", "version": "1"}, "paths": {}}`, ""},
		{"no server", `{"openapi": "3.0.0", "info": {"title": "t", "version": "1"}, "paths": {}}`, "no server URL"},
		{"external ref", inlineDoc(`{"/a": {"get": {"parameters": [{"$ref": "other.json#/components/parameters/Q"}], "responses": {"200": {"description": "ok"}}}}}`, ""), ""},
		{"bad location", inlineDoc(`{"/a": {"get": {"parameters": [{"name": "q", "in": "body"}], "responses": {"200": {"description": "ok"}}}}}`, ""), ""},
		{"undeclared path parameter", inlineDoc(`{"/a/{id}": {"get": {"responses": {"200": {"description": "ok"}}}}}`, ""), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.name, []byte(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, core.ErrSchemaParse)
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestParse_BaseURLOverrideAndGeneratedIDs(t *testing.T) {
	doc := inlineDoc(`{
		"/items/{id}": {
			"parameters": [{"name": "id", "in": "path", "required": true, "schema": {"type": "integer"}}],
			"get": {"responses": {"200": {"description": "ok"}}},
			"delete": {"summary": "Delete", "responses": {"204": {"description": "gone"}}}
		}
	}`, "")
	d, err := Parse("inline", []byte(doc), func(o *Options) { o.BaseURL = "http://localhost:8080/" })
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080", d.BaseURL)
	require.Len(t, d.Operations, 2)
	assert.Equal(t, "get_items_id", d.Operations[0].ID)
	assert.Equal(t, "delete_items_id", d.Operations[1].ID)
	assert.True(t, d.Operations[0].Parameters[0].Required)
	assert.Equal(t, "Delete", d.Operations[1].Summary)
}

func TestParse_PercentEncodedReference(t *testing.T) {
	doc := inlineDoc(`{
		"/report": {"get": {"operationId": "GetReport", "responses": {"200": {
			"description": "ok",
			"content": {"application/json": {"schema": {"$ref": "#/components/schemas/Price%2DReport"}}}
		}}}}
	}`, `{"schemas": {"Price-Report": {"type": "object", "properties": {"area": {"type": "string"}}}}}`)

	d, err := Parse("encoded", []byte(doc))
	require.NoError(t, err)

	op, ok := d.Operation("GetReport")
	require.True(t, ok)
	schema := op.Responses["200"].Schema
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["properties"], "area")
}

func TestParse_YAMLDocument(t *testing.T) {
	doc := `
openapi: 3.0.0
info:
  title: Prices
  version: "1"
servers:
  - url: https://prices.example.com
paths:
  /prices:
    get:
      operationId: GetPrice
      parameters:
        - $ref: "#/components/parameters/Area"
      responses:
        "200":
          description: ok
components:
  parameters:
    Area:
      name: area
      in: query
      required: true
      schema:
        type: string
`
	d, err := Parse("prices.yaml", []byte(doc))
	require.NoError(t, err)

	require.Len(t, d.Operations, 1)
	assert.Equal(t, "area", d.Operations[0].Parameters[0].Name)
	assert.True(t, d.Operations[0].Parameters[0].Required)
}

func TestLoad_FromURL(t *testing.T) {
	data, err := os.ReadFile("testdata/electricity.json")
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Get("/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(router)
	defer srv.Close()

	d, err := Load(context.Background(), srv.URL+"/openapi.json")
	require.NoError(t, err)
	assert.Equal(t, "Electricity Price API", d.Title)

	_, err = Load(context.Background(), srv.URL+"/missing.json")
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrSchemaParse)
	assert.True(t, strings.Contains(err.Error(), "HTTP 404"))
}

func TestLoadAll_KeepsOrderAndFailsFast(t *testing.T) {
	descs, err := LoadAll(context.Background(), []string{"testdata/weather.json", "testdata/electricity.json"})
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, "Weather API", descs[0].Title)
	assert.Equal(t, "Electricity Price API", descs[1].Title)

	_, err = LoadAll(context.Background(), []string{"testdata/weather.json", "testdata/cycle.json"})
	assert.ErrorIs(t, err, core.ErrSchemaParse)
}

func TestOperation_DescribeAndArgumentsSchema(t *testing.T) {
	op := Operation{
		Method:  "GET",
		Path:    "/prices",
		Summary: "Get price",
		Parameters: []Parameter{
			{Name: "city", In: "query", Required: true, Description: "City"},
			{Name: "date", In: "query", Schema: map[string]any{"type": "string", "format": "date"}},
		},
	}
	assert.Equal(t, "Get price", op.Describe())
	assert.Equal(t, "POST /x", Operation{Method: "POST", Path: "/x"}.Describe())

	schema := op.ArgumentsSchema()
	props := schema["properties"].(map[string]any)
	assert.Equal(t, "string", props["city"].(map[string]any)["type"])
	assert.Equal(t, "City", props["city"].(map[string]any)["description"])
	assert.Equal(t, "date", props["date"].(map[string]any)["format"])
	assert.Equal(t, []any{"city"}, schema["required"])
}
