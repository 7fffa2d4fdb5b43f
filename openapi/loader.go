package openapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"golang.org/x/sync/errgroup"
)

// maxDocumentSize bounds documents fetched over HTTP.
const maxDocumentSize = 8 << 20

// Options configure loading.
type Options struct {
	// BaseURL overrides the first servers entry of the document.
	BaseURL string
	// HTTPClient fetches http(s) sources. Defaults to a client with a 30s timeout.
	HTTPClient *http.Client
}

// Load reads, resolves and validates the document at source, a local file
// path or an http(s) URL. References must be local to the document.
func Load(ctx context.Context, source string, optFns ...func(o *Options)) (*Descriptor, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	loader := newLoader(ctx, opts.HTTPClient)

	var (
		doc *openapi3.T
		err error
	)
	if isURL(source) {
		var u *url.URL
		if u, err = url.Parse(source); err == nil {
			doc, err = loader.LoadFromURI(u)
		}
	} else {
		doc, err = loader.LoadFromFile(source)
	}
	if err != nil {
		return nil, &ParseError{Source: source, Err: err}
	}

	return build(ctx, source, doc, opts)
}

// LoadAll loads several documents concurrently. Results keep the order of
// sources; the first failure cancels the remaining loads.
func LoadAll(ctx context.Context, sources []string, optFns ...func(o *Options)) ([]*Descriptor, error) {
	descs := make([]*Descriptor, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	for i, src := range sources {
		g.Go(func() error {
			d, err := Load(gctx, src, optFns...)
			if err != nil {
				return err
			}
			descs[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return descs, nil
}

// Parse parses an in-memory JSON or YAML document. name identifies it in
// errors.
func Parse(name string, data []byte, optFns ...func(o *Options)) (*Descriptor, error) {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	ctx := context.Background()
	doc, err := newLoader(ctx, opts.HTTPClient).LoadFromData(data)
	if err != nil {
		return nil, &ParseError{Source: name, Err: err}
	}

	return build(ctx, name, doc, opts)
}

func newLoader(ctx context.Context, client *http.Client) *openapi3.Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}

	loader := openapi3.NewLoader()
	loader.Context = ctx
	loader.IsExternalRefsAllowed = false
	loader.ReadFromURIFunc = func(l *openapi3.Loader, u *url.URL) ([]byte, error) {
		if u.Scheme != "http" && u.Scheme != "https" {
			return openapi3.ReadFromFile(l, u)
		}
		return fetch(l.Context, client, u.String())
	}
	return loader
}

func isURL(source string) bool {
	return strings.HasPrefix(source, "http://") || strings.HasPrefix(source, "https://")
}

func fetch(ctx context.Context, client *http.Client, location string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
}

func build(ctx context.Context, source string, doc *openapi3.T, opts Options) (*Descriptor, error) {
	fail := func(err error) (*Descriptor, error) {
		return nil, &ParseError{Source: source, Err: err}
	}

	if err := doc.Validate(ctx, openapi3.DisableExamplesValidation()); err != nil {
		return fail(err)
	}
	if doc.Paths == nil {
		return fail(errors.New(`missing "paths" object`))
	}

	d := &Descriptor{Source: source}
	if doc.Info != nil {
		d.Title = doc.Info.Title
		d.Version = doc.Info.Version
		d.Description = doc.Info.Description
	}

	d.BaseURL = opts.BaseURL
	if d.BaseURL == "" && len(doc.Servers) > 0 && doc.Servers[0] != nil {
		d.BaseURL = doc.Servers[0].URL
	}
	if d.BaseURL == "" || d.BaseURL == "/" {
		return fail(errors.New("no server URL"))
	}
	d.BaseURL = strings.TrimRight(d.BaseURL, "/")

	items := doc.Paths.Map()
	pathKeys := make([]string, 0, len(items))
	for p := range items {
		pathKeys = append(pathKeys, p)
	}
	sort.Strings(pathKeys)

	seen := map[string]bool{}
	for _, p := range pathKeys {
		item := items[p]
		if item == nil {
			continue
		}
		shared, err := convertParameters(item.Parameters)
		if err != nil {
			return fail(fmt.Errorf("path %q: %w", p, err))
		}
		for _, method := range methodOrder {
			raw := item.GetOperation(strings.ToUpper(method))
			if raw == nil {
				continue
			}
			op, err := convertOperation(p, method, raw, shared)
			if err != nil {
				return fail(fmt.Errorf("%s %s: %w", strings.ToUpper(method), p, err))
			}
			if seen[op.ID] {
				return fail(fmt.Errorf("duplicate operation id %q", op.ID))
			}
			seen[op.ID] = true
			d.Operations = append(d.Operations, op)
		}
	}

	return d, nil
}

func convertOperation(path, method string, raw *openapi3.Operation, shared []Parameter) (Operation, error) {
	op := Operation{
		ID:          raw.OperationID,
		Method:      strings.ToUpper(method),
		Path:        path,
		Summary:     raw.Summary,
		Description: raw.Description,
	}
	if op.ID == "" {
		op.ID = fmt.Sprintf("%s_%s", method, sanitizePath(path))
	}

	own, err := convertParameters(raw.Parameters)
	if err != nil {
		return op, err
	}
	op.Parameters = mergeParameters(shared, own)

	if raw.RequestBody != nil && raw.RequestBody.Value != nil {
		rb := raw.RequestBody.Value
		body := &RequestBody{Description: rb.Description, Required: rb.Required}
		keys := sortedKeys(rb.Content)
		for _, ct := range keys {
			if strings.Contains(ct, "json") {
				body.ContentType = ct
				break
			}
		}
		if body.ContentType == "" && len(keys) > 0 {
			body.ContentType = keys[0]
		}
		if body.ContentType == "" {
			return op, errors.New("request body declares no content")
		}
		if mt := rb.Content[body.ContentType]; mt != nil && mt.Schema != nil {
			if body.Schema, err = schemaMap(mt.Schema); err != nil {
				return op, fmt.Errorf("request body: %w", err)
			}
		}
		op.RequestBody = body
	}

	if raw.Responses != nil {
		responses := raw.Responses.Map()
		op.Responses = make(map[string]Response, len(responses))
		for status, ref := range responses {
			if ref == nil || ref.Value == nil {
				continue
			}
			resp := Response{}
			if ref.Value.Description != nil {
				resp.Description = *ref.Value.Description
			}
			for _, ct := range sortedKeys(ref.Value.Content) {
				mt := ref.Value.Content[ct]
				if mt == nil || mt.Schema == nil {
					continue
				}
				if resp.Schema, err = schemaMap(mt.Schema); err != nil {
					return op, fmt.Errorf("response %s: %w", status, err)
				}
				break
			}
			op.Responses[status] = resp
		}
	}

	return op, nil
}

func convertParameters(refs openapi3.Parameters) ([]Parameter, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	params := make([]Parameter, 0, len(refs))
	for i, ref := range refs {
		if ref == nil || ref.Value == nil {
			return nil, fmt.Errorf("parameter %d is unresolved", i)
		}
		v := ref.Value
		p := Parameter{
			Name:        v.Name,
			In:          v.In,
			Description: v.Description,
			Required:    v.Required,
		}
		if p.Name == "" {
			return nil, fmt.Errorf("parameter %d has no name", i)
		}
		switch p.In {
		case openapi3.ParameterInPath:
			p.Required = true
		case openapi3.ParameterInQuery, openapi3.ParameterInHeader, openapi3.ParameterInCookie:
		default:
			return nil, fmt.Errorf("parameter %q has invalid location %q", p.Name, p.In)
		}
		if v.Schema != nil {
			s, err := schemaMap(v.Schema)
			if err != nil {
				return nil, fmt.Errorf("parameter %q: %w", p.Name, err)
			}
			p.Schema = s
		}
		params = append(params, p)
	}
	return params, nil
}

// mergeParameters applies operation level parameters over path level ones,
// matching on (name, in).
func mergeParameters(shared, own []Parameter) []Parameter {
	if len(shared) == 0 {
		return own
	}
	out := make([]Parameter, 0, len(shared)+len(own))
	for _, s := range shared {
		overridden := false
		for _, o := range own {
			if o.Name == s.Name && o.In == s.In {
				overridden = true
				break
			}
		}
		if !overridden {
			out = append(out, s)
		}
	}
	return append(out, own...)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
