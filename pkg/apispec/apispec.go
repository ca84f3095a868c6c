// Package apispec parses Swagger-style API description documents into a
// registry of endpoint paths, their HTTP methods, and required parameters.
package apispec

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"sort"
	"strings"
	"sync"
)

// Placement values for a security definition's "in" field.
const (
	InHeader = "header"
	InQuery  = "query"
)

// Keys names the fields read from a description document. Zero fields fall
// back to the Swagger 2.0 names.
type Keys struct {
	Paths               string
	Parameters          string
	ParameterName       string
	ParameterRequired   string
	ParameterIn         string
	SecurityDefinitions string
	SecurityType        string
	SecurityName        string
	SecurityIn          string
}

// DefaultKeys returns the Swagger 2.0 field names.
func DefaultKeys() Keys {
	return Keys{
		Paths:               "paths",
		Parameters:          "parameters",
		ParameterName:       "name",
		ParameterRequired:   "required",
		ParameterIn:         "in",
		SecurityDefinitions: "securityDefinitions",
		SecurityType:        "type",
		SecurityName:        "name",
		SecurityIn:          "in",
	}
}

func (k Keys) withDefaults() Keys {
	d := DefaultKeys()
	fill := func(dst *string, def string) {
		if *dst == "" {
			*dst = def
		}
	}
	fill(&k.Paths, d.Paths)
	fill(&k.Parameters, d.Parameters)
	fill(&k.ParameterName, d.ParameterName)
	fill(&k.ParameterRequired, d.ParameterRequired)
	fill(&k.ParameterIn, d.ParameterIn)
	fill(&k.SecurityDefinitions, d.SecurityDefinitions)
	fill(&k.SecurityType, d.SecurityType)
	fill(&k.SecurityName, d.SecurityName)
	fill(&k.SecurityIn, d.SecurityIn)
	return k
}

// Parameter is one declared request parameter.
type Parameter struct {
	Name     string
	In       string
	Required bool
}

// Operation is one method on a path.
type Operation struct {
	Method     string
	Parameters []Parameter
}

// Security describes where an API credential is placed.
type Security struct {
	Type string
	Name string
	In   string
}

// pathEntry keeps methods in declaration order; the first is used for requests.
type pathEntry struct {
	ops []Operation
}

// Document is a parsed description document.
type Document struct {
	Paths    map[string][]Operation
	Order    []string
	Security map[string]Security
}

// ErrNoPaths indicates a description document without a paths object.
var ErrNoPaths = errors.New("description has no paths")

// Parse decodes a description document using keys. Methods are kept in the
// order they appear in the document.
func Parse(r io.Reader, keys Keys) (*Document, error) {
	keys = keys.withDefaults()

	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode description: %w", err)
	}

	pathsRaw, ok := raw[keys.Paths]
	if !ok {
		return nil, ErrNoPaths
	}

	doc := &Document{
		Paths:    make(map[string][]Operation),
		Security: make(map[string]Security),
	}

	pathNames, pathVals, err := orderedObject(pathsRaw)
	if err != nil {
		return nil, fmt.Errorf("decode paths: %w", err)
	}
	for i, name := range pathNames {
		ops, err := parseOperations(pathVals[i], keys)
		if err != nil {
			return nil, fmt.Errorf("decode path %q: %w", name, err)
		}
		doc.Paths[name] = ops
		doc.Order = append(doc.Order, name)
	}

	if secRaw, ok := raw[keys.SecurityDefinitions]; ok {
		var defs map[string]map[string]any
		if err := json.Unmarshal(secRaw, &defs); err != nil {
			return nil, fmt.Errorf("decode security definitions: %w", err)
		}
		for name, def := range defs {
			doc.Security[name] = Security{
				Type: stringField(def, keys.SecurityType),
				Name: stringField(def, keys.SecurityName),
				In:   stringField(def, keys.SecurityIn),
			}
		}
	}

	return doc, nil
}

func parseOperations(raw json.RawMessage, keys Keys) ([]Operation, error) {
	methods, vals, err := orderedObject(raw)
	if err != nil {
		return nil, err
	}
	ops := make([]Operation, 0, len(methods))
	for i, method := range methods {
		var body map[string]json.RawMessage
		if err := json.Unmarshal(vals[i], &body); err != nil {
			return nil, fmt.Errorf("decode method %s: %w", method, err)
		}
		op := Operation{Method: strings.ToLower(method)}
		if paramsRaw, ok := body[keys.Parameters]; ok {
			params, err := parseParameters(paramsRaw, keys)
			if err != nil {
				return nil, fmt.Errorf("decode %s parameters: %w", method, err)
			}
			op.Parameters = params
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// parseParameters accepts either a Swagger list or an object keyed by name.
func parseParameters(raw json.RawMessage, keys Keys) ([]Parameter, error) {
	var list []map[string]any
	if err := json.Unmarshal(raw, &list); err != nil {
		_, vals, objErr := orderedObject(raw)
		if objErr != nil {
			return nil, err
		}
		list = make([]map[string]any, 0, len(vals))
		for _, v := range vals {
			var m map[string]any
			if err := json.Unmarshal(v, &m); err != nil {
				return nil, err
			}
			list = append(list, m)
		}
	}

	params := make([]Parameter, 0, len(list))
	for _, m := range list {
		req, _ := m[keys.ParameterRequired].(bool)
		params = append(params, Parameter{
			Name:     stringField(m, keys.ParameterName),
			In:       stringField(m, keys.ParameterIn),
			Required: req,
		})
	}
	return params, nil
}

// orderedObject decodes a JSON object preserving key order.
func orderedObject(raw json.RawMessage) ([]string, []json.RawMessage, error) {
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, nil, fmt.Errorf("expected object, got %v", tok)
	}

	var names []string
	var vals []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		name, _ := tok.(string)
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, err
		}
		names = append(names, name)
		vals = append(vals, v)
	}
	return names, vals, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// Registry maps endpoint paths to their operations. It is safe for
// concurrent use.
type Registry struct {
	mu       sync.RWMutex
	paths    map[string]*pathEntry
	security map[string]Security
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		paths:    make(map[string]*pathEntry),
		security: make(map[string]Security),
	}
}

// Add registers a static path. Calling Add again for the same path appends
// another method.
func (r *Registry) Add(path, method string, params ...Parameter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.paths[path]
	if !ok {
		e = &pathEntry{}
		r.paths[path] = e
	}
	e.ops = append(e.ops, Operation{Method: strings.ToLower(method), Parameters: params})
}

// Merge hydrates the registry from a parsed document. Paths in doc replace
// existing entries with the same name.
func (r *Registry) Merge(doc *Document) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path, ops := range doc.Paths {
		r.paths[path] = &pathEntry{ops: append([]Operation(nil), ops...)}
	}
	for name, sec := range doc.Security {
		r.security[name] = sec
	}
}

// Lookup returns the first declared operation for path.
func (r *Registry) Lookup(path string) (Operation, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.paths[path]
	if !ok || len(e.ops) == 0 {
		return Operation{}, false
	}
	return e.ops[0], true
}

// Missing returns the sorted names of required parameters of path's first
// operation that are absent from params. Names in supplied count as present.
func (r *Registry) Missing(path string, params map[string]string, supplied ...string) []string {
	op, ok := r.Lookup(path)
	if !ok {
		return nil
	}
	var missing []string
	for _, p := range op.Parameters {
		if !p.Required {
			continue
		}
		if _, ok := params[p.Name]; ok || slices.Contains(supplied, p.Name) {
			continue
		}
		missing = append(missing, p.Name)
	}
	sort.Strings(missing)
	return missing
}

// Security returns a copy of the registered security definitions.
func (r *Registry) Security() map[string]Security {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Security, len(r.security))
	for k, v := range r.security {
		out[k] = v
	}
	return out
}

// Credentials places apiKey in headers or query parameters as each security
// definition specifies. An empty key places nothing.
func Credentials(defs map[string]Security, apiKey string) (headers, query map[string]string) {
	headers = make(map[string]string)
	query = make(map[string]string)
	if apiKey == "" {
		return headers, query
	}
	for _, def := range defs {
		switch def.In {
		case InHeader:
			headers[def.Name] = apiKey
		case InQuery:
			query[def.Name] = apiKey
		}
	}
	return headers, query
}
