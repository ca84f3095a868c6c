package fetch

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// Record is one decoded upstream row. Numbers are json.Number.
type Record = map[string]any

// Envelope extracts the record count and rows from a response body.
type Envelope interface {
	// Total returns the record count reported by a probe response.
	Total(path string, body []byte) (int, error)
	// Rows returns the records carried by a page response.
	Rows(path string, body []byte) ([]Record, error)
}

// PagedEnvelope reads flat {"totalCount": N, "data": [...]} responses.
type PagedEnvelope struct {
	TotalKey string
	DataKey  string
}

// Total implements Envelope. A missing count field is zero.
func (e PagedEnvelope) Total(_ string, body []byte) (int, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return 0, err
	}
	raw, ok := obj[e.TotalKey]
	if !ok {
		return 0, nil
	}
	return toInt(raw)
}

// Rows implements Envelope.
func (e PagedEnvelope) Rows(_ string, body []byte) ([]Record, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	raw, ok := obj[e.DataKey]
	if !ok {
		return nil, fmt.Errorf("response has no %q field", e.DataKey)
	}
	return toRecords(raw)
}

// ListEnvelope reads the nested fiscal layout
// {path: [{"head": [{"list_total_count": N}, ...]}, {"row": [...]}]}.
type ListEnvelope struct{}

// Total implements Envelope. Any response without a readable head counts
// as zero records; the API answers that way for empty partitions.
func (ListEnvelope) Total(path string, body []byte) (int, error) {
	sections, err := listSections(path, body)
	if err != nil || len(sections) == 0 {
		return 0, nil
	}
	head, ok := sections[0]["head"].([]any)
	if !ok || len(head) == 0 {
		return 0, nil
	}
	first, ok := head[0].(map[string]any)
	if !ok {
		return 0, nil
	}
	n, err := toInt(first["list_total_count"])
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// Rows implements Envelope.
func (ListEnvelope) Rows(path string, body []byte) ([]Record, error) {
	sections, err := listSections(path, body)
	if err != nil {
		return nil, err
	}
	if len(sections) < 2 {
		return nil, errors.New("response has no row section")
	}
	raw, ok := sections[1]["row"]
	if !ok {
		return nil, errors.New("response has no row field")
	}
	return toRecords(raw)
}

func listSections(path string, body []byte) ([]map[string]any, error) {
	obj, err := decodeObject(body)
	if err != nil {
		return nil, err
	}
	list, ok := obj[path].([]any)
	if !ok {
		return nil, fmt.Errorf("response has no %q list", path)
	}
	sections := make([]map[string]any, 0, len(list))
	for _, s := range list {
		m, ok := s.(map[string]any)
		if !ok {
			return nil, errors.New("response section is not an object")
		}
		sections = append(sections, m)
	}
	return sections, nil
}

// decodeObject decodes body as a JSON object. Some APIs wrap the document in
// a JSON string; that layer is unwrapped once.
func decodeObject(body []byte) (map[string]any, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if s, ok := v.(string); ok {
		return decodeObject([]byte(s))
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("response is %T, not an object", v)
	}
	return obj, nil
}

func toRecords(raw any) ([]Record, error) {
	if raw == nil {
		return nil, nil
	}
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("data is %T, not a list", raw)
	}
	out := make([]Record, 0, len(list))
	for i, item := range list {
		rec, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("record %d is %T, not an object", i, item)
		}
		out = append(out, rec)
	}
	return out, nil
}

func toInt(v any) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("parse count %q: %w", n, err)
			}
			return int(f), nil
		}
		return int(i), nil
	case float64:
		return int(n), nil
	case string:
		i, err := strconv.Atoi(n)
		if err != nil {
			return 0, fmt.Errorf("parse count %q: %w", n, err)
		}
		return i, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("count is %T", v)
	}
}
