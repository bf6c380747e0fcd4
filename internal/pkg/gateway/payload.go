package gateway

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Payload is the schema-less body of a normalized event. Values are read
// through the typed accessors, which report absence instead of panicking.
type Payload map[string]any

// ParsePayload decodes a JSON object, keeping numbers as json.Number.
func ParsePayload(raw []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var p Payload
	if err := dec.Decode(&p); err != nil {
		return nil, err
	}
	if p == nil {
		p = Payload{}
	}
	return p, nil
}

// Lookup resolves a dotted path such as "parent.subscription_details.subscription".
func (p Payload) Lookup(path string) (any, bool) {
	var cur any = map[string]any(p)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok || cur == nil {
			return nil, false
		}
	}
	return cur, true
}

// String returns a non-empty string. Expanded objects yield their "id".
func (p Payload) String(path string) (string, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		return s, s != ""
	case json.Number:
		return t.String(), true
	default:
		if m, ok := asMap(t); ok {
			if id, ok := m["id"].(string); ok && strings.TrimSpace(id) != "" {
				return strings.TrimSpace(id), true
			}
		}
	}
	return "", false
}

func (p Payload) Int64(path string) (int64, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i, true
		}
		if f, err := t.Float64(); err == nil {
			return int64(f), true
		}
	case float64:
		return int64(t), true
	case int:
		return int64(t), true
	case int64:
		return t, true
	case string:
		if i, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64); err == nil {
			return i, true
		}
	}
	return 0, false
}

func (p Payload) Bool(path string) (bool, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return false, false
	}
	switch t := v.(type) {
	case bool:
		return t, true
	case string:
		if b, err := strconv.ParseBool(strings.TrimSpace(t)); err == nil {
			return b, true
		}
	}
	return false, false
}

// Time reads unix seconds or an RFC 3339 string. Zero timestamps are absent.
func (p Payload) Time(path string) (time.Time, bool) {
	if secs, ok := p.Int64(path); ok {
		if secs <= 0 {
			return time.Time{}, false
		}
		return time.Unix(secs, 0), true
	}
	if s, ok := p.String(path); ok {
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func (p Payload) Map(path string) (Payload, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return nil, false
	}
	m, ok := asMap(v)
	return Payload(m), ok
}

// Set stores v under key unless v is nil or an empty string.
func (p Payload) Set(key string, v any) {
	if v == nil {
		return
	}
	if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
		return
	}
	p[key] = v
}

func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Payload:
		return t, true
	}
	return nil, false
}
