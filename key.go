package viewcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies one cached result set: a view namespace plus the canonical
// JSON of its normalized params. Keys are comparable and safe as map keys.
type Key struct {
	Namespace string
	Params    string
}

// String renders the key as "<namespace>#<params>".
func (k Key) String() string { return k.Namespace + "#" + k.Params }

// Entity returns the first path segment of the namespace ("events" for "events/list").
func (k Key) Entity() string {
	if i := strings.IndexByte(k.Namespace, '/'); i >= 0 {
		return k.Namespace[:i]
	}
	return k.Namespace
}

// ParamMap decodes the canonical params back into a map. Numbers are json.Number.
// Keys built by hand may carry params that are not a JSON object.
func (k Key) ParamMap() (map[string]any, error) {
	out := map[string]any{}
	if k.Params == "" {
		return out, nil
	}
	dec := json.NewDecoder(strings.NewReader(k.Params))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("viewcache: params of %s: %w", k.Namespace, err)
	}
	return out, nil
}

// ResolveKey normalizes params into a canonical key: nil values are dropped at
// every depth, object keys are sorted, arrays keep their order. params may be a
// map or any JSON-encodable struct.
func ResolveKey(namespace string, params any) Key {
	return Key{Namespace: namespace, Params: canonicalParams(params)}
}

func canonicalParams(params any) string {
	if params == nil {
		return "{}"
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return fmt.Sprintf("%#v", params)
	}
	var generic any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&generic); err != nil {
		return string(raw)
	}
	norm := normalizeParam(generic)
	if norm == nil {
		return "{}"
	}
	// encoding/json writes map keys in sorted order
	out, err := json.Marshal(norm)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func normalizeParam(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			if n := normalizeParam(val); n != nil {
				m[k] = n
			}
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = normalizeParam(val)
		}
		return s
	default:
		return v
	}
}

// Predicate selects keys for invalidation and mutation closures.
type Predicate func(Key) bool

// Under matches keys whose namespace equals ns or lies below it ("events" matches "events/feed").
func Under(ns string) Predicate {
	prefix := strings.TrimSuffix(ns, "/") + "/"
	return func(k Key) bool {
		return k.Namespace == ns || strings.HasPrefix(k.Namespace, prefix)
	}
}

// Exactly matches the listed keys only.
func Exactly(keys ...Key) Predicate {
	set := make(map[Key]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return func(k Key) bool {
		_, ok := set[k]
		return ok
	}
}

// AnyOf matches when any of preds matches.
func AnyOf(preds ...Predicate) Predicate {
	return func(k Key) bool {
		for _, p := range preds {
			if p != nil && p(k) {
				return true
			}
		}
		return false
	}
}
