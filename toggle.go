package viewcache

import (
	"encoding/json"
	"reflect"
	"strconv"
)

// Toggle flips Actor's membership in the array Field of one entity (likes,
// attendees, followers) and keeps CountField in step.
//
// The effect is decided once, from local state, before anything is written:
// present means remove, absent means insert. Detail views are consulted first.
// Every view holding the entity then gets the same effect; the count moves by
// exactly one and never below zero.
type Toggle struct {
	EntityID   string
	Actor      string
	Field      string
	CountField string // "" when the entity has no derived count
}

var _ Optimistic = Toggle{}

func (t Toggle) Plan(current []Entry) Transform {
	remove := t.present(current)
	return func(d Data) Data {
		return d.MapRecords(t.EntityID, func(r Record) Record {
			return t.apply(r, remove)
		})
	}
}

// Mutation wraps the toggle into a Mutation over every view of namespace.
func (t Toggle) Mutation(namespace string, remote RemoteFunc) Mutation {
	return Mutation{
		EntityID:   t.EntityID,
		Namespace:  namespace,
		Optimistic: t,
		Remote:     remote,
	}
}

func (t Toggle) present(current []Entry) bool {
	for _, e := range current {
		if e.Data.Record != nil && e.Data.Record.ID() == t.EntityID {
			return memberIndex(e.Data.Record[t.Field], t.Actor) >= 0
		}
	}
	for _, e := range current {
		if r, ok := e.Data.FindRecord(t.EntityID); ok {
			return memberIndex(r[t.Field], t.Actor) >= 0
		}
	}
	return false
}

func (t Toggle) apply(r Record, remove bool) Record {
	members := r[t.Field]
	idx := memberIndex(members, t.Actor)
	var delta int
	switch {
	case remove && idx >= 0:
		r[t.Field] = withoutMember(members, idx)
		delta = -1
	case !remove && idx < 0:
		r[t.Field] = withMember(members, t.Actor)
		delta = 1
	}
	if delta != 0 && t.CountField != "" {
		r[t.CountField] = addCount(r[t.CountField], delta)
	}
	return r
}

func memberIndex(members any, actor string) int {
	switch t := members.(type) {
	case []string:
		for i, m := range t {
			if m == actor {
				return i
			}
		}
	case []any:
		for i, m := range t {
			if memberID(m) == actor {
				return i
			}
		}
	}
	return -1
}

// memberID accepts plain ids and populated objects ({"_id": ...}).
func memberID(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case map[string]any:
		return Record(t).ID()
	case Record:
		return t.ID()
	case nil:
		return ""
	default:
		return idString(v)
	}
}

func withoutMember(members any, idx int) any {
	switch t := members.(type) {
	case []string:
		out := make([]string, 0, len(t)-1)
		out = append(out, t[:idx]...)
		return append(out, t[idx+1:]...)
	case []any:
		out := make([]any, 0, len(t)-1)
		out = append(out, t[:idx]...)
		return append(out, t[idx+1:]...)
	}
	return members
}

func withMember(members any, actor string) any {
	switch t := members.(type) {
	case []string:
		out := make([]string, len(t), len(t)+1)
		copy(out, t)
		return append(out, actor)
	case []any:
		out := make([]any, len(t), len(t)+1)
		copy(out, t)
		return append(out, actor)
	default:
		return []any{actor}
	}
}

// addCount moves a JSON-ish count by delta, floored at zero, keeping its type.
// Decoders hand back any integer or float width, so every numeric kind moves.
func addCount(v any, delta int) any {
	switch t := v.(type) {
	case nil:
		return float64(max(delta, 0))
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return json.Number(strconv.FormatInt(max(i+int64(delta), 0), 10))
		}
		return t
	}
	rv := reflect.ValueOf(v)
	out := reflect.New(rv.Type()).Elem()
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		out.SetInt(max(rv.Int()+int64(delta), 0))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		n := rv.Uint()
		switch {
		case delta >= 0:
			n += uint64(delta)
		case n < uint64(-delta):
			n = 0
		default:
			n -= uint64(-delta)
		}
		out.SetUint(n)
	case reflect.Float32, reflect.Float64:
		out.SetFloat(max(rv.Float()+float64(delta), 0))
	default:
		return v
	}
	return out.Interface()
}
