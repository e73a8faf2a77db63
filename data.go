package viewcache

// Record is one decoded JSON object as returned by the transport.
type Record map[string]any

// ID returns the record identity: the "id" field, falling back to "_id".
// Numeric ids are rendered without a fractional part.
func (r Record) ID() string {
	for _, f := range [...]string{"id", "_id"} {
		if v, ok := r[f]; ok && v != nil {
			if s := idString(v); s != "" {
				return s
			}
		}
	}
	return ""
}

// clone copies the top level and any nested []any/map[string]any so the copy
// can be mutated without touching the stored value.
func (r Record) clone() Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = cloneValue(val)
		}
		return m
	case Record:
		return t.clone()
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = cloneValue(val)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}

// Continuation is the token for the next page. The zero value means no further pages.
type Continuation struct {
	Cursor string `json:"cursor,omitempty" msgpack:"cursor,omitempty" cbor:"cursor,omitempty"`
	Page   int    `json:"page,omitempty" msgpack:"page,omitempty" cbor:"page,omitempty"`
}

// HasNext reports whether another page can be requested.
func (c Continuation) HasNext() bool { return c.Cursor != "" || c.Page > 0 }

// Page is one normalized page of results.
type Page struct {
	Items        []Record     `json:"items" msgpack:"items" cbor:"items"`
	Continuation Continuation `json:"continuation" msgpack:"continuation" cbor:"continuation"`
	Total        int          `json:"total,omitempty" msgpack:"total,omitempty" cbor:"total,omitempty"`
	// Seq orders pages by fetch completion; higher is fresher.
	Seq uint64 `json:"seq,omitempty" msgpack:"seq,omitempty" cbor:"seq,omitempty"`
}

// Data is the payload of one entry. Detail views use Record; list pages hold
// exactly one page; infinite lists hold pages in fetch order.
//
// Stored Data is never mutated in place. Transforms return new values.
type Data struct {
	Record Record `json:"record,omitempty" msgpack:"record,omitempty" cbor:"record,omitempty"`
	Pages  []Page `json:"pages,omitempty" msgpack:"pages,omitempty" cbor:"pages,omitempty"`
}

// IsZero reports whether d carries nothing.
func (d Data) IsZero() bool { return d.Record == nil && len(d.Pages) == 0 }

// Items flattens all pages, de-duplicated by record identity. A duplicate keeps
// the position of its first occurrence and the content of its freshest page.
func (d Data) Items() []Record {
	if len(d.Pages) == 0 {
		return nil
	}
	type slot struct {
		pos int
		seq uint64
	}
	n := 0
	for _, p := range d.Pages {
		n += len(p.Items)
	}
	out := make([]Record, 0, n)
	seen := make(map[string]slot, n)
	for _, p := range d.Pages {
		for _, it := range p.Items {
			id := it.ID()
			if id == "" {
				out = append(out, it)
				continue
			}
			if s, ok := seen[id]; ok {
				if p.Seq >= s.seq {
					out[s.pos] = it
					seen[id] = slot{pos: s.pos, seq: p.Seq}
				}
				continue
			}
			seen[id] = slot{pos: len(out), seq: p.Seq}
			out = append(out, it)
		}
	}
	return out
}

// Continuation returns the continuation of the last page.
func (d Data) Continuation() Continuation {
	if len(d.Pages) == 0 {
		return Continuation{}
	}
	return d.Pages[len(d.Pages)-1].Continuation
}

// HasNext reports whether the last page signalled more pages.
func (d Data) HasNext() bool { return d.Continuation().HasNext() }

// MapRecords returns a copy of d where every record with identity id
// (the detail record and list items alike) is replaced by fn(clone).
// Pages without a match are shared with d.
func (d Data) MapRecords(id string, fn func(Record) Record) Data {
	out := Data{Record: d.Record, Pages: d.Pages}
	if d.Record != nil && d.Record.ID() == id {
		out.Record = fn(d.Record.clone())
	}
	var pages []Page
	for pi, p := range d.Pages {
		var items []Record
		for ii, it := range p.Items {
			if it.ID() != id {
				continue
			}
			if items == nil {
				items = append([]Record(nil), p.Items...)
			}
			items[ii] = fn(it.clone())
		}
		if items == nil {
			continue
		}
		if pages == nil {
			pages = append([]Page(nil), d.Pages...)
		}
		np := p
		np.Items = items
		pages[pi] = np
	}
	if pages != nil {
		out.Pages = pages
	}
	return out
}

// FindRecord returns the first record with identity id (detail first, then pages).
func (d Data) FindRecord(id string) (Record, bool) {
	if d.Record != nil && d.Record.ID() == id {
		return d.Record, true
	}
	for _, p := range d.Pages {
		for _, it := range p.Items {
			if it.ID() == id {
				return it, true
			}
		}
	}
	return nil, false
}
