package viewcache

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Response is what a FetchFunc or RemoteFunc hands back. It is one of
// Record, OffsetPage, CursorPage or RawJSON.
type Response interface {
	response()
}

func (Record) response()     {}
func (OffsetPage) response() {}
func (CursorPage) response() {}
func (RawJSON) response()    {}

// OffsetPage is the {items,total,page,pages} server shape.
type OffsetPage struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
	Page  int      `json:"page"`
	Pages int      `json:"pages"`
}

// Result normalizes the offset shape: the next page is page+1 while page < pages.
func (p OffsetPage) Result() Page {
	var c Continuation
	if p.Page < p.Pages {
		c.Page = p.Page + 1
	}
	return Page{Items: p.Items, Continuation: c, Total: p.Total}
}

// CursorPage is the {items,nextCursor} server shape.
type CursorPage struct {
	Items      []Record `json:"items"`
	NextCursor *string  `json:"nextCursor"`
}

// Result normalizes the cursor shape: a nil or empty cursor ends the list.
func (p CursorPage) Result() Page {
	var c Continuation
	if p.NextCursor != nil {
		c.Cursor = *p.NextCursor
	}
	return Page{Items: p.Items, Continuation: c, Total: len(p.Items)}
}

// RawJSON is an undecoded response body; its shape is detected on normalization.
type RawJSON []byte

// Cursor is a convenience for building CursorPage literals.
func Cursor(s string) *string { return &s }

// NormalizePage converts any page-shaped response into a Page. A bare record
// or an items-only object becomes a page with no continuation.
func NormalizePage(r Response) (Page, error) {
	switch t := r.(type) {
	case OffsetPage:
		return t.Result(), nil
	case *OffsetPage:
		return t.Result(), nil
	case CursorPage:
		return t.Result(), nil
	case *CursorPage:
		return t.Result(), nil
	case RawJSON:
		return decodeRawPage(t)
	case Record:
		if items, ok := t["items"]; ok {
			return recordItemsPage(items)
		}
		return Page{}, fmt.Errorf("viewcache: record is not a page")
	case nil:
		return Page{}, fmt.Errorf("viewcache: nil response")
	default:
		return Page{}, fmt.Errorf("viewcache: unsupported response %T", r)
	}
}

// NormalizeRecord converts a detail-shaped response into a Record.
func NormalizeRecord(r Response) (Record, error) {
	switch t := r.(type) {
	case Record:
		return t, nil
	case RawJSON:
		var rec Record
		if err := decodeJSON(t, &rec); err != nil {
			return nil, err
		}
		return rec, nil
	case nil:
		return nil, fmt.Errorf("viewcache: nil response")
	default:
		return nil, fmt.Errorf("viewcache: unsupported detail response %T", r)
	}
}

func decodeRawPage(b RawJSON) (Page, error) {
	// shape probe; only key presence matters
	var probe map[string]json.RawMessage
	if err := decodeJSON(b, &probe); err != nil {
		return Page{}, err
	}
	if _, ok := probe["nextCursor"]; ok {
		var cp CursorPage
		if err := decodeJSON(b, &cp); err != nil {
			return Page{}, err
		}
		return cp.Result(), nil
	}
	if _, ok := probe["pages"]; ok {
		var op OffsetPage
		if err := decodeJSON(b, &op); err != nil {
			return Page{}, err
		}
		return op.Result(), nil
	}
	var only struct {
		Items []Record `json:"items"`
	}
	if err := decodeJSON(b, &only); err != nil {
		return Page{}, err
	}
	return Page{Items: only.Items, Total: len(only.Items)}, nil
}

func recordItemsPage(items any) (Page, error) {
	raw, err := json.Marshal(items)
	if err != nil {
		return Page{}, err
	}
	var out []Record
	if err := decodeJSON(raw, &out); err != nil {
		return Page{}, err
	}
	return Page{Items: out, Total: len(out)}, nil
}

func decodeJSON(b []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("viewcache: decode response: %w", err)
	}
	return nil
}

// AppendPage returns a copy of d with p appended after the existing pages.
// Pages are never reordered.
func AppendPage(d Data, p Page) Data {
	pages := make([]Page, len(d.Pages), len(d.Pages)+1)
	copy(pages, d.Pages)
	return Data{Record: d.Record, Pages: append(pages, p)}
}

func idString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case uint64:
		return strconv.FormatUint(t, 10)
	default:
		return fmt.Sprint(v)
	}
}
