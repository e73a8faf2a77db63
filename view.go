package viewcache

// View is the read projection a screen renders: a Detail record, one list page,
// or an infinite list flattened across its pages.
type View struct {
	Kind ViewKind
	Entry
}

// Record is the detail record (nil for list views).
func (v View) Record() Record { return v.Data.Record }

// Items is the de-duplicated, ordered item sequence of a list view.
func (v View) Items() []Record { return v.Data.Items() }

// HasNext reports whether the server signalled another page.
func (v View) HasNext() bool { return v.Data.HasNext() }

// Continuation is the token for the next page, zero when there is none.
func (v View) Continuation() Continuation { return v.Data.Continuation() }

// Total is the server-reported total of the latest page (offset shape), or the
// number of items loaded so far when that is larger.
func (v View) Total() int {
	n := len(v.Items())
	if len(v.Data.Pages) == 0 {
		return n
	}
	if t := v.Data.Pages[len(v.Data.Pages)-1].Total; t > n {
		return t
	}
	return n
}
