package aggregate

// DefaultPageSize is the number of registrations per dashboard page.
const DefaultPageSize = 10

// Page is one slice of the ordered registration list.
type Page struct {
	Entries    []Entry
	Number     int // 1-based
	TotalPages int
	Size       int
	FirstIndex int // 0-based index of Entries[0] in the full list
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool { return p.Number > 1 }

// HasNext reports whether a next page exists.
func (p Page) HasNext() bool { return p.Number < p.TotalPages }

// Prev is the previous page number.
func (p Page) Prev() int { return p.Number - 1 }

// Next is the next page number.
func (p Page) Next() int { return p.Number + 1 }

// Page slices the registrations into pages of size and returns page number.
// Out of range numbers are clamped to the first or last page. There is always
// at least one page, possibly empty.
func (v *View) Page(number, size int) Page {
	if size <= 0 {
		size = DefaultPageSize
	}

	total := len(v.Registrations)
	totalPages := max((total+size-1)/size, 1)
	number = min(max(number, 1), totalPages)

	start := (number - 1) * size
	end := min(start+size, total)

	return Page{
		Entries:    v.Registrations[start:end],
		Number:     number,
		TotalPages: totalPages,
		Size:       size,
		FirstIndex: start,
	}
}
