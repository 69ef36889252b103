package pagination

import "fmt"

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// Params holds limit/offset pagination for list queries.
type Params struct {
	Limit  int
	Offset int
}

// New clamps limit to (0, MaxLimit] and offset to >= 0. A non-positive limit
// selects DefaultLimit.
func New(limit, offset int) Params {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return Params{Limit: limit, Offset: offset}
}

// HasNext returns true if there are more results after the current page.
func (p Params) HasNext(total int) bool {
	return p.Offset+p.Limit < total
}

// NextOffset returns the offset for the next page.
func (p Params) NextOffset() int {
	return p.Offset + p.Limit
}

// Summary describes the page for CLI output, e.g. "21-40 of 57, next offset 40".
func (p Params) Summary(shown, total int) string {
	if shown == 0 {
		return fmt.Sprintf("0 of %d", total)
	}
	s := fmt.Sprintf("%d-%d of %d", p.Offset+1, p.Offset+shown, total)
	if p.HasNext(total) {
		s += fmt.Sprintf(", next offset %d", p.NextOffset())
	}
	return s
}
