package shared

import (
	"fmt"

	"golang.org/x/text/message"
)

// Page contains metadata for paginated listings.
//
// Requested page numbers outside the valid range are clamped, never rejected:
// a listing link that has gone stale after deletions still renders the nearest
// existing page.
type Page struct {
	// Current is the clamped page number, always within [1, TotalPages].
	Current int
	// PerPage is the number of rows per page, always > 0.
	PerPage int
	// Total is the number of rows across all pages.
	Total int
	// TotalPages is at least 1, even for an empty result set.
	TotalPages int
}

// Paginate computes pagination metadata for a listing.
//
// perPage must be positive and total must not be negative; both are caller
// bugs rather than user input, so they fail with ErrInvalidArgument instead
// of being clamped.
func Paginate(total, perPage, requestedPage int) (Page, error) {
	if perPage <= 0 {
		return Page{}, fmt.Errorf("%w: items per page must be positive, got %d", ErrInvalidArgument, perPage)
	}
	if total < 0 {
		return Page{}, fmt.Errorf("%w: total must not be negative, got %d", ErrInvalidArgument, total)
	}

	totalPages := (total + perPage - 1) / perPage
	if totalPages < 1 {
		totalPages = 1
	}

	current := requestedPage
	if current < 1 {
		current = 1
	}
	if current > totalPages {
		current = totalPages
	}

	return Page{
		Current:    current,
		PerPage:    perPage,
		Total:      total,
		TotalPages: totalPages,
	}, nil
}

// Offset returns the number of rows to skip for the current page.
func (p Page) Offset() int {
	return (p.Current - 1) * p.PerPage
}

// FirstRow returns the 1-based index of the first row on the current page.
func (p Page) FirstRow() int {
	return p.Offset() + 1
}

// LastRow returns the 1-based index of the last row on the current page.
func (p Page) LastRow() int {
	return p.FirstRow() + p.RowsOnPage() - 1
}

// RowsOnPage returns how many rows the current page holds.
func (p Page) RowsOnPage() int {
	remaining := p.Total - p.Offset()
	if remaining <= 0 {
		return 0
	}
	if remaining > p.PerPage {
		return p.PerPage
	}
	return remaining
}

// HasPrev reports whether a previous page exists.
func (p Page) HasPrev() bool {
	return p.Current > 1
}

// HasNext reports whether a next page exists.
func (p Page) HasNext() bool {
	return p.Current < p.TotalPages
}

// PrevPage returns the previous page number, clamped to the first page.
func (p Page) PrevPage() int {
	if !p.HasPrev() {
		return 1
	}
	return p.Current - 1
}

// NextPage returns the next page number, clamped to the last page.
func (p Page) NextPage() int {
	if !p.HasNext() {
		return p.TotalPages
	}
	return p.Current + 1
}

// InfoText renders the listing summary shown above paginated tables, for
// example "Displaying results 26 to 50 of 193". When searchTerm is not empty
// the filter term is included. The counts are exact; the wording is localized
// through the given printer.
func (p Page) InfoText(printer *message.Printer, searchTerm string) string {
	if searchTerm != "" {
		switch {
		case p.RowsOnPage() >= 2:
			return printer.Sprintf("Displaying results %d to %d of %d matching “%s”",
				p.FirstRow(), p.LastRow(), p.Total, searchTerm)
		case p.RowsOnPage() == 1:
			return printer.Sprintf("Displaying result %d of %d matching “%s”",
				p.FirstRow(), p.Total, searchTerm)
		default:
			return printer.Sprintf("No results found matching “%s”", searchTerm)
		}
	}

	switch {
	case p.RowsOnPage() >= 2:
		return printer.Sprintf("Displaying results %d to %d of %d", p.FirstRow(), p.LastRow(), p.Total)
	case p.RowsOnPage() == 1:
		return printer.Sprintf("Displaying result %d of %d", p.FirstRow(), p.Total)
	default:
		return printer.Sprintf("No results")
	}
}
