package shared

import (
	"errors"
	"testing"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func TestPaginateTotalPages(t *testing.T) {
	cases := []struct {
		total, perPage, want int
	}{
		{0, 25, 1},
		{1, 25, 1},
		{25, 25, 1},
		{26, 25, 2},
		{50, 25, 2},
		{51, 25, 3},
		{193, 25, 8},
	}
	for _, tc := range cases {
		page, err := Paginate(tc.total, tc.perPage, 1)
		if err != nil {
			t.Fatalf("Paginate(%d, %d, 1) returned error: %v", tc.total, tc.perPage, err)
		}
		if page.TotalPages != tc.want {
			t.Fatalf("Paginate(%d, %d, 1): expected %d pages, got %d", tc.total, tc.perPage, tc.want, page.TotalPages)
		}
	}
}

func TestPaginateClampsRequestedPage(t *testing.T) {
	cases := []struct {
		requested, want int
	}{
		{-3, 1},
		{0, 1},
		{1, 1},
		{5, 5},
		{6, 5},
		{999, 5},
	}
	for _, tc := range cases {
		// 5 pages: 101 rows at 25 per page.
		page, err := Paginate(101, 25, tc.requested)
		if err != nil {
			t.Fatalf("Paginate returned error: %v", err)
		}
		if page.Current != tc.want {
			t.Fatalf("requested page %d: expected current %d, got %d", tc.requested, tc.want, page.Current)
		}
		if page.TotalPages != 5 {
			t.Fatalf("requested page %d must not change total pages, got %d", tc.requested, page.TotalPages)
		}
	}
}

func TestPaginateInvalidArguments(t *testing.T) {
	if _, err := Paginate(10, 0, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero per page, got %v", err)
	}
	if _, err := Paginate(10, -5, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative per page, got %v", err)
	}
	if _, err := Paginate(-1, 25, 1); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative total, got %v", err)
	}
}

func TestPaginateEmptyResultSet(t *testing.T) {
	page, err := Paginate(0, 25, 1)
	if err != nil {
		t.Fatalf("Paginate returned error: %v", err)
	}
	if page.TotalPages != 1 || page.Current != 1 {
		t.Fatalf("empty set: expected single page at 1, got %+v", page)
	}
	if page.RowsOnPage() != 0 {
		t.Fatalf("empty set: expected zero rows, got %d", page.RowsOnPage())
	}
	if page.Offset() != 0 {
		t.Fatalf("empty set: expected offset 0, got %d", page.Offset())
	}
}

func TestPaginateRowIndices(t *testing.T) {
	page, err := Paginate(193, 25, 2)
	if err != nil {
		t.Fatalf("Paginate returned error: %v", err)
	}
	if page.Offset() != 25 {
		t.Fatalf("expected offset 25, got %d", page.Offset())
	}
	if page.FirstRow() != 26 || page.LastRow() != 50 {
		t.Fatalf("expected rows 26..50, got %d..%d", page.FirstRow(), page.LastRow())
	}

	last, err := Paginate(193, 25, 8)
	if err != nil {
		t.Fatalf("Paginate returned error: %v", err)
	}
	if last.RowsOnPage() != 18 {
		t.Fatalf("expected 18 rows on last page, got %d", last.RowsOnPage())
	}
	if last.FirstRow() != 176 || last.LastRow() != 193 {
		t.Fatalf("expected rows 176..193, got %d..%d", last.FirstRow(), last.LastRow())
	}
}

func TestPaginateNavigation(t *testing.T) {
	page, err := Paginate(101, 25, 3)
	if err != nil {
		t.Fatalf("Paginate returned error: %v", err)
	}
	if !page.HasPrev() || !page.HasNext() {
		t.Fatalf("middle page should have both neighbours: %+v", page)
	}
	if page.PrevPage() != 2 || page.NextPage() != 4 {
		t.Fatalf("expected neighbours 2 and 4, got %d and %d", page.PrevPage(), page.NextPage())
	}

	first, _ := Paginate(101, 25, 1)
	if first.HasPrev() || first.PrevPage() != 1 {
		t.Fatalf("first page must clamp prev: %+v", first)
	}
	lastPage, _ := Paginate(101, 25, 5)
	if lastPage.HasNext() || lastPage.NextPage() != 5 {
		t.Fatalf("last page must clamp next: %+v", lastPage)
	}
}

func TestInfoText(t *testing.T) {
	printer := message.NewPrinter(language.English)

	page, _ := Paginate(193, 25, 2)
	if got := page.InfoText(printer, ""); got != "Displaying results 26 to 50 of 193" {
		t.Fatalf("unexpected info text: %q", got)
	}
	if got := page.InfoText(printer, "a*"); got != "Displaying results 26 to 50 of 193 matching “a*”" {
		t.Fatalf("unexpected filtered info text: %q", got)
	}

	single, _ := Paginate(1, 25, 1)
	if got := single.InfoText(printer, ""); got != "Displaying result 1 of 1" {
		t.Fatalf("unexpected single-row info text: %q", got)
	}

	empty, _ := Paginate(0, 25, 1)
	if got := empty.InfoText(printer, ""); got != "No results" {
		t.Fatalf("unexpected empty info text: %q", got)
	}
	if got := empty.InfoText(printer, "x"); got != "No results found matching “x”" {
		t.Fatalf("unexpected empty filtered info text: %q", got)
	}
}
