package api

import (
	"net/http"
	"strconv"
)

// Page is a parsed page/limit pair.
type Page struct {
	Number int
	Limit  int
	Offset int
}

// PageMeta describes where a list response sits in the full result.
type PageMeta struct {
	Page       int  `json:"page"`
	Limit      int  `json:"limit"`
	Total      int  `json:"total"`
	TotalPages int  `json:"total_pages"`
	HasMore    bool `json:"has_more"`
}

// Paginated wraps a list with its page metadata.
type Paginated struct {
	Data       any      `json:"data"`
	Pagination PageMeta `json:"pagination"`
}

// parsePage reads page and limit from the query. limit is clamped to
// [1, maxLimit]; page starts at 1.
func parsePage(r *http.Request, defaultLimit, maxLimit int) Page {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return Page{Number: page, Limit: limit, Offset: (page - 1) * limit}
}

func paginated(data any, p Page, total int) Paginated {
	pages := (total + p.Limit - 1) / p.Limit
	if pages < 1 {
		pages = 1
	}
	return Paginated{
		Data: data,
		Pagination: PageMeta{
			Page:       p.Number,
			Limit:      p.Limit,
			Total:      total,
			TotalPages: pages,
			HasMore:    p.Number < pages,
		},
	}
}
