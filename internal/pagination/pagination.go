// Package pagination holds the 1-indexed page/limit arithmetic shared by
// listing operations.
package pagination

import (
	"errors"
	"math"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
)

var (
	ErrBadPage  = errors.New("page must be a positive integer")
	ErrBadLimit = errors.New("limit must be a positive integer")
	ErrBadRange = errors.New("page is out of range")
)

// Meta describes one page of a result set.
type Meta struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	TotalPages int `json:"totalPages"`
}

// Normalize applies defaults to zero values and rejects negatives. Limits
// above MaxLimit are clamped. Pages whose offset does not fit in an int are
// rejected.
func Normalize(page, limit int) (int, int, error) {
	if page == 0 {
		page = DefaultPage
	}
	if limit == 0 {
		limit = DefaultLimit
	}
	if page < 1 {
		return 0, 0, ErrBadPage
	}
	if limit < 1 {
		return 0, 0, ErrBadLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if page-1 > math.MaxInt/limit {
		return 0, 0, ErrBadRange
	}
	return page, limit, nil
}

// Offset returns how many rows precede page.
func Offset(page, limit int) int {
	return (page - 1) * limit
}

// NewMeta computes totalPages = ceil(total/limit).
func NewMeta(total, page, limit int) Meta {
	pages := 0
	if limit > 0 {
		pages = (total + limit - 1) / limit
	}
	return Meta{Total: total, Page: page, Limit: limit, TotalPages: pages}
}
