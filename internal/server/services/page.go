// Package services holds feedgate's business logic: the admin feed
// catalog, team views and subscriptions, post lookups and API key
// administration. Services run repositories against a *sql.DB or inside
// dbx.WithTx and call the ingestion service outside of any transaction.
package services

import (
	"github.com/dmitrijs2005/feedgate/internal/common"
)

const (
	AdminPageSize    = 100
	AdminMaxPageSize = 10000
	TeamPageSize     = 10
)

var errInvalidPage = &common.APIError{Kind: common.ErrNotFound, Code: "not_found", Message: "Invalid page number."}

// PageRequest is a 1-based page number and a page size.
type PageRequest struct {
	Number int
	Size   int
}

func (p PageRequest) normalized(defaultSize, maxSize int) PageRequest {
	if p.Number < 1 {
		p.Number = 1
	}
	if p.Size < 1 {
		p.Size = defaultSize
	}
	if maxSize > 0 && p.Size > maxSize {
		p.Size = maxSize
	}
	return p
}

func (p PageRequest) offset() int { return (p.Number - 1) * p.Size }

// Page is one page of a listing plus the total number of matching items.
type Page[T any] struct {
	Items  []T
	Total  int
	Number int
	Size   int
}

// HasNext reports whether a page follows this one.
func (p *Page[T]) HasNext() bool { return p.Number*p.Size < p.Total }

// HasPrevious reports whether a page precedes this one.
func (p *Page[T]) HasPrevious() bool { return p.Number > 1 }

// newPage validates the requested page against total. Only the first page
// may be empty.
func newPage[T any](items []T, total int, req PageRequest) (*Page[T], error) {
	if req.Number > 1 && req.offset() >= total {
		return nil, errInvalidPage
	}
	if items == nil {
		items = []T{}
	}
	return &Page[T]{Items: items, Total: total, Number: req.Number, Size: req.Size}, nil
}

// slicePage pages an in-memory slice.
func slicePage[T any](all []T, req PageRequest) (*Page[T], error) {
	start := min(req.offset(), len(all))
	end := min(start+req.Size, len(all))
	return newPage(all[start:end], len(all), req)
}
