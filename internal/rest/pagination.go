package rest

import (
	"context"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

// Paging describes how a resource type is paginated.
type Paging struct {
	// StartFromZero is set when the backend's first item has start index 0.
	StartFromZero bool
	OffsetKey     string
	CountKey      string
}

// DefaultPaging is SCIM-style one-based startIndex/count paging.
func DefaultPaging() Paging {
	return Paging{OffsetKey: "startIndex", CountKey: "count"}
}

// FirstIndex is the backend start index of the first item.
func (p Paging) FirstIndex() int {
	if p.StartFromZero {
		return 0
	}
	return 1
}

// ResolveOffset converts a one-based caller page offset to a backend start index.
func (p Paging) ResolveOffset(pageOffset int) int {
	if p.StartFromZero {
		return pageOffset - 1
	}
	return pageOffset
}

// PageFunc fetches count items beginning at backend start index start. It
// returns the items and the backend's total result count.
type PageFunc[T any] func(ctx context.Context, start, count int) ([]T, int, error)

// FetchAll walks every page from the first index, advancing by pageSize, until
// a page comes back empty or fn returns false. It returns the number of items
// handed to fn. Items delivered before a failure stay delivered.
func FetchAll[T any](ctx context.Context, p Paging, pageSize int, fetch PageFunc[T], fn func(T) bool) (int, error) {
	if pageSize <= 0 {
		return 0, connerr.New(connerr.InvalidInput, "page size must be positive, got %d", pageSize)
	}
	start := p.FirstIndex()
	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		items, _, err := fetch(ctx, start, pageSize)
		if err != nil {
			return count, err
		}
		if len(items) == 0 {
			return count, nil
		}
		for _, item := range items {
			count++
			if !fn(item) {
				return count, nil
			}
		}
		start += pageSize
	}
}

// FetchPage fetches the single page at the one-based pageOffset and hands its
// items to fn until fn returns false. It returns the backend's total result
// count, not the number of items delivered.
func FetchPage[T any](ctx context.Context, p Paging, pageOffset, pageSize int, fetch PageFunc[T], fn func(T) bool) (int, error) {
	if pageOffset < 1 {
		return 0, connerr.New(connerr.InvalidInput, "page offset must be at least 1, got %d", pageOffset)
	}
	if pageSize <= 0 {
		return 0, connerr.New(connerr.InvalidInput, "page size must be positive, got %d", pageSize)
	}
	items, total, err := fetch(ctx, p.ResolveOffset(pageOffset), pageSize)
	if err != nil {
		return 0, err
	}
	for _, item := range items {
		if !fn(item) {
			break
		}
	}
	return total, nil
}

// Fetch dispatches to FetchAll when pageOffset is 0 and to FetchPage otherwise.
func Fetch[T any](ctx context.Context, p Paging, pageOffset, pageSize int, fetch PageFunc[T], fn func(T) bool) (int, error) {
	if pageOffset == 0 {
		return FetchAll(ctx, p, pageSize, fetch, fn)
	}
	return FetchPage(ctx, p, pageOffset, pageSize, fetch, fn)
}
