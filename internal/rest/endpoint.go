package rest

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
)

// ListResponse is the envelope of a search response.
type ListResponse[T any] struct {
	Schemas      []string `json:"schemas,omitempty"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []T      `json:"Resources"`
}

// Endpoint is one resource collection, such as {base}/Users, decoded into T.
type Endpoint[T any] struct {
	Client      *Client
	ObjectClass string
	Path        string
	Paging      Paging
}

// NewEndpoint binds a collection path to client.
func NewEndpoint[T any](client *Client, objectClass, path string, paging Paging) *Endpoint[T] {
	return &Endpoint[T]{Client: client, ObjectClass: objectClass, Path: path, Paging: paging}
}

func (e *Endpoint[T]) itemPath(id string) string {
	return e.Path + "/" + url.PathEscape(id)
}

// Create posts body and returns the created resource.
func (e *Endpoint[T]) Create(ctx context.Context, body any) (*T, error) {
	req := Request{Method: http.MethodPost, Path: e.Path, Body: body}
	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, connerr.WithTarget(err, e.ObjectClass, "")
	}
	switch resp.Class {
	case OK:
		return e.decode(resp, "")
	case AlreadyExists:
		return nil, e.fail(connerr.AlreadyExists, req, resp, "", "already exists")
	case InvalidRequest:
		return nil, e.fail(connerr.InvalidInput, req, resp, "", "bad request")
	}
	return nil, e.unexpected(req, resp, "")
}

// Get returns the resource with id, or nil when it does not exist.
func (e *Endpoint[T]) Get(ctx context.Context, id string) (*T, error) {
	req := Request{Method: http.MethodGet, Path: e.itemPath(id)}
	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, connerr.WithTarget(err, e.ObjectClass, id)
	}
	switch resp.Class {
	case OK:
		return e.decode(resp, id)
	case NotFound:
		return nil, nil
	case InvalidRequest:
		return nil, e.fail(connerr.InvalidInput, req, resp, id, "bad request")
	}
	return nil, e.unexpected(req, resp, id)
}

// GetByName returns the single resource whose attr equals value, or nil when
// the backend returns zero or several matches. totalResults is not consulted.
func (e *Endpoint[T]) GetByName(ctx context.Context, attr, value string) (*T, error) {
	list, err := e.List(ctx, FilterQuery(filter.EqualsQuery(attr, value)))
	if err != nil {
		return nil, err
	}
	if len(list.Resources) != 1 {
		return nil, nil
	}
	return &list.Resources[0], nil
}

// Replace puts body over the resource with id.
func (e *Endpoint[T]) Replace(ctx context.Context, id string, body any) (*T, error) {
	req := Request{Method: http.MethodPut, Path: e.itemPath(id), Body: body}
	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, connerr.WithTarget(err, e.ObjectClass, id)
	}
	switch resp.Class {
	case OK:
		if len(resp.Body) == 0 {
			return nil, nil
		}
		return e.decode(resp, id)
	case NotFound:
		return nil, e.fail(connerr.UnknownTarget, req, resp, id, "not found")
	case InvalidRequest:
		return nil, e.fail(connerr.InvalidInput, req, resp, id, "bad request")
	}
	return nil, e.unexpected(req, resp, id)
}

// Patch sends a patch body to the resource with id.
func (e *Endpoint[T]) Patch(ctx context.Context, id string, body any) error {
	req := Request{Method: http.MethodPatch, Path: e.itemPath(id), Body: body}
	return e.write(ctx, req, id)
}

// Delete removes the resource with id.
func (e *Endpoint[T]) Delete(ctx context.Context, id string) error {
	req := Request{Method: http.MethodDelete, Path: e.itemPath(id)}
	return e.write(ctx, req, id)
}

func (e *Endpoint[T]) write(ctx context.Context, req Request, id string) error {
	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return connerr.WithTarget(err, e.ObjectClass, id)
	}
	switch resp.Class {
	case OK:
		return nil
	case NotFound:
		return e.fail(connerr.UnknownTarget, req, resp, id, "not found")
	case InvalidRequest:
		return e.fail(connerr.InvalidInput, req, resp, id, "bad request")
	}
	return e.unexpected(req, resp, id)
}

// List performs one search request with query. A not found response is an
// empty result.
func (e *Endpoint[T]) List(ctx context.Context, query url.Values) (*ListResponse[T], error) {
	req := Request{Method: http.MethodGet, Path: e.Path, Query: query}
	resp, err := e.Client.Do(ctx, req)
	if err != nil {
		return nil, connerr.WithTarget(err, e.ObjectClass, "")
	}
	switch resp.Class {
	case OK:
		var list ListResponse[T]
		if err := resp.Decode(&list); err != nil {
			return nil, connerr.WithTarget(err, e.ObjectClass, "")
		}
		return &list, nil
	case NotFound:
		return &ListResponse[T]{}, nil
	case InvalidRequest:
		return nil, e.fail(connerr.InvalidInput, req, resp, "", "bad request")
	}
	return nil, e.unexpected(req, resp, "")
}

// FilterQuery returns the query carrying a filter expression, or nil for an
// empty expression.
func FilterQuery(expr string) url.Values {
	if expr == "" {
		return nil
	}
	return url.Values{"filter": {expr}}
}

// Page is a PageFunc over this endpoint. query carries the filter and any
// other search parameters; the paging keys are set per call.
func (e *Endpoint[T]) Page(query url.Values) PageFunc[T] {
	return func(ctx context.Context, start, count int) ([]T, int, error) {
		q := url.Values{}
		for k, v := range query {
			q[k] = append([]string(nil), v...)
		}
		q.Set(e.Paging.OffsetKey, strconv.Itoa(start))
		q.Set(e.Paging.CountKey, strconv.Itoa(count))
		list, err := e.List(ctx, q)
		if err != nil {
			return nil, 0, err
		}
		return list.Resources, list.TotalResults, nil
	}
}

// Search enumerates resources matching query. With pageOffset 0 every page is
// walked and the number of delivered items is returned; otherwise the single
// page at pageOffset is fetched and the backend total is returned.
func (e *Endpoint[T]) Search(ctx context.Context, query url.Values, pageOffset, pageSize int, fn func(*T) bool) (int, error) {
	return Fetch(ctx, e.Paging, pageOffset, pageSize, e.Page(query), func(item T) bool {
		return fn(&item)
	})
}

func (e *Endpoint[T]) decode(resp *Response, id string) (*T, error) {
	var out T
	if err := resp.Decode(&out); err != nil {
		return nil, connerr.WithTarget(err, e.ObjectClass, id)
	}
	return &out, nil
}

func (e *Endpoint[T]) fail(kind connerr.Kind, req Request, resp *Response, id, msg string) error {
	err := e.Client.statusError(kind, req, resp, msg)
	return connerr.WithTarget(err, e.ObjectClass, id)
}

func (e *Endpoint[T]) unexpected(req Request, resp *Response, id string) error {
	return e.fail(connerr.UpstreamFailure, req, resp, id, "unexpected response")
}
