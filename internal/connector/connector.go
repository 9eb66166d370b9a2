// Package connector defines the contract between the provisioning host and
// the connectors it drives, plus the registry and HTTP surface around them.
package connector

import (
	"context"

	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

// Connector is one configured connector session bound to a remote system.
type Connector interface {
	// Metadata
	ID() string
	Name() string
	Type() string // scim, ...

	// Schema lists the object classes the connector serves.
	Schema() []ObjectClassInfo
	// Test checks that the remote system is reachable with the configured credentials.
	Test(ctx context.Context) error
	Close() error

	// Create provisions a new object and returns its UID.
	Create(ctx context.Context, objectClass string, attrs []schema.Attribute) (string, error)
	// UpdateDelta applies attribute deltas to the object with uid.
	UpdateDelta(ctx context.Context, objectClass, uid string, deltas []schema.AttributeDelta) error
	Delete(ctx context.Context, objectClass, uid string) error

	// Translator returns the filter translator of an object class.
	Translator(objectClass string) (filter.Translator, error)
	// Search delivers the objects selected by f to handler. A nil f selects
	// every object of the class.
	Search(ctx context.Context, objectClass string, f *filter.Filter, handler ResultsHandler, opts SearchOptions) (SearchResult, error)
}

// ObjectClassInfo describes one object class of a connector.
type ObjectClassInfo struct {
	Name   string             `json:"name"`
	Fields []schema.FieldInfo `json:"fields"`
}

// ResultsHandler receives search results. Returning false stops the search.
type ResultsHandler func(obj schema.Object) bool

// SearchOptions controls the attributes and paging of a search.
type SearchOptions struct {
	// AttributesToGet lists the attributes to report. Empty means the
	// attributes returned by default.
	AttributesToGet []string
	// ReturnDefaultAttributes adds the default attributes to AttributesToGet.
	ReturnDefaultAttributes bool
	// AllowPartialAttributeValues lets the connector skip fetching large
	// multi-valued attributes and report them as incomplete.
	AllowPartialAttributeValues bool
	// PageSize is the number of objects per backend request. Zero uses the
	// connector default.
	PageSize int
	// PageOffset is the 1-based position of the first object of a single
	// page. Zero enumerates everything.
	PageOffset int
}

// SearchResult summarizes a finished search.
type SearchResult struct {
	// RemainingPagedResults is the number of objects after the delivered
	// page, or -1 when the search was not paged.
	RemainingPagedResults int `json:"remainingPagedResults"`
}

// Config holds connector configuration.
type Config struct {
	ID       string         `json:"id" mapstructure:"id"`
	Name     string         `json:"name" mapstructure:"name"`
	Type     string         `json:"type" mapstructure:"type"` // scim
	Settings map[string]any `json:"-" mapstructure:"settings"`
}

// Info is the externally visible description of a registered connector.
type Info struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

// Registry manages connector instances.
type Registry interface {
	Register(connectorType string, factory Factory)
	Create(config Config) (Connector, error)
	Open(config Config) (Connector, error)
	Install(conn Connector)
	Get(connectorID string) (Connector, bool)
	List() []Connector
	Remove(connectorID string) error
	Close() error
}

// Factory creates connector instances.
type Factory func(config Config) (Connector, error)
