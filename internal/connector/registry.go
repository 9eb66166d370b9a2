package connector

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

// registry implements the Registry interface.
type registry struct {
	factories  map[string]Factory
	connectors map[string]Connector
	mu         sync.RWMutex
}

// NewRegistry creates a new connector registry.
func NewRegistry() Registry {
	return &registry{
		factories:  make(map[string]Factory),
		connectors: make(map[string]Connector),
	}
}

func (r *registry) Register(connectorType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[connectorType] = factory
}

// Create builds a connector from config and registers it under config.ID.
// An existing instance with the same id is closed and replaced.
func (r *registry) Create(config Config) (Connector, error) {
	conn, err := r.Open(config)
	if err != nil {
		return nil, err
	}
	r.Install(conn)
	return conn, nil
}

// Open builds a connector from config without registering it.
func (r *registry) Open(config Config) (Connector, error) {
	if config.ID == "" {
		return nil, connerr.New(connerr.InvalidInput, "connector id is required")
	}

	r.mu.RLock()
	factory, ok := r.factories[config.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, connerr.New(connerr.InvalidInput, "unknown connector type: %s", config.Type)
	}

	conn, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connector %s: %w", config.ID, err)
	}
	return conn, nil
}

// Install registers conn under its id, closing the instance it replaces.
func (r *registry) Install(conn Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.connectors[conn.ID()]; ok && old != conn {
		_ = old.Close()
	}
	r.connectors[conn.ID()] = conn
}

func (r *registry) Get(connectorID string) (Connector, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connectors[connectorID]
	return conn, ok
}

// List returns the registered connectors ordered by id.
func (r *registry) List() []Connector {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Connector, 0, len(r.connectors))
	for _, c := range r.connectors {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID() < result[j].ID() })
	return result
}

func (r *registry) Remove(connectorID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.connectors[connectorID]
	if !ok {
		return connerr.New(connerr.UnknownTarget, "connector not found: %s", connectorID)
	}

	delete(r.connectors, connectorID)
	if err := conn.Close(); err != nil {
		return fmt.Errorf("failed to close connector: %w", err)
	}
	return nil
}

// Close closes and forgets every connector.
func (r *registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for id, conn := range r.connectors {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", id, err))
		}
		delete(r.connectors, id)
	}
	return errors.Join(errs...)
}
