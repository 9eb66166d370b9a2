package schema

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PatchOpSchema is the schema URN carried by every patch body.
const PatchOpSchema = "urn:ietf:params:scim:api:messages:2.0:PatchOp"

const (
	OpAdd     = "add"
	OpRemove  = "remove"
	OpReplace = "replace"
)

// EmptyValuePolicy decides how a replace with no value is sent to the backend.
type EmptyValuePolicy int

const (
	// EmptyAsEmptyString sends a replace carrying "".
	EmptyAsEmptyString EmptyValuePolicy = iota
	// EmptyAsRemove sends a remove for the path.
	EmptyAsRemove
)

// ParseEmptyValuePolicy parses "empty-string" or "remove". An empty input selects
// EmptyAsEmptyString.
func ParseEmptyValuePolicy(s string) (EmptyValuePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "empty-string", "empty_string":
		return EmptyAsEmptyString, nil
	case "remove":
		return EmptyAsRemove, nil
	}
	return 0, fmt.Errorf("unknown empty value policy %q", s)
}

// PatchOperation is one entry of a patch body.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path,omitempty"`
	Value any    `json:"value,omitempty"`
}

// PatchOperations accumulates the operations compiled from a set of deltas.
// Operations are kept in the order they were added.
type PatchOperations struct {
	policy EmptyValuePolicy
	ops    []PatchOperation
}

// NewPatchOperations returns an empty patch using policy for empty replaces.
func NewPatchOperations(policy EmptyValuePolicy) *PatchOperations {
	return &PatchOperations{policy: policy}
}

// Replace records a replace of path. A nil value is handled by the empty value policy.
func (p *PatchOperations) Replace(path string, value any) {
	if value == nil {
		if p.policy == EmptyAsRemove {
			p.ops = append(p.ops, PatchOperation{Op: OpRemove, Path: path})
			return
		}
		value = ""
	}
	p.ops = append(p.ops, PatchOperation{Op: OpReplace, Path: path, Value: value})
}

// Add records an add of value to path.
func (p *PatchOperations) Add(path string, value any) {
	p.ops = append(p.ops, PatchOperation{Op: OpAdd, Path: path, Value: value})
}

// Remove records a remove of value from path. A nil value removes the whole path.
func (p *PatchOperations) Remove(path string, value any) {
	p.ops = append(p.ops, PatchOperation{Op: OpRemove, Path: path, Value: value})
}

// HasChanges reports whether any operation was recorded.
func (p *PatchOperations) HasChanges() bool { return len(p.ops) > 0 }

// Operations returns a copy of the recorded operations.
func (p *PatchOperations) Operations() []PatchOperation {
	out := make([]PatchOperation, len(p.ops))
	copy(out, p.ops)
	return out
}

// MarshalJSON renders the patch request body.
func (p *PatchOperations) MarshalJSON() ([]byte, error) {
	ops := p.ops
	if ops == nil {
		ops = []PatchOperation{}
	}
	return json.Marshal(struct {
		Schemas    []string         `json:"schemas"`
		Operations []PatchOperation `json:"Operations"`
	}{
		Schemas:    []string{PatchOpSchema},
		Operations: ops,
	})
}
