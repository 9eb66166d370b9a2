package scim

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// User represents a SCIM 2.0 User resource.
type User struct {
	Schemas  []string `json:"schemas,omitempty"`
	ID       string   `json:"id,omitempty"`
	UserName string   `json:"userName"`
	Name     *Name    `json:"name,omitempty"`
	Active   *bool    `json:"active,omitempty"`
	Meta     *Meta    `json:"meta,omitempty"`
}

// Name is the structured name of a user.
type Name struct {
	Formatted  string `json:"formatted,omitempty"`
	GivenName  string `json:"givenName,omitempty"`
	FamilyName string `json:"familyName,omitempty"`
}

// IsZero reports whether every part of the name is empty.
func (n *Name) IsZero() bool {
	return n == nil || (n.Formatted == "" && n.GivenName == "" && n.FamilyName == "")
}

// Group represents a SCIM 2.0 Group resource.
type Group struct {
	Schemas     []string `json:"schemas,omitempty"`
	ID          string   `json:"id,omitempty"`
	DisplayName string   `json:"displayName"`
	Members     []Member `json:"members,omitempty"`
	Meta        *Meta    `json:"meta,omitempty"`
}

// MemberValues returns the ids of the group's members.
func (g *Group) MemberValues() []string {
	out := make([]string, 0, len(g.Members))
	for _, m := range g.Members {
		out = append(out, m.Value)
	}
	return out
}

// Member references a group member.
type Member struct {
	Value   string `json:"value"`
	Display string `json:"display,omitempty"`
	Type    string `json:"type,omitempty"` // User or Group
}

// Meta carries resource timestamps. Backends send either RFC 3339 or epoch
// millisecond strings.
type Meta struct {
	ResourceType string `json:"resourceType,omitempty"`
	Created      string `json:"created,omitempty"`
	LastModified string `json:"lastModified,omitempty"`
	Location     string `json:"location,omitempty"`
}

// ListResponse represents a SCIM list response.
type ListResponse struct {
	Schemas      []string `json:"schemas"`
	TotalResults int      `json:"totalResults"`
	StartIndex   int      `json:"startIndex"`
	ItemsPerPage int      `json:"itemsPerPage"`
	Resources    []any    `json:"Resources"`
}

// Error represents a SCIM error response. On the wire status is a string, but
// some backends send a number; both are accepted.
type Error struct {
	Schemas  []string `json:"schemas"`
	Status   int      `json:"status"`
	Detail   string   `json:"detail,omitempty"`
	ScimType string   `json:"scimType,omitempty"`
}

// Error implements the [error] interface.
func (e Error) Error() string {
	s := fmt.Sprintf("status: %d", e.Status)
	if e.ScimType != "" {
		s += ", scimType: " + e.ScimType
	}
	if e.Detail != "" {
		s += ", detail: " + e.Detail
	}
	return s
}

// MarshalJSON writes status as a string.
func (e Error) MarshalJSON() ([]byte, error) {
	t := map[string]any{
		"schemas": e.Schemas,
		"status":  strconv.Itoa(e.Status),
	}
	if e.Detail != "" {
		t["detail"] = e.Detail
	}
	if e.ScimType != "" {
		t["scimType"] = e.ScimType
	}
	return json.Marshal(t)
}

func (e *Error) UnmarshalJSON(data []byte) error {
	t := struct {
		Schemas  []string        `json:"schemas"`
		Status   json.RawMessage `json:"status"`
		Detail   string          `json:"detail"`
		ScimType string          `json:"scimType"`
	}{}
	if err := json.Unmarshal(data, &t); err != nil {
		return err
	}
	e.Schemas = t.Schemas
	e.Detail = t.Detail
	e.ScimType = t.ScimType

	raw := strings.Trim(strings.TrimSpace(string(t.Status)), `"`)
	if raw != "" && raw != "null" {
		status, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("invalid status value: %s", raw)
		}
		e.Status = status
	}
	return nil
}

// NewError creates a SCIM error.
func NewError(status int, detail string, scimType ...string) *Error {
	e := &Error{
		Schemas: []string{ErrorSchema},
		Status:  status,
		Detail:  detail,
	}
	if len(scimType) > 0 {
		e.ScimType = scimType[0]
	}
	return e
}

// ErrorDetail extracts a readable message from an error body, or "" when the
// body is not a SCIM error.
func ErrorDetail(body []byte) string {
	var e Error
	if err := json.Unmarshal(body, &e); err != nil || (e.Detail == "" && e.ScimType == "") {
		return ""
	}
	if e.ScimType != "" && e.Detail != "" {
		return e.ScimType + ": " + e.Detail
	}
	if e.Detail != "" {
		return e.Detail
	}
	return e.ScimType
}

// PatchRequest represents a SCIM PATCH request body.
type PatchRequest struct {
	Schemas    []string         `json:"schemas"`
	Operations []PatchOperation `json:"Operations"`
}

// PatchOperation represents a single SCIM PATCH operation.
type PatchOperation struct {
	Op    string          `json:"op"`              // add, remove, replace
	Path  string          `json:"path,omitempty"`  // attribute path
	Value json.RawMessage `json:"value,omitempty"` // new value
}

// ServiceProviderConfig is the subset of the discovery document the bridge reads.
type ServiceProviderConfig struct {
	Schemas        []string  `json:"schemas"`
	Patch          Supported `json:"patch"`
	Filter         Supported `json:"filter"`
	ChangePassword Supported `json:"changePassword"`
	Sort           Supported `json:"sort"`
	ETag           Supported `json:"etag"`
	Bulk           Supported `json:"bulk"`
}

// Supported flags an optional feature.
type Supported struct {
	Supported  bool `json:"supported"`
	MaxResults int  `json:"maxResults,omitempty"`
}

const (
	UserSchema                  = "urn:ietf:params:scim:schemas:core:2.0:User"
	GroupSchema                 = "urn:ietf:params:scim:schemas:core:2.0:Group"
	ListSchema                  = "urn:ietf:params:scim:api:messages:2.0:ListResponse"
	ErrorSchema                 = "urn:ietf:params:scim:api:messages:2.0:Error"
	PatchSchema                 = "urn:ietf:params:scim:api:messages:2.0:PatchOp"
	ServiceProviderConfigSchema = "urn:ietf:params:scim:schemas:core:2.0:ServiceProviderConfig"
)
