package scim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Store is an in-memory SCIM resource store. It is safe for concurrent use.
type Store struct {
	mu         sync.RWMutex
	users      map[string]*User
	groups     map[string]*Group
	userOrder  []string
	groupOrder []string
	seq        int
	now        func() time.Time
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		users:  make(map[string]*User),
		groups: make(map[string]*Group),
		now:    time.Now,
	}
}

func (s *Store) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%04d", prefix, s.seq)
}

func (s *Store) stamp(meta *Meta, resourceType, location string, created bool) *Meta {
	ts := s.now().UTC().Format(time.RFC3339)
	if meta == nil {
		meta = &Meta{}
	}
	m := *meta
	m.ResourceType = resourceType
	m.Location = location
	if created || m.Created == "" {
		m.Created = ts
	}
	m.LastModified = ts
	return &m
}

// ========== Users ==========

// CreateUser stores a new user. userName is required and unique, ignoring case.
func (s *Store) CreateUser(u User) (User, error) {
	if strings.TrimSpace(u.UserName) == "" {
		return User{}, NewError(http.StatusBadRequest, "userName is required", "invalidValue")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userNameTaken(u.UserName, "") {
		return User{}, NewError(http.StatusConflict, fmt.Sprintf("userName %q already exists", u.UserName), "uniqueness")
	}
	u.ID = s.nextID("user")
	u.Schemas = []string{UserSchema}
	u.Meta = s.stamp(nil, "User", "/Users/"+u.ID, true)
	s.users[u.ID] = &u
	s.userOrder = append(s.userOrder, u.ID)
	return u, nil
}

func (s *Store) userNameTaken(name, exceptID string) bool {
	for id, existing := range s.users {
		if id != exceptID && strings.EqualFold(existing.UserName, name) {
			return true
		}
	}
	return false
}

// GetUser returns the user with id.
func (s *Store) GetUser(id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, notFound("User", id)
	}
	return *u, nil
}

// ReplaceUser overwrites the user with id.
func (s *Store) ReplaceUser(id string, u User) (User, error) {
	if strings.TrimSpace(u.UserName) == "" {
		return User{}, NewError(http.StatusBadRequest, "userName is required", "invalidValue")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[id]
	if !ok {
		return User{}, notFound("User", id)
	}
	if s.userNameTaken(u.UserName, id) {
		return User{}, NewError(http.StatusConflict, fmt.Sprintf("userName %q already exists", u.UserName), "uniqueness")
	}
	u.ID = id
	u.Schemas = []string{UserSchema}
	u.Meta = s.stamp(existing.Meta, "User", "/Users/"+id, false)
	s.users[id] = &u
	return u, nil
}

// PatchUser applies operations to the user with id. Supported paths are
// userName, active and name.{formatted,givenName,familyName}.
func (s *Store) PatchUser(id string, ops []PatchOperation) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.users[id]
	if !ok {
		return User{}, notFound("User", id)
	}
	u := *existing
	if existing.Name != nil {
		n := *existing.Name
		u.Name = &n
	}
	for _, op := range ops {
		if err := patchUser(&u, op); err != nil {
			return User{}, err
		}
	}
	if strings.TrimSpace(u.UserName) == "" {
		return User{}, NewError(http.StatusBadRequest, "userName is required", "invalidValue")
	}
	if s.userNameTaken(u.UserName, id) {
		return User{}, NewError(http.StatusConflict, fmt.Sprintf("userName %q already exists", u.UserName), "uniqueness")
	}
	if u.Name.IsZero() {
		u.Name = nil
	}
	u.Meta = s.stamp(existing.Meta, "User", "/Users/"+id, false)
	s.users[id] = &u
	return u, nil
}

func patchUser(u *User, op PatchOperation) error {
	var str string
	switch strings.ToLower(op.Op) {
	case "replace", "add":
		if err := json.Unmarshal(op.Value, &str); err != nil && op.Path != "active" {
			return NewError(http.StatusBadRequest, fmt.Sprintf("value of %q must be a string", op.Path), "invalidValue")
		}
	case "remove":
	default:
		return NewError(http.StatusBadRequest, fmt.Sprintf("unsupported op %q", op.Op), "invalidSyntax")
	}
	if u.Name == nil {
		u.Name = &Name{}
	}
	switch op.Path {
	case "userName":
		u.UserName = str
	case "name.formatted":
		u.Name.Formatted = str
	case "name.givenName":
		u.Name.GivenName = str
	case "name.familyName":
		u.Name.FamilyName = str
	case "active":
		if strings.EqualFold(op.Op, "remove") {
			u.Active = nil
			return nil
		}
		var b bool
		if err := json.Unmarshal(op.Value, &b); err != nil {
			return NewError(http.StatusBadRequest, "value of \"active\" must be a boolean", "invalidValue")
		}
		u.Active = &b
	default:
		return NewError(http.StatusBadRequest, fmt.Sprintf("unsupported path %q", op.Path), "invalidPath")
	}
	return nil
}

// DeleteUser removes the user with id and drops it from every group.
func (s *Store) DeleteUser(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[id]; !ok {
		return notFound("User", id)
	}
	delete(s.users, id)
	s.userOrder = without(s.userOrder, id)
	for _, g := range s.groups {
		g.Members = removeMembers(g.Members, map[string]bool{id: true})
	}
	return nil
}

// ListUsers returns the users matching filter in creation order.
func (s *Store) ListUsers(filter string) ([]User, error) {
	match, err := parseFilter(filter, map[string]func(*User) string{
		"id":       func(u *User) string { return u.ID },
		"username": func(u *User) string { return u.UserName },
	})
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.userOrder))
	for _, id := range s.userOrder {
		if u := s.users[id]; match(u) {
			out = append(out, *u)
		}
	}
	return out, nil
}

// ========== Groups ==========

// CreateGroup stores a new group. displayName is required but not unique.
func (s *Store) CreateGroup(g Group) (Group, error) {
	if strings.TrimSpace(g.DisplayName) == "" {
		return Group{}, NewError(http.StatusBadRequest, "displayName is required", "invalidValue")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	g.ID = s.nextID("group")
	g.Schemas = []string{GroupSchema}
	g.Members = dedupeMembers(g.Members)
	g.Meta = s.stamp(nil, "Group", "/Groups/"+g.ID, true)
	s.groups[g.ID] = &g
	s.groupOrder = append(s.groupOrder, g.ID)
	return g, nil
}

// GetGroup returns the group with id.
func (s *Store) GetGroup(id string) (Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok {
		return Group{}, notFound("Group", id)
	}
	return cloneGroup(g), nil
}

// ReplaceGroup overwrites the group with id.
func (s *Store) ReplaceGroup(id string, g Group) (Group, error) {
	if strings.TrimSpace(g.DisplayName) == "" {
		return Group{}, NewError(http.StatusBadRequest, "displayName is required", "invalidValue")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[id]
	if !ok {
		return Group{}, notFound("Group", id)
	}
	g.ID = id
	g.Schemas = []string{GroupSchema}
	g.Members = dedupeMembers(g.Members)
	g.Meta = s.stamp(existing.Meta, "Group", "/Groups/"+id, false)
	s.groups[id] = &g
	return cloneGroup(&g), nil
}

// PatchGroup applies operations to the group with id. Supported paths are
// displayName and members.
func (s *Store) PatchGroup(id string, ops []PatchOperation) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.groups[id]
	if !ok {
		return Group{}, notFound("Group", id)
	}
	g := cloneGroup(existing)
	for _, op := range ops {
		if err := patchGroup(&g, op); err != nil {
			return Group{}, err
		}
	}
	if strings.TrimSpace(g.DisplayName) == "" {
		return Group{}, NewError(http.StatusBadRequest, "displayName is required", "invalidValue")
	}
	g.Meta = s.stamp(existing.Meta, "Group", "/Groups/"+id, false)
	s.groups[id] = &g
	return cloneGroup(&g), nil
}

func patchGroup(g *Group, op PatchOperation) error {
	switch op.Path {
	case "displayName":
		switch strings.ToLower(op.Op) {
		case "replace", "add":
			var str string
			if err := json.Unmarshal(op.Value, &str); err != nil {
				return NewError(http.StatusBadRequest, "value of \"displayName\" must be a string", "invalidValue")
			}
			g.DisplayName = str
			return nil
		case "remove":
			g.DisplayName = ""
			return nil
		}
	case "members":
		var members []Member
		if len(op.Value) > 0 {
			if err := json.Unmarshal(op.Value, &members); err != nil {
				return NewError(http.StatusBadRequest, "value of \"members\" must be a list of members", "invalidValue")
			}
		}
		switch strings.ToLower(op.Op) {
		case "add":
			g.Members = dedupeMembers(append(g.Members, members...))
			return nil
		case "replace":
			g.Members = dedupeMembers(members)
			return nil
		case "remove":
			if len(op.Value) == 0 {
				g.Members = nil
				return nil
			}
			drop := make(map[string]bool, len(members))
			for _, m := range members {
				drop[m.Value] = true
			}
			g.Members = removeMembers(g.Members, drop)
			return nil
		}
	default:
		return NewError(http.StatusBadRequest, fmt.Sprintf("unsupported path %q", op.Path), "invalidPath")
	}
	return NewError(http.StatusBadRequest, fmt.Sprintf("unsupported op %q", op.Op), "invalidSyntax")
}

// DeleteGroup removes the group with id.
func (s *Store) DeleteGroup(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.groups[id]; !ok {
		return notFound("Group", id)
	}
	delete(s.groups, id)
	s.groupOrder = without(s.groupOrder, id)
	return nil
}

// ListGroups returns the groups matching filter in creation order.
func (s *Store) ListGroups(filter string) ([]Group, error) {
	match, err := parseFilter(filter, map[string]func(*Group) string{
		"id":          func(g *Group) string { return g.ID },
		"displayname": func(g *Group) string { return g.DisplayName },
	})
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groupOrder))
	for _, id := range s.groupOrder {
		if g := s.groups[id]; match(g) {
			out = append(out, cloneGroup(g))
		}
	}
	return out, nil
}

// ========== helpers ==========

var eqFilter = regexp.MustCompile(`^\s*([A-Za-z][A-Za-z0-9.]*)\s+eq\s+"((?:[^"\\]|\\.)*)"\s*$`)

// parseFilter supports a single case-insensitive `attr eq "value"` comparison.
func parseFilter[T any](filter string, attrs map[string]func(*T) string) (func(*T) bool, error) {
	if strings.TrimSpace(filter) == "" {
		return func(*T) bool { return true }, nil
	}
	m := eqFilter.FindStringSubmatch(filter)
	if m == nil {
		return nil, NewError(http.StatusBadRequest, fmt.Sprintf("unsupported filter %q", filter), "invalidFilter")
	}
	get, ok := attrs[strings.ToLower(m[1])]
	if !ok {
		return nil, NewError(http.StatusBadRequest, fmt.Sprintf("unsupported filter attribute %q", m[1]), "invalidFilter")
	}
	want := strings.ReplaceAll(m[2], `\"`, `"`)
	return func(v *T) bool { return strings.EqualFold(get(v), want) }, nil
}

// page slices items for a one- or zero-based start index.
func page[T any](items []T, start, first, count int) []T {
	offset := start - first
	if offset >= len(items) || count <= 0 {
		return []T{}
	}
	end := offset + count
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func notFound(resourceType, id string) *Error {
	return NewError(http.StatusNotFound, fmt.Sprintf("%s %s not found", resourceType, id))
}

func without(ids []string, id string) []string {
	out := ids[:0:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func dedupeMembers(members []Member) []Member {
	seen := make(map[string]bool, len(members))
	var out []Member
	for _, m := range members {
		if m.Value == "" || seen[m.Value] {
			continue
		}
		seen[m.Value] = true
		out = append(out, m)
	}
	return out
}

func removeMembers(members []Member, drop map[string]bool) []Member {
	var out []Member
	for _, m := range members {
		if !drop[m.Value] {
			out = append(out, m)
		}
	}
	return out
}

func cloneGroup(g *Group) Group {
	c := *g
	c.Members = append([]Member(nil), g.Members...)
	return c
}

func parseIndex(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.Atoi(raw)
}
