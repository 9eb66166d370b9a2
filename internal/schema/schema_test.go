package schema

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dhawalhost/scimbridge/internal/connerr"
)

type account struct {
	ID      string
	Login   string
	Title   string
	Age     int64
	Created time.Time
	Roles   []string
	Secret  string
}

func accountDefinition(t *testing.T) *Definition[account] {
	t.Helper()
	def, err := NewBuilder[account]("Account").
		AddUID("accountId", StringCaseIgnore, "id", Single[account]{
			FromModel: func(a *account) any { return a.ID },
		}, NotCreatable, NotUpdatable).
		AddName("login", String, "login", Single[account]{
			ToModel: func(v any, a *account) error { a.Login = v.(string); return nil },
			ToDelta: func(v any, ops *PatchOperations) error { ops.Replace("login", v); return nil },
			FromModel: func(a *account) any {
				return a.Login
			},
		}, Required).
		Add("title", String, "", Single[account]{
			ToModel: func(v any, a *account) error { a.Title = v.(string); return nil },
			ToDelta: func(v any, ops *PatchOperations) error { ops.Replace("title", v); return nil },
			FromModel: func(a *account) any {
				if a.Title == "" {
					return nil
				}
				return a.Title
			},
		}).
		Add("age", Integer, "age", Single[account]{
			ToModel:   func(v any, a *account) error { a.Age = v.(int64); return nil },
			FromModel: func(a *account) any { return a.Age },
		}, NotUpdatable).
		Add("meta.created", DateTime, "meta", Single[account]{
			FromModel: func(a *account) any {
				if a.Created.IsZero() {
					return nil
				}
				return a.Created
			},
		}, NotCreatable, NotUpdatable).
		AddMultiple("roles", String, "roles", Multi[account]{
			ToModel: func(vs []any, a *account) error {
				for _, v := range vs {
					a.Roles = append(a.Roles, v.(string))
				}
				return nil
			},
			Add:    func(vs []any, ops *PatchOperations) error { ops.Add("roles", vs); return nil },
			Remove: func(vs []any, ops *PatchOperations) error { ops.Remove("roles", vs); return nil },
			FromModel: func(a *account) []any {
				out := make([]any, 0, len(a.Roles))
				for _, r := range a.Roles {
					out = append(out, r)
				}
				return out
			},
		}).
		Add("secret", String, "secret", Single[account]{
			ToModel:   func(v any, a *account) error { a.Secret = v.(string); return nil },
			FromModel: func(a *account) any { return a.Secret },
		}, NotReturnedByDefault).
		Build()
	require.NoError(t, err)
	return def
}

func TestBuildRejectsBrokenTables(t *testing.T) {
	reader := Single[account]{FromModel: func(a *account) any { return a.ID }}

	_, err := NewBuilder[account]("Account").AddName("login", String, "", reader).Build()
	assert.ErrorContains(t, err, "no uid field")

	_, err = NewBuilder[account]("Account").AddUID("id", String, "", reader).Build()
	assert.ErrorContains(t, err, "no name field")

	_, err = NewBuilder[account]("Account").
		AddUID("id", String, "", reader).
		AddName("login", String, "", reader).
		Add("login", String, "", reader).
		Build()
	assert.ErrorContains(t, err, "registered twice")

	_, err = NewBuilder[account]("Account").
		AddUID("id", String, "", reader).
		AddName("login", String, "", reader).
		Add("inert", String, "", Single[account]{}).
		Build()
	assert.ErrorContains(t, err, "neither")

	_, err = NewBuilder[account]("Account").
		AddUID("id", String, "", reader).
		AddUID("id2", String, "", reader).
		AddName("login", String, "", reader).
		Build()
	assert.ErrorContains(t, err, "uid already registered")
}

func TestApply(t *testing.T) {
	def := accountDefinition(t)

	var a account
	err := def.Apply([]Attribute{
		NewAttribute(NameAttribute, "jdoe"),
		NewAttribute("title", "Engineer"),
		NewAttribute("age", float64(42)),
		NewAttribute("roles", "admin", "dev"),
		NewAttribute("secret"),
	}, &a)
	require.NoError(t, err)
	assert.Equal(t, "jdoe", a.Login)
	assert.Equal(t, "Engineer", a.Title)
	assert.Equal(t, int64(42), a.Age)
	assert.Equal(t, []string{"admin", "dev"}, a.Roles)
	assert.Empty(t, a.Secret)
}

func TestApplyRejectsInvalidInput(t *testing.T) {
	def := accountDefinition(t)

	tests := []struct {
		name  string
		attrs []Attribute
		want  string
	}{
		{"unknown attribute", []Attribute{NewAttribute("login", "x"), NewAttribute("nope", "x")}, "unknown attribute"},
		{"not creatable", []Attribute{NewAttribute("login", "x"), NewAttribute(UIDAttribute, "id-1")}, "cannot be set on create"},
		{"too many values", []Attribute{NewAttribute("login", "x", "y")}, "single-valued"},
		{"required missing", []Attribute{NewAttribute("title", "x")}, "required attribute \"login\""},
		{"required empty", []Attribute{NewAttribute("login")}, "required attribute \"login\""},
		{"wrong type", []Attribute{NewAttribute("login", "x"), NewAttribute("age", "old")}, "not a valid integer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var a account
			err := def.Apply(tt.attrs, &a)
			require.Error(t, err)
			assert.True(t, errors.Is(err, connerr.ErrInvalidInput))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyDeltaSingleValued(t *testing.T) {
	def := accountDefinition(t)

	ops := NewPatchOperations(EmptyAsEmptyString)
	require.NoError(t, def.ApplyDelta([]AttributeDelta{ReplaceDelta("title", "CTO")}, ops))
	assert.Equal(t, []PatchOperation{{Op: OpReplace, Path: "title", Value: "CTO"}}, ops.Operations())

	ops = NewPatchOperations(EmptyAsEmptyString)
	require.NoError(t, def.ApplyDelta([]AttributeDelta{ReplaceDelta("title")}, ops))
	assert.Equal(t, []PatchOperation{{Op: OpReplace, Path: "title", Value: ""}}, ops.Operations())

	ops = NewPatchOperations(EmptyAsRemove)
	require.NoError(t, def.ApplyDelta([]AttributeDelta{ReplaceDelta("title")}, ops))
	assert.Equal(t, []PatchOperation{{Op: OpRemove, Path: "title"}}, ops.Operations())
}

func TestApplyDeltaMultiValued(t *testing.T) {
	def := accountDefinition(t)

	ops := NewPatchOperations(EmptyAsEmptyString)
	err := def.ApplyDelta([]AttributeDelta{
		AddRemoveDelta("roles", []any{"a", "b"}, []any{"c"}),
	}, ops)
	require.NoError(t, err)
	assert.Equal(t, []PatchOperation{
		{Op: OpAdd, Path: "roles", Value: []any{"a", "b"}},
		{Op: OpRemove, Path: "roles", Value: []any{"c"}},
	}, ops.Operations())

	ops = NewPatchOperations(EmptyAsEmptyString)
	require.NoError(t, def.ApplyDelta([]AttributeDelta{AddRemoveDelta("roles", nil, []any{"c"})}, ops))
	assert.Len(t, ops.Operations(), 1)
	assert.Equal(t, OpRemove, ops.Operations()[0].Op)
}

func TestApplyDeltaRejectsInvalidInput(t *testing.T) {
	def := accountDefinition(t)

	tests := []struct {
		name  string
		delta AttributeDelta
		want  string
	}{
		{"unknown", ReplaceDelta("nope", "x"), "unknown attribute"},
		{"not updatable", ReplaceDelta("age", 3), "cannot be updated"},
		{"uid", ReplaceDelta(UIDAttribute, "x"), "cannot be updated"},
		{"replace multi", ReplaceDelta("roles", "x"), "multi-valued"},
		{"add on single", AddRemoveDelta("title", []any{"x"}, nil), "single-valued"},
		{"two values", ReplaceDelta("title", "x", "y"), "single-valued"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := NewPatchOperations(EmptyAsEmptyString)
			err := def.ApplyDelta([]AttributeDelta{tt.delta}, ops)
			require.Error(t, err)
			assert.ErrorIs(t, err, connerr.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyDeltaRejectsUnsupportedSide(t *testing.T) {
	def, err := NewBuilder[account]("Account").
		AddUID("accountId", String, "id", Single[account]{
			FromModel: func(a *account) any { return a.ID },
		}, NotCreatable, NotUpdatable).
		AddName("login", String, "login", Single[account]{
			FromModel: func(a *account) any { return a.Login },
		}).
		AddMultiple("roles", String, "roles", Multi[account]{
			Add: func(vs []any, ops *PatchOperations) error { ops.Add("roles", vs); return nil },
			FromModel: func(a *account) []any { return nil },
		}).
		Build()
	require.NoError(t, err)

	ops := NewPatchOperations(EmptyAsEmptyString)
	require.NoError(t, def.ApplyDelta([]AttributeDelta{AddRemoveDelta("roles", []any{"dev"}, nil)}, ops))
	assert.Len(t, ops.Operations(), 1)

	ops = NewPatchOperations(EmptyAsEmptyString)
	err = def.ApplyDelta([]AttributeDelta{AddRemoveDelta("roles", []any{"dev"}, []any{"admin"})}, ops)
	require.Error(t, err)
	assert.ErrorIs(t, err, connerr.ErrInvalidInput)
	assert.Contains(t, err.Error(), "cannot be removed")
	assert.False(t, ops.HasChanges())
}

func TestToObject(t *testing.T) {
	def := accountDefinition(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	src := &account{ID: "a-1", Login: "jdoe", Age: 30, Created: created, Roles: []string{"admin"}, Secret: "s"}

	obj := def.ToObject(src, ReadOptions{})
	assert.Equal(t, "Account", obj.ObjectClass)
	assert.Equal(t, "a-1", obj.UID)
	assert.Equal(t, "jdoe", obj.Name)
	_, ok := obj.Attribute("title")
	assert.False(t, ok, "absent title is omitted")
	_, ok = obj.Attribute("secret")
	assert.False(t, ok, "secret is not returned by default")
	created2, ok := obj.Attribute("meta.created")
	require.True(t, ok)
	assert.Equal(t, []any{created}, created2.Values)

	obj = def.ToObject(src, ReadOptions{Requested: NewSet("secret", "roles")})
	require.Len(t, obj.Attributes, 2)
	assert.Equal(t, Attribute{Name: "roles", Values: []any{"admin"}}, obj.Attributes[0])
	assert.Equal(t, Attribute{Name: "secret", Values: []any{"s"}}, obj.Attributes[1])
}

func TestToObjectPartial(t *testing.T) {
	def := accountDefinition(t)
	src := &account{ID: "a-1", Login: "jdoe", Age: 30}

	requested, _ := def.AttributesToGet([]string{"age", "roles"}, false)
	fetched := NewSet("id", "login", "age")
	obj := def.ToObject(src, ReadOptions{Requested: requested, AllowPartial: true, Fetched: fetched})

	age, ok := obj.Attribute("age")
	require.True(t, ok)
	assert.Equal(t, []any{int64(30)}, age.Values)
	roles, ok := obj.Attribute("roles")
	require.True(t, ok)
	assert.True(t, roles.Incomplete)
	assert.Empty(t, roles.Values)
}

func TestAttributesToGet(t *testing.T) {
	def := accountDefinition(t)

	attrs, fetch := def.AttributesToGet(nil, false)
	assert.True(t, attrs.Has("title"))
	assert.False(t, attrs.Has("secret"))
	assert.True(t, fetch.Has("id"))
	assert.True(t, fetch.Has("title"), "fetch field falls back to the attribute name")
	assert.True(t, fetch.Has("meta"))

	attrs, fetch = def.AttributesToGet([]string{"secret", "bogus"}, false)
	assert.Equal(t, "accountId,login,secret", attrs.String())
	assert.Equal(t, "id,login,secret", fetch.String())

	attrs, _ = def.AttributesToGet([]string{"secret"}, true)
	assert.True(t, attrs.Has("secret"))
	assert.True(t, attrs.Has("roles"))
}

func TestPatchOperationsJSON(t *testing.T) {
	ops := NewPatchOperations(EmptyAsRemove)
	ops.Replace("userName", "jdoe")
	ops.Replace("name.givenName", nil)
	ops.Add("members", []map[string]string{{"value": "u1"}})

	b, err := json.Marshal(ops)
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"schemas": ["urn:ietf:params:scim:api:messages:2.0:PatchOp"],
		"Operations": [
			{"op": "replace", "path": "userName", "value": "jdoe"},
			{"op": "remove", "path": "name.givenName"},
			{"op": "add", "path": "members", "value": [{"value": "u1"}]}
		]
	}`, string(b))
	assert.True(t, ops.HasChanges())

	b, err = json.Marshal(NewPatchOperations(EmptyAsEmptyString))
	require.NoError(t, err)
	assert.JSONEq(t, `{"schemas":["urn:ietf:params:scim:api:messages:2.0:PatchOp"],"Operations":[]}`, string(b))
}

func TestParseEmptyValuePolicy(t *testing.T) {
	p, err := ParseEmptyValuePolicy("")
	require.NoError(t, err)
	assert.Equal(t, EmptyAsEmptyString, p)

	p, err = ParseEmptyValuePolicy("Remove")
	require.NoError(t, err)
	assert.Equal(t, EmptyAsRemove, p)

	_, err = ParseEmptyValuePolicy("null")
	assert.Error(t, err)
}

func TestParseDateTime(t *testing.T) {
	got, err := ParseDateTime("1700000000000")
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1700000000000).UTC(), got)

	got, err = ParseDateTime("2024-03-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), got)

	_, err = ParseDateTime("yesterday")
	assert.Error(t, err)
	_, err = ParseDateTime("")
	assert.Error(t, err)
}
