package scim

import (
	"github.com/dhawalhost/scimbridge/internal/rest"
	"github.com/dhawalhost/scimbridge/internal/schema"
	scimapi "github.com/dhawalhost/scimbridge/internal/scim"
)

// UserObjectClass is the object class served by the Users endpoint.
const UserObjectClass = "User"

type userHandler struct {
	*resource[scimapi.User]
}

func newUserHandler(endpoint *rest.Endpoint[scimapi.User], def *schema.Definition[scimapi.User], policy schema.EmptyValuePolicy) *userHandler {
	return &userHandler{&resource[scimapi.User]{
		def:        def,
		endpoint:   endpoint,
		policy:     policy,
		nameFilter: "userName",
		newModel: func() scimapi.User {
			return scimapi.User{Schemas: []string{scimapi.UserSchema}}
		},
	}}
}

// UserSchema builds the User object class definition.
func UserSchema() (*schema.Definition[scimapi.User], error) {
	b := schema.NewBuilder[scimapi.User](UserObjectClass)

	b.AddUID("userId", schema.String, "id", schema.Single[scimapi.User]{
		FromModel: func(src *scimapi.User) any { return src.ID },
	}, schema.NotCreatable, schema.NotUpdatable)

	b.AddName("userName", schema.StringCaseIgnore, "userName", schema.Single[scimapi.User]{
		ToModel: func(v any, dest *scimapi.User) error {
			dest.UserName = v.(string)
			return nil
		},
		ToDelta: func(v any, ops *schema.PatchOperations) error {
			ops.Replace("userName", v)
			return nil
		},
		FromModel: func(src *scimapi.User) any { return src.UserName },
	}, schema.Required)

	b.Add("name.formatted", schema.String, "name", nameField("name.formatted",
		func(n *scimapi.Name) *string { return &n.Formatted }))
	b.Add("name.givenName", schema.String, "name", nameField("name.givenName",
		func(n *scimapi.Name) *string { return &n.GivenName }))
	b.Add("name.familyName", schema.String, "name", nameField("name.familyName",
		func(n *scimapi.Name) *string { return &n.FamilyName }))

	b.Add("active", schema.Boolean, "active", schema.Single[scimapi.User]{
		ToModel: func(v any, dest *scimapi.User) error {
			active := v.(bool)
			dest.Active = &active
			return nil
		},
		ToDelta: func(v any, ops *schema.PatchOperations) error {
			ops.Replace("active", v)
			return nil
		},
		FromModel: func(src *scimapi.User) any {
			if src.Active == nil {
				return nil
			}
			return *src.Active
		},
	})

	b.Add("meta.created", schema.DateTime, "meta", schema.Single[scimapi.User]{
		FromModel: func(src *scimapi.User) any { return metaTime(src.Meta, metaCreated) },
	}, schema.NotCreatable, schema.NotUpdatable)
	b.Add("meta.lastModified", schema.DateTime, "meta", schema.Single[scimapi.User]{
		FromModel: func(src *scimapi.User) any { return metaTime(src.Meta, metaLastModified) },
	}, schema.NotCreatable, schema.NotUpdatable)

	return b.Build()
}

// nameField maps one part of the structured name. An empty part is absent.
func nameField(path string, part func(*scimapi.Name) *string) schema.Single[scimapi.User] {
	return schema.Single[scimapi.User]{
		ToModel: func(v any, dest *scimapi.User) error {
			if dest.Name == nil {
				dest.Name = &scimapi.Name{}
			}
			*part(dest.Name) = v.(string)
			return nil
		},
		ToDelta: func(v any, ops *schema.PatchOperations) error {
			ops.Replace(path, v)
			return nil
		},
		FromModel: func(src *scimapi.User) any {
			if src.Name == nil || *part(src.Name) == "" {
				return nil
			}
			return *part(src.Name)
		},
	}
}
