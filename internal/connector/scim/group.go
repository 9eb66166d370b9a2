package scim

import (
	"context"
	"net/url"
	"strings"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/rest"
	"github.com/dhawalhost/scimbridge/internal/schema"
	scimapi "github.com/dhawalhost/scimbridge/internal/scim"
)

const (
	// GroupObjectClass is the object class served by the Groups endpoint.
	GroupObjectClass = "Group"
	// MembersAttribute holds the user ids of a group's members.
	MembersAttribute = "members.User.value"

	membersField = "members"
)

type groupHandler struct {
	*resource[scimapi.Group]
	cfg *Config
}

func newGroupHandler(endpoint *rest.Endpoint[scimapi.Group], def *schema.Definition[scimapi.Group], cfg *Config, policy schema.EmptyValuePolicy) *groupHandler {
	return &groupHandler{
		resource: &resource[scimapi.Group]{
			def:        def,
			endpoint:   endpoint,
			policy:     policy,
			nameFilter: "displayName",
			newModel: func() scimapi.Group {
				return scimapi.Group{Schemas: []string{scimapi.GroupSchema}}
			},
		},
		cfg: cfg,
	}
}

// GroupSchema builds the Group object class definition.
func GroupSchema() (*schema.Definition[scimapi.Group], error) {
	b := schema.NewBuilder[scimapi.Group](GroupObjectClass)

	b.AddUID("groupId", schema.StringCaseIgnore, "id", schema.Single[scimapi.Group]{
		FromModel: func(src *scimapi.Group) any { return src.ID },
	}, schema.NotCreatable, schema.NotUpdatable)

	// a group without a display name is named by its id
	b.AddName("displayName", schema.StringCaseIgnore, "displayName", schema.Single[scimapi.Group]{
		ToModel: func(v any, dest *scimapi.Group) error {
			dest.DisplayName = v.(string)
			return nil
		},
		ToDelta: func(v any, ops *schema.PatchOperations) error {
			ops.Replace("displayName", v)
			return nil
		},
		FromModel: func(src *scimapi.Group) any {
			if src.DisplayName == "" {
				return src.ID
			}
			return src.DisplayName
		},
	}, schema.Required)

	b.AddMultiple(MembersAttribute, schema.String, membersField, schema.Multi[scimapi.Group]{
		ToModel: func(values []any, dest *scimapi.Group) error {
			dest.Members = append(dest.Members, members(values)...)
			return nil
		},
		Add: func(values []any, ops *schema.PatchOperations) error {
			ops.Add(membersField, members(values))
			return nil
		},
		Remove: func(values []any, ops *schema.PatchOperations) error {
			ops.Remove(membersField, members(values))
			return nil
		},
		FromModel: func(src *scimapi.Group) []any {
			out := make([]any, 0, len(src.Members))
			for _, m := range src.Members {
				out = append(out, m.Value)
			}
			return out
		},
	})

	b.Add("meta.created", schema.DateTime, "meta", schema.Single[scimapi.Group]{
		FromModel: func(src *scimapi.Group) any { return metaTime(src.Meta, metaCreated) },
	}, schema.NotCreatable, schema.NotUpdatable)
	b.Add("meta.lastModified", schema.DateTime, "meta", schema.Single[scimapi.Group]{
		FromModel: func(src *scimapi.Group) any { return metaTime(src.Meta, metaLastModified) },
	}, schema.NotCreatable, schema.NotUpdatable)

	return b.Build()
}

func members(values []any) []scimapi.Member {
	out := make([]scimapi.Member, 0, len(values))
	for _, v := range values {
		out = append(out, scimapi.Member{Value: v.(string)})
	}
	return out
}

func (h *groupHandler) translator() filter.Translator {
	t := h.resource.translator()
	t.MembershipAttributes = []string{MembersAttribute}
	return t
}

// create rejects a display name already taken, ignoring case, when the
// uniqueness check is enabled.
func (h *groupHandler) create(ctx context.Context, attrs []schema.Attribute) (string, error) {
	model, err := h.build(attrs)
	if err != nil {
		return "", err
	}
	if h.cfg.UniqueCheckGroupDisplayName {
		taken, err := h.displayNameTaken(ctx, model.DisplayName)
		if err != nil {
			return "", err
		}
		if taken {
			e := connerr.New(connerr.AlreadyExists, "Group %q already exists", model.DisplayName)
			e.ObjectClass = GroupObjectClass
			return "", e
		}
	}
	return h.post(ctx, model)
}

func (h *groupHandler) displayNameTaken(ctx context.Context, displayName string) (bool, error) {
	page := h.endpoint.Page(excluding(byName("displayName", displayName), membersField))
	found, _, err := page(ctx, h.endpoint.Paging.FirstIndex(), 1)
	if err != nil {
		return false, err
	}
	for _, g := range found {
		if strings.EqualFold(g.DisplayName, displayName) {
			return true, nil
		}
	}
	return false, nil
}

// getByMembers walks every group and delivers those holding all filter
// values. Ignored groups are skipped.
func (h *groupHandler) getByMembers(ctx context.Context, f *filter.Filter, q query) (int, error) {
	return h.search(ctx, nil, q, func(g *scimapi.Group) bool {
		if h.cfg.IgnoredGroup(g.DisplayName) {
			return true
		}
		if !f.MatchesAll(g.MemberValues()) {
			return true
		}
		return h.deliver(g, q)
	})
}

// getAll leaves members out of the backend response when they are not
// requested, or when partial values are allowed. In the latter case the
// members attribute is reported as incomplete.
func (h *groupHandler) getAll(ctx context.Context, q query) (int, error) {
	if q.allowPartial && q.fetched.Has(membersField) {
		fetched := schema.NewSet()
		for name := range q.fetched {
			if name != membersField {
				fetched.Add(name)
			}
		}
		q.fetched = fetched
	}
	var params url.Values
	if !q.fetched.Has(membersField) {
		params = excluding("", membersField)
	}
	return h.search(ctx, params, q, func(g *scimapi.Group) bool { return h.deliver(g, q) })
}
