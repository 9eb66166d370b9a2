package connector

import (
	"context"
	"strconv"
	"strings"
	"sync"

	"github.com/dhawalhost/scimbridge/internal/connerr"
	"github.com/dhawalhost/scimbridge/internal/filter"
	"github.com/dhawalhost/scimbridge/internal/schema"
)

const fakeMembers = "members"

// fakeConnector keeps objects in memory. Groups support membership search,
// users only UID and NAME lookups.
type fakeConnector struct {
	id     string
	mu     sync.Mutex
	objs   map[string][]schema.Object
	seq    int
	closed bool

	lastFilter *filter.Filter
	lastOpts   SearchOptions
	searchErr  error
}

func newFakeConnector(id string) *fakeConnector {
	return &fakeConnector{id: id, objs: map[string][]schema.Object{}}
}

func (f *fakeConnector) ID() string   { return f.id }
func (f *fakeConnector) Name() string { return "fake " + f.id }
func (f *fakeConnector) Type() string { return "fake" }

func (f *fakeConnector) Schema() []ObjectClassInfo {
	return []ObjectClassInfo{
		{Name: "Group", Fields: []schema.FieldInfo{
			{Name: "id", Type: schema.String, UID: true},
			{Name: "displayName", Type: schema.StringCaseIgnore, NameAttribute: true},
			{Name: "description", Type: schema.String},
			{Name: fakeMembers, Type: schema.String, MultiValued: true},
		}},
		{Name: "User"},
	}
}

func (f *fakeConnector) Test(context.Context) error { return nil }

func (f *fakeConnector) Close() error {
	f.closed = true
	return nil
}

func (f *fakeConnector) class(objectClass string) error {
	if objectClass != "User" && objectClass != "Group" {
		return connerr.New(connerr.InvalidInput, "unsupported object class %s", objectClass)
	}
	return nil
}

func (f *fakeConnector) Create(_ context.Context, objectClass string, attrs []schema.Attribute) (string, error) {
	if err := f.class(objectClass); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	obj := schema.Object{ObjectClass: objectClass}
	for _, a := range attrs {
		if a.Name == schema.NameAttribute {
			obj.Name, _ = a.Values[0].(string)
			continue
		}
		obj.Attributes = append(obj.Attributes, a)
	}
	for _, o := range f.objs[objectClass] {
		if strings.EqualFold(o.Name, obj.Name) {
			return "", connerr.New(connerr.AlreadyExists, "%s %q already exists", objectClass, obj.Name)
		}
	}
	f.seq++
	obj.UID = strconv.Itoa(f.seq)
	f.objs[objectClass] = append(f.objs[objectClass], obj)
	return obj.UID, nil
}

func (f *fakeConnector) UpdateDelta(_ context.Context, objectClass, uid string, _ []schema.AttributeDelta) error {
	if err := f.class(objectClass); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, o := range f.objs[objectClass] {
		if o.UID == uid {
			return nil
		}
	}
	return connerr.New(connerr.UnknownTarget, "no %s %s", objectClass, uid)
}

func (f *fakeConnector) Delete(_ context.Context, objectClass, uid string) error {
	if err := f.class(objectClass); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	objs := f.objs[objectClass]
	for i, o := range objs {
		if o.UID == uid {
			f.objs[objectClass] = append(objs[:i], objs[i+1:]...)
			return nil
		}
	}
	return connerr.New(connerr.UnknownTarget, "no %s %s", objectClass, uid)
}

func (f *fakeConnector) Translator(objectClass string) (filter.Translator, error) {
	if err := f.class(objectClass); err != nil {
		return filter.Translator{}, err
	}
	tr := filter.Translator{ObjectClass: objectClass}
	if objectClass == "Group" {
		tr.MembershipAttributes = []string{fakeMembers}
	}
	return tr, nil
}

func (f *fakeConnector) Search(_ context.Context, objectClass string, flt *filter.Filter, handler ResultsHandler, opts SearchOptions) (SearchResult, error) {
	if err := f.class(objectClass); err != nil {
		return SearchResult{}, err
	}
	f.mu.Lock()
	f.lastFilter, f.lastOpts = flt, opts
	objs := append([]schema.Object(nil), f.objs[objectClass]...)
	f.mu.Unlock()
	if f.searchErr != nil {
		return SearchResult{RemainingPagedResults: -1}, f.searchErr
	}

	for _, o := range objs {
		if flt != nil && !fakeSelects(flt, o) {
			continue
		}
		if !handler(o) {
			break
		}
	}
	return SearchResult{RemainingPagedResults: -1}, nil
}

func fakeSelects(flt *filter.Filter, o schema.Object) bool {
	switch flt.Kind {
	case filter.ExactMatchByUID:
		return o.UID == flt.Value()
	case filter.ExactMatchByName:
		return strings.EqualFold(o.Name, flt.Value())
	case filter.ContainsAll:
		a, _ := o.Attribute(fakeMembers)
		have := make([]string, 0, len(a.Values))
		for _, v := range a.Values {
			s, _ := v.(string)
			have = append(have, s)
		}
		return flt.MatchesAll(have)
	}
	return false
}
