package payload

import (
	"strings"
)

// FieldResolver resolves one logical field by trying an ordered list of
// paths. The first path holding a non-empty value wins.
type FieldResolver struct {
	Name  string
	Paths [][]string
}

// Resolve returns the first non-empty value along the resolver's paths.
func (f FieldResolver) Resolve(p Payload) (interface{}, bool) {
	for _, path := range f.Paths {
		v, ok := p.Get(path...)
		if ok && !IsEmpty(v) {
			return v, true
		}
	}
	return nil, false
}

// DefaultPaths is the lookup order for a raw timestamp field name:
// times[field], events[lower(field)], then payload[lower(field)].
func DefaultPaths(field string) [][]string {
	lower := strings.ToLower(field)
	return [][]string{
		{"times", field},
		{"events", lower},
		{lower},
	}
}

// Fields maps logical field names to resolvers. Unregistered names fall back
// to DefaultPaths.
type Fields struct {
	byName map[string]FieldResolver
}

// NewFields builds a field table from resolvers. Each resolver's paths are
// appended after the default lookup order for its name.
func NewFields(resolvers ...FieldResolver) *Fields {
	f := &Fields{byName: make(map[string]FieldResolver, len(resolvers))}
	for _, r := range resolvers {
		f.Register(r)
	}
	return f
}

// Register adds or extends a resolver. Paths already present are skipped.
func (f *Fields) Register(r FieldResolver) {
	existing, ok := f.byName[r.Name]
	if !ok {
		existing = FieldResolver{Name: r.Name, Paths: DefaultPaths(r.Name)}
	}
	for _, p := range r.Paths {
		if !hasPath(existing.Paths, p) {
			existing.Paths = append(existing.Paths, p)
		}
	}
	f.byName[r.Name] = existing
}

// Resolver returns the resolver for a field name.
func (f *Fields) Resolver(name string) FieldResolver {
	if f != nil {
		if r, ok := f.byName[name]; ok {
			return r
		}
	}
	return FieldResolver{Name: name, Paths: DefaultPaths(name)}
}

// Lookup resolves a field name against a payload.
func (f *Fields) Lookup(p Payload, name string) (interface{}, bool) {
	return f.Resolver(name).Resolve(p)
}

// StandardFields knows both historical timestamp schemas: the current
// times.<Instant> layout and the older events.<short name> layout.
func StandardFields() *Fields {
	return NewFields(
		FieldResolver{Name: "ArrivalInstant", Paths: [][]string{
			{"events", "arrival"},
			{"arrival"},
		}},
		FieldResolver{Name: "IncisionStartInstant", Paths: [][]string{
			{"events", "incision"},
			{"incision"},
		}},
		FieldResolver{Name: "DepartureInstant", Paths: [][]string{
			{"events", "departure"},
		}},
	)
}

func hasPath(paths [][]string, p []string) bool {
	for _, existing := range paths {
		if len(existing) != len(p) {
			continue
		}
		same := true
		for i := range p {
			if existing[i] != p[i] {
				same = false
				break
			}
		}
		if same {
			return true
		}
	}
	return false
}
