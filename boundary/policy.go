package boundary

import (
	"fmt"
	"slices"

	"github.com/railsync/railsync/document"
)

// Access limits an operation to parts of each entity record. Sections maps a
// section to the fields that may be touched in it, where a nil field list
// means every field. A nil Sections map means the whole record.
type Access struct {
	Sections map[string][]string
}

// All grants access to every section and field.
var All = &Access{}

// Sections grants access to every field of the listed sections.
func Sections(sections ...string) *Access {
	a := &Access{Sections: make(map[string][]string, len(sections))}
	for _, s := range sections {
		a.Sections[s] = nil
	}
	return a
}

// Fields grants access to the listed fields of one section.
func Fields(section string, fields ...string) *Access {
	return &Access{Sections: map[string][]string{section: fields}}
}

// And returns an Access granting everything a or b grant.
func (a *Access) And(b *Access) *Access {
	if a.Sections == nil || b.Sections == nil {
		return All
	}
	out := &Access{Sections: map[string][]string{}}
	for _, src := range []*Access{a, b} {
		for section, fields := range src.Sections {
			prev, seen := out.Sections[section]
			switch {
			case seen && prev == nil:
			case fields == nil:
				out.Sections[section] = nil
			default:
				out.Sections[section] = append(slices.Clone(prev), fields...)
			}
		}
	}
	return out
}

func (a *Access) section(section string) (fields []string, ok bool) {
	if a.Sections == nil {
		return nil, true
	}
	fields, ok = a.Sections[section]
	return fields, ok
}

func (a *Access) allows(section, field string) bool {
	fields, ok := a.section(section)
	if !ok {
		return false
	}
	return fields == nil || slices.Contains(fields, field)
}

// project returns the part of entity visible through a. Keys outside the
// sections are only visible with unrestricted access.
func (a *Access) project(entity any) any {
	if a.Sections == nil {
		return document.CloneValue(entity)
	}
	obj, ok := document.Object(entity)
	if !ok {
		return nil
	}
	out := map[string]any{}
	for section, fields := range a.Sections {
		values, ok := document.Object(obj[section])
		if !ok {
			continue
		}
		if fields == nil {
			out[section] = document.CloneValue(values)
			continue
		}
		picked := map[string]any{}
		for _, f := range fields {
			if v, ok := values[f]; ok {
				picked[f] = document.CloneValue(v)
			}
		}
		out[section] = picked
	}
	return out
}

// Grant describes what a role may do with one document. A nil Read or Write
// denies that operation. OwnEntity restricts every operation to the entity
// named by the caller's unit.
type Grant struct {
	Read      *Access
	Write     *Access
	Remove    bool
	OwnEntity bool
}

// Policy maps each role to the documents it may use.
type Policy map[Role]map[string]Grant

// DefaultPolicy returns the grants of the railway suite.
func DefaultPolicy() Policy {
	return Policy{
		Dispatch: {
			document.Dispatch:        {Read: All, Write: All, Remove: true},
			document.WaysideCommands: {Read: All, Write: Sections(document.InboundSection)},
		},
		Wayside: {
			document.WaysideCommands: {Read: All, Write: Sections(document.OutboundSection)},
			document.Physical:        {Read: Fields(document.OutboundSection, "velocity")},
			document.TrainCommands:   {Read: All, Write: Sections(document.InboundSection)},
		},
		PlantModel: {
			document.Physical:      {Read: All, Write: Sections(document.OutboundSection)},
			document.TrainCommands: {Read: All},
		},
		UnitController: {
			document.Units: {
				Read: All,
				Write: Sections(document.OutboundSection).And(
					Fields(document.InboundSection, "engine_failure", "brake_failure", "signal_failure"),
				),
				OwnEntity: true,
			},
		},
	}
}

// Validate checks that every granted document exists in catalog.
func (p Policy) Validate(catalog *document.Catalog) error {
	for role, docs := range p {
		for name := range docs {
			if _, ok := catalog.Kind(name); !ok {
				return fmt.Errorf("%w: %s granted to %s", ErrUnknownDocument, name, role)
			}
		}
	}
	return nil
}

func (p Policy) grant(role Role, doc string) (Grant, bool) {
	g, ok := p[role][doc]
	return g, ok
}

// Readable returns the documents role may read, sorted.
func (p Policy) Readable(role Role) []string {
	var docs []string
	for name, g := range p[role] {
		if g.Read != nil {
			docs = append(docs, name)
		}
	}
	slices.Sort(docs)
	return docs
}
