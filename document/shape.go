package document

import "slices"

// Shape classifies how an entity record is laid out on disk.
type Shape uint8

const (
	// Sectioned entities carry both sections.
	Sectioned Shape = iota
	// MissingInbound entities carry only the outbound section.
	MissingInbound
	// MissingOutbound entities carry only the inbound section.
	MissingOutbound
	// Bare entities are null, empty, or hold only null sections.
	Bare
	// LegacyFlat entities keep their fields at the top level, the layout
	// used before sections existed.
	LegacyFlat
	// Malformed entities are scalars, or hold a section that is a non-null
	// scalar. They cannot be repaired without discarding data.
	Malformed
)

func (s Shape) String() string {
	switch s {
	case Sectioned:
		return "sectioned"
	case MissingInbound:
		return "missing-inbound"
	case MissingOutbound:
		return "missing-outbound"
	case Bare:
		return "bare"
	case LegacyFlat:
		return "legacy-flat"
	case Malformed:
		return "malformed"
	}
	return "unknown"
}

// Classify returns the shape of an entity record.
func Classify(v any) Shape {
	if v == nil {
		return Bare
	}
	obj, ok := Object(v)
	if !ok {
		return Malformed
	}
	var hasIn, hasOut, flat bool
	for k, val := range obj {
		switch k {
		case InboundSection, OutboundSection:
			if val == nil {
				continue
			}
			if _, ok := Object(val); !ok {
				return Malformed
			}
			if k == InboundSection {
				hasIn = true
			} else {
				hasOut = true
			}
		default:
			flat = true
		}
	}
	switch {
	case hasIn && hasOut:
		return Sectioned
	case hasIn:
		return MissingOutbound
	case hasOut:
		return MissingInbound
	case flat:
		return LegacyFlat
	}
	return Bare
}

// Preserved records a field whose default was not applied because the entity
// already carried a different value for it.
type Preserved struct {
	Section string
	Field   string
	Kept    any
	Default any
}

// Repair is the outcome of repairing one entity record.
type Repair struct {
	Shape     Shape
	Changed   bool
	Preserved []Preserved
}

// Repair brings an entity record into the sectioned layout by adding what is
// missing: absent sections, absent fields inside present sections, and legacy
// top-level fields moved into the section that owns them. Nothing that holds
// a value is ever replaced. Object records are modified in place. Malformed
// records are returned unchanged.
func (k Kind) Repair(v any) (map[string]any, Repair) {
	shape := Classify(v)
	res := Repair{Shape: shape}
	if shape == Malformed {
		obj, _ := Object(v)
		return obj, res
	}
	obj, ok := Object(v)
	if !ok || obj == nil {
		obj = map[string]any{}
		res.Changed = true
	}
	for _, name := range k.Sections() {
		section, ok := Object(obj[name])
		if !ok {
			section = map[string]any{}
			res.Changed = true
		}
		defaults := k.Defaults(name)
		fields := make([]string, 0, len(defaults))
		for f := range defaults {
			fields = append(fields, f)
		}
		slices.Sort(fields)
		for _, f := range fields {
			if _, ok := section[f]; ok {
				continue
			}
			res.Changed = true
			def := defaults[f]
			if legacy, ok := obj[f]; ok && !k.IsSection(f) {
				if !Equal(legacy, def) {
					res.Preserved = append(res.Preserved, Preserved{
						Section: name,
						Field:   f,
						Kept:    legacy,
						Default: def,
					})
				}
				section[f] = legacy
				delete(obj, f)
				continue
			}
			section[f] = def
		}
		obj[name] = section
	}
	return obj, res
}
