package document

import (
	"fmt"
	"regexp"
	"slices"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Section keys of every entity record.
const (
	// InboundSection holds the fields the entity's owning role writes.
	InboundSection = "inputs"
	// OutboundSection holds the fields the entity's controlling role writes.
	OutboundSection = "outputs"
)

// Names of the documents shared by the suite.
const (
	Dispatch        = "dispatch"
	WaysideCommands = "wayside_commands"
	TrainCommands   = "train_commands"
	Physical        = "physical"
	Units           = "units"
)

var nameRegex = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// ValidName reports whether name can be used as a document name. Names map to
// file names, so anything that could escape the data directory is refused.
func ValidName(name string) bool {
	return nameRegex.MatchString(name)
}

// Kind describes one document: its name and the default value of every
// well-known field of each section.
type Kind struct {
	Name     string
	Inbound  map[string]any
	Outbound map[string]any
}

// Sections returns the section keys in a fixed order.
func (Kind) Sections() []string {
	return []string{InboundSection, OutboundSection}
}

// IsSection reports whether key names a section.
func (Kind) IsSection(key string) bool {
	return key == InboundSection || key == OutboundSection
}

// Defaults returns a copy of the default fields of section.
func (k Kind) Defaults(section string) map[string]any {
	switch section {
	case InboundSection:
		return cloneObject(k.Inbound)
	case OutboundSection:
		return cloneObject(k.Outbound)
	}
	return nil
}

// Catalog is the set of documents a deployment knows about.
type Catalog struct {
	kinds map[string]Kind
}

func NewCatalog(kinds ...Kind) (*Catalog, error) {
	c := &Catalog{kinds: make(map[string]Kind, len(kinds))}
	for _, k := range kinds {
		if !ValidName(k.Name) {
			return nil, fmt.Errorf("invalid document name %q", k.Name)
		}
		if _, ok := c.kinds[k.Name]; ok {
			return nil, fmt.Errorf("duplicate document %q", k.Name)
		}
		c.kinds[k.Name] = k
	}
	return c, nil
}

// Kind returns the kind registered under name.
func (c *Catalog) Kind(name string) (Kind, bool) {
	k, ok := c.kinds[name]
	return k, ok
}

// Names returns the sorted document names.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.kinds))
	for n := range c.kinds {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// DefaultCatalog returns the documents used by the railway suite.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(
		Kind{
			Name: Dispatch,
			Inbound: map[string]any{
				"destination":     "",
				"suggested_speed": 0,
				"authority":       0,
				"departure":       "",
			},
			Outbound: map[string]any{
				"status": "",
				"block":  0,
			},
		},
		Kind{
			Name: WaysideCommands,
			Inbound: map[string]any{
				"suggested_speed": 0,
				"authority":       0,
			},
			Outbound: map[string]any{
				"occupied_block": 0,
				"status":         "",
			},
		},
		Kind{
			Name: TrainCommands,
			Inbound: map[string]any{
				"commanded_speed":     0,
				"commanded_authority": 0,
			},
			Outbound: map[string]any{},
		},
		Kind{
			Name: Physical,
			Inbound: map[string]any{
				"power":           0,
				"service_brake":   false,
				"emergency_brake": false,
			},
			Outbound: map[string]any{
				"velocity":     0,
				"acceleration": 0,
				"position":     0,
				"beacon":       "",
				"station":      "",
				"passengers":   0,
			},
		},
		Kind{
			Name: Units,
			Inbound: map[string]any{
				"commanded_speed":     0,
				"commanded_authority": 0,
				"actual_velocity":     0,
				"beacon":              "",
				"station":             "",
				"engine_failure":      false,
				"brake_failure":       false,
				"signal_failure":      false,
			},
			Outbound: map[string]any{
				"power":           0,
				"kp":              0,
				"ki":              0,
				"service_brake":   false,
				"emergency_brake": false,
				"left_doors":      false,
				"right_doors":     false,
				"announcement":    "",
			},
		},
	)
	if err != nil {
		panic(err)
	}
	return c
}

const schemaFile = "document.schema.json"

// Schema is the structure every written document must satisfy: a top-level
// object of entity objects whose sections, when present, are objects.
const Schema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "properties": {
      "inputs": {"type": "object"},
      "outputs": {"type": "object"}
    }
  }
}`

var schema = jsonschema.MustCompileString(schemaFile, Schema)

// ValidateSchema checks encoded document bytes against Schema.
func ValidateSchema(data []byte) error {
	doc, err := Decode(data)
	if err != nil {
		return err
	}
	var v any = map[string]any(doc)
	if err := schema.Validate(v); err != nil {
		return fmt.Errorf("validate document: %w", err)
	}
	return nil
}
