package reconcile

import (
	"fmt"
	"time"

	"github.com/railsync/railsync/document"
)

// FieldMapping copies the source field From into the target field To. Both
// are "section.field" paths.
type FieldMapping struct {
	From string `mapstructure:"from" validate:"required"`
	To   string `mapstructure:"to" validate:"required"`
}

// Pair keeps the target document consistent with the source document for
// every entity the source holds.
type Pair struct {
	Name   string         `mapstructure:"name" validate:"required"`
	Source string         `mapstructure:"source" validate:"required"`
	Target string         `mapstructure:"target" validate:"required"`
	Fields []FieldMapping `mapstructure:"fields" validate:"dive"`
}

type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Period  time.Duration `mapstructure:"period" validate:"gt=0"`
	Pairs   []Pair        `mapstructure:"pairs" validate:"dive"`
}

func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Period:  500 * time.Millisecond,
		Pairs:   DefaultPairs(),
	}
}

// DefaultPairs returns the pairs used by the railway suite.
func DefaultPairs() []Pair {
	return []Pair{
		{
			Name:   "plant-to-units",
			Source: document.Physical,
			Target: document.Units,
			Fields: []FieldMapping{
				{From: "outputs.velocity", To: "inputs.actual_velocity"},
				{From: "outputs.beacon", To: "inputs.beacon"},
				{From: "outputs.station", To: "inputs.station"},
			},
		},
		{
			Name:   "commands-to-units",
			Source: document.TrainCommands,
			Target: document.Units,
			Fields: []FieldMapping{
				{From: "inputs.commanded_speed", To: "inputs.commanded_speed"},
				{From: "inputs.commanded_authority", To: "inputs.commanded_authority"},
			},
		},
		{
			Name:   "units-to-plant",
			Source: document.Units,
			Target: document.Physical,
			Fields: []FieldMapping{
				{From: "outputs.power", To: "inputs.power"},
				{From: "outputs.service_brake", To: "inputs.service_brake"},
				{From: "outputs.emergency_brake", To: "inputs.emergency_brake"},
			},
		},
		{
			Name:   "dispatch-to-wayside",
			Source: document.Dispatch,
			Target: document.WaysideCommands,
			Fields: []FieldMapping{
				{From: "inputs.suggested_speed", To: "inputs.suggested_speed"},
				{From: "inputs.authority", To: "inputs.authority"},
			},
		},
	}
}

type mapping struct {
	from, to document.FieldPath
}

type compiledPair struct {
	Pair
	kind     document.Kind
	mappings []mapping
}

// Validate checks the pairs against catalog. Mappings may only write the
// inbound section of the target, the outbound section belongs to the
// target's controlling subsystem.
func (c Config) Validate(catalog *document.Catalog) error {
	_, err := c.compile(catalog)
	return err
}

func (c Config) compile(catalog *document.Catalog) ([]compiledPair, error) {
	if c.Period <= 0 {
		return nil, fmt.Errorf("reconcile period must be positive, got %v", c.Period)
	}
	names := map[string]struct{}{}
	out := make([]compiledPair, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		if p.Name == "" {
			return nil, fmt.Errorf("pair %s->%s has no name", p.Source, p.Target)
		}
		if _, ok := names[p.Name]; ok {
			return nil, fmt.Errorf("duplicate pair %q", p.Name)
		}
		names[p.Name] = struct{}{}
		source, ok := catalog.Kind(p.Source)
		if !ok {
			return nil, fmt.Errorf("pair %s: unknown source document %q", p.Name, p.Source)
		}
		target, ok := catalog.Kind(p.Target)
		if !ok {
			return nil, fmt.Errorf("pair %s: unknown target document %q", p.Name, p.Target)
		}
		if p.Source == p.Target {
			return nil, fmt.Errorf("pair %s: source and target are both %q", p.Name, p.Source)
		}
		cp := compiledPair{Pair: p, kind: target}
		for _, f := range p.Fields {
			from, err := document.ParsePath(f.From)
			if err != nil {
				return nil, fmt.Errorf("pair %s: %w", p.Name, err)
			}
			to, err := document.ParsePath(f.To)
			if err != nil {
				return nil, fmt.Errorf("pair %s: %w", p.Name, err)
			}
			if !source.IsSection(from.Section) {
				return nil, fmt.Errorf("pair %s: %s is not a section of %s", p.Name, from.Section, p.Source)
			}
			if to.Section != document.InboundSection {
				return nil, fmt.Errorf("pair %s: mapping %s writes %s, only %s may be written",
					p.Name, f.To, to.Section, document.InboundSection)
			}
			cp.mappings = append(cp.mappings, mapping{from: from, to: to})
		}
		out = append(out, cp)
	}
	return out, nil
}
