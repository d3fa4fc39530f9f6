package client

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/railsync/railsync/document"
)

// DispatchRecord is the inbound section of a dispatch entity.
type DispatchRecord struct {
	Destination    string  `mapstructure:"destination"`
	SuggestedSpeed float64 `mapstructure:"suggested_speed"`
	Authority      float64 `mapstructure:"authority"`
	Departure      string  `mapstructure:"departure"`
}

// DispatchStatus is the outbound section of a dispatch entity.
type DispatchStatus struct {
	Status string `mapstructure:"status"`
	Block  int    `mapstructure:"block"`
}

// WaysideCommand is what dispatch asks the wayside to enforce for a train.
type WaysideCommand struct {
	SuggestedSpeed float64 `mapstructure:"suggested_speed"`
	Authority      float64 `mapstructure:"authority"`
}

// WaysideStatus is what the wayside reports back for a train.
type WaysideStatus struct {
	OccupiedBlock int    `mapstructure:"occupied_block"`
	Status        string `mapstructure:"status"`
}

// TrainCommand is what the wayside commands a unit to do.
type TrainCommand struct {
	CommandedSpeed     float64 `mapstructure:"commanded_speed"`
	CommandedAuthority float64 `mapstructure:"commanded_authority"`
}

// Kinematics is the physical state of a unit computed by the plant model.
type Kinematics struct {
	Velocity     float64 `mapstructure:"velocity"`
	Acceleration float64 `mapstructure:"acceleration"`
	Position     float64 `mapstructure:"position"`
	Beacon       string  `mapstructure:"beacon"`
	Station      string  `mapstructure:"station"`
	Passengers   int     `mapstructure:"passengers"`
}

// Controls are the unit outputs the plant model applies to a unit.
type Controls struct {
	Power          float64 `mapstructure:"power"`
	ServiceBrake   bool    `mapstructure:"service_brake"`
	EmergencyBrake bool    `mapstructure:"emergency_brake"`
}

// UnitInputs is the inbound section of a unit.
type UnitInputs struct {
	CommandedSpeed     float64 `mapstructure:"commanded_speed"`
	CommandedAuthority float64 `mapstructure:"commanded_authority"`
	ActualVelocity     float64 `mapstructure:"actual_velocity"`
	Beacon             string  `mapstructure:"beacon"`
	Station            string  `mapstructure:"station"`
	EngineFailure      bool    `mapstructure:"engine_failure"`
	BrakeFailure       bool    `mapstructure:"brake_failure"`
	SignalFailure      bool    `mapstructure:"signal_failure"`
}

// UnitOutputs is the outbound section of a unit.
type UnitOutputs struct {
	Power          float64 `mapstructure:"power"`
	Kp             float64 `mapstructure:"kp"`
	Ki             float64 `mapstructure:"ki"`
	ServiceBrake   bool    `mapstructure:"service_brake"`
	EmergencyBrake bool    `mapstructure:"emergency_brake"`
	LeftDoors      bool    `mapstructure:"left_doors"`
	RightDoors     bool    `mapstructure:"right_doors"`
	Announcement   string  `mapstructure:"announcement"`
}

// Failure names a failure flag a unit controller may raise.
type Failure string

const (
	EngineFailure Failure = "engine_failure"
	BrakeFailure  Failure = "brake_failure"
	SignalFailure Failure = "signal_failure"
)

func encodeSection(v any) (map[string]any, error) {
	out := map[string]any{}
	if err := mapstructure.Decode(v, &out); err != nil {
		return nil, fmt.Errorf("encode section: %w", err)
	}
	return out, nil
}

func decodeSection[T any](v any) (T, error) {
	var out T
	values, _ := document.Object(v)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, err
	}
	if err := dec.Decode(values); err != nil {
		return out, fmt.Errorf("decode section: %w", err)
	}
	return out, nil
}

// sections decodes section of every entity in doc.
func sections[T any](doc document.Document, section string) (map[string]T, error) {
	out := make(map[string]T, len(doc))
	for _, id := range doc.Entities() {
		entity, ok := doc.Entity(id)
		if !ok {
			continue
		}
		v, err := decodeSection[T](entity[section])
		if err != nil {
			return nil, fmt.Errorf("%s: %w", id, err)
		}
		out[id] = v
	}
	return out, nil
}

func (c *Client) writeSection(ctx context.Context, doc, entity, section string, v any) error {
	values, err := encodeSection(v)
	if err != nil {
		return err
	}
	_, err = c.Write(ctx, doc, document.Document{entity: map[string]any{section: values}})
	return err
}

func readSections[T any](ctx context.Context, c *Client, doc, section string) (map[string]T, error) {
	current, err := c.Get(ctx, doc)
	if err != nil {
		return nil, err
	}
	return sections[T](current, section)
}

// Dispatch is the view of the dispatch office.
type Dispatch struct {
	c *Client
}

func (c *Client) Dispatch() Dispatch { return Dispatch{c: c} }

// AddRecord stores the dispatch record of train. Records of other trains
// are kept.
func (d Dispatch) AddRecord(ctx context.Context, train string, record DispatchRecord) error {
	return d.c.writeSection(ctx, document.Dispatch, train, document.InboundSection, record)
}

// Records returns the dispatch record of every train.
func (d Dispatch) Records(ctx context.Context) (map[string]DispatchRecord, error) {
	return readSections[DispatchRecord](ctx, d.c, document.Dispatch, document.InboundSection)
}

// Status returns the reported status of every train.
func (d Dispatch) Status(ctx context.Context) (map[string]DispatchStatus, error) {
	return readSections[DispatchStatus](ctx, d.c, document.Dispatch, document.OutboundSection)
}

// Clear removes the dispatch record of train.
func (d Dispatch) Clear(ctx context.Context, train string) error {
	_, err := d.c.Remove(ctx, document.Dispatch, train)
	return err
}

// SendCommand forwards a suggested speed and authority to the wayside.
func (d Dispatch) SendCommand(ctx context.Context, train string, cmd WaysideCommand) error {
	return d.c.writeSection(ctx, document.WaysideCommands, train, document.InboundSection, cmd)
}

// Wayside is the view of the wayside signalling controller.
type Wayside struct {
	c *Client
}

func (c *Client) Wayside() Wayside { return Wayside{c: c} }

func (w Wayside) Commands(ctx context.Context) (map[string]WaysideCommand, error) {
	return readSections[WaysideCommand](ctx, w.c, document.WaysideCommands, document.InboundSection)
}

// Velocities returns the measured velocity of every unit.
func (w Wayside) Velocities(ctx context.Context) (map[string]float64, error) {
	type velocity struct {
		Velocity float64 `mapstructure:"velocity"`
	}
	vs, err := readSections[velocity](ctx, w.c, document.Physical, document.OutboundSection)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(vs))
	for id, v := range vs {
		out[id] = v.Velocity
	}
	return out, nil
}

func (w Wayside) PushStatus(ctx context.Context, train string, status WaysideStatus) error {
	return w.c.writeSection(ctx, document.WaysideCommands, train, document.OutboundSection, status)
}

func (w Wayside) PushCommands(ctx context.Context, unit string, cmd TrainCommand) error {
	return w.c.writeSection(ctx, document.TrainCommands, unit, document.InboundSection, cmd)
}

// PlantModel is the view of the physics simulation.
type PlantModel struct {
	c *Client
}

func (c *Client) PlantModel() PlantModel { return PlantModel{c: c} }

func (p PlantModel) PushKinematics(ctx context.Context, unit string, k Kinematics) error {
	return p.c.writeSection(ctx, document.Physical, unit, document.OutboundSection, k)
}

func (p PlantModel) Commands(ctx context.Context) (map[string]TrainCommand, error) {
	return readSections[TrainCommand](ctx, p.c, document.TrainCommands, document.InboundSection)
}

// Controls returns the power and brake settings mirrored from every unit.
func (p PlantModel) Controls(ctx context.Context) (map[string]Controls, error) {
	return readSections[Controls](ctx, p.c, document.Physical, document.InboundSection)
}

// UnitController is the view of the controller on board one unit.
type UnitController struct {
	c *Client
}

func (c *Client) UnitController() UnitController { return UnitController{c: c} }

func (u UnitController) Inputs(ctx context.Context) (UnitInputs, error) {
	doc, err := u.c.Get(ctx, document.Units)
	if err != nil {
		return UnitInputs{}, err
	}
	entity, _ := doc.Entity(u.c.caller.Unit)
	return decodeSection[UnitInputs](entity[document.InboundSection])
}

func (u UnitController) SetOutputs(ctx context.Context, out UnitOutputs) error {
	return u.c.writeSection(ctx, document.Units, u.c.caller.Unit, document.OutboundSection, out)
}

func (u UnitController) SetFailure(ctx context.Context, failure Failure, active bool) error {
	_, err := u.c.Write(ctx, document.Units, document.Document{
		u.c.caller.Unit: map[string]any{
			document.InboundSection: map[string]any{string(failure): active},
		},
	})
	return err
}
