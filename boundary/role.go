package boundary

import (
	"fmt"
)

// Role is the kind of subsystem a caller acts as.
type Role string

const (
	Dispatch       Role = "dispatch"
	Wayside        Role = "wayside"
	PlantModel     Role = "plant_model"
	UnitController Role = "unit_controller"
)

// Roles lists every known role.
func Roles() []Role {
	return []Role{Dispatch, Wayside, PlantModel, UnitController}
}

func ParseRole(s string) (Role, error) {
	for _, r := range Roles() {
		if string(r) == s {
			return r, nil
		}
	}
	return "", fmt.Errorf("%w: unknown role %q", ErrInvalidCaller, s)
}

// Caller identifies who issues an operation. Unit is the entity the caller
// controls and is required for roles restricted to their own entity.
type Caller struct {
	Role Role
	Unit string
}

func (c Caller) String() string {
	if c.Unit == "" {
		return string(c.Role)
	}
	return string(c.Role) + "/" + c.Unit
}

// Validate checks that the caller names a known role and carries a unit when
// the role requires one.
func (c Caller) Validate() error {
	if _, err := ParseRole(string(c.Role)); err != nil {
		return err
	}
	if c.Role == UnitController && c.Unit == "" {
		return fmt.Errorf("%w: %s requires a unit", ErrInvalidCaller, c.Role)
	}
	return nil
}
