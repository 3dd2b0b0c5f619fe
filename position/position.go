// Package position implements the PCU geometric data model: motor
// positions, named configurations, and the collision-avoidance
// predicates shared by the sequencer and collision sentinel.
package position

import (
	"fmt"

	"github.com/nasa-jpl/pcu/util"
)

// Motor identifiers.  m1/m2 are the X/Y linear stages, m3 the pinhole
// mask retractor, m4 the fiber bundle retractor.
const (
	M1 = "m1"
	M2 = "m2"
	M3 = "m3"
	M4 = "m4"
)

// Fixed constants from the PCU design document.
const (
	MoveTimeSeconds  = 45
	ClearancePMaskMM = 35
	ClearanceFiberMM = 35
	KMirrorRadiusMM  = 50
	TickDelaySeconds = 0.5
	HomeMM           = 0
	OffsetResetValue = -999.9
)

// Class tags a NamedConfiguration by the mapping it was loaded from.
type Class string

const (
	ClassBase         Class = "base"
	ClassFiberVariant Class = "fiber-variant"
	ClassMaskVariant  Class = "mask-variant"
)

// Position is a mapping from motor identifier to a position in
// millimetres. Motors absent from the map are simply not covered by
// that Position; predicates below treat them as unconstrained.
type Position map[string]float64

// Clone returns an independent copy of p.
func (p Position) Clone() Position {
	out := make(Position, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Sub returns the componentwise difference p - other, restricted to
// motors present in both.
func (p Position) Sub(other Position) Position {
	out := make(Position, len(p))
	for k, v := range p {
		if ov, ok := other[k]; ok {
			out[k] = v - ov
		}
	}
	return out
}

// WithMerged returns a copy of p with the keys of delta overwritten in.
func (p Position) WithMerged(delta Position) Position {
	out := p.Clone()
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// EqualWithin reports whether every motor in target is within tol[motor]
// of p's corresponding value. A motor present in target but absent
// from p is never equal.
func (p Position) EqualWithin(target Position, tol map[string]float64) bool {
	for m, want := range target {
		have, ok := p[m]
		if !ok {
			return false
		}
		t := tol[m]
		if have <= want-t || have >= want+t {
			return false
		}
	}
	return true
}

// MotorInPosition reports whether motor m of p is within tol of dest.
// An absent motor is never in position.
func (p Position) MotorInPosition(m string, dest, tol float64) bool {
	v, ok := p[m]
	if !ok {
		return false
	}
	return v > dest-tol && v < dest+tol
}

// NamedConfiguration is an immutable Position plus a human-readable
// name and the class of mapping it was defined in.
type NamedConfiguration struct {
	Name     string
	Class    Class
	Position Position
}

// Geometry bundles the fixed radii and base-configuration centres
// needed to evaluate the collision-avoidance predicates. It is
// immutable once constructed by the configuration store.
type Geometry struct {
	// ValidMotors is the set of motors physically present.
	ValidMotors map[string]bool

	// Limits holds the per-axis [lo, hi] bound for each valid motor.
	Limits map[string]util.Limiter

	// Tolerance holds the per-axis positional tolerance.
	Tolerance map[string]float64

	// FiberCenter / MaskCenter are the (m1, m2) centres of the fiber
	// bundle and pinhole mask base configurations.
	FiberCenter [2]float64
	MaskCenter  [2]float64

	// FiberRadius / MaskRadius are the clearance-circle radii
	// (defaults CLEARANCE_FIBER / CLEARANCE_PMASK, optionally
	// overridden per the configuration document).
	FiberRadius float64
	MaskRadius  float64
}

// IsValidMotor reports whether m is in the valid-motor set.
func (g Geometry) IsValidMotor(m string) bool {
	return g.ValidMotors[m]
}

// FiberExtended reports whether m4 is extended beyond its tolerance
// band around zero. If m4 is not a valid motor, it is never extended.
func (g Geometry) FiberExtended(p Position) bool {
	if !g.IsValidMotor(M4) {
		return false
	}
	v, ok := p[M4]
	if !ok {
		return false
	}
	return v > g.Tolerance[M4]
}

// MaskExtended reports whether m3 is extended beyond its tolerance
// band around zero. If m3 is not a valid motor, it is never extended.
func (g Geometry) MaskExtended(p Position) bool {
	if !g.IsValidMotor(M3) {
		return false
	}
	v, ok := p[M3]
	if !ok {
		return false
	}
	return v > g.Tolerance[M3]
}

// InHole reports whether p's (m1, m2) lies strictly inside a circle of
// the given radius centred on the named element ("fiber" or "mask").
func (g Geometry) InHole(p Position, element string, radius float64) bool {
	var cx, cy float64
	switch element {
	case "fiber":
		cx, cy = g.FiberCenter[0], g.FiberCenter[1]
	case "mask":
		cx, cy = g.MaskCenter[0], g.MaskCenter[1]
	default:
		return false
	}
	x, xok := p[M1]
	y, yok := p[M2]
	if !xok || !yok {
		return false
	}
	dx, dy := cx-x, cy-y
	return dx*dx+dy*dy < radius*radius
}

// IsValid reports whether p is mechanically safe: per-axis limits hold,
// any extended element stays inside the k-mirror aperture, and the
// fiber bundle and pinhole mask are never both extended at once.
// Motors absent from p are unconstrained.
func (g Geometry) IsValid(p Position) bool {
	for m, lim := range g.Limits {
		v, ok := p[m]
		if !ok {
			continue
		}
		if !lim.Check(v) {
			return false
		}
	}

	fiberExt := g.FiberExtended(p)
	maskExt := g.MaskExtended(p)

	if fiberExt && !g.InHole(p, "fiber", KMirrorRadiusMM) {
		return false
	}
	if maskExt && !g.InHole(p, "mask", KMirrorRadiusMM) {
		return false
	}
	if fiberExt && maskExt {
		return false
	}
	return true
}

// ErrUnknownMotor is returned when a configuration references a motor
// identifier outside the valid-motor set.
type ErrUnknownMotor struct {
	Config string
	Motor  string
}

func (e ErrUnknownMotor) Error() string {
	return fmt.Sprintf("configuration %q references unknown motor %q", e.Config, e.Motor)
}

// ErrInvalidConfiguration is returned when a loaded named configuration
// fails IsValid.
type ErrInvalidConfiguration struct {
	Config string
}

func (e ErrInvalidConfiguration) Error() string {
	return fmt.Sprintf("configuration %q is invalid: violates position invariants", e.Config)
}
