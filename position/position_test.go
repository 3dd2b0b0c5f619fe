package position_test

import (
	"testing"

	"github.com/nasa-jpl/pcu/position"
	"github.com/nasa-jpl/pcu/util"
)

func testGeometry() position.Geometry {
	return position.Geometry{
		ValidMotors: map[string]bool{"m1": true, "m2": true, "m3": true, "m4": true},
		Limits: map[string]util.Limiter{
			"m1": {Min: -300, Max: 50},
			"m2": {Min: -10, Max: 200},
			"m3": {Min: 0, Max: 25},
			"m4": {Min: 0, Max: 25},
		},
		Tolerance:   map[string]float64{"m1": 0.01, "m2": 0.01, "m3": 0.01, "m4": 0.01},
		FiberCenter: [2]float64{-173.375, 0},
		MaskCenter:  [2]float64{-173.375, 69},
		FiberRadius: position.ClearanceFiberMM,
		MaskRadius:  position.ClearancePMaskMM,
	}
}

func TestIsValid_WithinLimitsRetracted(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -276, "m2": 140, "m3": 0, "m4": 0}
	if !g.IsValid(p) {
		t.Errorf("expected telescope position to be valid")
	}
}

func TestIsValid_OutOfLimits(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -1000, "m2": 140, "m3": 0, "m4": 0}
	if g.IsValid(p) {
		t.Errorf("expected out-of-limit m1 to be invalid")
	}
}

func TestIsValid_ExtendedOutsideAperture(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": 40, "m2": 190, "m3": 0, "m4": 20}
	if g.IsValid(p) {
		t.Errorf("expected fiber extended far from its centre to be invalid")
	}
}

func TestIsValid_ExtendedInsideAperture(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -173.375, "m2": 0, "m3": 0, "m4": 20}
	if !g.IsValid(p) {
		t.Errorf("expected fiber extended at its own centre to be valid")
	}
}

func TestIsValid_BothExtendedAlwaysInvalid(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -173.375, "m2": 0, "m3": 20, "m4": 20}
	if g.IsValid(p) {
		t.Errorf("expected both elements extended to be invalid regardless of position")
	}
}

func TestIsValid_AbsentMotorUnconstrained(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -276, "m2": 140}
	if !g.IsValid(p) {
		t.Errorf("expected a position missing m3/m4 to be valid if present axes are")
	}
}

func TestInHole(t *testing.T) {
	g := testGeometry()
	p := position.Position{"m1": -173.375, "m2": 5, "m3": 0, "m4": 20}
	if !g.InHole(p, "fiber", position.ClearanceFiberMM) {
		t.Errorf("expected point 5mm from fiber centre to be inside the 35mm clearance circle")
	}
	if g.InHole(p, "fiber", 3) {
		t.Errorf("expected point 5mm from fiber centre to be outside a 3mm circle")
	}
}

func TestEqualWithin(t *testing.T) {
	p := position.Position{"m1": -276.002, "m2": 140, "m3": 0, "m4": 0}
	target := position.Position{"m1": -276, "m2": 140}
	tol := map[string]float64{"m1": 0.01, "m2": 0.01}
	if !p.EqualWithin(target, tol) {
		t.Errorf("expected position within tolerance to match")
	}
	tol = map[string]float64{"m1": 0.001, "m2": 0.01}
	if p.EqualWithin(target, tol) {
		t.Errorf("expected position outside tolerance to not match")
	}
}

func TestMotorInPosition_AbsentMotor(t *testing.T) {
	p := position.Position{"m1": -276}
	if p.MotorInPosition("m2", 0, 0.01) {
		t.Errorf("expected absent motor to never be in position")
	}
}

func TestWithMerged(t *testing.T) {
	base := position.Position{"m1": 1, "m2": 2}
	merged := base.WithMerged(position.Position{"m2": 20, "m3": 3})
	if merged["m1"] != 1 || merged["m2"] != 20 || merged["m3"] != 3 {
		t.Errorf("unexpected merge result: %+v", merged)
	}
	if base["m2"] != 2 {
		t.Errorf("WithMerged mutated the receiver")
	}
}
