package util_test

import (
	"errors"
	"testing"
	"time"

	"github.com/nasa-jpl/pcu/util"
)

func TestClampHigh(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = 20.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestClampLow(t *testing.T) {
	var (
		low   = 0.
		high  = 10.
		input = -1.
	)
	clamped := util.Clamp(input, low, high)
	if clamped == input {
		t.Errorf("expected out of range value %f to be clipped to %f < x < %f, got %f", input, low, high, clamped)
	}
}

func TestLimiter_Check(t *testing.T) {
	l := &util.Limiter{Min: -10, Max: 10}
	if !l.Check(5) {
		t.Errorf("expected 5 to be within [-10, 10]")
	}
	if l.Check(15) {
		t.Errorf("expected 15 to be outside [-10, 10]")
	}
}

func TestMergeErrors_EmptyYieldsNil(t *testing.T) {
	if err := util.MergeErrors(nil); err != nil {
		t.Errorf("expected nil for no errors, got %v", err)
	}
	if err := util.MergeErrors([]error{nil, nil}); err != nil {
		t.Errorf("expected nil for all-nil errors, got %v", err)
	}
}

func TestMergeErrors_Joins(t *testing.T) {
	err := util.MergeErrors([]error{errors.New("a"), nil, errors.New("b")})
	if err == nil {
		t.Fatal("expected a non-nil merged error")
	}
	if err.Error() != "a\nb" {
		t.Errorf("expected newline-joined messages, got %q", err.Error())
	}
}

func TestSecsToDuration(t *testing.T) {
	var dur time.Duration = 123456789
	secs := dur.Seconds()
	out := util.SecsToDuration(secs)
	if out != dur {
		t.Errorf("expected SecsToDuration to round trip, output %v != expected %v", out, dur)
	}
}
