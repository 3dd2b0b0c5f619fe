package motion_test

import (
	"testing"

	"github.com/nasa-jpl/pcu/channel"
	"github.com/nasa-jpl/pcu/motion"
)

func TestFacade_RoundTrip(t *testing.T) {
	mock := motion.NewMockController([]string{"m1", "m2"})
	f := motion.NewFacade(mock, "m1")

	if err := f.Enable(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	enabled, err := f.IsEnabled()
	if err != nil || !enabled {
		t.Fatalf("expected m1 enabled, got %v, %v", enabled, err)
	}

	if err := f.SetPosition(12.5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, err := f.GetPosition()
	if err != nil || pos != 12.5 {
		t.Fatalf("expected position 12.5, got %v, %v", pos, err)
	}
	cmd, err := f.GetCommanded()
	if err != nil || cmd != 12.5 {
		t.Fatalf("expected commanded 12.5, got %v, %v", cmd, err)
	}

	if err := f.Stop(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.StopCount("m1") != 1 {
		t.Errorf("expected one stop call, got %d", mock.StopCount("m1"))
	}
}

func TestFacade_Stuck(t *testing.T) {
	mock := motion.NewMockController([]string{"m3"})
	mock.SetStuck("m3", true)
	f := motion.NewFacade(mock, "m3")

	if err := f.SetPosition(20); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pos, _ := f.GetPosition()
	if pos != 0 {
		t.Errorf("expected a stuck motor to not reach its commanded position, got %v", pos)
	}
}

func TestChannelController_EnableDisable(t *testing.T) {
	surface := channel.New()
	cc := motion.NewChannelController(surface, []string{"m1"})
	f := motion.NewFacade(cc, "m1")

	enabled, err := f.IsEnabled()
	if err != nil || enabled {
		t.Fatalf("expected m1 to start disabled, got %v, %v", enabled, err)
	}
	if err := f.Enable(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	enabled, err = f.IsEnabled()
	if err != nil || !enabled {
		t.Fatalf("expected m1 enabled after Enable(), got %v, %v", enabled, err)
	}
}
