// Package motion implements the Motor Facade: the single-motor
// primitive the Sequencer and Sentinel use to read position, read/set
// the commanded position, stop, enable/disable, and query enable
// state, bound to the PCU's channel.Surface.
package motion

import (
	"sync"

	"github.com/nasa-jpl/pcu/channel"
)

// Controller describes the set of operations a backing motion
// controller supports for a single named motor. Every method
// translates to one channel read or write; a disconnected
// backing surface is expected to return channel.ErrDisconnected.
type Controller interface {
	// GetPosition reads the current position of motor m, in mm.
	GetPosition(m string) (float64, error)

	// GetCommanded reads the commanded (destination) position of motor m.
	GetCommanded(m string) (float64, error)

	// SetPosition commands motor m to move to mm.
	SetPosition(m string, mm float64) error

	// Stop halts motion on motor m immediately.
	Stop(m string) error

	// Enable enables motor m.
	Enable(m string) error

	// Disable disables motor m.
	Disable(m string) error

	// IsEnabled reports whether motor m is currently enabled.
	IsEnabled(m string) (bool, error)
}

// Facade is a stateless, single-motor view over a Controller: it is
// the unit the Sequencer and Sentinel hold one of, per valid motor.
type Facade struct {
	Controller Controller
	Motor      string
}

// NewFacade binds a Controller to a single motor identifier.
func NewFacade(c Controller, motor string) Facade {
	return Facade{Controller: c, Motor: motor}
}

func (f Facade) GetPosition() (float64, error)  { return f.Controller.GetPosition(f.Motor) }
func (f Facade) GetCommanded() (float64, error) { return f.Controller.GetCommanded(f.Motor) }
func (f Facade) SetPosition(mm float64) error   { return f.Controller.SetPosition(f.Motor, mm) }
func (f Facade) Stop() error                    { return f.Controller.Stop(f.Motor) }
func (f Facade) Enable() error                  { return f.Controller.Enable(f.Motor) }
func (f Facade) Disable() error                 { return f.Controller.Disable(f.Motor) }
func (f Facade) IsEnabled() (bool, error)       { return f.Controller.IsEnabled(f.Motor) }

// channelNames is the static table of per-motor channel names used by
// ChannelController, built once per motor rather than attached
// dynamically at runtime.
type channelNames struct {
	pos       string
	commanded string
	enabled   string
	stop      string
}

func namesFor(motor string) channelNames {
	return channelNames{
		pos:       motor + "Pos",
		commanded: motor + "PosCmd",
		enabled:   motor + "Enabled",
		stop:      motor + "Stop",
	}
}

// ChannelController implements Controller by reading and writing a
// channel.Surface: per motor, a position channel that is only read, a
// commanded-position channel that SetPosition writes, an enable
// channel, and a stop channel whose counter Stop increments.
type ChannelController struct {
	Surface *channel.Surface
}

// NewChannelController registers the channel set for every motor in
// motors and returns a ready Controller.
func NewChannelController(surface *channel.Surface, motors []string) *ChannelController {
	for _, m := range motors {
		n := namesFor(m)
		surface.RegisterFloat(n.pos, 0)
		surface.RegisterFloat(n.commanded, 0)
		surface.RegisterFloat(n.enabled, 0)
		surface.RegisterFloat(n.stop, 0)
	}
	return &ChannelController{Surface: surface}
}

func (c *ChannelController) GetPosition(m string) (float64, error) {
	return c.Surface.GetFloat(namesFor(m).pos)
}

func (c *ChannelController) GetCommanded(m string) (float64, error) {
	return c.Surface.GetFloat(namesFor(m).commanded)
}

func (c *ChannelController) SetPosition(m string, mm float64) error {
	return c.Surface.SetFloat(namesFor(m).commanded, mm)
}

func (c *ChannelController) Stop(m string) error {
	v, err := c.Surface.GetFloat(namesFor(m).stop)
	if err != nil {
		return err
	}
	return c.Surface.SetFloat(namesFor(m).stop, v+1)
}

func (c *ChannelController) Enable(m string) error {
	return c.Surface.SetFloat(namesFor(m).enabled, 1)
}

func (c *ChannelController) Disable(m string) error {
	return c.Surface.SetFloat(namesFor(m).enabled, 0)
}

func (c *ChannelController) IsEnabled(m string) (bool, error) {
	v, err := c.Surface.GetFloat(namesFor(m).enabled)
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// MockController is an in-memory Controller for tests: it drives
// current position directly to the commanded value (no servo
// dynamics) and tracks enable state and stop-call counts per motor.
type MockController struct {
	sync.Mutex
	pos       map[string]float64
	commanded map[string]float64
	enabled   map[string]bool
	stopCount map[string]int
	stuck     map[string]bool
}

// NewMockController returns a MockController with every motor starting
// at 0 mm, disabled.
func NewMockController(motors []string) *MockController {
	m := &MockController{
		pos:       map[string]float64{},
		commanded: map[string]float64{},
		enabled:   map[string]bool{},
		stopCount: map[string]int{},
		stuck:     map[string]bool{},
	}
	for _, name := range motors {
		m.pos[name] = 0
		m.commanded[name] = 0
	}
	return m
}

func (m *MockController) GetPosition(motor string) (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.pos[motor], nil
}

func (m *MockController) GetCommanded(motor string) (float64, error) {
	m.Lock()
	defer m.Unlock()
	return m.commanded[motor], nil
}

func (m *MockController) SetPosition(motor string, mm float64) error {
	m.Lock()
	defer m.Unlock()
	m.commanded[motor] = mm
	// The mock has no servo dynamics: it arrives immediately, as if the
	// move always completes within one tick, unless the motor is
	// marked stuck for timeout testing.
	if !m.stuck[motor] {
		m.pos[motor] = mm
	}
	return nil
}

// SetStuck marks a motor as never reaching its commanded position,
// for exercising the Sequencer's per-step timeout.
func (m *MockController) SetStuck(motor string, stuck bool) {
	m.Lock()
	defer m.Unlock()
	m.stuck[motor] = stuck
}

func (m *MockController) Stop(motor string) error {
	m.Lock()
	defer m.Unlock()
	m.stopCount[motor]++
	m.commanded[motor] = m.pos[motor]
	return nil
}

func (m *MockController) Enable(motor string) error {
	m.Lock()
	defer m.Unlock()
	m.enabled[motor] = true
	return nil
}

func (m *MockController) Disable(motor string) error {
	m.Lock()
	defer m.Unlock()
	m.enabled[motor] = false
	return nil
}

func (m *MockController) IsEnabled(motor string) (bool, error) {
	m.Lock()
	defer m.Unlock()
	return m.enabled[motor], nil
}

// StopCount reports how many times Stop has been called for motor,
// for assertions in tests.
func (m *MockController) StopCount(motor string) int {
	m.Lock()
	defer m.Unlock()
	return m.stopCount[motor]
}

// SetPositionDirect sets the current position without going through
// SetPosition/commanded-value bookkeeping, for seeding test scenarios.
func (m *MockController) SetPositionDirect(motor string, mm float64) {
	m.Lock()
	defer m.Unlock()
	m.pos[motor] = mm
}
