// Package channel implements the Channel Surface: the minimal
// string/float-valued publish-subscribe control surface the two state
// machines use to talk to an external supervisory bus. A real
// deployment backs this with an EPICS-style channel-access fabric; this
// package models just the name/value semantics the state machines
// depend on, including destructive reads and the connectivity-error
// contract.
package channel

import (
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/nasa-jpl/pcu/position"
)

// ResetValue is the sentinel float value denoting "no request
// pending" on an offset channel.
const ResetValue = position.OffsetResetValue

// ErrDisconnected is returned by any read or write while the Surface
// is marked disconnected, standing in for the channel fabric's own
// disconnect exception.
var ErrDisconnected = fmt.Errorf("channel surface: disconnected from bus")

// ErrUnregistered is returned when reading or writing a channel name
// that was never registered.
type ErrUnregistered struct {
	Name string
}

func (e ErrUnregistered) Error() string {
	return fmt.Sprintf("channel surface: %q is not registered", e.Name)
}

// Surface is a flat, name-addressed scalar publish/subscribe bus.
// Every method call models one channel read or write. The zero value
// is not usable; use New.
type Surface struct {
	mu        sync.Mutex
	connected bool
	strings   map[string]string
	floats    map[string]float64
}

// New returns a connected, empty Surface.
func New() *Surface {
	return &Surface{
		connected: true,
		strings:   map[string]string{},
		floats:    map[string]float64{},
	}
}

// SetConnected controls whether subsequent reads/writes succeed or
// return ErrDisconnected. Used to simulate the channel fabric's
// connectivity error in tests and to model a real disconnect.
func (s *Surface) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// Connected reports whether the Surface currently believes itself
// attached to the bus.
func (s *Surface) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Reconnect re-establishes bus connectivity using an exponential
// backoff, mirroring comm.RemoteDevice.Open's retry policy against a
// flaky physical link: ping is a caller-supplied probe of the
// underlying transport (e.g. a channel-access handshake), retried
// until it succeeds, at which point the Surface is marked connected
// again. Retrying stops after three seconds; Reconnect then returns
// the last probe error and the Surface stays disconnected. This governs transport reconnection only; recovery of the
// state machines themselves after a disconnect remains
// operator-mediated via `reinit`.
func (s *Surface) Reconnect(ping func() error) error {
	op := func() error {
		return ping()
	}
	err := backoff.Retry(op, &backoff.ExponentialBackOff{
		InitialInterval:     25 * time.Millisecond,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         1 * time.Second,
		MaxElapsedTime:      3 * time.Second,
		Clock:               backoff.SystemClock,
	})
	if err != nil {
		return err
	}
	s.SetConnected(true)
	return nil
}

// RegisterString declares a string channel with an initial value. It
// is idempotent; re-registering resets the value.
func (s *Surface) RegisterString(name, initial string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strings[name] = initial
}

// RegisterFloat declares a float channel with an initial value.
func (s *Surface) RegisterFloat(name string, initial float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.floats[name] = initial
}

// GetString performs a non-destructive read of a string channel.
func (s *Surface) GetString(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrDisconnected
	}
	v, ok := s.strings[name]
	if !ok {
		return "", ErrUnregistered{Name: name}
	}
	return v, nil
}

// SetString writes a string channel.
func (s *Surface) SetString(name, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrDisconnected
	}
	if _, ok := s.strings[name]; !ok {
		return ErrUnregistered{Name: name}
	}
	s.strings[name] = value
	return nil
}

// ConsumeString performs a destructive read of a string channel: the
// value is returned and the channel is reset to "". Used for the
// `:request` and `:pos` channels.
func (s *Surface) ConsumeString(name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return "", ErrDisconnected
	}
	v, ok := s.strings[name]
	if !ok {
		return "", ErrUnregistered{Name: name}
	}
	if v != "" {
		s.strings[name] = ""
	}
	return v, nil
}

// GetFloat performs a non-destructive read of a float channel.
func (s *Surface) GetFloat(name string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, ErrDisconnected
	}
	v, ok := s.floats[name]
	if !ok {
		return 0, ErrUnregistered{Name: name}
	}
	return v, nil
}

// SetFloat writes a float channel.
func (s *Surface) SetFloat(name string, value float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return ErrDisconnected
	}
	if _, ok := s.floats[name]; !ok {
		return ErrUnregistered{Name: name}
	}
	s.floats[name] = value
	return nil
}

// ConsumeOffset performs a destructive read of an offset channel with
// the reset sentinel hidden behind an option-typed result: the sentinel
// is an artefact of the underlying typed-scalar fabric and should not
// leak past the channel adapter. ok is false when no request is
// pending (the channel reads as reset).
func (s *Surface) ConsumeOffset(name string, reset float64) (value float64, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return 0, false, ErrDisconnected
	}
	v, present := s.floats[name]
	if !present {
		return 0, false, ErrUnregistered{Name: name}
	}
	if v == reset {
		return 0, false, nil
	}
	s.floats[name] = reset
	return v, true, nil
}

// OffsetChannelNames returns the conventional request/readback channel
// names for a motor (`:<motor>Offset` / `:<motor>OffsetRb`).
func OffsetChannelNames(motor string) (request, readback string) {
	return motor + "Offset", motor + "OffsetRb"
}

// RegisterOffsetChannels builds the static table of (motor, channel)
// pairs: one request and one readback float channel per motor, known
// entirely at load time rather than attached dynamically at runtime.
func (s *Surface) RegisterOffsetChannels(motors []string, reset float64) {
	for _, m := range motors {
		req, rb := OffsetChannelNames(m)
		s.RegisterFloat(req, reset)
		s.RegisterFloat(rb, 0)
	}
}

// PendingOffsets performs one destructive-read pass over every motor's
// offset-request channel and returns the union of all requests seen in
// that single pass, so two offset requests arriving in the same tick
// merge into a single move step.
func (s *Surface) PendingOffsets(motors []string, reset float64) (map[string]float64, error) {
	out := map[string]float64{}
	for _, m := range motors {
		req, _ := OffsetChannelNames(m)
		v, ok, err := s.ConsumeOffset(req, reset)
		if err != nil {
			return nil, err
		}
		if ok {
			out[m] = v
		}
	}
	return out, nil
}
