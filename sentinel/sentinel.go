// Package sentinel implements the Collision Sentinel state machine:
// it independently validates current and commanded motor
// positions every tick and is the sole authority over motor enable
// state, disabling motors outright or restricting them to a safe
// recovery direction whenever a position is found invalid.
package sentinel

import (
	"time"

	"github.com/nasa-jpl/pcu/channel"
	"github.com/nasa-jpl/pcu/config"
	"github.com/nasa-jpl/pcu/logx"
	"github.com/nasa-jpl/pcu/motion"
	"github.com/nasa-jpl/pcu/position"
)

// State enumerates the Collision Sentinel's states.
type State int

const (
	Init State = iota
	Monitoring
	Stopped
	Restricted
	Fault
	Terminate
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case Monitoring:
		return "MONITORING"
	case Stopped:
		return "STOPPED"
	case Restricted:
		return "RESTRICTED"
	case Fault:
		return "FAULT"
	case Terminate:
		return "TERMINATE"
	default:
		return "UNKNOWN"
	}
}

// Request keywords accepted on the `:request` channel.
const (
	ReqReinit     = "reinit"
	ReqAllowMoves = "allow_moves"
	ReqAbort      = "abort"
	ReqShutdown   = "shutdown"
)

// Direction is a per-motor monotone move predicate used in RESTRICTED:
// it reports whether moving from current to candidate is an allowed
// recovery direction for that motor.
type Direction func(candidate, current float64) bool

func le(candidate, current float64) bool { return candidate <= current }
func ge(candidate, current float64) bool { return candidate >= current }

// Loader loads and validates a configuration document from path.
type Loader func(path string) (*config.Store, error)

var orderedMotors = []string{position.M1, position.M2, position.M3, position.M4}

// Sentinel is the Collision Sentinel state machine.
type Sentinel struct {
	Prefix     string
	ConfigPath string
	Load       Loader
	Now        func() time.Time

	Surface    *channel.Surface
	Controller motion.Controller

	store         *config.Store
	state         State
	validMotors   []string
	allowedMotors map[string]Direction
	sameMessage   bool
}

// New constructs a Sentinel and registers its channel surface.
func New(prefix, configPath string, surface *channel.Surface, controller motion.Controller) *Sentinel {
	s := &Sentinel{
		Prefix:     prefix,
		ConfigPath: configPath,
		Load:       config.Load,
		Now:        time.Now,
		Surface:    surface,
		Controller: controller,
		state:      Init,
	}
	surface.RegisterString(s.chan_("stst"), "")
	surface.RegisterString(s.chan_("request"), "")
	return s
}

func (s *Sentinel) chan_(suffix string) string {
	return s.Prefix + ":" + suffix
}

// State returns the Sentinel's current state.
func (s *Sentinel) State() State { return s.state }

// AllowedMotors returns the per-motor recovery directions computed on
// the most recent RESTRICTED tick; empty outside RESTRICTED.
func (s *Sentinel) AllowedMotors() map[string]Direction {
	if s.state != Restricted {
		return map[string]Direction{}
	}
	return s.allowedMotors
}

// Tick runs one pass of the current state's handler to completion.
func (s *Sentinel) Tick() {
	switch s.state {
	case Init:
		s.processInit()
	case Monitoring:
		s.processMonitoring()
	case Stopped:
		s.processStopped()
	case Restricted:
		s.processRestricted()
	case Fault:
		s.processFault()
	case Terminate:
		// terminal; nothing to do.
	}
}

func (s *Sentinel) processInit() {
	store, err := s.Load(s.ConfigPath)
	if err != nil {
		logx.Critical("sentinel: configuration load failed: %v", err)
		s.state = Fault
		return
	}
	s.store = store
	s.validMotors = validMotorOrder(store)

	valid, err := s.checkAllPos()
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if valid {
		s.state = Monitoring
	} else {
		s.state = Stopped
	}
}

func (s *Sentinel) processMonitoring() {
	s.publishMeta()
	valid, err := s.checkAllPos()
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if !valid {
		s.state = Stopped
	}
	s.processRequest()
}

func (s *Sentinel) processStopped() {
	s.publishMeta()

	anyEnabled, err := s.anyMotorEnabled()
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if anyEnabled {
		logx.Critical("sentinel: motors cannot be enabled in STOPPED state")
		s.stopMotors()
	}

	cur, err := s.getPositions()
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if !s.sameMessage {
		if s.store.Geometry.IsValid(cur) {
			logx.Info("sentinel: current position is valid; reinitialize to resume normal operation")
		} else {
			logx.Critical("sentinel: current position is invalid; request allow_moves to enable directional moves only")
		}
		s.sameMessage = true
	}

	s.processRequest()
	if s.state != Stopped {
		s.sameMessage = false
	}
}

func (s *Sentinel) processRestricted() {
	s.publishMeta()

	if err := s.loadRestrictedMoves(); err != nil {
		s.onDisconnect(err)
		return
	}
	if s.state != Restricted {
		// loadRestrictedMoves found an unrecoverable both-extended state
		// and forced STOPPED.
		s.processRequest()
		return
	}

	for _, m := range s.validMotors {
		if _, ok := s.allowedMotors[m]; !ok {
			if err := motion.NewFacade(s.Controller, m).Disable(); err != nil {
				s.onDisconnect(err)
				return
			}
		}
	}

	if err := s.checkFuturePos(); err != nil {
		s.onDisconnect(err)
		return
	}
	if s.state != Restricted {
		s.processRequest()
		return
	}

	cur, err := s.getPositions()
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if !s.sameMessage && s.store.Geometry.IsValid(cur) {
		logx.Info("sentinel: current position is valid; reinitialize to resume normal operation")
	}
	s.sameMessage = true

	s.processRequest()
	if s.state != Restricted {
		s.sameMessage = false
	}
}

func (s *Sentinel) processFault() {
	s.publishMeta()
	if !s.sameMessage {
		logx.Critical("sentinel: collision sentinel is down; do not operate motors")
	}
	s.sameMessage = true
	s.processRequest()
	if s.state != Fault {
		s.sameMessage = false
	}
}

func (s *Sentinel) processRequest() {
	req, err := s.Surface.ConsumeString(s.chan_("request"))
	if err != nil {
		s.onDisconnect(err)
		return
	}
	req = lower(req)
	if req == "" {
		return
	}

	switch req {
	case ReqReinit:
		if s.state == Monitoring || s.state == Fault {
			s.state = Init
			return
		}
		cur, err := s.getPositions()
		if err != nil {
			s.onDisconnect(err)
			return
		}
		if s.store.Geometry.IsValid(cur) {
			s.state = Init
		} else {
			logx.Critical("sentinel: cannot reinitialize from an invalid position")
		}
	case ReqAllowMoves:
		switch s.state {
		case Stopped:
			logx.Info("sentinel: enabling directional moves for safe axes")
			s.state = Restricted
		case Restricted:
			logx.Critical("sentinel: directional moves are already enabled")
		case Fault:
			logx.Critical("sentinel: sentinel must be reinitialized before moves are allowed")
		default:
			logx.Critical("sentinel: all moves are already enabled")
		}
	case ReqAbort:
		logx.Critical("sentinel: aborting collision sentinel")
		s.stopMotors()
		s.state = Fault
	case ReqShutdown:
		logx.Info("sentinel: shutting down")
		s.state = Terminate
	default:
		logx.Critical("sentinel: unrecognized request %q", req)
	}
}

func lower(s string) string {
	out := []rune(s)
	for i, r := range out {
		if r >= 'A' && r <= 'Z' {
			out[i] = r + ('a' - 'A')
		}
	}
	return string(out)
}

// loadRestrictedMoves computes the RESTRICTED recovery directions:
// whichever of the fiber bundle / pinhole mask is extended outside the
// k-mirror aperture may only retract; whichever is extended inside the
// aperture but outside its own clearance circle may only move m1/m2
// toward that element's centre. Both elements extended while a
// translation toward a centre is needed has no safe direction and
// forces STOPPED.
func (s *Sentinel) loadRestrictedMoves() error {
	cur, err := s.getPositions()
	if err != nil {
		return err
	}
	s.allowedMotors = map[string]Direction{}

	g := s.store.Geometry
	fiberInHole := g.InHole(cur, "fiber", position.KMirrorRadiusMM)
	fiberAllowed := g.InHole(cur, "fiber", g.FiberRadius)
	maskInHole := g.InHole(cur, "mask", position.KMirrorRadiusMM)
	maskAllowed := g.InHole(cur, "mask", g.MaskRadius)
	fiberExt := g.FiberExtended(cur)
	maskExt := g.MaskExtended(cur)

	moveToCenter := false
	var center position.Position

	if !fiberInHole && fiberExt {
		logx.Critical("sentinel: fiber bundle is extended outside the k-mirror aperture; retract motor m4")
		s.allowedMotors[position.M4] = le
	} else if fiberExt && !fiberAllowed {
		logx.Critical("sentinel: fiber bundle is outside allowed bounds; move towards the fiber center")
		center = position.Position{position.M1: g.FiberCenter[0], position.M2: g.FiberCenter[1]}
		moveToCenter = true
	}

	if !maskInHole && maskExt {
		logx.Critical("sentinel: pinhole mask is extended outside the k-mirror aperture; retract motor m3")
		s.allowedMotors[position.M3] = le
	} else if maskExt && !maskAllowed {
		logx.Critical("sentinel: pinhole mask is outside allowed bounds; move towards the mask center")
		center = position.Position{position.M1: g.MaskCenter[0], position.M2: g.MaskCenter[1]}
		moveToCenter = true
	}

	if fiberExt && maskExt && moveToCenter {
		logx.Critical("sentinel: fiber bundle and pinhole mask are both extended; the stages must be reset manually")
		s.state = Stopped
		return nil
	}
	if moveToCenter {
		diff := center.Sub(cur)
		for _, m := range []string{position.M1, position.M2} {
			switch {
			case diff[m] > 0:
				s.allowedMotors[m] = ge
			case diff[m] < 0:
				s.allowedMotors[m] = le
			}
		}
	}
	return nil
}

// checkFuturePos guards directional moves: every commanded position
// must move its motor only in the direction loadRestrictedMoves
// permitted, else the move is rejected and the Sentinel returns to
// STOPPED.
func (s *Sentinel) checkFuturePos() error {
	cur, err := s.getPositions()
	if err != nil {
		return err
	}
	future, err := s.commandedPositions()
	if err != nil {
		return err
	}
	for m, dir := range s.allowedMotors {
		if !dir(future[m], cur[m]) {
			logx.Critical("sentinel: requested move for motor %s is not toward a recoverable position", m)
			s.stopMotors()
			s.state = Stopped
			return nil
		}
	}
	return nil
}

// checkAllPos validates both the current and commanded positions,
// disabling all motors and reporting invalid if either fails.
func (s *Sentinel) checkAllPos() (bool, error) {
	cur, err := s.getPositions()
	if err != nil {
		return false, err
	}
	future, err := s.commandedPositions()
	if err != nil {
		return false, err
	}
	g := s.store.Geometry
	if !g.IsValid(cur) {
		logx.Critical("sentinel: current position is invalid; disabling all motors")
		s.stopMotors()
		return false, nil
	}
	if !g.IsValid(future) {
		logx.Critical("sentinel: commanded position is invalid; disabling all motors")
		s.stopMotors()
		return false, nil
	}
	return true, nil
}

// stopMotors halts every valid motor, resets its commanded position to
// its current position, and disables it: the Sentinel is
// authoritative over enable state, so this and the RESTRICTED
// handler's disabling of non-recovery motors are the only places in
// the repo that disable a motor as a safety action rather than in
// response to an operator request.
func (s *Sentinel) stopMotors() {
	logx.Critical("sentinel: stopping all motors")
	for _, m := range s.validMotors {
		_ = motion.NewFacade(s.Controller, m).Stop()
	}
	if cur, err := s.getPositions(); err == nil {
		for _, m := range s.validMotors {
			_ = motion.NewFacade(s.Controller, m).SetPosition(cur[m])
		}
	}
	for _, m := range s.validMotors {
		_ = motion.NewFacade(s.Controller, m).Disable()
	}
}

func (s *Sentinel) anyMotorEnabled() (bool, error) {
	for _, m := range s.validMotors {
		enabled, err := motion.NewFacade(s.Controller, m).IsEnabled()
		if err != nil {
			return false, err
		}
		if enabled {
			return true, nil
		}
	}
	return false, nil
}

func (s *Sentinel) getPositions() (position.Position, error) {
	out := make(position.Position, len(s.validMotors))
	for _, m := range s.validMotors {
		v, err := motion.NewFacade(s.Controller, m).GetPosition()
		if err != nil {
			return nil, err
		}
		out[m] = v
	}
	return out, nil
}

func (s *Sentinel) commandedPositions() (position.Position, error) {
	out := make(position.Position, len(s.validMotors))
	for _, m := range s.validMotors {
		v, err := motion.NewFacade(s.Controller, m).GetCommanded()
		if err != nil {
			return nil, err
		}
		out[m] = v
	}
	return out, nil
}

func (s *Sentinel) publishMeta() {
	_ = s.Surface.SetString(s.chan_("stst"), s.state.String())
}

// onDisconnect handles a channel disconnect: stop motors best-effort
// and enter FAULT until an operator reinit.
func (s *Sentinel) onDisconnect(err error) {
	logx.Critical("sentinel: channel disconnect: %v", err)
	s.stopMotors()
	s.state = Fault
}

func validMotorOrder(store *config.Store) []string {
	out := make([]string, 0, len(orderedMotors))
	for _, m := range orderedMotors {
		if store.Geometry.IsValidMotor(m) {
			out = append(out, m)
		}
	}
	return out
}
