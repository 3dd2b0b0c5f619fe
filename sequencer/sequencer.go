// Package sequencer implements the high-level Sequencer state
// machine: it accepts named-configuration and offset requests, plans
// ordered motor moves, and tracks move completion with a per-step
// timeout.
package sequencer

import (
	"errors"
	"sort"
	"time"

	"github.com/nasa-jpl/pcu/channel"
	"github.com/nasa-jpl/pcu/config"
	"github.com/nasa-jpl/pcu/logx"
	"github.com/nasa-jpl/pcu/motion"
	"github.com/nasa-jpl/pcu/position"
)

// Errors returned by tryOffsetMove when an offset request is rejected
// outright (logged, not fatal to the Sequencer).
var (
	errNotOffsetable      = errors.New("offsets are only valid from the pinhole_mask or fiber_bundle configuration")
	errXYRequired         = errors.New("offsets require m1 and m2 to be valid motors")
	errUnreachable        = errors.New("current configuration has no matching base entry")
	errOutOfLimits        = errors.New("requested offset destination is out of motor limits")
	errWrongAxisForConfig = errors.New("requested offset axis does not apply to the current configuration")
	errOutsideClearance   = errors.New("requested offset destination falls outside the clearance circle")
)

// State enumerates the Sequencer's states.
type State int

const (
	Init State = iota
	InPos
	Moving
	Fault
	Terminate
)

func (s State) String() string {
	switch s {
	case Init:
		return "INIT"
	case InPos:
		return "INPOS"
	case Moving:
		return "MOVING"
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
	ReqReinit   = "reinit"
	ReqStop     = "stop"
	ReqEnable   = "enable"
	ReqDisable  = "disable"
	ReqShutdown = "shutdown"
	ReqAbort    = "abort"
)

// Loader loads and validates a configuration document from path. It is
// a function, not a direct config.Load call, so tests can substitute a
// Store built in memory via config.FromDocument.
type Loader func(path string) (*config.Store, error)

// orderedMotors is the canonical per-motor serialization order:
// m1, m2, m3, m4, restricted to whichever of those are valid.
var orderedMotors = []string{position.M1, position.M2, position.M3, position.M4}

// Sequencer is the high-level PCU sequencer state machine.
type Sequencer struct {
	// Prefix is the channel-name prefix this Sequencer registers under,
	// e.g. "k1:ao:pcu".
	Prefix string

	// ConfigPath is re-read on every INIT (including `reinit`).
	ConfigPath string

	// Load loads the configuration document; defaults to config.Load.
	Load Loader

	// Now returns the current time; overridable in tests.
	Now func() time.Time

	Surface    *channel.Surface
	Controller motion.Controller

	store         *config.Store
	state         State
	configuration string
	destination   string
	plan          []position.Position
	currentMove   position.Position
	moveDeadline  time.Time
	validMotors   []string
}

// New constructs a Sequencer and registers its channel surface. Load
// must be called (via Tick in the INIT state) before the Sequencer is
// useful; New itself does no I/O.
func New(prefix, configPath string, surface *channel.Surface, controller motion.Controller) *Sequencer {
	s := &Sequencer{
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
	surface.RegisterString(s.chan_("pos"), "")
	surface.RegisterString(s.chan_("posRb"), "")
	return s
}

func (s *Sequencer) chan_(suffix string) string {
	return s.Prefix + ":" + suffix
}

// State returns the Sequencer's current state.
func (s *Sequencer) State() State { return s.state }

// Configuration returns the currently matched configuration name, or
// "" if unmatched. It is also "" while MOVING and after motors are
// stopped or the channel disconnects.
func (s *Sequencer) Configuration() string { return s.configuration }

// Plan returns a copy of the remaining MovePlan steps, excluding any
// step already in flight. Diagnostic only.
func (s *Sequencer) Plan() []position.Position {
	out := make([]position.Position, len(s.plan))
	for i, step := range s.plan {
		out[i] = step.Clone()
	}
	return out
}

// Tick runs one pass of the current state's handler to completion;
// handlers do not yield mid-tick.
func (s *Sequencer) Tick() {
	switch s.state {
	case Init:
		s.processInit()
	case InPos:
		s.processInPos()
	case Moving:
		s.processMoving()
	case Fault:
		s.processFault()
	case Terminate:
		// terminal; nothing to do.
	}
}

// processInit loads configurations and establishes the current
// configuration match.
func (s *Sequencer) processInit() {
	store, err := s.Load(s.ConfigPath)
	if err != nil {
		logx.Critical("sequencer: configuration load failed: %v", err)
		s.state = Fault
		return
	}
	s.store = store
	s.validMotors = validMotorOrder(store)
	s.Surface.RegisterOffsetChannels(s.validMotors, channel.ResetValue)

	cfg, err := s.currentConfigurationMatch()
	if err != nil {
		logx.Critical("sequencer: %v", err)
		s.stopMotors()
		s.state = Fault
		return
	}
	s.configuration = cfg
	s.state = InPos
}

// currentConfigurationMatch looks up the configuration the stages are
// sitting in: an exact named match within tolerance, else "user_def" if
// exactly one of the fiber bundle / pinhole mask is extended and (m1,
// m2) is inside that element's clearance circle, else "".
func (s *Sequencer) currentConfigurationMatch() (string, error) {
	cur, err := s.getPositions()
	if err != nil {
		return "", err
	}

	all := s.store.All()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)

	tol := s.store.Geometry.Tolerance
	for _, name := range names {
		if cur.EqualWithin(all[name].Position, tol) {
			return name, nil
		}
	}

	g := s.store.Geometry
	fiberExt := g.FiberExtended(cur)
	maskExt := g.MaskExtended(cur)
	if fiberExt && !maskExt && g.InHole(cur, "fiber", g.FiberRadius) {
		return "user_def", nil
	}
	if maskExt && !fiberExt && g.InHole(cur, "mask", g.MaskRadius) {
		return "user_def", nil
	}
	return "", nil
}

// processInPos handles request and offset processing while the
// Sequencer has no active move.
func (s *Sequencer) processInPos() {
	s.publishMeta()
	s.refreshOffsetReadback()

	offsets, err := s.Surface.PendingOffsets(s.validMotors, channel.ResetValue)
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if len(offsets) != 0 {
		if err := s.tryOffsetMove(offsets); err != nil {
			if _, disc := err.(disconnectError); disc {
				s.onDisconnect(err)
				return
			}
			logx.Critical("sequencer: invalid offset request for configuration %q: %v", s.configuration, err)
		}
	}

	if s.state != InPos {
		return
	}
	s.processRequest()
	if s.state != InPos {
		return
	}
	s.processPosRequest()
}

type disconnectError struct{ error }

// tryOffsetMove validates an offset (mini-move) request and, if valid,
// queues its single-step MovePlan.
func (s *Sequencer) tryOffsetMove(offsets map[string]float64) error {
	if s.configuration != "pinhole_mask" && s.configuration != "fiber_bundle" {
		return errNotOffsetable
	}
	g := s.store.Geometry
	if !g.IsValidMotor(position.M1) || !g.IsValidMotor(position.M2) {
		return errXYRequired
	}

	base, ok := s.store.Get(s.configuration)
	if !ok {
		return errUnreachable
	}

	cur, err := s.getPositions()
	if err != nil {
		return disconnectError{err}
	}
	dest := cur.Clone()
	for m, rawOffset := range offsets {
		dest[m] = base.Position[m] + rawOffset
	}

	for m, lim := range g.Limits {
		if v, ok := dest[m]; ok && !lim.Check(v) {
			return errOutOfLimits
		}
	}

	switch s.configuration {
	case "pinhole_mask":
		if _, ok := offsets[position.M4]; ok {
			return errWrongAxisForConfig
		}
		if !g.InHole(dest, "mask", g.MaskRadius) {
			return errOutsideClearance
		}
	case "fiber_bundle":
		if _, ok := offsets[position.M3]; ok {
			return errWrongAxisForConfig
		}
		if !g.InHole(dest, "fiber", g.FiberRadius) {
			return errOutsideClearance
		}
	}

	step := position.Position{}
	for m := range offsets {
		step[m] = dest[m]
	}
	s.plan = []position.Position{step}
	s.destination = s.configuration
	s.configuration = ""
	s.state = Moving
	return nil
}

// processMoving advances the active MovePlan.
func (s *Sequencer) processMoving() {
	s.publishMeta()
	s.refreshOffsetReadback()

	offsets, err := s.Surface.PendingOffsets(s.validMotors, channel.ResetValue)
	if err != nil {
		s.onDisconnect(err)
		return
	}
	if len(offsets) != 0 {
		logx.Critical("sequencer: offset request ignored while MOVING; send stop first")
	}

	s.processRequest()
	if s.state != Moving {
		return
	}
	s.processPosRequest()
	if s.state != Moving {
		return
	}

	complete, err := s.moveComplete()
	if err != nil {
		s.onDisconnect(err)
		return
	}

	if complete && len(s.plan) > 0 {
		next := s.plan[0]
		s.plan = s.plan[1:]
		if err := s.triggerMove(next); err != nil {
			if _, disc := err.(disconnectError); disc {
				s.onDisconnect(err)
			}
			return
		}
		if s.state != Moving {
			return
		}
	} else if complete && len(s.plan) == 0 {
		s.configuration = s.destination
		s.destination = ""
		s.state = InPos
		return
	}

	if !s.moveDeadline.IsZero() && s.Now().After(s.moveDeadline) {
		logx.Critical("sequencer: move failed due to motor timeout")
		s.stopMotors()
		s.state = Fault
	}
}

// processFault only answers the request/position-change channels.
func (s *Sequencer) processFault() {
	s.publishMeta()
	s.processRequest()
	if s.state != Fault {
		return
	}
	s.processPosRequest()
}

// processRequest handles the `:request` keyword common to every state.
func (s *Sequencer) processRequest() {
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
		if s.state == Fault || s.state == InPos {
			s.state = Init
		} else {
			logx.Critical("sequencer: send stop signal before reinitializing")
		}
	case ReqEnable:
		if s.state == InPos {
			s.enableAll()
		} else {
			logx.Critical("sequencer: PCU must be in INPOS state to enable motors")
		}
	case ReqDisable:
		if s.state == InPos {
			s.disableAll()
		} else if s.state == Moving {
			s.stopMotors()
			s.disableAll()
		} else {
			logx.Critical("sequencer: invalid request for state %s", s.state)
		}
	case ReqStop:
		if s.state == Moving {
			s.stopMotors()
			s.state = InPos
		} else {
			logx.Critical("sequencer: PCU is not moving")
		}
	case ReqAbort:
		logx.Critical("sequencer: aborting sequencer")
		s.stopMotors()
		s.state = Fault
	case ReqShutdown:
		if s.state == Moving {
			s.stopMotors()
		}
		logx.Info("sequencer: shutting down")
		s.state = Terminate
	default:
		logx.Critical("sequencer: unrecognized request %q", req)
	}
}

// processPosRequest handles the `:pos` configuration-change channel.
func (s *Sequencer) processPosRequest() {
	req, err := s.Surface.ConsumeString(s.chan_("pos"))
	if err != nil {
		s.onDisconnect(err)
		return
	}
	req = lower(req)
	if req == "" {
		return
	}

	switch s.state {
	case InPos:
		dest, ok := s.store.Get(req)
		if !ok {
			logx.Critical("sequencer: invalid configuration %q", req)
			return
		}
		s.loadPlan(dest)
		s.state = Moving
	case Moving:
		logx.Critical("sequencer: send stop signal before moving to new position")
	case Fault:
		logx.Critical("sequencer: reinitialize the sequencer before moving")
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

// loadPlan builds the MovePlan for a transition to dest: a retraction
// step for the two retractors when the configuration changes, then one
// single-motor step per valid motor in order.
func (s *Sequencer) loadPlan(dest position.NamedConfiguration) {
	plan := make([]position.Position, 0, len(s.validMotors)+1)
	retract := position.Position{}
	if s.configuration != dest.Name {
		if s.store.Geometry.IsValidMotor(position.M3) {
			retract[position.M3] = position.HomeMM
		}
		if s.store.Geometry.IsValidMotor(position.M4) {
			retract[position.M4] = position.HomeMM
		}
		if len(retract) > 0 {
			plan = append(plan, retract)
		}
	}
	for _, m := range s.validMotors {
		v, ok := dest.Position[m]
		if !ok {
			continue
		}
		// The retraction step already put m3/m4 at home; a second step
		// to the same place would only burn a tick.
		if _, retracted := retract[m]; retracted && v == position.HomeMM {
			continue
		}
		plan = append(plan, position.Position{m: v})
	}
	s.plan = plan
	s.configuration = ""
	s.destination = dest.Name
}

// moveComplete reports whether every motor of the active step has
// reached its commanded target, clearing currentMove when so.
func (s *Sequencer) moveComplete() (bool, error) {
	if s.currentMove == nil {
		return true, nil
	}
	cur, err := s.getPositions()
	if err != nil {
		return false, err
	}
	tol := s.store.Geometry.Tolerance
	for m, dest := range s.currentMove {
		if !cur.MotorInPosition(m, dest, tol[m]) {
			return false, nil
		}
	}
	s.currentMove = nil
	return true, nil
}

// triggerMove issues the commanded positions for one MovePlan step and
// arms the per-step timer.
func (s *Sequencer) triggerMove(step position.Position) error {
	for m, dest := range step {
		f := motion.NewFacade(s.Controller, m)
		enabled, err := f.IsEnabled()
		if err != nil {
			return disconnectError{err}
		}
		if !enabled {
			logx.Critical("sequencer: motor %s is not enabled", m)
			s.stopMotors()
			s.state = Fault
			return nil
		}
		if err := f.SetPosition(dest); err != nil {
			return disconnectError{err}
		}
	}
	s.currentMove = step
	s.moveDeadline = s.Now().Add(position.MoveTimeSeconds * time.Second)
	return nil
}

// stopMotors halts every valid motor and clears sequencer move state.
func (s *Sequencer) stopMotors() {
	logx.Critical("sequencer: stopping all motors")
	s.currentMove = nil
	s.plan = nil
	s.configuration = ""
	s.destination = ""
	for _, m := range s.validMotors {
		_ = motion.NewFacade(s.Controller, m).Stop()
	}
}

func (s *Sequencer) enableAll() {
	for _, m := range s.validMotors {
		_ = motion.NewFacade(s.Controller, m).Enable()
	}
}

func (s *Sequencer) disableAll() {
	for _, m := range s.validMotors {
		_ = motion.NewFacade(s.Controller, m).Disable()
	}
}

func (s *Sequencer) getPositions() (position.Position, error) {
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

// publishMeta publishes the metastate name and current-configuration
// readback.
func (s *Sequencer) publishMeta() {
	_ = s.Surface.SetString(s.chan_("stst"), s.state.String())
	_ = s.Surface.SetString(s.chan_("posRb"), s.configuration)
}

// refreshOffsetReadback publishes per-motor offsets from the matched
// configuration's base, or zero if unmatched.
func (s *Sequencer) refreshOffsetReadback() {
	cur, err := s.getPositions()
	if err != nil {
		return
	}
	base, ok := s.store.Get(s.configuration)
	for _, m := range s.validMotors {
		_, rb := channel.OffsetChannelNames(m)
		var off float64
		if ok {
			off = cur[m] - base.Position[m]
		}
		_ = s.Surface.SetFloat(rb, off)
	}
}

// onDisconnect handles a channel disconnect: clear move state and
// enter FAULT until an operator reinit.
func (s *Sequencer) onDisconnect(err error) {
	logx.Critical("sequencer: channel disconnect: %v", err)
	s.currentMove = nil
	s.plan = nil
	s.configuration = ""
	s.destination = ""
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
