package gcode

import (
	"fmt"
	"sync"

	"gcode-host/pkg/gcerrors"
	"gcode-host/pkg/log"
)

// LifecycleState tracks where the core is in the host lifecycle.
type LifecycleState int

const (
	// StateUninitialized: no motion executor exists yet; moves are
	// swallowed and position queries report zeros.
	StateUninitialized LifecycleState = iota

	// StateReady: an executor is wired and commands are processed.
	StateReady

	// StateShutdown: state has been discarded pending restart.
	StateShutdown
)

// String returns the lifecycle state name.
func (s LifecycleState) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// savedState is a named, independent copy of the full move state.
type savedState struct {
	absoluteCoord   bool
	absoluteExtrude bool
	basePosition    Position
	lastPosition    Position
	homingPosition  Position
	speed           float64
	speedFactor     float64
	extrudeFactor   float64
}

// defaultStateName is used when SAVE/RESTORE_GCODE_STATE carry no NAME.
const defaultStateName = "default"

// Move is the coordinate-transform and move-state core. It sits between
// the command dispatcher and the motion executor: incoming moves in
// logical coordinates are converted to absolute toolhead coordinates,
// offset frames and mode flags are tracked, and the resulting target is
// handed to the bound transform.
//
// All mutating operations run to completion under one mutex; status reads
// take the same lock so a multi-threaded host always observes a
// consistent snapshot.
type Move struct {
	mu     sync.RWMutex
	logger *log.Logger

	binding TransformBinding
	kin     Kinematics
	state   LifecycleState

	absoluteCoord   bool
	absoluteExtrude bool

	basePosition   Position
	lastPosition   Position
	homingPosition Position

	speed         float64
	speedFactor   float64
	extrudeFactor float64

	savedStates map[string]*savedState
}

// NewMove creates the move core in its uninitialized state. The optional
// kinematics collaborator feeds the get-position diagnostic report; it may
// be nil if no kinematics view exists.
func NewMove(logger *log.Logger, kin Kinematics) *Move {
	if logger == nil {
		logger = log.GetLogger("gcode_move")
	}
	return &Move{
		logger:          logger,
		kin:             kin,
		absoluteCoord:   true,
		absoluteExtrude: true,
		speed:           25.0,
		speedFactor:     1.0 / 60.0,
		extrudeFactor:   1.0,
		savedStates:     make(map[string]*savedState),
	}
}

// SetMoveTransform binds a compensation layer as the active transform.
// Without force it may be called at most once; the previous provider is
// returned so the layer can chain to it.
func (m *Move) SetMoveTransform(transform Transform, force bool) (Transform, error) {
	return m.binding.Bind(transform, force)
}

// Lifecycle event callbacks. The host event system invokes these; the core
// registers nothing globally.

// HandleReady wires the default motion executor and enters the Ready
// state. Entering Ready resynchronizes the last position from the
// executor, which is the authority at that point.
func (m *Move) HandleReady(executor Transform) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.binding.SetFallback(executor)
	m.state = StateReady
	m.resetLastPosition()
	m.logger.Info("gcode move ready")
}

// HandleShutdown discards state and returns to a pending-restart
// condition. The final state is logged for post-mortem diagnosis.
func (m *Move) HandleShutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return
	}
	m.state = StateShutdown
	m.logger.WithFields(log.Fields{
		"absolute_coord":   m.absoluteCoord,
		"absolute_extrude": m.absoluteExtrude,
		"base_position":    m.basePosition,
		"last_position":    m.lastPosition,
		"homing_position":  m.homingPosition,
		"speed_factor":     m.speedFactor,
		"extrude_factor":   m.extrudeFactor,
		"speed":            m.speed,
	}).Info("gcode state at shutdown")
}

// ResetLastPosition re-reads the last position from the executor. The host
// calls this after out-of-band position changes: explicit set-position,
// manual moves, and command errors.
func (m *Move) ResetLastPosition() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLastPosition()
}

func (m *Move) resetLastPosition() {
	if m.state == StateReady {
		m.lastPosition = m.binding.GetPosition()
	}
}

// HandleActivateExtruder resynchronizes after a different extrusion axis
// is activated. The extrude factor resets and the E base is pinned to the
// current E position so the visible extrusion total does not jump.
func (m *Move) HandleActivateExtruder() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLastPosition()
	m.extrudeFactor = 1.0
	m.basePosition[AxisE] = m.lastPosition[AxisE]
}

// HandleHomeRailsEnd resynchronizes after homing completes and applies the
// accumulated homing offset to the base frame of each just-homed axis.
func (m *Move) HandleHomeRailsEnd(axes []Axis) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLastPosition()
	for _, axis := range axes {
		if axis >= 0 && int(axis) < NumAxes {
			m.basePosition[axis] = m.homingPosition[axis]
		}
	}
}

// State returns the current lifecycle state.
func (m *Move) State() LifecycleState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Mode toggles (G90/G91/M82/M83).

// SetAbsoluteCoord sets the X/Y/Z interpretation mode.
func (m *Move) SetAbsoluteCoord(absolute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absoluteCoord = absolute
}

// SetAbsoluteExtrude sets the E interpretation mode.
func (m *Move) SetAbsoluteExtrude(absolute bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.absoluteExtrude = absolute
}

// CmdMove processes a G0/G1 move. All present parameters are parsed and
// validated before any state is written, so a malformed command never
// leaves a partial update or issues a partial motion.
func (m *Move) CmdMove(cmd *Command) error {
	var target [NumAxes]*float64
	for i := 0; i < NumAxes; i++ {
		v, ok, err := cmd.Float(Axis(i).String())
		if err != nil {
			return err
		}
		if ok {
			val := v
			target[i] = &val
		}
	}
	speedArg, hasSpeed, err := cmd.Float("F")
	if err != nil {
		return err
	}
	if hasSpeed && speedArg <= 0.0 {
		return gcerrors.InvalidParameterError("F", speedArg,
			fmt.Sprintf("invalid speed in %q", cmd.Raw))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for axis := AxisX; axis <= AxisZ; axis++ {
		if target[axis] == nil {
			continue
		}
		if m.absoluteCoord {
			// value relative to base coordinate position
			m.lastPosition[axis] = *target[axis] + m.basePosition[axis]
		} else {
			// value relative to position of last move
			m.lastPosition[axis] += *target[axis]
		}
	}
	if target[AxisE] != nil {
		v := *target[AxisE] * m.extrudeFactor
		// The extrusion axis is relative when either switch is relative;
		// absolute placement needs both absolute_coord and
		// absolute_extrude. This is the documented command-vocabulary
		// convention, not a per-axis rule like X/Y/Z.
		if !m.absoluteCoord || !m.absoluteExtrude {
			m.lastPosition[AxisE] += v
		} else {
			m.lastPosition[AxisE] = v + m.basePosition[AxisE]
		}
	}
	if hasSpeed {
		m.speed = speedArg * m.speedFactor
	}
	return m.binding.Move(m.lastPosition, m.speed)
}

// CmdSetUnitsInches handles G20. Inch units are not supported.
func (m *Move) CmdSetUnitsInches(cmd *Command) error {
	return gcerrors.UnsupportedCommandError(cmd.Raw,
		"machine does not support G20 (inches) command")
}

// CmdSetUnitsMillimeters handles G21; millimeters are the native unit.
func (m *Move) CmdSetUnitsMillimeters() {}

// CmdSetOrigin handles G92: redefine the logical origin without moving.
// Each explicit axis value sets base = last - value (E pre-scaled by the
// extrude factor); with no arguments the current physical location becomes
// the logical origin on every axis at once.
func (m *Move) CmdSetOrigin(cmd *Command) error {
	var offsets [NumAxes]*float64
	for i := 0; i < NumAxes; i++ {
		v, ok, err := cmd.Float(Axis(i).String())
		if err != nil {
			return err
		}
		if ok {
			val := v
			offsets[i] = &val
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	anySet := false
	for i := 0; i < NumAxes; i++ {
		if offsets[i] == nil {
			continue
		}
		anySet = true
		v := *offsets[i]
		if Axis(i) == AxisE {
			v *= m.extrudeFactor
		}
		m.basePosition[i] = m.lastPosition[i] - v
	}
	if !anySet {
		m.basePosition = m.lastPosition
	}
	return nil
}

// CmdSetFeedOverride handles M220: set the feed-rate override percentage.
// The currently queued speed is rescaled so its effective value is
// unchanged at the moment of the override.
func (m *Move) CmdSetFeedOverride(cmd *Command) error {
	s, err := cmd.FloatAbove("S", 100.0, 0.0)
	if err != nil {
		return err
	}
	value := s / (60.0 * 100.0)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.speed = m.speed / m.speedFactor * value
	m.speedFactor = value
	return nil
}

// CmdSetExtrudeOverride handles M221: set the extrude factor percentage.
// The E base is recomputed so the apparent extrusion position does not
// jump at the moment of the change.
func (m *Move) CmdSetExtrudeOverride(cmd *Command) error {
	s, err := cmd.FloatAbove("S", 100.0, 0.0)
	if err != nil {
		return err
	}
	newExtrudeFactor := s / 100.0

	m.mu.Lock()
	defer m.mu.Unlock()
	lastEPos := m.lastPosition[AxisE]
	eValue := (lastEPos - m.basePosition[AxisE]) / m.extrudeFactor
	m.basePosition[AxisE] = lastEPos - eValue*newExtrudeFactor
	m.extrudeFactor = newExtrudeFactor
	return nil
}

// CmdSetOffset handles SET_GCODE_OFFSET: set or adjust the per-axis user
// offset. The base frame shifts by the same delta, so the act of setting
// an offset never changes the logical position. With MOVE=1 the deltas
// are additionally applied to the toolhead at MOVE_SPEED (default: the
// current speed).
func (m *Move) CmdSetOffset(cmd *Command) error {
	var offsets [NumAxes]*float64
	var adjusts [NumAxes]*float64
	for i := 0; i < NumAxes; i++ {
		letter := Axis(i).String()
		v, ok, err := cmd.Float(letter)
		if err != nil {
			return err
		}
		if ok {
			val := v
			offsets[i] = &val
			continue
		}
		v, ok, err = cmd.Float(letter + "_ADJUST")
		if err != nil {
			return err
		}
		if ok {
			val := v
			adjusts[i] = &val
		}
	}
	doMove, err := cmd.IntDefault("MOVE", 0)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	moveSpeed, err := cmd.FloatAbove("MOVE_SPEED", m.speed, 0.0)
	if err != nil {
		return err
	}

	var moveDelta Position
	for i := 0; i < NumAxes; i++ {
		var offset float64
		switch {
		case offsets[i] != nil:
			offset = *offsets[i]
		case adjusts[i] != nil:
			offset = m.homingPosition[i] + *adjusts[i]
		default:
			continue
		}
		delta := offset - m.homingPosition[i]
		moveDelta[i] = delta
		m.basePosition[i] += delta
		m.homingPosition[i] = offset
	}

	if doMove != 0 {
		for i := 0; i < NumAxes; i++ {
			m.lastPosition[i] += moveDelta[i]
		}
		return m.binding.Move(m.lastPosition, moveSpeed)
	}
	return nil
}

// CmdSaveState handles SAVE_GCODE_STATE: snapshot the full move state
// under NAME, overwriting any previous snapshot with that name.
func (m *Move) CmdSaveState(cmd *Command) error {
	name := cmd.Get("NAME", defaultStateName)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.savedStates[name] = &savedState{
		absoluteCoord:   m.absoluteCoord,
		absoluteExtrude: m.absoluteExtrude,
		basePosition:    m.basePosition,
		lastPosition:    m.lastPosition,
		homingPosition:  m.homingPosition,
		speed:           m.speed,
		speedFactor:     m.speedFactor,
		extrudeFactor:   m.extrudeFactor,
	}
	return nil
}

// CmdRestoreState handles RESTORE_GCODE_STATE: restore the named snapshot.
// Extrusion accumulated since the save is preserved rather than reverted:
// the E component of the live position is kept and the E base shifts by
// the difference. With MOVE=1 the toolhead returns to the saved X/Y/Z at
// MOVE_SPEED.
func (m *Move) CmdRestoreState(cmd *Command) error {
	name := cmd.Get("NAME", defaultStateName)
	doMove, err := cmd.IntDefault("MOVE", 0)
	if err != nil {
		return err
	}
	moveSpeed, hasMoveSpeed, err := cmd.Float("MOVE_SPEED")
	if err != nil {
		return err
	}
	if hasMoveSpeed && moveSpeed <= 0.0 {
		return gcerrors.InvalidParameterError("MOVE_SPEED", moveSpeed, "must be above 0")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	state, ok := m.savedStates[name]
	if !ok {
		return gcerrors.UnknownStateError(name)
	}

	m.absoluteCoord = state.absoluteCoord
	m.absoluteExtrude = state.absoluteExtrude
	m.basePosition = state.basePosition
	m.homingPosition = state.homingPosition
	m.speed = state.speed
	m.speedFactor = state.speedFactor
	m.extrudeFactor = state.extrudeFactor

	// Restore the relative E position
	eDiff := m.lastPosition[AxisE] - state.lastPosition[AxisE]
	m.basePosition[AxisE] += eDiff

	if doMove != 0 {
		if !hasMoveSpeed {
			moveSpeed = m.speed
		}
		for axis := AxisX; axis <= AxisZ; axis++ {
			m.lastPosition[axis] = state.lastPosition[axis]
		}
		return m.binding.Move(m.lastPosition, moveSpeed)
	}
	return nil
}

// SavedStateNames returns the names of all saved snapshots.
func (m *Move) SavedStateNames() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.savedStates))
	for name := range m.savedStates {
		names = append(names, name)
	}
	return names
}
