package gcode

import (
	"fmt"
	"sort"
	"strings"

	"gcode-host/pkg/gcerrors"
)

// Stepper is the per-axis diagnostic view the kinematics collaborator
// exposes for the get-position report.
type Stepper interface {
	// Name returns the stepper name (e.g. "stepper_x").
	Name() string

	// MCUPosition returns the raw step counter as known by the MCU.
	MCUPosition() int64

	// CommandedPosition returns the commanded position in millimeters.
	CommandedPosition() float64
}

// Kinematics is the optional diagnostic collaborator consumed by the
// get-position report.
type Kinematics interface {
	// Steppers returns the per-axis diagnostic views.
	Steppers() []Stepper

	// CalcPosition computes the cartesian X/Y/Z position from commanded
	// stepper positions.
	CalcPosition(stepperPositions map[string]float64) []float64
}

// Status is the read model exposed for API queries. All fields are copies;
// the snapshot stays consistent regardless of later mutations.
type Status struct {
	SpeedFactor         float64  `json:"speed_factor"`
	Speed               float64  `json:"speed"`
	ExtrudeFactor       float64  `json:"extrude_factor"`
	AbsoluteCoordinates bool     `json:"absolute_coordinates"`
	AbsoluteExtrude     bool     `json:"absolute_extrude"`
	HomingOrigin        Position `json:"homing_origin"`
	Position            Position `json:"position"`
	GCodePosition       Position `json:"gcode_position"`
}

// Map renders the status in the wire form the API server publishes.
func (s Status) Map() map[string]any {
	return map[string]any{
		"speed_factor":         s.SpeedFactor,
		"speed":                s.Speed,
		"extrude_factor":       s.ExtrudeFactor,
		"absolute_coordinates": s.AbsoluteCoordinates,
		"absolute_extrude":     s.AbsoluteExtrude,
		"homing_origin":        s.HomingOrigin[:],
		"position":             s.Position[:],
		"gcode_position":       s.GCodePosition[:],
	}
}

// gcodePosition returns the externally-visible logical position:
// (last - base) elementwise, with E further divided by the extrude factor.
// Callers must hold the lock.
func (m *Move) gcodePosition() Position {
	p := m.lastPosition.Sub(m.basePosition)
	p[AxisE] /= m.extrudeFactor
	return p
}

// GCodePosition returns the current logical position.
func (m *Move) GCodePosition() Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gcodePosition()
}

// GCodeSpeed returns the effective feed rate as the command issuer sees it.
func (m *Move) GCodeSpeed() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speed / m.speedFactor
}

// GCodeSpeedOverride returns the feed override as a fraction (1.0 = 100%).
func (m *Move) GCodeSpeedOverride() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.speedFactor * 60.0
}

// GetStatus returns a consistent snapshot of the move state. Safe to call
// at any time, including interleaved with command processing.
func (m *Move) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{
		SpeedFactor:         m.speedFactor * 60.0,
		Speed:               m.speed / m.speedFactor,
		ExtrudeFactor:       m.extrudeFactor,
		AbsoluteCoordinates: m.absoluteCoord,
		AbsoluteExtrude:     m.absoluteExtrude,
		HomingOrigin:        m.homingPosition,
		Position:            m.lastPosition,
		GCodePosition:       m.gcodePosition(),
	}
}

// CmdReportPosition handles M114: the logical position formatted for the
// operator.
func (m *Move) CmdReportPosition() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p := m.gcodePosition()
	return fmt.Sprintf("X:%.3f Y:%.3f Z:%.3f E:%.3f",
		p[AxisX], p[AxisY], p[AxisZ], p[AxisE])
}

// CmdGetState handles GET_GCODE_STATE: a formatted dump of the full mode,
// position and factor state.
func (m *Move) CmdGetState() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fmt.Sprintf("absolute_coord: %v\n"+
		"absolute_extrude: %v\n"+
		"base_position: %v\n"+
		"last_position: %v\n"+
		"homing_position: %v\n"+
		"speed: %v\n"+
		"speed_factor: %v\n"+
		"extrude_factor: %v",
		m.absoluteCoord, m.absoluteExtrude, m.basePosition,
		m.lastPosition, m.homingPosition, m.speed,
		m.speedFactor, m.extrudeFactor)
}

// CmdGetPosition handles GET_POSITION: the diagnostic report combining the
// stepper, kinematic, toolhead and gcode views of the current location.
// Fails with a NotReadyError until the motion executor exists.
func (m *Move) CmdGetPosition() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state != StateReady || !m.binding.Ready() {
		return "", gcerrors.NotReadyError("toolhead position")
	}

	var lines []string
	if m.kin != nil {
		steppers := m.kin.Steppers()
		mcuParts := make([]string, 0, len(steppers))
		stepperParts := make([]string, 0, len(steppers))
		commanded := make(map[string]float64, len(steppers))
		for _, s := range steppers {
			mcuParts = append(mcuParts, fmt.Sprintf("%s:%d", s.Name(), s.MCUPosition()))
			stepperParts = append(stepperParts, fmt.Sprintf("%s:%.6f", s.Name(), s.CommandedPosition()))
			commanded[s.Name()] = s.CommandedPosition()
		}
		sort.Strings(mcuParts)
		sort.Strings(stepperParts)
		lines = append(lines, "mcu: "+strings.Join(mcuParts, " "))
		lines = append(lines, "stepper: "+strings.Join(stepperParts, " "))

		kinPos := m.kin.CalcPosition(commanded)
		kinParts := make([]string, 0, 3)
		for i := 0; i < 3 && i < len(kinPos); i++ {
			kinParts = append(kinParts, fmt.Sprintf("%s:%.6f", Axis(i), kinPos[i]))
		}
		lines = append(lines, "kinematic: "+strings.Join(kinParts, " "))
	}

	toolheadPos := m.binding.GetPosition()
	lines = append(lines, "toolhead: "+toolheadPos.Format(NumAxes, 6))
	lines = append(lines, "gcode: "+m.lastPosition.Format(NumAxes, 6))
	lines = append(lines, "gcode base: "+m.basePosition.Format(NumAxes, 6))
	lines = append(lines, "gcode homing: "+m.homingPosition.Format(3, 6))
	return strings.Join(lines, "\n"), nil
}
