// Package toolhead provides the default motion executor for the move core.
// It tracks the commanded toolhead position and exposes the per-stepper
// diagnostic view consumed by the GET_POSITION report. The real motion
// planning and MCU step generation live behind this interface and are not
// part of this host.
package toolhead

import (
	"math"
	"sync"

	"gcode-host/pkg/gcode"
	"gcode-host/pkg/log"
)

// Stepper is the diagnostic view of one motor rail.
type Stepper struct {
	name     string
	stepDist float64

	mu        sync.Mutex
	commanded float64
}

// NewStepper creates a stepper with the given name and step distance in
// millimeters per step.
func NewStepper(name string, stepDist float64) *Stepper {
	if stepDist <= 0 {
		stepDist = 0.0125
	}
	return &Stepper{name: name, stepDist: stepDist}
}

// Name returns the stepper name.
func (s *Stepper) Name() string { return s.name }

// MCUPosition returns the raw step counter corresponding to the commanded
// position.
func (s *Stepper) MCUPosition() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(math.Round(s.commanded / s.stepDist))
}

// CommandedPosition returns the commanded position in millimeters.
func (s *Stepper) CommandedPosition() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commanded
}

func (s *Stepper) setCommanded(pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commanded = pos
}

// MoveRecord is one move as issued to the executor.
type MoveRecord struct {
	Pos   gcode.Position
	Speed float64
}

// Toolhead is a cartesian motion executor. Moves update the commanded
// position immediately; physical execution is fire-and-forget from the
// transform layer's perspective.
type Toolhead struct {
	mu           sync.Mutex
	logger       *log.Logger
	commandedPos gcode.Position
	steppers     []*Stepper
	moves        []MoveRecord
}

// New creates a toolhead with one stepper per positional axis plus the
// extruder stepper.
func New(logger *log.Logger) *Toolhead {
	if logger == nil {
		logger = log.GetLogger("toolhead")
	}
	return &Toolhead{
		logger: logger,
		steppers: []*Stepper{
			NewStepper("stepper_x", 0.0125),
			NewStepper("stepper_y", 0.0125),
			NewStepper("stepper_z", 0.0025),
			NewStepper("stepper_e", 0.0042),
		},
	}
}

// Move implements gcode.Transform. The target is accepted as-is; limit
// checking belongs to this last layer and a bare executor has no limits.
func (t *Toolhead) Move(pos gcode.Position, speed float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandedPos = pos
	for i, s := range t.steppers {
		if i < gcode.NumAxes {
			s.setCommanded(pos[i])
		}
	}
	t.moves = append(t.moves, MoveRecord{Pos: pos, Speed: speed})
	t.logger.Debug("move to %v at %.3f mm/s", pos, speed)
	return nil
}

// GetPosition implements gcode.Transform.
func (t *Toolhead) GetPosition() gcode.Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.commandedPos
}

// SetPosition forces the commanded position, modeling an out-of-band
// position change (homing, explicit set). The host must follow up with a
// ResetLastPosition on the move core.
func (t *Toolhead) SetPosition(pos gcode.Position) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.commandedPos = pos
	for i, s := range t.steppers {
		if i < gcode.NumAxes {
			s.setCommanded(pos[i])
		}
	}
}

// Steppers implements gcode.Kinematics.
func (t *Toolhead) Steppers() []gcode.Stepper {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]gcode.Stepper, len(t.steppers))
	for i, s := range t.steppers {
		out[i] = s
	}
	return out
}

// CalcPosition implements gcode.Kinematics for cartesian rails: each
// positional axis maps directly to its stepper's commanded position.
func (t *Toolhead) CalcPosition(stepperPositions map[string]float64) []float64 {
	return []float64{
		stepperPositions["stepper_x"],
		stepperPositions["stepper_y"],
		stepperPositions["stepper_z"],
	}
}

// Moves returns the moves issued so far.
func (t *Toolhead) Moves() []MoveRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]MoveRecord, len(t.moves))
	copy(out, t.moves)
	return out
}
