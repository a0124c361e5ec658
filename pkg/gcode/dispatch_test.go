package gcode

import (
	"strings"
	"testing"

	"gcode-host/pkg/gcerrors"
)

type fakeStepper struct {
	name      string
	mcuPos    int64
	commanded float64
}

func (s *fakeStepper) Name() string               { return s.name }
func (s *fakeStepper) MCUPosition() int64         { return s.mcuPos }
func (s *fakeStepper) CommandedPosition() float64 { return s.commanded }

type fakeKinematics struct {
	steppers []Stepper
}

func (k *fakeKinematics) Steppers() []Stepper { return k.steppers }

func (k *fakeKinematics) CalcPosition(stepperPositions map[string]float64) []float64 {
	return []float64{
		stepperPositions["stepper_x"],
		stepperPositions["stepper_y"],
		stepperPositions["stepper_z"],
	}
}

func TestDispatchReportPosition(t *testing.T) {
	m, _ := newReadyMove(t)
	d := NewDispatcher(m, nil)

	if _, err := d.ExecuteLine("G1 X10.5 Y-2 Z0.3 E1.25"); err != nil {
		t.Fatalf("G1: %v", err)
	}
	out, err := d.ExecuteLine("M114")
	if err != nil {
		t.Fatalf("M114: %v", err)
	}
	if out != "X:10.500 Y:-2.000 Z:0.300 E:1.250" {
		t.Errorf("M114 = %q", out)
	}
}

func TestDispatchGetState(t *testing.T) {
	m, _ := newReadyMove(t)
	d := NewDispatcher(m, nil)

	out, err := d.ExecuteLine("GET_GCODE_STATE")
	if err != nil {
		t.Fatalf("GET_GCODE_STATE: %v", err)
	}
	for _, want := range []string{"absolute_coord: true", "absolute_extrude: true", "extrude_factor: 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDispatchGetPosition(t *testing.T) {
	exec := &fakeExecutor{}
	kin := &fakeKinematics{steppers: []Stepper{
		&fakeStepper{name: "stepper_x", mcuPos: 800, commanded: 10},
		&fakeStepper{name: "stepper_y", mcuPos: 0, commanded: 0},
		&fakeStepper{name: "stepper_z", mcuPos: 0, commanded: 0},
	}}
	m := NewMove(nil, kin)
	m.HandleReady(exec)
	d := NewDispatcher(m, nil)

	if _, err := d.ExecuteLine("G1 X10"); err != nil {
		t.Fatalf("G1: %v", err)
	}
	out, err := d.ExecuteLine("GET_POSITION")
	if err != nil {
		t.Fatalf("GET_POSITION: %v", err)
	}
	for _, want := range []string{
		"mcu: stepper_x:800 stepper_y:0 stepper_z:0",
		"stepper: stepper_x:10.000000",
		"kinematic: X:10.000000 Y:0.000000 Z:0.000000",
		"toolhead: X:10.000000 Y:0.000000 Z:0.000000 E:0.000000",
		"gcode: X:10.000000 Y:0.000000 Z:0.000000 E:0.000000",
		"gcode base: X:0.000000 Y:0.000000 Z:0.000000 E:0.000000",
		"gcode homing: X:0.000000 Y:0.000000 Z:0.000000",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestDispatchGetPositionNotReady(t *testing.T) {
	m := NewMove(nil, nil)
	d := NewDispatcher(m, nil)

	_, err := d.ExecuteLine("GET_POSITION")
	if !gcerrors.Is(err, gcerrors.ErrNotReady) {
		t.Errorf("err = %v, want not ready", err)
	}
}

func TestDispatchUnknownCommandIgnored(t *testing.T) {
	m, _ := newReadyMove(t)
	d := NewDispatcher(m, nil)

	out, err := d.ExecuteLine("M117 hello")
	if err != nil || out != "" {
		t.Errorf("unknown command: out=%q err=%v", out, err)
	}
}

func TestDispatchErrorResyncsPosition(t *testing.T) {
	m, exec := newReadyMove(t)
	d := NewDispatcher(m, nil)

	if _, err := d.ExecuteLine("G1 X10"); err != nil {
		t.Fatalf("G1: %v", err)
	}
	// A failing command resynchronizes the core from the executor.
	exec.pos = Position{3, 0, 0, 0}
	if _, err := d.ExecuteLine("G1 Xoops"); err == nil {
		t.Fatal("expected error")
	}
	if m.GetStatus().Position != (Position{3, 0, 0, 0}) {
		t.Errorf("position = %v, want resynced [3 0 0 0]", m.GetStatus().Position)
	}
}

func TestExecuteScript(t *testing.T) {
	m, _ := newReadyMove(t)
	d := NewDispatcher(m, nil)

	out, err := d.ExecuteScript("G1 X10 Y5 F1200\n; comment\nG91\nG1 X1\nM114")
	if err != nil {
		t.Fatalf("script: %v", err)
	}
	if out != "X:11.000 Y:5.000 Z:0.000 E:0.000" {
		t.Errorf("script output = %q", out)
	}
}

func TestExecuteScriptStopsAtError(t *testing.T) {
	m, _ := newReadyMove(t)
	d := NewDispatcher(m, nil)

	_, err := d.ExecuteScript("G1 X10\nG20\nG1 X99")
	if !gcerrors.Is(err, gcerrors.ErrUnsupportedCommand) {
		t.Fatalf("err = %v, want unsupported command", err)
	}
	if got := m.GetStatus().Position[AxisX]; got != 10 {
		t.Errorf("X = %v, want 10 (script stopped at error)", got)
	}
}
