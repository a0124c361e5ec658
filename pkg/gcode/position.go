// Package gcode implements the G-code move-state and coordinate-transform
// core. It converts incoming motion commands from logical, user-facing
// coordinates into absolute toolhead coordinates, tracks the base and homing
// offset frames, applies absolute/relative interpretation per axis, and
// supports named save/restore of the full move state for nested operation
// sequences such as tool changes and probing routines.
package gcode

import "fmt"

// Axis identifies one of the four motion axes.
type Axis int

const (
	AxisX Axis = iota
	AxisY
	AxisZ
	AxisE

	// NumAxes is the number of components in a Position.
	NumAxes = 4
)

// axisLetters maps axis indices to their G-code parameter letters.
var axisLetters = [NumAxes]string{"X", "Y", "Z", "E"}

// String returns the G-code letter for the axis.
func (a Axis) String() string {
	if a < 0 || int(a) >= NumAxes {
		return "?"
	}
	return axisLetters[a]
}

// AxisByLetter returns the axis for a G-code parameter letter.
func AxisByLetter(letter string) (Axis, bool) {
	switch letter {
	case "X":
		return AxisX, true
	case "Y":
		return AxisY, true
	case "Z":
		return AxisZ, true
	case "E":
		return AxisE, true
	}
	return 0, false
}

// Position is a 4-component coordinate vector, one component per Axis.
// The value type guarantees every position always has exactly four
// components; snapshots and status reads copy it implicitly.
type Position [NumAxes]float64

// Sub returns p - o elementwise.
func (p Position) Sub(o Position) Position {
	var out Position
	for i := range p {
		out[i] = p[i] - o[i]
	}
	return out
}

// Format renders the position as space-separated "X:v Y:v ..." pairs with
// the given precision, covering the first n axes.
func (p Position) Format(n int, precision int) string {
	if n > NumAxes {
		n = NumAxes
	}
	out := ""
	for i := 0; i < n; i++ {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s:%.*f", Axis(i), precision, p[i])
	}
	return out
}
