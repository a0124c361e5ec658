package gcode

import (
	"strings"

	"gcode-host/pkg/log"
)

// Dispatcher routes parsed commands to the move core. It is the in-process
// stand-in for the full command interpreter: it owns no coordinate state of
// its own and simply maps the operation surface onto Move.
type Dispatcher struct {
	move   *Move
	logger *log.Logger
}

// NewDispatcher creates a dispatcher over the given move core.
func NewDispatcher(move *Move, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.GetLogger("gcode")
	}
	return &Dispatcher{move: move, logger: logger}
}

// Move returns the underlying move core.
func (d *Dispatcher) Move() *Move {
	return d.move
}

// Dispatch executes one parsed command and returns any response text for
// the operator. Query commands (M114, GET_GCODE_STATE, GET_POSITION)
// produce output; mutating commands return an empty response.
func (d *Dispatcher) Dispatch(cmd *Command) (string, error) {
	switch cmd.Name {
	case "G0", "G1":
		return "", d.move.CmdMove(cmd)
	case "G20":
		return "", d.move.CmdSetUnitsInches(cmd)
	case "G21":
		d.move.CmdSetUnitsMillimeters()
		return "", nil
	case "G90":
		d.move.SetAbsoluteCoord(true)
		return "", nil
	case "G91":
		d.move.SetAbsoluteCoord(false)
		return "", nil
	case "M82":
		d.move.SetAbsoluteExtrude(true)
		return "", nil
	case "M83":
		d.move.SetAbsoluteExtrude(false)
		return "", nil
	case "G92":
		return "", d.move.CmdSetOrigin(cmd)
	case "M114":
		return d.move.CmdReportPosition(), nil
	case "M220":
		return "", d.move.CmdSetFeedOverride(cmd)
	case "M221":
		return "", d.move.CmdSetExtrudeOverride(cmd)
	case "SET_GCODE_OFFSET":
		return "", d.move.CmdSetOffset(cmd)
	case "SAVE_GCODE_STATE":
		return "", d.move.CmdSaveState(cmd)
	case "RESTORE_GCODE_STATE":
		return "", d.move.CmdRestoreState(cmd)
	case "GET_GCODE_STATE":
		return d.move.CmdGetState(), nil
	case "GET_POSITION":
		return d.move.CmdGetPosition()
	default:
		d.logger.Debug("ignoring unknown command: %s", cmd.Name)
		return "", nil
	}
}

// ExecuteLine parses and dispatches a single command line. Blank and
// comment-only lines produce no output and no error. A command error
// resynchronizes the last position from the executor, since a partially
// issued script leaves the executor as the position authority.
func (d *Dispatcher) ExecuteLine(line string) (string, error) {
	cmd, err := ParseLine(line)
	if err != nil {
		return "", err
	}
	if cmd == nil {
		return "", nil
	}
	out, err := d.Dispatch(cmd)
	if err != nil {
		d.logger.WithError(err).Warn("command failed")
		d.move.ResetLastPosition()
		return "", err
	}
	return out, nil
}

// ExecuteScript runs a multi-line script, stopping at the first error.
// Responses from query commands are concatenated in order.
func (d *Dispatcher) ExecuteScript(script string) (string, error) {
	var outputs []string
	for _, line := range strings.Split(script, "\n") {
		out, err := d.ExecuteLine(line)
		if err != nil {
			return strings.Join(outputs, "\n"), err
		}
		if out != "" {
			outputs = append(outputs, out)
		}
	}
	return strings.Join(outputs, "\n"), nil
}
