package api

import (
	"gcode-host/pkg/gcode"
	"gcode-host/pkg/toolhead"
)

// HostAdapter bridges the move core and its executor into the StatusSource
// surface the server consumes.
type HostAdapter struct {
	dispatcher *gcode.Dispatcher
	toolhead   *toolhead.Toolhead
}

// NewHostAdapter creates a StatusSource over the given dispatcher and
// executor. The toolhead may be nil when no executor is wired yet.
func NewHostAdapter(dispatcher *gcode.Dispatcher, th *toolhead.Toolhead) *HostAdapter {
	return &HostAdapter{dispatcher: dispatcher, toolhead: th}
}

// GetObjectsList implements StatusSource.
func (a *HostAdapter) GetObjectsList() []string {
	objects := []string{"gcode_move"}
	if a.toolhead != nil {
		objects = append(objects, "toolhead")
	}
	return objects
}

// GetObjectStatus implements StatusSource.
func (a *HostAdapter) GetObjectStatus(name string, attrs []string) map[string]any {
	var status map[string]any
	switch name {
	case "gcode_move":
		status = a.dispatcher.Move().GetStatus().Map()
	case "toolhead":
		if a.toolhead == nil {
			return nil
		}
		pos := a.toolhead.GetPosition()
		status = map[string]any{
			"position": pos[:],
		}
	default:
		return nil
	}

	if len(attrs) == 0 {
		return status
	}
	filtered := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		if v, ok := status[attr]; ok {
			filtered[attr] = v
		}
	}
	return filtered
}

// ExecuteGCode implements StatusSource.
func (a *HostAdapter) ExecuteGCode(script string) (string, error) {
	out, err := a.dispatcher.ExecuteScript(script)
	if err != nil {
		return out, err
	}
	if out == "" {
		out = "ok"
	}
	return out, nil
}

// State implements StatusSource.
func (a *HostAdapter) State() string {
	return a.dispatcher.Move().State().String()
}
