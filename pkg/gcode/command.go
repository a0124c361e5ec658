package gcode

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"gcode-host/pkg/gcerrors"
)

// Command is a parsed command line as handed over by the dispatcher: the
// command name, a sparse parameter map, and the raw line for error reports.
type Command struct {
	Name string
	Args map[string]string
	Raw  string
}

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// ParseLine parses a single command line into a Command. Returns (nil, nil)
// for blank and comment-only lines. Classic commands ("G1 X10 Y-5") use
// letter-prefixed parameters; extended commands ("SAVE_GCODE_STATE
// NAME=tool_change") use KEY=VALUE parameters and honor shell-style quoting
// so values may contain spaces.
func ParseLine(line string) (*Command, error) {
	ln := strings.TrimSpace(line)
	if ln == "" {
		return nil, nil
	}
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = strings.TrimSpace(ln[:idx])
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	if ln == "" {
		return nil, nil
	}

	fields, err := shlex.Split(ln)
	if err != nil {
		return nil, gcerrors.CommandParseError(line, err.Error())
	}
	if len(fields) == 0 {
		return nil, nil
	}

	name := strings.ToUpper(fields[0])
	args := map[string]string{}
	for _, f := range fields[1:] {
		if f == "" {
			continue
		}
		if strings.Contains(f, "=") {
			kv := strings.SplitN(f, "=", 2)
			k := strings.ToUpper(strings.TrimSpace(kv[0]))
			if k != "" {
				args[k] = strings.TrimSpace(kv[1])
			}
			continue
		}
		// Letter-params like "P1000", "Z-5", "E0". A bare letter is a
		// present-but-empty parameter (e.g. "G28 X").
		k := strings.ToUpper(f[:1])
		args[k] = strings.TrimSpace(f[1:])
	}
	return &Command{Name: name, Args: args, Raw: line}, nil
}

// Has reports whether the parameter is present.
func (c *Command) Has(key string) bool {
	_, ok := c.Args[strings.ToUpper(key)]
	return ok
}

// Get returns the raw string value of a parameter, or def if absent.
func (c *Command) Get(key, def string) string {
	v, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return def
	}
	return v
}

// Float parses a parameter as a float. The boolean reports presence. A
// present but unparseable value is a CommandParseError carrying the raw
// command text.
func (c *Command) Float(key string) (float64, bool, error) {
	v, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return 0, false, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, true, gcerrors.CommandParseError(c.Raw, fmt.Sprintf("bad float %s=%q", key, v))
	}
	return f, true, nil
}

// FloatDefault parses a parameter as a float, returning def if absent.
func (c *Command) FloatDefault(key string, def float64) (float64, error) {
	f, ok, err := c.Float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	return f, nil
}

// FloatAbove parses a parameter that must be strictly greater than min.
// Absent parameters yield def without the bound check.
func (c *Command) FloatAbove(key string, def float64, min float64) (float64, error) {
	f, ok, err := c.Float(key)
	if err != nil {
		return 0, err
	}
	if !ok {
		return def, nil
	}
	if f <= min {
		return 0, gcerrors.InvalidParameterError(strings.ToUpper(key), f,
			fmt.Sprintf("must be above %v", min))
	}
	return f, nil
}

// IntDefault parses a parameter as an integer, returning def if absent.
func (c *Command) IntDefault(key string, def int) (int, error) {
	v, ok := c.Args[strings.ToUpper(key)]
	if !ok {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, gcerrors.CommandParseError(c.Raw, fmt.Sprintf("bad int %s=%q", key, v))
	}
	return n, nil
}
