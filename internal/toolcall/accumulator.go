// Package toolcall reassembles a tool invocation whose name and JSON arguments
// arrive as fragments spread over several stream events.
package toolcall

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	FinishToolCalls = "tool_calls"
	FinishStop      = "stop"
)

// Call is a finalized tool invocation with decoded arguments.
type Call struct {
	Name string
	Args map[string]any
}

// Arg returns a string argument, or "" when it is absent or not a string.
func (c Call) Arg(key string) string {
	s, _ := c.Args[key].(string)
	return s
}

// Accumulator is Idle until a fragment names a tool, then Accumulating until a
// finish reason closes the call. One accumulator lives for one turn.
type Accumulator struct {
	name   string
	args   strings.Builder
	active bool
}

// Active reports whether a call is being accumulated.
func (a *Accumulator) Active() bool { return a.active }

// Feed applies one tool-call delta. The first non-empty name starts the call;
// later names are ignored. Argument fragments are appended verbatim. Fragments
// that arrive before any name are dropped.
func (a *Accumulator) Feed(name, fragment string) {
	if !a.active {
		if name == "" {
			return
		}
		a.active = true
		a.name = name
	}
	a.args.WriteString(fragment)
}

// Finish closes the pending call on a tool_calls or stop reason. It returns
// false when nothing was pending, the reason does not close a call, or the
// arguments are not a JSON object. The accumulator is Idle afterwards in
// every case except an unrelated reason.
func (a *Accumulator) Finish(reason string) (Call, bool) {
	call, ok, _ := a.FinishErr(reason)
	return call, ok
}

// FinishErr behaves like Finish but reports why decoding failed.
func (a *Accumulator) FinishErr(reason string) (Call, bool, error) {
	if !a.active || (reason != FinishToolCalls && reason != FinishStop) {
		return Call{}, false, nil
	}
	call, err := a.decode()
	a.Reset()
	if err != nil {
		return Call{}, false, err
	}
	return call, true, nil
}

func (a *Accumulator) decode() (Call, error) {
	raw := strings.TrimSpace(a.args.String())
	if raw == "" {
		raw = "{}"
	}
	args := map[string]any{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return Call{}, fmt.Errorf("decode %s arguments: %w", a.name, err)
	}
	return Call{Name: a.name, Args: args}, nil
}

// Reset drops any partial call.
func (a *Accumulator) Reset() {
	a.name = ""
	a.args.Reset()
	a.active = false
}
