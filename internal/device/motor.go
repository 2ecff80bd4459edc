// Package device bundles the simulated devices shipped with simrig.
package device

import (
	"fmt"

	"github.com/simrig/simrig/internal/stream"
)

// Motor is a small simulated velocity-controlled motor. Speed ramps toward
// the target one unit per simulation step while the motor is moving.
//
// Motor is driven from the single cooperative loop and needs no locking.
type Motor struct {
	speed  int
	target int
	moving bool
}

func NewMotor() *Motor {
	return &Motor{}
}

func (m *Motor) Speed() int  { return m.speed }
func (m *Motor) Target() int { return m.target }

func (m *Motor) Status() string {
	if m.moving {
		return fmt.Sprintf("MOVING speed=%d target=%d", m.speed, m.target)
	}
	return fmt.Sprintf("IDLE speed=%d target=%d", m.speed, m.target)
}

// Step advances the simulation by one tick.
func (m *Motor) Step() {
	if !m.moving {
		return
	}
	switch {
	case m.speed < m.target:
		m.speed++
	case m.speed > m.target:
		m.speed--
	default:
		m.moving = false
	}
}

// Members exposes the motor to stream command binding.
func (m *Motor) Members() *stream.MemberTable {
	t := stream.NewMemberTable()

	t.SetMethod("set_target", func(args ...any) (any, error) {
		v, err := intArg(args, 0)
		if err != nil {
			return nil, err
		}
		m.target = v
		return nil, nil
	})
	t.SetMethod("get_target", func(args ...any) (any, error) {
		return m.target, nil
	})
	t.SetMethod("go", func(args ...any) (any, error) {
		m.moving = true
		return nil, nil
	})
	t.SetMethod("halt", func(args ...any) (any, error) {
		m.moving = false
		m.target = m.speed
		return nil, nil
	})
	t.SetMethod("status", func(args ...any) (any, error) {
		return m.Status(), nil
	})

	t.SetProperty("speed", stream.Accessor{
		Get: func() any { return m.speed },
		Set: func(value any) error {
			v, ok := value.(int)
			if !ok {
				return fmt.Errorf("speed wants an int, got %T", value)
			}
			m.speed = v
			m.target = v
			return nil
		},
	})

	return t
}

// Commands is the stream command table for the motor protocol.
func (m *Motor) Commands() []stream.Spec {
	return []stream.Spec{
		stream.Cmd{
			Name:        "set_target",
			Pattern:     `T=([0-9]+)`,
			ArgMappings: []stream.ArgMapping{stream.IntArg},
			Doc:         "set the target speed",
		},
		stream.Cmd{
			Name:    "get_target",
			Pattern: `T\?`,
			Doc:     "read the target speed",
		},
		stream.Cmd{
			Name:    "go",
			Pattern: `GO`,
			Return:  stream.ConstantReturn("OK"),
			Doc:     "start ramping toward the target",
		},
		stream.Cmd{
			Name:    "halt",
			Pattern: `HALT`,
			Return:  stream.ConstantReturn("OK"),
			Doc:     "stop ramping and hold the current speed",
		},
		stream.Cmd{
			Name:    "status",
			Pattern: `ST\?`,
			Doc:     "report the motor state",
		},
		stream.Var{
			Name:         "speed",
			ReadPattern:  `S\?`,
			WritePattern: `S=([0-9]+)`,
			ArgMappings:  []stream.ArgMapping{stream.IntArg},
			Doc:          "current speed, writable for direct jumps",
		},
	}
}

func intArg(args []any, i int) (int, error) {
	if i >= len(args) {
		return 0, fmt.Errorf("missing argument %d", i)
	}
	v, ok := args[i].(int)
	if !ok {
		return 0, fmt.Errorf("argument %d wants an int, got %T", i, args[i])
	}
	return v, nil
}
