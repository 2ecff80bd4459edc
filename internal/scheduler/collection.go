package scheduler

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/simrig/simrig/internal/logging"
	"github.com/simrig/simrig/internal/observability"
)

var (
	ErrEndpointExists  = errors.New("scheduler: protocol already registered")
	ErrEndpointUnknown = errors.New("scheduler: unknown protocol")
)

// Endpoint is one protocol adapter driven by the collection. Start and Stop
// bracket the listener lifecycle; RunCycle performs one bounded I/O pass and
// must return within its budget.
type Endpoint interface {
	Protocol() string
	Start() error
	Stop() error
	Running() bool
	RunCycle(budget time.Duration) error
}

// Collection owns a named set of endpoints and time-slices a per-tick
// budget evenly across the ones currently running. Everything executes on
// the caller's goroutine; there is no parallelism and no locking.
type Collection struct {
	order     []string
	endpoints map[string]Endpoint
	running   map[string]bool
	sleep     func(time.Duration)
	log       zerolog.Logger
}

func NewCollection() *Collection {
	return &Collection{
		endpoints: make(map[string]Endpoint),
		running:   make(map[string]bool),
		sleep:     time.Sleep,
		log:       logging.Component("scheduler"),
	}
}

// Add registers an endpoint under its protocol name. A duplicate name fails
// without mutating the collection.
func (c *Collection) Add(ep Endpoint) error {
	name := ep.Protocol()
	if _, ok := c.endpoints[name]; ok {
		return fmt.Errorf("%w: %q", ErrEndpointExists, name)
	}
	c.endpoints[name] = ep
	c.running[name] = false
	c.order = append(c.order, name)
	return nil
}

// Remove deregisters an endpoint, stopping it first if it is running. An
// unknown name fails without mutating the collection.
func (c *Collection) Remove(name string) error {
	ep, ok := c.endpoints[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEndpointUnknown, name)
	}
	if c.running[name] {
		if err := ep.Stop(); err != nil {
			c.log.Warn().Str("protocol", name).Err(err).Msg("stop on remove failed")
		}
	}
	delete(c.endpoints, name)
	delete(c.running, name)
	for i, n := range c.order {
		if n == name {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return nil
}

// SetRunning starts or stops the named endpoint. The lifecycle call happens
// exactly once per actual transition; setting the current state again is a
// no-op. The running flag only changes when the transition succeeds.
func (c *Collection) SetRunning(name string, running bool) error {
	ep, ok := c.endpoints[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrEndpointUnknown, name)
	}
	if c.running[name] == running {
		return nil
	}
	if running {
		if err := ep.Start(); err != nil {
			return fmt.Errorf("start %q: %w", name, err)
		}
	} else {
		if err := ep.Stop(); err != nil {
			return fmt.Errorf("stop %q: %w", name, err)
		}
	}
	c.running[name] = running
	return nil
}

// Running reports whether the named endpoint is currently flagged running.
func (c *Collection) Running(name string) (bool, error) {
	if _, ok := c.endpoints[name]; !ok {
		return false, fmt.Errorf("%w: %q", ErrEndpointUnknown, name)
	}
	return c.running[name], nil
}

// RunningAll returns the full protocol-to-running mapping.
func (c *Collection) RunningAll() map[string]bool {
	out := make(map[string]bool, len(c.running))
	for name, running := range c.running {
		out[name] = running
	}
	return out
}

// Protocols lists registered protocol names in sorted order.
func (c *Collection) Protocols() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	sort.Strings(out)
	return out
}

// Tick apportions budget across the running endpoints in registration
// order: each of the n running endpoints gets one RunCycle with budget/n.
// With nothing running the whole budget is spent as idle wait so the host
// loop never spins hot. An endpoint finishing its cycle early does not hand
// unused budget to the others.
func (c *Collection) Tick(budget time.Duration) {
	observability.RecordTick()

	n := 0
	for _, name := range c.order {
		if c.running[name] {
			n++
		}
	}
	if n == 0 {
		c.sleep(budget)
		return
	}

	slice := budget / time.Duration(n)
	for _, name := range c.order {
		if !c.running[name] {
			continue
		}
		if err := c.endpoints[name].RunCycle(slice); err != nil {
			c.log.Error().Str("protocol", name).Err(err).Msg("run cycle failed")
		}
	}
}
