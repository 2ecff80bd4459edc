package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/simrig/simrig/internal/testutil/testlog"
)

// fakeEndpoint records lifecycle calls and the budgets handed to RunCycle.
type fakeEndpoint struct {
	protocol string
	running  bool

	starts  int
	stops   int
	budgets []time.Duration

	startErr error
	cycleErr error
}

func (f *fakeEndpoint) Protocol() string { return f.protocol }

func (f *fakeEndpoint) Start() error {
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.running = true
	return nil
}

func (f *fakeEndpoint) Stop() error {
	f.stops++
	f.running = false
	return nil
}

func (f *fakeEndpoint) Running() bool { return f.running }

func (f *fakeEndpoint) RunCycle(budget time.Duration) error {
	f.budgets = append(f.budgets, budget)
	return f.cycleErr
}

func newTestCollection(t *testing.T, endpoints ...*fakeEndpoint) (*Collection, *[]time.Duration) {
	t.Helper()
	c := NewCollection()
	slept := &[]time.Duration{}
	c.sleep = func(d time.Duration) { *slept = append(*slept, d) }
	for _, ep := range endpoints {
		if err := c.Add(ep); err != nil {
			t.Fatalf("add %q: %v", ep.protocol, err)
		}
	}
	return c, slept
}

func TestAddRejectsDuplicateWithoutMutating(t *testing.T) {
	testlog.Start(t)

	c, _ := newTestCollection(t, &fakeEndpoint{protocol: "foo"}, &fakeEndpoint{protocol: "bar"})

	before := c.Protocols()
	err := c.Add(&fakeEndpoint{protocol: "bar"})
	if !errors.Is(err, ErrEndpointExists) {
		t.Fatalf("expected ErrEndpointExists, got %v", err)
	}
	if !reflect.DeepEqual(c.Protocols(), before) {
		t.Fatalf("registry mutated by failed add: %v", c.Protocols())
	}
}

func TestRemoveUnknownFailsWithoutMutating(t *testing.T) {
	testlog.Start(t)

	c, _ := newTestCollection(t, &fakeEndpoint{protocol: "foo"})

	if err := c.Remove("bar"); !errors.Is(err, ErrEndpointUnknown) {
		t.Fatalf("expected ErrEndpointUnknown, got %v", err)
	}
	if got := c.Protocols(); !reflect.DeepEqual(got, []string{"foo"}) {
		t.Fatalf("registry mutated by failed remove: %v", got)
	}

	if err := c.Remove("foo"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if got := c.Protocols(); len(got) != 0 {
		t.Fatalf("endpoint not removed: %v", got)
	}
}

func TestRemoveStopsARunningEndpoint(t *testing.T) {
	testlog.Start(t)

	ep := &fakeEndpoint{protocol: "foo"}
	c, _ := newTestCollection(t, ep)

	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if err := c.Remove("foo"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if ep.stops != 1 {
		t.Fatalf("running endpoint not stopped on remove: stops=%d", ep.stops)
	}
}

func TestSetRunningTransitionsExactlyOnce(t *testing.T) {
	testlog.Start(t)

	ep := &fakeEndpoint{protocol: "foo"}
	c, _ := newTestCollection(t, ep)

	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("repeat set running: %v", err)
	}
	if ep.starts != 1 {
		t.Fatalf("expected exactly one start, got %d", ep.starts)
	}

	if err := c.SetRunning("foo", false); err != nil {
		t.Fatalf("set stopped: %v", err)
	}
	if err := c.SetRunning("foo", false); err != nil {
		t.Fatalf("repeat set stopped: %v", err)
	}
	if ep.stops != 1 {
		t.Fatalf("expected exactly one stop, got %d", ep.stops)
	}

	if err := c.SetRunning("baz", true); !errors.Is(err, ErrEndpointUnknown) {
		t.Fatalf("expected ErrEndpointUnknown, got %v", err)
	}
}

func TestSetRunningKeepsFlagOnStartFailure(t *testing.T) {
	testlog.Start(t)

	ep := &fakeEndpoint{protocol: "foo", startErr: errors.New("port in use")}
	c, _ := newTestCollection(t, ep)

	if err := c.SetRunning("foo", true); err == nil {
		t.Fatalf("expected start failure to propagate")
	}
	running, err := c.Running("foo")
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if running {
		t.Fatalf("flag flipped despite failed start")
	}
}

func TestRunningQueries(t *testing.T) {
	testlog.Start(t)

	c, _ := newTestCollection(t, &fakeEndpoint{protocol: "foo"}, &fakeEndpoint{protocol: "bar"})

	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("set running: %v", err)
	}

	running, err := c.Running("foo")
	if err != nil || !running {
		t.Fatalf("foo should be running: %v %v", running, err)
	}
	running, err = c.Running("bar")
	if err != nil || running {
		t.Fatalf("bar should be stopped: %v %v", running, err)
	}
	if _, err := c.Running("baz"); !errors.Is(err, ErrEndpointUnknown) {
		t.Fatalf("expected ErrEndpointUnknown, got %v", err)
	}

	want := map[string]bool{"foo": true, "bar": false}
	if got := c.RunningAll(); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected running map: %v", got)
	}
}

func TestTickSplitsBudgetAcrossRunningEndpoints(t *testing.T) {
	testlog.Start(t)

	foo := &fakeEndpoint{protocol: "foo"}
	bar := &fakeEndpoint{protocol: "bar"}
	c, slept := newTestCollection(t, foo, bar)

	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if err := c.SetRunning("bar", true); err != nil {
		t.Fatalf("set running: %v", err)
	}

	c.Tick(100 * time.Millisecond)

	if len(foo.budgets) != 1 || foo.budgets[0] != 50*time.Millisecond {
		t.Fatalf("foo budgets: %v", foo.budgets)
	}
	if len(bar.budgets) != 1 || bar.budgets[0] != 50*time.Millisecond {
		t.Fatalf("bar budgets: %v", bar.budgets)
	}
	if len(*slept) != 0 {
		t.Fatalf("tick slept with endpoints running: %v", *slept)
	}
}

func TestTickSkipsStoppedEndpoints(t *testing.T) {
	testlog.Start(t)

	foo := &fakeEndpoint{protocol: "foo"}
	bar := &fakeEndpoint{protocol: "bar"}
	c, _ := newTestCollection(t, foo, bar)

	if err := c.SetRunning("bar", true); err != nil {
		t.Fatalf("set running: %v", err)
	}

	c.Tick(100 * time.Millisecond)

	if len(foo.budgets) != 0 {
		t.Fatalf("stopped endpoint was cycled: %v", foo.budgets)
	}
	if len(bar.budgets) != 1 || bar.budgets[0] != 100*time.Millisecond {
		t.Fatalf("running endpoint should get the whole budget: %v", bar.budgets)
	}
}

func TestTickIdlesWholeBudgetWhenNothingRuns(t *testing.T) {
	testlog.Start(t)

	foo := &fakeEndpoint{protocol: "foo"}
	c, slept := newTestCollection(t, foo)

	c.Tick(100 * time.Millisecond)

	if len(foo.budgets) != 0 {
		t.Fatalf("no run cycle expected: %v", foo.budgets)
	}
	if len(*slept) != 1 || (*slept)[0] != 100*time.Millisecond {
		t.Fatalf("expected one idle sleep of the full budget: %v", *slept)
	}
}

func TestTickSurvivesRunCycleErrors(t *testing.T) {
	testlog.Start(t)

	foo := &fakeEndpoint{protocol: "foo", cycleErr: errors.New("transient io failure")}
	bar := &fakeEndpoint{protocol: "bar"}
	c, _ := newTestCollection(t, foo, bar)

	if err := c.SetRunning("foo", true); err != nil {
		t.Fatalf("set running: %v", err)
	}
	if err := c.SetRunning("bar", true); err != nil {
		t.Fatalf("set running: %v", err)
	}

	c.Tick(100 * time.Millisecond)

	if len(bar.budgets) != 1 {
		t.Fatalf("error in one endpoint starved the next: %v", bar.budgets)
	}
}

// orderedEndpoint appends its protocol to a shared log on every cycle.
type orderedEndpoint struct {
	fakeEndpoint
	cycled *[]string
}

func (o *orderedEndpoint) RunCycle(budget time.Duration) error {
	*o.cycled = append(*o.cycled, o.protocol)
	return o.fakeEndpoint.RunCycle(budget)
}

func TestTickServesEndpointsInRegistrationOrder(t *testing.T) {
	testlog.Start(t)

	var cycled []string
	c := NewCollection()
	c.sleep = func(time.Duration) {}

	for _, name := range []string{"zeta", "alpha", "mid"} {
		ep := &orderedEndpoint{fakeEndpoint: fakeEndpoint{protocol: name}, cycled: &cycled}
		if err := c.Add(ep); err != nil {
			t.Fatalf("add: %v", err)
		}
		if err := c.SetRunning(name, true); err != nil {
			t.Fatalf("set running: %v", err)
		}
	}

	c.Tick(90 * time.Millisecond)

	// Registration order, not sorted order, drives iteration.
	if !reflect.DeepEqual(cycled, []string{"zeta", "alpha", "mid"}) {
		t.Fatalf("unexpected iteration order: %v", cycled)
	}
}
