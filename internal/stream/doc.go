// Package stream exposes simulated devices over a line-oriented text
// protocol carried on a TCP stream.
//
// A device is described declaratively as a list of command specs: regular
// expression patterns whose capture groups become invocation arguments for
// named members of the device (or its interface object). Binding resolves
// the specs into an immutable, ordered command table; per-connection
// dispatchers frame requests by terminator, pick the first matching command
// and write the mapped reply back.
//
// Endpoints are driven cooperatively: all I/O happens inside RunCycle,
// which performs one bounded pass over network readiness and never blocks
// past its time budget. See the scheduler package for time-slicing several
// endpoints on a single goroutine.
package stream
