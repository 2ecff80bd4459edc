// Package scheduler drives a set of protocol endpoints cooperatively on a
// single goroutine, dividing each tick's wall-clock budget evenly across
// whichever endpoints are currently running.
package scheduler
