// Package scheduler implements the capacity scheduler (§4.H): Schedule
// picks the best-fit healthy server for a resource request, trying the
// requested region first and falling back to all healthy servers.
// Adapted from the teacher's pkg/scheduler/scheduler.go — same
// zerolog/metrics idiom and error-wrapping style — but replaces
// warren's round-robin container-count selection with the spec's
// weighted-score + region-then-global fallback algorithm.
package scheduler
