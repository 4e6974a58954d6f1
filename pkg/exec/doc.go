// Package exec is the host executor (component C): Run and RunStreaming
// wrap os/exec.CommandContext with the timeout and logging rules §4.C
// requires. Output is returned unredacted; build-log redaction happens in
// pkg/runtime.
package exec
