// Package runtime implements the container runtime adapter (§4.D).
//
// Runtime wraps a containerd client in the "apployd" namespace to build
// images (BuildImage), run/stop/start/delete deployment containers with
// a hardened OCI policy (read-only rootfs, dropped capabilities, pids
// and memory/CPU limits), and probe them (HealthCheck) using the exact
// attempt/backoff/log-cadence algorithm the spec names. Adapted from
// the teacher's pkg/runtime/containerd.go, generalized from
// Warren's "service/task" naming to "deployment/container".
package runtime
