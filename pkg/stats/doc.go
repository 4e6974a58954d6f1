// Package stats implements component N, the usage-metering collector:
// every 30s (after an initial 5s delay), one cycle at a time, it polls
// runtime cgroup counters for platform-managed containers, resolves
// ownership through a short-lived cache, derives billable usage rows,
// and batch-inserts them. Grounded on the teacher's
// pkg/reconciler/reconciler.go ticker+single-flight idiom (an in-flight
// flag guarding reconcile(), skip-and-log-once on overlap), generalized
// from container health reconciliation to usage-stats polling.
// patrickmn/go-cache replaces a hand-rolled map for the ownership TTL
// cache (positive 5 min, negative one poll interval).
package stats
