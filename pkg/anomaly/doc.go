// Package anomaly implements component P: a pure, stateless risk-score
// computation over recent-vs-baseline usage windows per project. There
// is no teacher analogue (warren has no usage-billing or attack-mode
// concept); the shape follows the request/response struct idiom used
// throughout pkg/scheduler and pkg/policy instead, and pkg/clock
// supplies "now" for deterministic tests.
package anomaly
