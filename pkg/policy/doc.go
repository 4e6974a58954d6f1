// Package policy implements the resource policy (§4.I): AssertCanAllocate
// sums an organization's project resource reservations under a
// serializable transaction and rejects a request that would exceed the
// active subscription's pool. New package — the teacher has no
// multi-tenant quota concept — grounded on warren's NodeResources
// alloc/dealloc accounting idiom (pkg/types' available-capacity style)
// generalized from per-node capacity to per-organization quota, and
// on pkg/retry.Serializable for the caller-side retry-on-conflict loop
// §4.I names.
package policy
