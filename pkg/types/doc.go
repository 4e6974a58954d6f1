// Package types defines the engine's domain model: organizations,
// subscriptions, servers, projects, deployments, containers, usage
// records, and the auditing/replay-protection entities used by the
// pipeline, scheduler, and stats collector.
//
// Enums are typed strings with exported constants, matching the storage
// layer's string-column mapping. Optional fields use pointers (*time.Time)
// or an omitempty string; nil/"" means "not yet set", never a zero value
// with a separate meaning.
package types
