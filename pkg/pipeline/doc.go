// Package pipeline implements component K, the deployment pipeline: one
// Run(ctx, deploymentID) call drives a deployment's
// queued->building->deploying->ready state machine, with a cancellation
// guard re-checked at every transition boundary. Grounded on the
// teacher's pkg/reconciler/reconciler.go converge-loop idiom (desired vs.
// actual state, step-by-step with guard checks) and
// pkg/worker/worker.go's executeContainer pull->mount->create->start->poll
// sequential shape — not pkg/manager/manager.go or fsm.go, which are
// raft-backed CRUD plumbing and a generic command dispatcher, neither of
// which models a multi-stage pipeline. Compensating cleanup on failure is
// a deferred closure, grounded on containerd.go's defer cleanup style.
package pipeline
