// Package recovery implements component O: a 60s ticker (10s initial
// delay) that reconciles every project's active container against its
// actual containerd state, restarting what it can and marking the rest
// crashed. Grounded on the teacher's pkg/reconciler/reconciler.go
// ticker+mutex+single reconcile() idiom, narrowed from its
// nodes+containers dual reconcile to this spec's single container
// reconcile (no node/raft concept here).
package recovery
