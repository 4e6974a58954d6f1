// Package deploy implements component J, the deployment request service:
// Create validates a project's entitlements, schedules a server (H), opens
// a serializable transaction to insert the queued deployment row and
// apply/transfer its capacity reservation (I), then after commit enqueues
// the job and publishes `queued` on B. Grounded on the teacher's
// Manager.CreateService/CreateContainer request-validate-then-store idiom
// (pkg/manager/manager.go), generalized from direct raft-backed storage
// calls into the schedule+transact+enqueue sequence this spec's multi-
// tenant model requires.
package deploy
