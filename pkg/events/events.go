// Package events publishes deployment lifecycle events to the
// deployments:<id> pub/sub channel (§6), generalizing the teacher's
// in-memory typed-event Broker (pkg/events in warren) onto the
// coordination store's Redis pub/sub instead of local channels.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/apployd/engine/pkg/coordination"
)

// Type is a deployment event type, matching §6's wire enum exactly.
type Type string

const (
	TypeQueued    Type = "queued"
	TypeBuilding  Type = "building"
	TypeDeploying Type = "deploying"
	TypeReady     Type = "ready"
	TypeFailed    Type = "failed"
	TypeSleeping  Type = "sleeping"
	TypeLog       Type = "log"
	TypeSkipped   Type = "skipped"
)

// Event is the JSON shape published on deployments:<deploymentId> (§6).
type Event struct {
	DeploymentID string    `json:"deploymentId"`
	Type         Type      `json:"type"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// Publisher publishes deployment events through the coordination store.
type Publisher struct {
	store *coordination.Store
}

// NewPublisher builds a Publisher over the given coordination store.
func NewPublisher(store *coordination.Store) *Publisher {
	return &Publisher{store: store}
}

// Publish emits an event on its deployment's channel, stamping the
// timestamp if the caller left it zero.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return p.store.Publish(ctx, event.DeploymentID, payload)
}
