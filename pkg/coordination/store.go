// Package coordination wraps the ephemeral coordination store (§2's
// component B): deployment/container-action queues, the per-deployment
// pipeline lock, the GitHub push dedupe key, worker heartbeats, and the
// deployments:<id> pub/sub channel. Grounded on redis/go-redis/v9, built
// the way wisbric-nightowl/internal/platform/redis.go constructs its
// client (redis.ParseURL + Ping) and generalizing warren's in-memory
// pkg/events.Broker onto Redis pub/sub.
package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	deploymentQueueKey       = "deployments:queue"
	containerActionQueueKey  = "container-actions:queue"
	deploymentLockPrefix     = "deployments:lock:"
	githubPushDedupePrefix   = "github:push:"
	heartbeatPrefix          = "engine:heartbeat:"
	deploymentChannelPrefix  = "deployments:"

	// DeploymentLockTTL is the pipeline lock's time-to-live (§4.L.2, §5).
	DeploymentLockTTL = 900 * time.Second
	// GithubPushDedupeTTL is the push-webhook dedupe key's TTL (§4.J.6).
	GithubPushDedupeTTL = 12 * time.Hour
	// HeartbeatTTL is the worker heartbeat key's TTL (§4.L.5).
	HeartbeatTTL = 20 * time.Second
)

// Store is the coordination-store client. Blocking dequeue calls use a
// connection dedicated to that purpose (via Dequeue*'s own context) so a
// long BLPOP never starves pub/sub or heartbeat refreshes, per §5.
type Store struct {
	rdb *redis.Client
}

// New connects to Redis and verifies reachability.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Store{rdb: client}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.rdb.Close()
}

// EnqueueDeploymentJob appends a deployment job payload to the queue (§6).
func (s *Store) EnqueueDeploymentJob(ctx context.Context, payload []byte) error {
	return s.rdb.RPush(ctx, deploymentQueueKey, payload).Err()
}

// DequeueDeploymentJob blocks until a deployment job is available.
// timeout=0 blocks indefinitely, per §4.L.1.
func (s *Store) DequeueDeploymentJob(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return s.blpop(ctx, deploymentQueueKey, timeout)
}

// EnqueueContainerAction appends a sleep/wake action payload to the queue.
func (s *Store) EnqueueContainerAction(ctx context.Context, payload []byte) error {
	return s.rdb.RPush(ctx, containerActionQueueKey, payload).Err()
}

// DequeueContainerAction blocks until a container-action job is available.
func (s *Store) DequeueContainerAction(ctx context.Context, timeout time.Duration) ([]byte, error) {
	return s.blpop(ctx, containerActionQueueKey, timeout)
}

func (s *Store) blpop(ctx context.Context, key string, timeout time.Duration) ([]byte, error) {
	result, err := s.rdb.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	// BLPop returns [key, value].
	if len(result) < 2 {
		return nil, fmt.Errorf("unexpected BLPOP result shape")
	}
	return []byte(result[1]), nil
}

// AcquireDeploymentLock reserves the per-deployment pipeline lock (§4.L.2,
// §5's at-most-one-pipeline-per-deployment invariant). Returns false if
// already held.
func (s *Store) AcquireDeploymentLock(ctx context.Context, deploymentID string) (bool, error) {
	return s.rdb.SetNX(ctx, deploymentLockPrefix+deploymentID, "1", DeploymentLockTTL).Result()
}

// ReleaseDeploymentLock releases the pipeline lock. Always called, even on
// failure (§4.L.3).
func (s *Store) ReleaseDeploymentLock(ctx context.Context, deploymentID string) error {
	return s.rdb.Del(ctx, deploymentLockPrefix+deploymentID).Err()
}

// ReserveGithubPushDedupe reserves the (projectId, commitSha) dedupe key
// with SET NX EX. Returns false if a deployment was already queued for
// this push within the TTL window (§4.J.6, §8.E5).
func (s *Store) ReserveGithubPushDedupe(ctx context.Context, projectID, commitSha string) (bool, error) {
	key := fmt.Sprintf("%s%s:%s", githubPushDedupePrefix, projectID, commitSha)
	return s.rdb.SetNX(ctx, key, "1", GithubPushDedupeTTL).Result()
}

// Heartbeat publishes this worker's liveness key with a 20s TTL (§4.L.5).
func (s *Store) Heartbeat(ctx context.Context, region string, pid int, payload []byte) error {
	key := fmt.Sprintf("%s%s:%d", heartbeatPrefix, region, pid)
	return s.rdb.Set(ctx, key, payload, HeartbeatTTL).Err()
}

// Publish emits a deployment event on its deployments:<id> channel (§6).
func (s *Store) Publish(ctx context.Context, deploymentID string, payload []byte) error {
	return s.rdb.Publish(ctx, deploymentChannelPrefix+deploymentID, payload).Err()
}

// Subscribe returns a PubSub subscribed to one deployment's event channel.
func (s *Store) Subscribe(ctx context.Context, deploymentID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, deploymentChannelPrefix+deploymentID)
}

// Client exposes the underlying redis client for callers that need
// direct GET/SET access beyond this package's named operations.
func (s *Store) Client() *redis.Client {
	return s.rdb
}
