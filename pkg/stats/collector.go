package stats

import (
	"context"
	"math"
	"sync/atomic"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/runtime"
	"github.com/apployd/engine/pkg/storage"
	"github.com/apployd/engine/pkg/types"
)

const (
	pollInterval  = 30 * time.Second
	initialDelay  = 5 * time.Second
	maxMapEntries = 10000
)

// ownership is one resolved (or negatively-cached) container owner.
type ownership struct {
	organizationID string
	subscriptionID string
	projectID      string
	found          bool
}

// Collector implements §4.N. Not safe for concurrent Run calls; only one
// worker process is expected to run it per region.
type Collector struct {
	store          *storage.Store
	runtime        *runtime.Runtime
	clock          clock.Clock
	platformPrefix string

	ownershipCache *cache.Cache
	prevNetwork    *boundedMap
	prevCPU        *boundedMap
	prevCPUAt      map[string]time.Time

	running        atomic.Bool
	skipLogged     atomic.Bool
	lastCycleStart time.Time
}

// New builds a Collector. platformPrefix filters runtime container ids
// to ones this engine created (§4.N step 1).
func New(store *storage.Store, rt *runtime.Runtime, clk clock.Clock, platformPrefix string) *Collector {
	return &Collector{
		store:          store,
		runtime:        rt,
		clock:          clk,
		platformPrefix: platformPrefix,
		ownershipCache: cache.New(5*time.Minute, 10*time.Minute),
		prevNetwork:    newBoundedMap(maxMapEntries),
		prevCPU:        newBoundedMap(maxMapEntries),
		prevCPUAt:      make(map[string]time.Time),
	}
}

// Run blocks, driving the 30s/5s-initial-delay cycle until ctx is done.
func (c *Collector) Run(ctx context.Context) {
	logger := log.WithComponent("stats")

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			c.runCycle(ctx, logger)
			timer.Reset(pollInterval)
		}
	}
}

// runCycle implements §4.N steps 1-5, skipping (and logging once) if
// the previous cycle is still in flight.
func (c *Collector) runCycle(ctx context.Context, logger zerolog.Logger) {
	if !c.running.CompareAndSwap(false, true) {
		metrics.StatsCollectorCycleSkippedTotal.Inc()
		if c.skipLogged.CompareAndSwap(false, true) {
			logger.Warn().Msg("skipping stats cycle, previous cycle still running")
		}
		return
	}
	defer c.running.Store(false)
	c.skipLogged.Store(false)

	now := c.clock.Now()
	intervalSeconds := initialDelay.Seconds()
	if !c.lastCycleStart.IsZero() {
		intervalSeconds = math.Max(1, now.Sub(c.lastCycleStart).Seconds())
	}
	cycleStart := now
	c.lastCycleStart = cycleStart

	containers, err := c.store.ListRuntimePrefixedContainers(ctx, c.platformPrefix)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list containers for stats cycle")
		return
	}

	seen := make(map[string]bool, len(containers))
	var records []*types.UsageRecord

	for _, container := range containers {
		seen[container.DockerContainerID] = true

		owner, err := c.resolveOwnership(ctx, container.ID)
		if err != nil {
			logger.Warn().Err(err).Str("container_id", container.ID).Msg("ownership resolution failed")
			continue
		}
		if !owner.found {
			continue
		}

		sample, err := c.runtime.GetContainerStats(ctx, container.DockerContainerID)
		if err != nil {
			logger.Warn().Err(err).Str("container_id", container.ID).Msg("failed to read container stats")
			continue
		}

		records = append(records, c.deriveRecords(container, owner, sample, cycleStart, intervalSeconds)...)
	}

	c.prevNetwork.prune(seen)
	c.prevCPU.prune(seen)
	for id := range c.prevCPUAt {
		if !seen[id] {
			delete(c.prevCPUAt, id)
		}
	}

	if len(records) == 0 {
		return
	}
	if err := c.store.InsertUsageRecords(ctx, records); err != nil {
		logger.Error().Err(err).Msg("failed to insert usage records")
		return
	}
	metrics.UsageRecordsWrittenTotal.Add(float64(len(records)))
}

// resolveOwnership implements §4.N step 2's TTL cache (positive 5 min,
// negative one poll interval).
func (c *Collector) resolveOwnership(ctx context.Context, containerID string) (ownership, error) {
	if cached, ok := c.ownershipCache.Get(containerID); ok {
		return cached.(ownership), nil
	}

	orgID, subID, projectID, err := c.store.OwnerOf(ctx, containerID)
	if err != nil {
		c.ownershipCache.Set(containerID, ownership{found: false}, pollInterval)
		return ownership{found: false}, nil
	}

	owner := ownership{organizationID: orgID, subscriptionID: subID, projectID: projectID, found: true}
	c.ownershipCache.Set(containerID, owner, cache.DefaultExpiration)
	return owner, nil
}

// deriveRecords implements §4.N step 4's CPU/RAM/bandwidth formulas.
func (c *Collector) deriveRecords(container *types.Container, owner ownership, sample runtime.ContainerStats, cycleStart time.Time, intervalSeconds float64) []*types.UsageRecord {
	var records []*types.UsageRecord
	runtimeID := container.DockerContainerID

	if prevCPU, ok := c.prevCPU.get(runtimeID); ok {
		prevAt, hasPrevAt := c.prevCPUAt[runtimeID]
		if hasPrevAt && sample.CPUUsageNanos > prevCPU {
			deltaWallSeconds := cycleStart.Sub(prevAt).Seconds()
			if deltaWallSeconds > 0 {
				deltaCPUNanos := float64(sample.CPUUsageNanos - prevCPU)
				cpuMillicores := deltaCPUNanos / deltaWallSeconds / 1e9 * 1000
				cpuMillicoreSeconds := int64(math.Round(cpuMillicores * intervalSeconds))
				if cpuMillicoreSeconds > 0 {
					records = append(records, &types.UsageRecord{
						ID: types.NewID(), OrganizationID: owner.organizationID, SubscriptionID: owner.subscriptionID,
						ProjectID: owner.projectID, MetricType: types.MetricCPUMillicoreSeconds,
						Quantity: cpuMillicoreSeconds, Unit: "millicore_seconds", RecordedAt: cycleStart,
					})
				}
			}
		}
	}
	c.prevCPU.set(runtimeID, sample.CPUUsageNanos)
	c.prevCPUAt[runtimeID] = cycleStart

	memUsageMb := float64(sample.MemUsageBytes) / (1024 * 1024)
	ramMbSeconds := int64(math.Round(memUsageMb * intervalSeconds))
	if ramMbSeconds > 0 {
		records = append(records, &types.UsageRecord{
			ID: types.NewID(), OrganizationID: owner.organizationID, SubscriptionID: owner.subscriptionID,
			ProjectID: owner.projectID, MetricType: types.MetricRAMMbSeconds,
			Quantity: ramMbSeconds, Unit: "mb_seconds", RecordedAt: cycleStart,
		})
	}

	total := sample.NetRxBytes + sample.NetTxBytes
	if prevTotal, ok := c.prevNetwork.get(runtimeID); ok && total > prevTotal {
		delta := int64(total - prevTotal)
		if delta > 0 {
			records = append(records, &types.UsageRecord{
				ID: types.NewID(), OrganizationID: owner.organizationID, SubscriptionID: owner.subscriptionID,
				ProjectID: owner.projectID, MetricType: types.MetricBandwidthBytes,
				Quantity: delta, Unit: "bytes", RecordedAt: cycleStart,
			})
		}
	}
	c.prevNetwork.set(runtimeID, total)

	return records
}
