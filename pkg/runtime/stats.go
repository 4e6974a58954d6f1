package runtime

import (
	"context"
	"fmt"

	cgroupsv1 "github.com/containerd/cgroups/stats/v1"
	"github.com/containerd/typeurl/v2"
)

// ContainerStats is one cgroup sample for a running container, the raw
// counters the stats collector (§4.N) derives usage rows from.
type ContainerStats struct {
	CPUUsageNanos uint64
	MemUsageBytes uint64
	NetRxBytes    uint64
	NetTxBytes    uint64
}

// GetContainerStats reads the current cgroup metrics for a container's
// task, following the same load-container/load-task idiom as
// GetContainerRuntimeState. Cumulative counters, not rates: the caller
// (pkg/stats) derives per-interval deltas itself, the same way it
// already derives bandwidth deltas (§4.N step 4).
func (r *Runtime) GetContainerStats(ctx context.Context, runtimeID string) (ContainerStats, error) {
	ctrdCtx := r.ctx(ctx)
	container, err := r.client.LoadContainer(ctrdCtx, runtimeID)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("loading container %s: %w", runtimeID, err)
	}

	task, err := container.Task(ctrdCtx, nil)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("loading task %s: %w", runtimeID, err)
	}

	metric, err := task.Metrics(ctrdCtx)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("reading metrics for %s: %w", runtimeID, err)
	}

	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return ContainerStats{}, fmt.Errorf("unmarshaling metrics for %s: %w", runtimeID, err)
	}

	switch m := data.(type) {
	case *cgroupsv1.Metrics:
		stats := ContainerStats{}
		if m.CPU != nil && m.CPU.Usage != nil {
			stats.CPUUsageNanos = m.CPU.Usage.Total
		}
		if m.Memory != nil && m.Memory.Usage != nil {
			stats.MemUsageBytes = m.Memory.Usage.Usage
		}
		for _, n := range m.Network {
			stats.NetRxBytes += n.RxBytes
			stats.NetTxBytes += n.TxBytes
		}
		return stats, nil
	default:
		return ContainerStats{}, fmt.Errorf("unrecognized metrics type for %s", runtimeID)
	}
}
