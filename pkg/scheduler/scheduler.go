package scheduler

import (
	"context"
	"sort"

	"github.com/apployd/engine/internal/apperr"
	"github.com/apployd/engine/internal/log"
	"github.com/apployd/engine/pkg/metrics"
	"github.com/apployd/engine/pkg/types"
)

// Request is one schedule() call's resource ask (§4.H).
type Request struct {
	RamMb         int64
	CpuMillicores int64
	BandwidthGb   int64
	Region        string
}

// Store is the subset of persistence Schedule needs.
type Store interface {
	// ListHealthyServers returns status=healthy servers ordered by
	// (region asc, createdAt asc).
	ListHealthyServers(ctx context.Context) ([]*types.Server, error)
}

// Schedule implements §4.H's capacity scheduler algorithm: region-first
// then global retry, weighted-score ranking with earliest-createdAt
// tie-break.
func Schedule(ctx context.Context, store Store, req Request) (*types.Server, error) {
	logger := log.WithComponent("scheduler")

	servers, err := store.ListHealthyServers(ctx)
	if err != nil {
		return nil, err
	}

	if len(servers) == 0 {
		return nil, &apperr.SchedulerError{
			Kind: apperr.ErrNoHealthyServers,
			Diagnostics: apperr.Diagnostics{
				Requested: requestedMap(req),
			},
		}
	}

	preferredRegionHealthy := 0
	for _, s := range servers {
		if s.Region == req.Region {
			preferredRegionHealthy++
		}
	}

	metrics.SchedulerCandidatesEvaluated.Observe(float64(len(servers)))

	if req.Region != "" {
		var regional []*types.Server
		for _, s := range servers {
			if s.Region == req.Region {
				regional = append(regional, s)
			}
		}
		if best := rank(regional, req); best != nil {
			logger.Info().Str("server_id", best.ID).Str("region", best.Region).Msg("scheduled in preferred region")
			return best, nil
		}
	}

	if best := rank(servers, req); best != nil {
		logger.Info().Str("server_id", best.ID).Str("region", best.Region).Msg("scheduled (global retry)")
		return best, nil
	}

	return nil, &apperr.SchedulerError{
		Kind: apperr.ErrInsufficientCapacity,
		Diagnostics: apperr.Diagnostics{
			Requested:              requestedMap(req),
			LargestAvailable:        largestAvailable(servers),
			HealthyCount:            len(servers),
			PreferredRegionHealthy:  preferredRegionHealthy,
		},
	}
}

func requestedMap(req Request) map[string]int64 {
	return map[string]int64{"ramMb": req.RamMb, "cpuMillicores": req.CpuMillicores, "bandwidthGb": req.BandwidthGb}
}

func largestAvailable(servers []*types.Server) map[string]int64 {
	var maxRam, maxCpu, maxBw int64
	for _, s := range servers {
		if r := s.AvailableRamMb(); r > maxRam {
			maxRam = r
		}
		if c := s.AvailableCpuMillicores(); c > maxCpu {
			maxCpu = c
		}
		if b := s.AvailableBandwidthGb(); b > maxBw {
			maxBw = b
		}
	}
	return map[string]int64{"ramMb": maxRam, "cpuMillicores": maxCpu, "bandwidthGb": maxBw}
}

// rank filters servers that qualify on every axis and returns the
// highest-scoring one, tie-broken by earliest createdAt.
func rank(servers []*types.Server, req Request) *types.Server {
	var candidates []*types.Server
	for _, s := range servers {
		if s.AvailableRamMb() >= req.RamMb &&
			s.AvailableCpuMillicores() >= req.CpuMillicores &&
			s.AvailableBandwidthGb() >= req.BandwidthGb {
			candidates = append(candidates, s)
		}
	}
	if len(candidates) == 0 {
		return nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	best := candidates[0]
	bestScore := score(best)
	for _, c := range candidates[1:] {
		if s := score(c); s > bestScore {
			best = c
			bestScore = s
		}
	}
	return best
}

func score(s *types.Server) float64 {
	return 1.1*float64(s.AvailableRamMb()) + 0.9*float64(s.AvailableCpuMillicores()) + 0.2*float64(s.AvailableBandwidthGb())
}
