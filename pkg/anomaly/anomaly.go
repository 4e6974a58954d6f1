package anomaly

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/types"
)

// Store is the narrow persistence dependency Detect needs, satisfied
// structurally by *storage.Store.
type Store interface {
	ListUsageRecords(ctx context.Context, projectIDs []string, metricTypes []types.MetricType, sinceISO string) ([]*types.UsageRecord, error)
}

const (
	defaultWindowMinutes   = 5
	minWindowMinutes       = 1
	maxWindowMinutes       = 30
	defaultBaselineMinutes = 120
	minBaselineMinutes     = 15
	maxBaselineMinutes     = 1440

	ddosBandwidthFloorBytes = 250 * 1024 * 1024
	ddosSpikeRatioFloor     = 2.5
	abuseCPUFloorMillicores = 800
	abuseCPUSpikeRatioFloor = 2.5
	abuseBandwidthRatioFloor = 1.4
)

// Request is the input to Detect (§4.P).
type Request struct {
	OrganizationID  string
	ProjectIDs      []string
	WindowMinutes   int
	BaselineMinutes int
}

// Report is one project's risk assessment.
type Report struct {
	ProjectID               string
	RiskScore               int
	Severity                string
	DDoSSuspected           bool
	AbuseSuspected          bool
	RecommendAttackMode     bool
	BandwidthSpikeRatio     float64
	CPUSpikeRatio           float64
	CurrentBandwidthMbps    float64
	CurrentCPUMillicoresAvg float64
	Signals                 []string
}

// Detector computes risk reports over usage records. Stateless aside
// from its storage/clock handles.
type Detector struct {
	store Store
	clock clock.Clock
}

// New builds a Detector.
func New(store Store, clk clock.Clock) *Detector {
	return &Detector{store: store, clock: clk}
}

type projectTotals struct {
	currentBandwidthBytes   int64
	currentCPUMillicoreSecs int64
	baselineBandwidthBytes  int64
	baselineCPUMillicoreSecs int64
	hasData                 bool
}

// Detect implements §4.P steps 1-7.
func (d *Detector) Detect(ctx context.Context, req Request) ([]Report, error) {
	windowMinutes := clampInt(orDefault(req.WindowMinutes, defaultWindowMinutes), minWindowMinutes, maxWindowMinutes)
	baselineMinutes := clampInt(orDefault(req.BaselineMinutes, defaultBaselineMinutes), minBaselineMinutes, maxBaselineMinutes)
	effectiveBaselineMinutes := maxInt(baselineMinutes, windowMinutes*6)
	numBaselineBuckets := effectiveBaselineMinutes / windowMinutes
	if numBaselineBuckets < 1 {
		numBaselineBuckets = 1
	}
	baselineSpanMinutes := numBaselineBuckets * windowMinutes

	now := d.clock.Now()
	currentStart := now.Add(-time.Duration(windowMinutes) * time.Minute)
	baselineStart := currentStart.Add(-time.Duration(baselineSpanMinutes) * time.Minute)

	records, err := d.store.ListUsageRecords(ctx, req.ProjectIDs,
		[]types.MetricType{types.MetricCPUMillicoreSeconds, types.MetricBandwidthBytes},
		baselineStart.Format(time.RFC3339))
	if err != nil {
		return nil, err
	}

	totals := make(map[string]*projectTotals, len(req.ProjectIDs))
	for _, id := range req.ProjectIDs {
		totals[id] = &projectTotals{}
	}
	for _, rec := range records {
		t, ok := totals[rec.ProjectID]
		if !ok {
			continue
		}
		if rec.RecordedAt.Before(baselineStart) || rec.RecordedAt.After(now) {
			continue
		}
		t.hasData = true
		switch {
		case rec.RecordedAt.Before(currentStart):
			if rec.MetricType == types.MetricBandwidthBytes {
				t.baselineBandwidthBytes += rec.Quantity
			} else if rec.MetricType == types.MetricCPUMillicoreSeconds {
				t.baselineCPUMillicoreSecs += rec.Quantity
			}
		default:
			if rec.MetricType == types.MetricBandwidthBytes {
				t.currentBandwidthBytes += rec.Quantity
			} else if rec.MetricType == types.MetricCPUMillicoreSeconds {
				t.currentCPUMillicoreSecs += rec.Quantity
			}
		}
	}

	windowSeconds := float64(windowMinutes * 60)
	reports := make([]Report, 0, len(req.ProjectIDs))
	for _, id := range req.ProjectIDs {
		t := totals[id]
		if !t.hasData {
			reports = append(reports, Report{
				ProjectID: id,
				Severity:  "low",
				Signals:   []string{"No data available"},
			})
			continue
		}
		reports = append(reports, buildReport(id, t, numBaselineBuckets, windowSeconds))
	}

	sort.SliceStable(reports, func(i, j int) bool {
		return reports[i].RiskScore > reports[j].RiskScore
	})
	return reports, nil
}

func buildReport(projectID string, t *projectTotals, numBaselineBuckets int, windowSeconds float64) Report {
	baselineBandwidthAvg := float64(t.baselineBandwidthBytes) / float64(numBaselineBuckets)
	baselineCPUAvg := float64(t.baselineCPUMillicoreSecs) / float64(numBaselineBuckets)

	bandwidthSpikeRatio := float64(t.currentBandwidthBytes) / math.Max(1, baselineBandwidthAvg)
	cpuSpikeRatio := float64(t.currentCPUMillicoreSecs) / math.Max(1, baselineCPUAvg)

	currentBandwidthMbps := float64(t.currentBandwidthBytes) * 8 / windowSeconds / 1e6
	currentCPUMillicoresAvg := float64(t.currentCPUMillicoreSecs) / windowSeconds

	ddosSuspected := float64(t.currentBandwidthBytes) >= ddosBandwidthFloorBytes && bandwidthSpikeRatio >= ddosSpikeRatioFloor
	abuseSuspected := currentCPUMillicoresAvg >= abuseCPUFloorMillicores &&
		cpuSpikeRatio >= abuseCPUSpikeRatioFloor &&
		bandwidthSpikeRatio >= abuseBandwidthRatioFloor

	score := clampFloat((bandwidthSpikeRatio-1)*14, 0, 40)
	score += clampFloat(currentBandwidthMbps*1.6, 0, 20)
	score += clampFloat((cpuSpikeRatio-1)*10, 0, 25)
	score += clampFloat((currentCPUMillicoresAvg-200)/40, 0, 15)
	if ddosSuspected {
		score += 15
	}
	if abuseSuspected {
		score += 10
	}
	riskScore := int(math.Round(clampFloat(score, 0, 100)))

	severity := severityFor(riskScore)
	recommendAttackMode := severity == "high" || severity == "critical" || ddosSuspected || abuseSuspected

	var signals []string
	if ddosSuspected {
		signals = append(signals, "Traffic profile matches a possible DDoS surge")
	}
	if abuseSuspected {
		signals = append(signals, "CPU usage profile matches resource abuse")
	}

	return Report{
		ProjectID:               projectID,
		RiskScore:               riskScore,
		Severity:                severity,
		DDoSSuspected:           ddosSuspected,
		AbuseSuspected:          abuseSuspected,
		RecommendAttackMode:     recommendAttackMode,
		BandwidthSpikeRatio:     bandwidthSpikeRatio,
		CPUSpikeRatio:           cpuSpikeRatio,
		CurrentBandwidthMbps:    currentBandwidthMbps,
		CurrentCPUMillicoresAvg: currentCPUMillicoresAvg,
		Signals:                 signals,
	}
}

func severityFor(riskScore int) string {
	switch {
	case riskScore >= 80:
		return "critical"
	case riskScore >= 60:
		return "high"
	case riskScore >= 35:
		return "medium"
	default:
		return "low"
	}
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
