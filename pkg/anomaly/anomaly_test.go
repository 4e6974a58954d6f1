package anomaly

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apployd/engine/pkg/clock"
	"github.com/apployd/engine/pkg/types"
)

type fakeStore struct {
	records []*types.UsageRecord
}

func (f *fakeStore) ListUsageRecords(_ context.Context, projectIDs []string, metricTypes []types.MetricType, sinceISO string) ([]*types.UsageRecord, error) {
	since, err := time.Parse(time.RFC3339, sinceISO)
	if err != nil {
		return nil, err
	}
	wantProjects := make(map[string]bool, len(projectIDs))
	for _, id := range projectIDs {
		wantProjects[id] = true
	}
	wantMetrics := make(map[types.MetricType]bool, len(metricTypes))
	for _, m := range metricTypes {
		wantMetrics[m] = true
	}

	var out []*types.UsageRecord
	for _, r := range f.records {
		if wantProjects[r.ProjectID] && wantMetrics[r.MetricType] && !r.RecordedAt.Before(since) {
			out = append(out, r)
		}
	}
	return out, nil
}

func TestDetectBandwidthSpikeSuggestsDDoS(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	windowMinutes := 20
	baselineMinutes := 120 // effective = max(120, 20*6=120) = 120, numBuckets = 120/20 = 6

	currentStart := now.Add(-time.Duration(windowMinutes) * time.Minute)

	var records []*types.UsageRecord
	for i := 0; i < 6; i++ {
		bucketStart := currentStart.Add(-time.Duration((i+1)*windowMinutes) * time.Minute)
		records = append(records, &types.UsageRecord{
			ProjectID:  "proj-1",
			MetricType: types.MetricBandwidthBytes,
			Quantity:   10_000_000,
			RecordedAt: bucketStart.Add(time.Minute),
		})
	}
	records = append(records, &types.UsageRecord{
		ProjectID:  "proj-1",
		MetricType: types.MetricBandwidthBytes,
		Quantity:   300 * 1024 * 1024,
		RecordedAt: currentStart.Add(time.Minute),
	})

	d := New(&fakeStore{records: records}, clock.Fixed{At: now})
	reports, err := d.Detect(context.Background(), Request{
		ProjectIDs:      []string{"proj-1"},
		WindowMinutes:   windowMinutes,
		BaselineMinutes: baselineMinutes,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.InDelta(t, 31.4, r.BandwidthSpikeRatio, 0.5)
	assert.True(t, r.DDoSSuspected)
	assert.True(t, r.RecommendAttackMode)
	assert.Contains(t, r.Signals, "Traffic profile matches a possible DDoS surge")
}

func TestDetectNoDataReturnsLowSeverity(t *testing.T) {
	d := New(&fakeStore{}, clock.Fixed{At: time.Now()})
	reports, err := d.Detect(context.Background(), Request{ProjectIDs: []string{"proj-empty"}})
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, "low", r.Severity)
	assert.Equal(t, 0, r.RiskScore)
	assert.Equal(t, []string{"No data available"}, r.Signals)
}

func TestDetectSortsReportsByRiskScoreDescending(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	quiet := &types.UsageRecord{
		ProjectID:  "quiet",
		MetricType: types.MetricBandwidthBytes,
		Quantity:   1000,
		RecordedAt: now.Add(-time.Minute),
	}
	spiky := &types.UsageRecord{
		ProjectID:  "spiky",
		MetricType: types.MetricBandwidthBytes,
		Quantity:   500 * 1024 * 1024,
		RecordedAt: now.Add(-time.Minute),
	}

	d := New(&fakeStore{records: []*types.UsageRecord{quiet, spiky}}, clock.Fixed{At: now})
	reports, err := d.Detect(context.Background(), Request{ProjectIDs: []string{"quiet", "spiky"}})
	require.NoError(t, err)
	require.Len(t, reports, 2)
	assert.Equal(t, "spiky", reports[0].ProjectID)
	assert.Equal(t, "quiet", reports[1].ProjectID)
}

func TestDetectClampsWindowAndBaselineMinutes(t *testing.T) {
	d := New(&fakeStore{}, clock.Fixed{At: time.Now()})
	reports, err := d.Detect(context.Background(), Request{
		ProjectIDs:      []string{"p"},
		WindowMinutes:   999,
		BaselineMinutes: 1,
	})
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "low", reports[0].Severity)
}
