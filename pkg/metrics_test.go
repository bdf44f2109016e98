package pmrecover

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsCollector_EmitsAllSeries(t *testing.T) {
	h := newTestHeap(t)
	rb := NewRebuilder(h, defaultRecoveryConfig())

	rb.metrics.segmentsClaimed.Add(2)
	rb.metrics.recordsReclaimed.Add(5)

	require.Equal(t, 4, testutil.CollectAndCount(rb.MetricsCollector()))
	require.Equal(t, 1, testutil.CollectAndCount(rb.MetricsCollector(), "pmrecover_segments_claimed_total"))
}
