package metrics_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/metrics"
)

func TestPrometheusSetGaugeAndIncCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheus(reg, nil)

	sink.SetGauge("watch_tower_block_height", 42, map[string]string{"chain_id": "1"})
	sink.IncCounter("watch_tower_reorg_total", map[string]string{"chain_id": "1"})
	sink.IncCounter("watch_tower_reorg_total", map[string]string{"chain_id": "1"})

	families, err := reg.Gather()
	require.NoError(t, err)

	var gaugeVal float64
	var counterVal float64
	for _, fam := range families {
		for _, m := range fam.GetMetric() {
			switch fam.GetName() {
			case "watch_tower_block_height":
				gaugeVal = m.GetGauge().GetValue()
			case "watch_tower_reorg_total":
				counterVal = m.GetCounter().GetValue()
			}
		}
	}
	require.Equal(t, float64(42), gaugeVal)
	require.Equal(t, float64(2), counterVal)
}

func TestPrometheusUnknownMetricIsDroppedNotPanicking(t *testing.T) {
	reg := prometheus.NewRegistry()
	sink := metrics.NewPrometheus(reg, nil)
	require.NotPanics(t, func() {
		sink.IncCounter("not_a_real_metric", nil)
	})
}
