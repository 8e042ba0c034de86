package health_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/health"
)

func TestSnapshotUnhealthyWhenNoChainsRegistered(t *testing.T) {
	agg := health.NewAggregator()
	snap := agg.Snapshot()
	require.False(t, snap.IsHealthy)
	require.Empty(t, snap.Chains)
}

func TestSnapshotHealthyOnlyWhenAllChainsInSync(t *testing.T) {
	agg := health.NewAggregator()
	agg.SetChain("1", health.ChainStatus{Sync: "IN_SYNC", ChainID: "1", IsHealthy: true})
	agg.SetChain("100", health.ChainStatus{Sync: "SYNCING", ChainID: "100", IsHealthy: false})

	snap := agg.Snapshot()
	require.False(t, snap.IsHealthy)
	require.Len(t, snap.Chains, 2)

	agg.SetChain("100", health.ChainStatus{Sync: "IN_SYNC", ChainID: "100", IsHealthy: true})
	require.True(t, agg.Snapshot().IsHealthy)
}

func TestSetChainOverwritesPreviousStatus(t *testing.T) {
	agg := health.NewAggregator()
	agg.SetChain("1", health.ChainStatus{Sync: "SYNCING", ChainID: "1", LastProcessedBlock: 5})
	agg.SetChain("1", health.ChainStatus{Sync: "IN_SYNC", ChainID: "1", LastProcessedBlock: 10, IsHealthy: true})

	snap := agg.Snapshot()
	require.Equal(t, uint64(10), snap.Chains["1"].LastProcessedBlock)
	require.Equal(t, "IN_SYNC", snap.Chains["1"].Sync)
}
