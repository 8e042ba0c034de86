package conditionalorderhandler_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cowprotocol/tenderly-watch-tower/conditionalorderhandler"
	"github.com/cowprotocol/tenderly-watch-tower/poller"
	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

func TestDeferredAlwaysDefers(t *testing.T) {
	var h conditionalorderhandler.Deferred
	result := h.Poll(context.Background(), registry.Params{}, poller.BlockContext{Number: 1})
	require.Equal(t, poller.KindTryNextBlock, result.Kind)
}
