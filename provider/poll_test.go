package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	Method string            `json:"method"`
	Params []json.RawMessage `json:"params"`
	ID     json.RawMessage   `json:"id"`
}

// fakeBlockNumberServer answers eth_blockNumber and eth_getBlockByNumber
// "latest" from an atomically-updated tip, and a numbered
// eth_getBlockByNumber with a header synthesized from that number,
// simulating a plain http(s) JSON-RPC endpoint with no subscription
// support.
func fakeBlockNumberServer(t *testing.T, tip *atomic.Uint64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var result any
		switch req.Method {
		case "eth_chainId":
			result = "0x1"
		case "eth_blockNumber":
			result = fmt.Sprintf("0x%x", tip.Load())
		case "eth_getBlockByNumber":
			var tag string
			_ = json.Unmarshal(req.Params[0], &tag)
			n := tip.Load()
			if tag != "latest" {
				n = hexToUint64(tag)
			}
			result = map[string]any{
				"number":           fmt.Sprintf("0x%x", n),
				"hash":             fmt.Sprintf("0x%064x", n+1),
				"parentHash":       fmt.Sprintf("0x%064x", n),
				"sha3Uncles":       fmt.Sprintf("0x%064x", 0),
				"miner":            fmt.Sprintf("0x%040x", 0),
				"stateRoot":        fmt.Sprintf("0x%064x", 0),
				"transactionsRoot": fmt.Sprintf("0x%064x", 0),
				"receiptsRoot":     fmt.Sprintf("0x%064x", 0),
				"logsBloom":        "0x" + fmt.Sprintf("%0512x", 0),
				"difficulty":       "0x0",
				"gasLimit":         "0x0",
				"gasUsed":          "0x0",
				"extraData":        "0x",
				"mixHash":          fmt.Sprintf("0x%064x", 0),
				"nonce":            "0x0000000000000000",
				"timestamp":        fmt.Sprintf("0x%x", 1000+n),
			}
		default:
			http.Error(w, "unexpected method "+req.Method, http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"jsonrpc": "2.0",
			"id":      req.ID,
			"result":  result,
		})
	}))
}

func TestPollLoopEmitsEveryIntermediateBlockWhenTipJumps(t *testing.T) {
	var tip atomic.Uint64
	tip.Store(10)
	srv := fakeBlockNumberServer(t, &tip)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p, err := DialPoll(ctx, srv.URL, 10*time.Millisecond)
	require.NoError(t, err)
	defer func() { _ = p.Close() }()

	headers, err := p.SubscribeBlocks(ctx)
	require.NoError(t, err)

	first := <-headers
	require.Equal(t, uint64(10), first.Number)

	tip.Store(13)

	var seen []uint64
	for len(seen) < 3 {
		hdr := <-headers
		seen = append(seen, hdr.Number)
	}

	require.Equal(t, []uint64{11, 12, 13}, seen)
}
