package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const wsWriteTimeout = 10 * time.Second

// WSProvider drives a websocket JSON-RPC endpoint, using eth_subscribe for
// new-heads notifications (spec.md §4.7, provider selected by ws[s] scheme).
// Grounded on the teacher's accept/read-loop shape in rpc/ws.go, mirrored
// here for a client-side connection.
type WSProvider struct {
	url    string
	eth    *ethclient.Client
	rpcCli *rpc.Client

	mu   sync.Mutex
	conn *websocket.Conn
}

// DialWS connects both an ethclient (for historical calls) and a raw
// websocket (for the subscribe loop) to the same endpoint.
func DialWS(ctx context.Context, url string) (*WSProvider, error) {
	rpcCli, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("provider: dial rpc: %w", err)
	}
	eth := ethclient.NewClient(rpcCli)
	return &WSProvider{url: url, eth: eth, rpcCli: rpcCli}, nil
}

func (p *WSProvider) ChainID(ctx context.Context) (uint64, error) {
	id, err := p.eth.ChainID(ctx)
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (p *WSProvider) GetBlock(ctx context.Context, number uint64) (Header, error) {
	h, err := p.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(number))
	if err != nil {
		return Header{}, err
	}
	return headerFromGeth(h), nil
}

func (p *WSProvider) GetLatestBlock(ctx context.Context) (Header, error) {
	h, err := p.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return Header{}, err
	}
	return headerFromGeth(h), nil
}

func (p *WSProvider) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	return p.eth.FilterLogs(ctx, q)
}

func (p *WSProvider) GetTransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	return p.eth.TransactionReceipt(ctx, hash)
}

func (p *WSProvider) CodeAt(ctx context.Context, account common.Address, blockNumber uint64) ([]byte, error) {
	return p.eth.CodeAt(ctx, account, new(big.Int).SetUint64(blockNumber))
}

// jsonRPCRequest/jsonRPCNotification mirror the bare JSON-RPC 2.0 envelope
// used to drive eth_subscribe over a raw websocket, since go-ethereum's
// rpc.Client hides the subscription notification stream behind its own
// higher-level type that isn't reusable here without pulling in geth's
// internal subscription plumbing.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCNotification struct {
	Method string `json:"method"`
	Params struct {
		Subscription string          `json:"subscription"`
		Result       json.RawMessage `json:"result"`
	} `json:"params"`
}

// SubscribeBlocks opens a raw websocket to the node and issues
// eth_subscribe("newHeads"), decoding each notification into a Header.
func (p *WSProvider) SubscribeBlocks(ctx context.Context) (<-chan Header, error) {
	conn, _, err := websocket.Dial(ctx, p.url, nil)
	if err != nil {
		return nil, fmt.Errorf("provider: dial websocket: %w", err)
	}
	p.mu.Lock()
	p.conn = conn
	p.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	req := jsonRPCRequest{JSONRPC: "2.0", ID: 1, Method: "eth_subscribe", Params: []interface{}{"newHeads"}}
	if err := wsjson.Write(writeCtx, conn, req); err != nil {
		return nil, fmt.Errorf("provider: subscribe request: %w", err)
	}

	out := make(chan Header)
	go p.readLoop(ctx, conn, out)
	return out, nil
}

func (p *WSProvider) readLoop(ctx context.Context, conn *websocket.Conn, out chan<- Header) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "done")
	for {
		var notif jsonRPCNotification
		if err := wsjson.Read(ctx, conn, &notif); err != nil {
			return
		}
		if notif.Method != "eth_subscription" {
			continue
		}
		var raw ethHeaderJSON
		if err := json.Unmarshal(notif.Params.Result, &raw); err != nil {
			continue
		}
		hdr := raw.toHeader()
		select {
		case out <- hdr:
		case <-ctx.Done():
			return
		}
	}
}

func (p *WSProvider) Close() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "closing")
	}
	p.rpcCli.Close()
	return nil
}
