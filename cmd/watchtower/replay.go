package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/chainevents"
	"github.com/cowprotocol/tenderly-watch-tower/provider"
)

// cmdReplayBlock fetches and prints the decoded events of a single block,
// without touching any registry store (spec.md §6 replay-block).
func cmdReplayBlock(fs *flag.FlagSet, args []string) error {
	var rpc string
	var block uint64
	fs.StringVar(&rpc, "rpc", "", "chain RPC URL")
	fs.Uint64Var(&block, "block", 0, "block number to replay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if rpc == "" {
		return fmt.Errorf("replay-block: --rpc is required")
	}

	ctx := context.Background()
	prov, err := provider.Dial(ctx, rpc, provider.ApproxBlockInterval)
	if err != nil {
		return fmt.Errorf("dial provider: %w", err)
	}
	defer func() { _ = prov.Close() }()

	parsedABI, err := chainevents.ParseABI()
	if err != nil {
		return fmt.Errorf("parse abi: %w", err)
	}
	source := chainevents.New(prov, parsedABI, nil)

	events, dropped, err := source.FetchRange(ctx, nil, block, &block)
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", block, err)
	}
	return printReplayResult(block, dropped, events)
}

// cmdReplayTx fetches the receipt for a single transaction, then prints
// every conditional-order event it contains (spec.md §6 replay-tx).
func cmdReplayTx(fs *flag.FlagSet, args []string) error {
	var rpc, txHash string
	fs.StringVar(&rpc, "rpc", "", "chain RPC URL")
	fs.StringVar(&txHash, "tx", "", "transaction hash to replay")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if rpc == "" || txHash == "" {
		return fmt.Errorf("replay-tx: --rpc and --tx are required")
	}

	ctx := context.Background()
	prov, err := provider.Dial(ctx, rpc, provider.ApproxBlockInterval)
	if err != nil {
		return fmt.Errorf("dial provider: %w", err)
	}
	defer func() { _ = prov.Close() }()

	hash := common.HexToHash(txHash)
	receipt, err := prov.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return fmt.Errorf("fetch receipt: %w", err)
	}

	parsedABI, err := chainevents.ParseABI()
	if err != nil {
		return fmt.Errorf("parse abi: %w", err)
	}
	source := chainevents.New(prov, parsedABI, nil)

	blockNum := receipt.BlockNumber.Uint64()
	events, dropped, err := source.FetchRange(ctx, nil, blockNum, &blockNum)
	if err != nil {
		return fmt.Errorf("fetch block %d: %w", blockNum, err)
	}

	matched := make([]chainevents.Event, 0, len(events))
	for _, ev := range events {
		if ev.TxHash == hash {
			matched = append(matched, ev)
		}
	}
	return printReplayResult(blockNum, dropped, matched)
}

func printReplayResult(block uint64, dropped int, events []chainevents.Event) error {
	out := struct {
		Block   uint64             `json:"block"`
		Dropped int                `json:"dropped"`
		Events  []chainevents.Event `json:"events"`
	}{Block: block, Dropped: dropped, Events: events}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
