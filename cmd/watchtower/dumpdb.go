package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
	"github.com/cowprotocol/tenderly-watch-tower/registrystore"
	"github.com/cowprotocol/tenderly-watch-tower/storage"
)

type dumpOrder struct {
	Tx             string             `json:"tx"`
	Handler        string             `json:"handler"`
	Salt           string             `json:"salt"`
	SourceContract string             `json:"sourceContract"`
	Orders         []dumpDiscreteOrder `json:"orders"`
}

type dumpDiscreteOrder struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

type dumpSnapshot struct {
	ChainID            string                 `json:"chainId"`
	LastProcessedBlock *registry.BlockCursor  `json:"lastProcessedBlock,omitempty"`
	Owners             map[string][]dumpOrder `json:"owners"`
}

// cmdDumpDB emits the current registry for one chain as JSON on stdout
// (spec.md §6).
func cmdDumpDB(fs *flag.FlagSet, args []string) error {
	var chainID, databasePath string
	fs.StringVar(&chainID, "chain-id", "", "network id namespacing the registry to dump")
	fs.StringVar(&databasePath, "database-path", "./database", "embedded registry store directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if chainID == "" {
		return fmt.Errorf("dump-db: --chain-id is required")
	}

	kv, err := storage.NewLevelDB(databasePath)
	if err != nil {
		return fmt.Errorf("open registry store: %w", err)
	}
	defer func() { _ = kv.Close() }()

	store := registrystore.New(kv, chainID, nil)
	reg := registry.New(chainID, nil, store)
	if err := store.Load(context.Background(), reg); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	snap := dumpSnapshot{ChainID: chainID, LastProcessedBlock: reg.LastProcessedBlock, Owners: make(map[string][]dumpOrder)}
	reg.ForEach(func(owner common.Address, order *registry.ConditionalOrder) {
		entries := order.Orders()
		discrete := make([]dumpDiscreteOrder, len(entries))
		for i, e := range entries {
			discrete[i] = dumpDiscreteOrder{UID: e.UID.Hex(), Status: string(e.Status)}
		}
		snap.Owners[owner.Hex()] = append(snap.Owners[owner.Hex()], dumpOrder{
			Tx:             order.Tx.Hex(),
			Handler:        order.Params.Handler.Hex(),
			Salt:           order.Params.Salt.Hex(),
			SourceContract: order.SourceContract.Hex(),
			Orders:         discrete,
		})
	})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}
