package registrystore

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// wireRegistry is the explicit, versioned schema used in place of the
// dynamic reviver/replacer hooks the original implementation relied on
// (spec.md §9 Design Notes): owners and their conditional orders are plain
// arrays of pairs, decoded deterministically regardless of map iteration
// order.
type wireRegistry struct {
	Owners []wireOwnerEntry `json:"owners"`
}

type wireOwnerEntry struct {
	Owner  string            `json:"owner"`
	Orders []wireCondOrder   `json:"orders"`
}

type wireCondOrder struct {
	Tx             string         `json:"tx"`
	Handler        string         `json:"handler"`
	Salt           string         `json:"salt"`
	StaticInput    string         `json:"staticInput"`
	Proof          *wireProof     `json:"proof,omitempty"`
	SourceContract string         `json:"sourceContract"`
	Orders         []wireOrderRef `json:"orders"`
	LastPoll       *wireLastPoll  `json:"lastPoll,omitempty"`
}

type wireProof struct {
	MerkleRoot string   `json:"merkleRoot"`
	Path       []string `json:"path"`
}

type wireOrderRef struct {
	UID    string `json:"uid"`
	Status string `json:"status"`
}

type wireLastPoll struct {
	Timestamp   int64               `json:"timestamp"`
	BlockNumber uint64              `json:"blockNumber"`
	Result      wireResultSnapshot `json:"result"`
}

type wireResultSnapshot struct {
	Kind   string `json:"kind"`
	Reason string `json:"reason,omitempty"`
}

func hash32Hex(h registry.Hash32) string { return h.Hex() }

func parseHash32(s string) (registry.Hash32, error) {
	var h registry.Hash32
	raw, err := hexDecode(s)
	if err != nil {
		return h, err
	}
	if len(raw) != len(h) {
		return h, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

func parseOrderUID(s string) (registry.OrderUID, error) {
	var u registry.OrderUID
	raw, err := hexDecode(s)
	if err != nil {
		return u, err
	}
	if len(raw) != len(u) {
		return u, fmt.Errorf("expected 56 bytes, got %d", len(raw))
	}
	copy(u[:], raw)
	return u, nil
}

func hexDecode(s string) ([]byte, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	return hex.DecodeString(s)
}

func encodeOwnerOrders(ownerOrders map[common.Address]map[registry.ParamsKey]*registry.ConditionalOrder) (wireRegistry, error) {
	out := wireRegistry{Owners: make([]wireOwnerEntry, 0, len(ownerOrders))}
	for owner, set := range ownerOrders {
		entry := wireOwnerEntry{Owner: owner.Hex(), Orders: make([]wireCondOrder, 0, len(set))}
		for _, order := range set {
			wco := wireCondOrder{
				Tx:             hash32Hex(order.Tx),
				Handler:        order.Params.Handler.Hex(),
				Salt:           hash32Hex(order.Params.Salt),
				StaticInput:    base64.StdEncoding.EncodeToString(order.Params.StaticInput),
				SourceContract: order.SourceContract.Hex(),
			}
			if order.Proof != nil {
				path := make([]string, len(order.Proof.Path))
				for i, p := range order.Proof.Path {
					path[i] = hash32Hex(p)
				}
				wco.Proof = &wireProof{MerkleRoot: hash32Hex(order.Proof.MerkleRoot), Path: path}
			}
			for _, o := range order.Orders() {
				wco.Orders = append(wco.Orders, wireOrderRef{UID: o.UID.Hex(), Status: string(o.Status)})
			}
			if order.LastPoll != nil {
				wco.LastPoll = &wireLastPoll{
					Timestamp:   order.LastPoll.Timestamp,
					BlockNumber: order.LastPoll.BlockNumber,
					Result: wireResultSnapshot{
						Kind:   order.LastPoll.Result.Kind,
						Reason: order.LastPoll.Result.Reason,
					},
				}
			}
			entry.Orders = append(entry.Orders, wco)
		}
		out.Owners = append(out.Owners, entry)
	}
	return out, nil
}

func decodeOwnerOrders(raw []byte) (map[common.Address]map[registry.ParamsKey]*registry.ConditionalOrder, error) {
	if len(raw) == 0 {
		return map[common.Address]map[registry.ParamsKey]*registry.ConditionalOrder{}, nil
	}
	var wire wireRegistry
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	out := make(map[common.Address]map[registry.ParamsKey]*registry.ConditionalOrder, len(wire.Owners))
	for _, entry := range wire.Owners {
		owner := common.HexToAddress(entry.Owner)
		set := make(map[registry.ParamsKey]*registry.ConditionalOrder, len(entry.Orders))
		for _, wco := range entry.Orders {
			order, err := decodeCondOrder(wco)
			if err != nil {
				return nil, fmt.Errorf("decode conditional order for owner %s: %w", entry.Owner, err)
			}
			set[order.Params.Key()] = order
		}
		out[owner] = set
	}
	return out, nil
}

func decodeCondOrder(wco wireCondOrder) (*registry.ConditionalOrder, error) {
	tx, err := parseHash32(wco.Tx)
	if err != nil {
		return nil, fmt.Errorf("tx: %w", err)
	}
	salt, err := parseHash32(wco.Salt)
	if err != nil {
		return nil, fmt.Errorf("salt: %w", err)
	}
	staticInput, err := base64.StdEncoding.DecodeString(wco.StaticInput)
	if err != nil {
		return nil, fmt.Errorf("staticInput: %w", err)
	}
	order := &registry.ConditionalOrder{
		Tx: tx,
		Params: registry.Params{
			Handler:     common.HexToAddress(wco.Handler),
			Salt:        salt,
			StaticInput: staticInput,
		},
		SourceContract: common.HexToAddress(wco.SourceContract),
	}
	if wco.Proof != nil {
		root, err := parseHash32(wco.Proof.MerkleRoot)
		if err != nil {
			return nil, fmt.Errorf("proof.merkleRoot: %w", err)
		}
		path := make([]registry.Hash32, len(wco.Proof.Path))
		for i, p := range wco.Proof.Path {
			h, err := parseHash32(p)
			if err != nil {
				return nil, fmt.Errorf("proof.path[%d]: %w", i, err)
			}
			path[i] = h
		}
		order.Proof = &registry.Proof{MerkleRoot: root, Path: path}
	}
	for _, ref := range wco.Orders {
		uid, err := parseOrderUID(ref.UID)
		if err != nil {
			return nil, fmt.Errorf("order uid: %w", err)
		}
		order.RecordSubmitted(uid)
		if registry.DiscreteOrderStatus(ref.Status) == registry.StatusFilled {
			order.MarkFilled(uid)
		}
	}
	if wco.LastPoll != nil {
		order.LastPoll = &registry.LastPoll{
			Timestamp:   wco.LastPoll.Timestamp,
			BlockNumber: wco.LastPoll.BlockNumber,
			Result: registry.PollResultSnapshot{
				Kind:   wco.LastPoll.Result.Kind,
				Reason: wco.LastPoll.Result.Reason,
			},
		}
	}
	return order, nil
}
