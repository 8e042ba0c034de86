package provider

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
)

// ethHeaderJSON mirrors the subset of an eth_subscribe("newHeads")
// notification payload this provider cares about.
type ethHeaderJSON struct {
	Number     string `json:"number"`
	Hash       string `json:"hash"`
	ParentHash string `json:"parentHash"`
	Timestamp  string `json:"timestamp"`
}

func (h ethHeaderJSON) toHeader() Header {
	return Header{
		Number:     hexToUint64(h.Number),
		Hash:       common.HexToHash(h.Hash),
		ParentHash: common.HexToHash(h.ParentHash),
		Timestamp:  int64(hexToUint64(h.Timestamp)),
	}
}

func hexToUint64(hex string) uint64 {
	if len(hex) > 2 && (hex[:2] == "0x" || hex[:2] == "0X") {
		hex = hex[2:]
	}
	v, err := strconv.ParseUint(hex, 16, 64)
	if err != nil {
		return 0
	}
	return v
}
