package poller

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/cowprotocol/tenderly-watch-tower/registry"
)

// computeOrderUID derives the 56-byte order UID (32-byte order digest,
// 20-byte owner address, 4-byte validTo) the order-book uses to key a
// discrete order, matching the order-book's own UID scheme closely enough
// that idempotent resubmission round-trips correctly (spec.md §4.5 step 4).
func computeOrderUID(owner common.Address, order Order) registry.OrderUID {
	digest := orderDigest(order)

	var uid registry.OrderUID
	copy(uid[0:32], digest[:])
	copy(uid[32:52], owner.Bytes())
	binary.BigEndian.PutUint32(uid[52:56], order.ValidTo)
	return uid
}

func orderDigest(order Order) [32]byte {
	buf := make([]byte, 0, 128)
	buf = append(buf, order.Sell...)
	buf = append(buf, order.Buy...)
	if order.SellAmount != nil {
		buf = append(buf, order.SellAmount.Bytes()...)
	}
	if order.BuyAmount != nil {
		buf = append(buf, order.BuyAmount.Bytes()...)
	}
	if order.FeeAmount != nil {
		buf = append(buf, order.FeeAmount.Bytes()...)
	}
	buf = append(buf, order.AppData[:]...)
	buf = append(buf, []byte(order.Kind)...)
	return crypto.Keccak256Hash(buf)
}
