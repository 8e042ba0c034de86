package provider

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestHexToUint64(t *testing.T) {
	require.Equal(t, uint64(255), hexToUint64("0xff"))
	require.Equal(t, uint64(255), hexToUint64("0XFF"))
	require.Equal(t, uint64(0), hexToUint64("not-hex"))
}

func TestEthHeaderJSONToHeader(t *testing.T) {
	raw := ethHeaderJSON{
		Number:     "0x10",
		Hash:       "0xab" + strings.Repeat("0", 62),
		ParentHash: "0xcd" + strings.Repeat("0", 62),
		Timestamp:  "0x5",
	}
	hdr := raw.toHeader()
	require.Equal(t, uint64(16), hdr.Number)
	require.Equal(t, int64(5), hdr.Timestamp)
	require.NotEqual(t, common.Hash{}, hdr.Hash)
}
