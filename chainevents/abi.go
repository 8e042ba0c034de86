package chainevents

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// eventABIJSON declares the two event signatures the source decodes. Only
// the event entries are needed; FilterLogs/UnpackIntoInterface never call a
// contract method.
const eventABIJSON = `[
  {
    "type": "event",
    "name": "ConditionalOrderCreated",
    "anonymous": false,
    "inputs": [
      {"name": "owner", "type": "address", "indexed": false},
      {"name": "params", "type": "tuple", "indexed": false, "components": [
        {"name": "handler", "type": "address"},
        {"name": "salt", "type": "bytes32"},
        {"name": "staticInput", "type": "bytes"}
      ]}
    ]
  },
  {
    "type": "event",
    "name": "MerkleRootSet",
    "anonymous": false,
    "inputs": [
      {"name": "owner", "type": "address", "indexed": false},
      {"name": "root", "type": "bytes32", "indexed": false},
      {"name": "proof", "type": "tuple", "indexed": false, "components": [
        {"name": "location", "type": "bytes32"},
        {"name": "orders", "type": "tuple[]", "components": [
          {"name": "params", "type": "tuple", "components": [
            {"name": "handler", "type": "address"},
            {"name": "salt", "type": "bytes32"},
            {"name": "staticInput", "type": "bytes"}
          ]},
          {"name": "proof", "type": "bytes32[]"}
        ]}
      ]}
    ]
  }
]`

// ParseABI parses the fixed event ABI this source decodes against.
func ParseABI() (abi.ABI, error) {
	return abi.JSON(strings.NewReader(eventABIJSON))
}
