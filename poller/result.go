// Package poller evaluates a single conditional order against the
// external handler library and maps the result to an order-book
// submission, a deferral, or a registry deletion (spec.md §4.5).
package poller

import "github.com/holiman/uint256"

// ResultKind is the tag of the closed sum type the handler library
// returns. Re-expressed from the TS design's ad-hoc result objects as an
// explicit tagged variant (spec.md §9 Design Notes).
type ResultKind int

const (
	KindSuccess ResultKind = iota
	KindTryNextBlock
	KindTryAtBlock
	KindTryAtEpoch
	KindDontTryAgain
	KindUnexpectedError
)

func (k ResultKind) String() string {
	switch k {
	case KindSuccess:
		return "SUCCESS"
	case KindTryNextBlock:
		return "TRY_NEXT_BLOCK"
	case KindTryAtBlock:
		return "TRY_AT_BLOCK"
	case KindTryAtEpoch:
		return "TRY_AT_EPOCH"
	case KindDontTryAgain:
		return "DONT_TRY_AGAIN"
	case KindUnexpectedError:
		return "UNEXPECTED_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Order is the discrete, signable order a SUCCESS result produces.
type Order struct {
	Sell              []byte
	Buy               []byte
	SellAmount        *uint256.Int
	BuyAmount         *uint256.Int
	ValidTo           uint32
	AppData           [32]byte
	FeeAmount         *uint256.Int
	Kind              string
	PartiallyFillable bool
}

// Signature accompanies an Order ready for order-book submission.
type Signature struct {
	Scheme string
	Data   []byte
}

// Result is the closed sum type returned by a Handler.Poll call. Exactly
// one of the kind-specific payload fields is populated, matching Kind.
type Result struct {
	Kind ResultKind

	// KindSuccess
	Order     Order
	Signature Signature

	// KindTryNextBlock / KindDontTryAgain / KindUnexpectedError
	Reason string

	// KindTryAtBlock
	AtBlock uint64

	// KindTryAtEpoch
	AtEpoch int64

	// KindUnexpectedError
	Err error
}
