package events

import (
	"github.com/holiman/uint256"

	"veralend/core/types"
)

const (
	TypeTransfer    = "ztoken.transfer"
	TypeRawTransfer = "ztoken.raw_transfer"
	TypeApproval    = "ztoken.approval"
)

// Transfer reports a share-token movement in face units.
type Transfer struct {
	Token      types.Address
	From       types.Address
	To         types.Address
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Transfer) EventType() string { return TypeTransfer }

// RawTransfer accompanies Transfer with the raw amount and the accumulator
// used for the conversion, so indexers can reconstruct exact raw balances.
type RawTransfer struct {
	Token       types.Address
	From        types.Address
	To          types.Address
	RawValue    *uint256.Int
	Accumulator *uint256.Int
	FaceValue   *uint256.Int
}

// EventType satisfies the events.Event interface.
func (RawTransfer) EventType() string { return TypeRawTransfer }

// Approval reports an allowance update, stored in face units.
type Approval struct {
	Token      types.Address
	Owner      types.Address
	Spender    types.Address
	FaceAmount *uint256.Int
}

// EventType satisfies the events.Event interface.
func (Approval) EventType() string { return TypeApproval }
