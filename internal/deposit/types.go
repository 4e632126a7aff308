package deposit

import (
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusGatewayComplete
	StatusVaultComplete
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusGatewayComplete:
		return "gateway_complete"
	case StatusVaultComplete:
		return "vault_complete"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// Terminal reports whether no further automatic transition occurs from s.
func (s Status) Terminal() bool {
	return s == StatusVaultComplete || s == StatusFailed
}

// Record tracks one cross-chain deposit through its lifecycle:
// pending -> gateway_complete -> vault_complete, or any non-terminal
// state -> failed.
type Record struct {
	ID string

	SourceChain      string
	DestinationChain string

	// Amount is the deposit quantity in the asset's smallest unit, as a
	// positive decimal integer string. Immutable after creation.
	Amount string

	UserAddress common.Address

	Status Status

	// BridgeTx is set when the cross-chain transfer completed.
	BridgeTx string
	// VaultTx is set when the vault deposit completed.
	VaultTx string
	// FailReason is set when Status is StatusFailed.
	FailReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}
