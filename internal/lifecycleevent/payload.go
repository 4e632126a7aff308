// Package lifecycleevent defines the wire payload published on every deposit
// status change.
package lifecycleevent

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/poolshare-fi/pool-gateway/internal/deposit"
)

const Version = "deposits.lifecycle.v1"

type Payload struct {
	Version          string `json:"version"`
	DepositID        string `json:"depositId"`
	Status           string `json:"status"`
	SourceChain      string `json:"sourceChain"`
	DestinationChain string `json:"destinationChain"`
	Amount           string `json:"amount"`
	UserAddress      string `json:"userAddress"`
	BridgeTx         string `json:"bridgeTx,omitempty"`
	VaultTx          string `json:"vaultTx,omitempty"`
	Error            string `json:"error,omitempty"`
	OccurredAt       string `json:"occurredAt"`
}

// Build projects a deposit record into the published event shape.
func Build(rec deposit.Record, at time.Time) Payload {
	return Payload{
		Version:          Version,
		DepositID:        rec.ID,
		Status:           rec.Status.String(),
		SourceChain:      rec.SourceChain,
		DestinationChain: rec.DestinationChain,
		Amount:           rec.Amount,
		UserAddress:      rec.UserAddress.Hex(),
		BridgeTx:         rec.BridgeTx,
		VaultTx:          rec.VaultTx,
		Error:            rec.FailReason,
		OccurredAt:       at.UTC().Format(time.RFC3339Nano),
	}
}

func (p Payload) Encode() ([]byte, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("lifecycleevent: marshal payload: %w", err)
	}
	return raw, nil
}
