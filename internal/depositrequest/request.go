package depositrequest

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrMissingField     = errors.New("depositrequest: missing field")
	ErrInvalidAmount    = errors.New("depositrequest: invalid amount")
	ErrUnsupportedChain = errors.New("depositrequest: unsupported source chain")
	ErrInvalidAddress   = errors.New("depositrequest: invalid address")
)

type Config struct {
	// SourceChains is the supported source chain set, matched
	// case-insensitively.
	SourceChains []string
	// DestinationChain is the single configured destination.
	DestinationChain string
}

// Raw is an inbound deposit request before validation.
type Raw struct {
	Amount      string
	SourceChain string
	UserAddress string
}

// Normalized is a validated request: canonical decimal amount, lowercased
// chain identifiers, parsed user address.
type Normalized struct {
	Amount           string
	SourceChain      string
	DestinationChain string
	UserAddress      common.Address
}

// Validate checks raw against cfg and returns the normalized request. Pure
// function of its inputs.
func Validate(cfg Config, raw Raw) (Normalized, error) {
	amountStr := strings.TrimSpace(raw.Amount)
	sourceChain := strings.TrimSpace(raw.SourceChain)
	userAddress := strings.TrimSpace(raw.UserAddress)

	if amountStr == "" {
		return Normalized{}, fmt.Errorf("%w: amount", ErrMissingField)
	}
	if sourceChain == "" {
		return Normalized{}, fmt.Errorf("%w: sourceChain", ErrMissingField)
	}
	if userAddress == "" {
		return Normalized{}, fmt.Errorf("%w: userAddress", ErrMissingField)
	}

	amount, ok := new(big.Int).SetString(amountStr, 10)
	if !ok || amount.Sign() <= 0 {
		return Normalized{}, fmt.Errorf("%w: %q", ErrInvalidAmount, amountStr)
	}

	sourceChain = strings.ToLower(sourceChain)
	if !chainSupported(cfg.SourceChains, sourceChain) {
		return Normalized{}, fmt.Errorf("%w: %q", ErrUnsupportedChain, sourceChain)
	}

	if !validAddress(userAddress) {
		return Normalized{}, fmt.Errorf("%w: %q", ErrInvalidAddress, userAddress)
	}

	return Normalized{
		Amount:           amount.String(),
		SourceChain:      sourceChain,
		DestinationChain: cfg.DestinationChain,
		UserAddress:      common.HexToAddress(userAddress),
	}, nil
}

func chainSupported(supported []string, chain string) bool {
	for _, s := range supported {
		if strings.EqualFold(strings.TrimSpace(s), chain) {
			return true
		}
	}
	return false
}

// validAddress accepts 20-byte hex addresses; mixed-case input must carry a
// valid EIP-55 checksum.
func validAddress(s string) bool {
	if !common.IsHexAddress(s) {
		return false
	}
	hexPart := s
	if strings.HasPrefix(hexPart, "0x") || strings.HasPrefix(hexPart, "0X") {
		hexPart = hexPart[2:]
	}
	if hexPart == strings.ToLower(hexPart) || hexPart == strings.ToUpper(hexPart) {
		return true
	}
	return common.HexToAddress(s).Hex() == "0x"+hexPart
}
