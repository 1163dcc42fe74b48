// Package wallet classifies and normalizes wallet addresses submitted with a
// waitlist claim.
package wallet

import (
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Format string

const (
	FormatUnknown  Format = ""
	FormatEthereum Format = "ethereum"
	FormatBitcoin  Format = "bitcoin"
	FormatSolana   Format = "solana"
	FormatGeneric  Format = "generic"
)

const (
	MsgRequired        = "Wallet address is required"
	MsgInvalidEthereum = "Invalid Ethereum address format"
	MsgInvalidBitcoin  = "Invalid Bitcoin address format"
	MsgInvalidFormat   = "Invalid wallet address format"
)

var (
	solanaPattern  = regexp.MustCompile(`^[1-9A-HJ-NP-Za-km-z]{32,44}$`)
	genericPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)
)

// Result is the outcome of Validate. NormalizedAddress is the trimmed input
// whether or not the address is valid.
type Result struct {
	IsValid           bool   `json:"isValid"`
	Error             string `json:"error,omitempty"`
	NormalizedAddress string `json:"normalizedAddress"`
	Format            Format `json:"format,omitempty"`
}

// Validate applies the format rules in order: empty, Ethereum (0x prefix),
// Bitcoin (1, 3, bc1 prefix), Solana base58, generic alphanumeric.
func Validate(address string) Result {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return invalid(trimmed, MsgRequired)
	}

	if strings.HasPrefix(trimmed, "0x") {
		if len(trimmed) == 42 && common.IsHexAddress(trimmed) {
			return valid(trimmed, FormatEthereum)
		}
		return invalid(trimmed, MsgInvalidEthereum)
	}

	if strings.HasPrefix(trimmed, "1") || strings.HasPrefix(trimmed, "3") || strings.HasPrefix(trimmed, "bc1") {
		if len(trimmed) >= 26 && len(trimmed) <= 62 {
			return valid(trimmed, FormatBitcoin)
		}
		return invalid(trimmed, MsgInvalidBitcoin)
	}

	if solanaPattern.MatchString(trimmed) {
		return valid(trimmed, FormatSolana)
	}

	if len(trimmed) >= 20 && len(trimmed) <= 100 && genericPattern.MatchString(trimmed) {
		return valid(trimmed, FormatGeneric)
	}

	return invalid(trimmed, MsgInvalidFormat)
}

// ErrorMessage returns the validation error for address, or "" when valid.
func ErrorMessage(address string) string {
	return Validate(address).Error
}

// Placeholder is shown in an empty wallet field.
func Placeholder() string {
	return "Enter wallet address (e.g., 0x... or 1A1z...)"
}

func HelpText() string {
	return "Supported formats: Ethereum (0x...), Bitcoin (1... or bc1...), Solana, and other common formats"
}

func valid(address string, format Format) Result {
	return Result{IsValid: true, NormalizedAddress: address, Format: format}
}

func invalid(address, message string) Result {
	return Result{IsValid: false, Error: message, NormalizedAddress: address}
}
