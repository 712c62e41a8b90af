package solana

import (
	"errors"
	"fmt"
	"time"

	"github.com/mr-tron/base58"
	"github.com/shopspring/decimal"
)

// Pubkey is a Solana public key (base58 string).
type Pubkey string

// Signature is a Solana transaction signature.
type Signature string

// PubkeyLength is the decoded size of an ed25519 public key.
const PubkeyLength = 32

// ErrInvalidPubkey is returned when a string is not a base58 32-byte key.
var ErrInvalidPubkey = errors.New("invalid pubkey")

// ParsePubkey validates s as a base58-encoded 32-byte public key.
func ParsePubkey(s string) (Pubkey, error) {
	data, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPubkey, s, err)
	}
	if len(data) != PubkeyLength {
		return "", fmt.Errorf("%w: %q decodes to %d bytes", ErrInvalidPubkey, s, len(data))
	}
	return Pubkey(s), nil
}

// Short returns the first 8 characters, for log lines.
func (p Pubkey) Short() string {
	if len(p) > 8 {
		return string(p[:8])
	}
	return string(p)
}

// Short returns the first 12 characters, for log lines.
func (s Signature) Short() string {
	if len(s) > 12 {
		return string(s[:12])
	}
	return string(s)
}

// ---------------------------------------------------------------------------
// Balances & log events
// ---------------------------------------------------------------------------

// TokenBalance is the result of getTokenAccountBalance.
// Available is false when the node reports a null uiAmount (no liquidity yet).
type TokenBalance struct {
	Account   Pubkey          `json:"account"`
	Amount    string          `json:"amount"` // raw integer amount
	Decimals  uint8           `json:"decimals"`
	UIAmount  decimal.Decimal `json:"ui_amount"`
	Available bool            `json:"available"`
}

// LogEvent is one logsNotification from the program log subscription.
type LogEvent struct {
	Signature  Signature `json:"signature"`
	Slot       uint64    `json:"slot"`
	Logs       []string  `json:"logs"`
	Failed     bool      `json:"failed"` // transaction-level error reported
	ReceivedAt time.Time `json:"received_at"`
}

// Well-known mints.
const (
	SOLMint  Pubkey = "So11111111111111111111111111111111111111112"
	USDCMint Pubkey = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDTMint Pubkey = "Es9vMFrzaCERmJfrF4H2FYD4KCoNkY11McCe8BenwNYB"
)

// Raydium program ids on mainnet.
const (
	RaydiumCLMMProgram Pubkey = "CAMMCzo5YL8w4VFF8KVHrK22GGUsp5VTaW7grrKgrWqK"
	RaydiumCPMMProgram Pubkey = "CPMMoo8L3F4NbTegBCKVNunggL7H1ZpdTHKxQB5qKP1C"
)

// DefaultQuoteMints is the quote asset set used to price new tokens.
func DefaultQuoteMints() []Pubkey {
	return []Pubkey{SOLMint, USDCMint, USDTMint}
}

// MintLabel returns a ticker for well-known quote mints.
func MintLabel(mint Pubkey) string {
	switch mint {
	case SOLMint:
		return "SOL"
	case USDCMint:
		return "USDC"
	case USDTMint:
		return "USDT"
	default:
		return mint.Short()
	}
}
