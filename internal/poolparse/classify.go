package poolparse

import (
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// ClassifiedPool is a pool split into the new token (base) and the quote
// asset it is priced in.
type ClassifiedPool struct {
	BaseMint   solana.Pubkey `json:"base_mint"`
	QuoteMint  solana.Pubkey `json:"quote_mint"`
	BaseVault  solana.Pubkey `json:"base_vault"`
	QuoteVault solana.Pubkey `json:"quote_vault"`
	// Inverted is true when the base token occupies slot 1 of the pool
	// (mint1/vault1) and the quote asset slot 0.
	Inverted bool `json:"inverted"`
}

// Classifier assigns base and quote roles using a quote asset set.
type Classifier struct {
	quotes map[solana.Pubkey]struct{}
}

// NewClassifier creates a classifier. An empty set falls back to
// solana.DefaultQuoteMints.
func NewClassifier(quotes []solana.Pubkey) *Classifier {
	if len(quotes) == 0 {
		quotes = solana.DefaultQuoteMints()
	}
	set := make(map[solana.Pubkey]struct{}, len(quotes))
	for _, q := range quotes {
		set[q] = struct{}{}
	}
	return &Classifier{quotes: set}
}

// IsQuote reports whether mint is in the quote set.
func (c *Classifier) IsQuote(mint solana.Pubkey) bool {
	_, ok := c.quotes[mint]
	return ok
}

// Classify applies the quote decision table to a pool.
func (c *Classifier) Classify(pool PoolAccounts) (ClassifiedPool, error) {
	q0, q1 := c.IsQuote(pool.Mint0), c.IsQuote(pool.Mint1)
	switch {
	case q0 && q1:
		return ClassifiedPool{}, ErrIgnoredPair
	case !q0 && !q1:
		return ClassifiedPool{}, ErrExoticPair
	case q0:
		return ClassifiedPool{
			BaseMint:   pool.Mint1,
			QuoteMint:  pool.Mint0,
			BaseVault:  pool.Vault1,
			QuoteVault: pool.Vault0,
			Inverted:   true,
		}, nil
	default:
		return ClassifiedPool{
			BaseMint:   pool.Mint0,
			QuoteMint:  pool.Mint1,
			BaseVault:  pool.Vault0,
			QuoteVault: pool.Vault1,
		}, nil
	}
}
