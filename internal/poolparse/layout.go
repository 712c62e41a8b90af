package poolparse

import (
	"fmt"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// PoolAccounts are the two mints and two vaults of a new pool, in the
// program's slot order.
type PoolAccounts struct {
	Mint0  solana.Pubkey `json:"mint0"`
	Mint1  solana.Pubkey `json:"mint1"`
	Vault0 solana.Pubkey `json:"vault0"`
	Vault1 solana.Pubkey `json:"vault1"`
}

// LayoutVersion names an on-chain instruction account layout.
type LayoutVersion string

// LayoutCreatePoolV1 is the Raydium CLMM CreatePool account order:
//
//	#0 pool creator          #7  observation state
//	#1 amm config            #8  tick array bitmap
//	#2 pool state            #9  token program 0
//	#3 token mint 0          #10 token program 1
//	#4 token mint 1          #11 system program
//	#5 token vault 0         #12 rent
//	#6 token vault 1
const LayoutCreatePoolV1 LayoutVersion = "clmm-create-pool-v1"

// Decoder extracts PoolAccounts from an instruction and its account table.
type Decoder func(ix ResolvedInstruction, table AccountTable) (PoolAccounts, error)

// positionalLayout maps PoolAccounts fields to instruction account positions.
type positionalLayout struct {
	MinAccounts int
	Mint0Index  int
	Mint1Index  int
	Vault0Index int
	Vault1Index int
}

var layouts = map[LayoutVersion]Decoder{
	LayoutCreatePoolV1: positionalLayout{
		MinAccounts: 7,
		Mint0Index:  3,
		Mint1Index:  4,
		Vault0Index: 5,
		Vault1Index: 6,
	}.decode,
}

// DecoderFor returns the decoder registered for version.
func DecoderFor(version LayoutVersion) (Decoder, error) {
	d, ok := layouts[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLayout, version)
	}
	return d, nil
}

func (l positionalLayout) decode(ix ResolvedInstruction, table AccountTable) (PoolAccounts, error) {
	if len(ix.AccountIndexes) < l.MinAccounts {
		return PoolAccounts{}, fmt.Errorf("%w: %d accounts, need %d", ErrMalformedInstruction, len(ix.AccountIndexes), l.MinAccounts)
	}

	at := func(pos int) (solana.Pubkey, error) {
		idx := ix.AccountIndexes[pos]
		pk, ok := table.Lookup(idx)
		if !ok {
			return "", fmt.Errorf("%w: position %d -> index %d, table has %d", ErrAccountIndexOutOfRange, pos, idx, len(table))
		}
		return pk, nil
	}

	var (
		out PoolAccounts
		err error
	)
	if out.Mint0, err = at(l.Mint0Index); err != nil {
		return PoolAccounts{}, err
	}
	if out.Mint1, err = at(l.Mint1Index); err != nil {
		return PoolAccounts{}, err
	}
	if out.Vault0, err = at(l.Vault0Index); err != nil {
		return PoolAccounts{}, err
	}
	if out.Vault1, err = at(l.Vault1Index); err != nil {
		return PoolAccounts{}, err
	}
	return out, nil
}
