// Package poolparse turns a raw CLMM pool-creation transaction into the
// pool's mints and vaults.
package poolparse

import (
	"errors"
	"fmt"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// Structural outcomes. These are expected for most transactions the
// detector sees and are dropped without noise.
var (
	ErrInstructionNotFound    = errors.New("no instruction invokes the target program")
	ErrMalformedInstruction   = errors.New("malformed create-pool instruction")
	ErrAccountIndexOutOfRange = fmt.Errorf("%w: account index out of range", ErrMalformedInstruction)
	ErrIgnoredPair            = errors.New("both mints are quote assets")
	ErrExoticPair             = errors.New("neither mint is a quote asset")
)

// Resolution failures. The transaction cannot be decoded safely.
var (
	ErrNoTransaction           = errors.New("transaction missing message")
	ErrLoadedAddressesMissing  = errors.New("versioned transaction without loaded addresses")
	ErrLoadedAddressesMismatch = errors.New("loaded addresses do not match lookup table references")
	ErrInvalidAccountKey       = errors.New("invalid account key")
	ErrUnknownLayout           = errors.New("unknown instruction layout")
)

// IsNotApplicable reports whether err means "this transaction is not a
// pool we trade" rather than a fault.
func IsNotApplicable(err error) bool {
	return errors.Is(err, ErrInstructionNotFound) ||
		(errors.Is(err, ErrMalformedInstruction) && !errors.Is(err, ErrAccountIndexOutOfRange)) ||
		errors.Is(err, ErrIgnoredPair) ||
		errors.Is(err, ErrExoticPair)
}

// AccountTable is the transaction's full account list: static keys, then
// lookup-loaded writable, then lookup-loaded readonly.
type AccountTable []solana.Pubkey

// Lookup returns the key at index i.
func (t AccountTable) Lookup(i int) (solana.Pubkey, bool) {
	if i < 0 || i >= len(t) {
		return "", false
	}
	return t[i], true
}

// ResolvedInstruction is a top-level instruction invoking the target program.
type ResolvedInstruction struct {
	Index          int   // position in the message's instruction list
	ProgramIndex   int   // index of the program in the AccountTable
	AccountIndexes []int // indexes into the AccountTable
}

// ResolveAccounts builds the AccountTable for tx.
//
// Versioned transactions must carry meta.loadedAddresses: without them the
// indexes past the static keys would point at the wrong accounts. Any
// transaction that declares lookup tables must have exactly as many loaded
// addresses as it references.
func ResolveAccounts(tx *solana.Transaction) (AccountTable, error) {
	if tx == nil {
		return nil, ErrNoTransaction
	}
	msg := tx.Transaction.Message
	if len(msg.AccountKeys) == 0 {
		return nil, ErrNoTransaction
	}

	var loaded *solana.LoadedAddresses
	if tx.Meta != nil {
		loaded = tx.Meta.LoadedAddresses
	}

	if tx.Version.IsVersioned() && loaded == nil {
		return nil, fmt.Errorf("%w (version %s)", ErrLoadedAddressesMissing, tx.Version)
	}

	referenced := 0
	for _, l := range msg.AddressTableLookups {
		referenced += l.IndexCount()
	}
	if referenced > 0 || loaded.Len() > 0 {
		if loaded.Len() != referenced {
			return nil, fmt.Errorf("%w: %d loaded, %d referenced", ErrLoadedAddressesMismatch, loaded.Len(), referenced)
		}
	}

	table := make(AccountTable, 0, len(msg.AccountKeys)+loaded.Len())
	appendKeys := func(keys []string) error {
		for _, k := range keys {
			pk, err := solana.ParsePubkey(k)
			if err != nil {
				return fmt.Errorf("%w at %d: %v", ErrInvalidAccountKey, len(table), err)
			}
			table = append(table, pk)
		}
		return nil
	}

	if err := appendKeys(msg.AccountKeys); err != nil {
		return nil, err
	}
	if loaded != nil {
		if err := appendKeys(loaded.Writable); err != nil {
			return nil, err
		}
		if err := appendKeys(loaded.Readonly); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// FindInstruction returns the first top-level instruction whose program
// resolves to program.
func FindInstruction(tx *solana.Transaction, table AccountTable, program solana.Pubkey) (ResolvedInstruction, error) {
	if tx == nil {
		return ResolvedInstruction{}, ErrNoTransaction
	}
	for i, ix := range tx.Transaction.Message.Instructions {
		pk, ok := table.Lookup(ix.ProgramIDIndex)
		if !ok || pk != program {
			continue
		}
		accounts := make([]int, len(ix.Accounts))
		copy(accounts, ix.Accounts)
		return ResolvedInstruction{
			Index:          i,
			ProgramIndex:   ix.ProgramIDIndex,
			AccountIndexes: accounts,
		}, nil
	}
	return ResolvedInstruction{}, ErrInstructionNotFound
}

// Resolve runs ResolveAccounts and FindInstruction.
func Resolve(tx *solana.Transaction, program solana.Pubkey) (AccountTable, ResolvedInstruction, error) {
	table, err := ResolveAccounts(tx)
	if err != nil {
		return nil, ResolvedInstruction{}, err
	}
	ix, err := FindInstruction(tx, table, program)
	if err != nil {
		return table, ResolvedInstruction{}, err
	}
	return table, ix, nil
}
