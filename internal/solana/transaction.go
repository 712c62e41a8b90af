package solana

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ---------------------------------------------------------------------------
// getTransaction envelope (encoding "json")
// ---------------------------------------------------------------------------

// TxVersion is the transaction format marker. The zero value is legacy,
// which is also what an omitted "version" field means.
type TxVersion struct {
	Versioned bool
	Number    int
}

// IsVersioned reports whether the transaction uses the v0+ message format,
// which can reference address lookup tables.
func (v TxVersion) IsVersioned() bool {
	return v.Versioned
}

func (v TxVersion) String() string {
	if !v.Versioned {
		return "legacy"
	}
	return fmt.Sprintf("%d", v.Number)
}

// UnmarshalJSON accepts "legacy", a number, or null.
func (v *TxVersion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = TxVersion{}
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s != "legacy" {
			return fmt.Errorf("unknown transaction version %q", s)
		}
		*v = TxVersion{}
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("transaction version: %w", err)
	}
	*v = TxVersion{Versioned: true, Number: n}
	return nil
}

// MarshalJSON mirrors the node's encoding.
func (v TxVersion) MarshalJSON() ([]byte, error) {
	if !v.Versioned {
		return []byte(`"legacy"`), nil
	}
	return json.Marshal(v.Number)
}

// Transaction is the subset of getTransaction the pool pipeline reads.
type Transaction struct {
	Slot        uint64           `json:"slot"`
	BlockTime   *int64           `json:"blockTime"`
	Version     TxVersion        `json:"version"`
	Transaction TransactionBody  `json:"transaction"`
	Meta        *TransactionMeta `json:"meta"`
}

// TransactionBody holds signatures and the compiled message.
type TransactionBody struct {
	Signatures []Signature `json:"signatures"`
	Message    Message     `json:"message"`
}

// Message is the compiled message: static keys plus instructions that
// reference accounts by position.
type Message struct {
	AccountKeys         []string              `json:"accountKeys"`
	Instructions        []CompiledInstruction `json:"instructions"`
	AddressTableLookups []AddressTableLookup  `json:"addressTableLookups,omitempty"`
}

// CompiledInstruction references its program and accounts by index into
// the resolved account key list.
type CompiledInstruction struct {
	ProgramIDIndex int    `json:"programIdIndex"`
	Accounts       []int  `json:"accounts"`
	Data           string `json:"data"`
}

// AddressTableLookup is a lookup table reference declared by a v0 message.
type AddressTableLookup struct {
	AccountKey      string `json:"accountKey"`
	WritableIndexes []int  `json:"writableIndexes"`
	ReadonlyIndexes []int  `json:"readonlyIndexes"`
}

// IndexCount is the number of addresses this lookup loads.
func (l AddressTableLookup) IndexCount() int {
	return len(l.WritableIndexes) + len(l.ReadonlyIndexes)
}

// TransactionMeta is the execution metadata.
type TransactionMeta struct {
	Err             json.RawMessage  `json:"err"`
	LoadedAddresses *LoadedAddresses `json:"loadedAddresses"`
	LogMessages     []string         `json:"logMessages"`
}

// Failed reports whether the transaction errored on chain.
func (m *TransactionMeta) Failed() bool {
	if m == nil {
		return false
	}
	e := bytes.TrimSpace(m.Err)
	return len(e) > 0 && !bytes.Equal(e, []byte("null"))
}

// LoadedAddresses are the lookup-table addresses the runtime resolved.
type LoadedAddresses struct {
	Writable []string `json:"writable"`
	Readonly []string `json:"readonly"`
}

// Len is the total number of loaded addresses.
func (l *LoadedAddresses) Len() int {
	if l == nil {
		return 0
	}
	return len(l.Writable) + len(l.Readonly)
}
