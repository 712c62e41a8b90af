package solana

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePubkey(t *testing.T) {
	for _, valid := range []Pubkey{SOLMint, USDCMint, USDTMint, RaydiumCLMMProgram} {
		pk, err := ParsePubkey(string(valid))
		require.NoError(t, err)
		assert.Equal(t, valid, pk)
	}

	_, err := ParsePubkey("not-base58-0OIl")
	assert.ErrorIs(t, err, ErrInvalidPubkey)

	// Valid base58, wrong length.
	_, err = ParsePubkey("3yZe7d")
	assert.ErrorIs(t, err, ErrInvalidPubkey)
}

func TestTxVersion_Unmarshal(t *testing.T) {
	tests := []struct {
		raw       string
		versioned bool
	}{
		{`"legacy"`, false},
		{`0`, true},
		{`null`, false},
	}
	for _, tt := range tests {
		var v TxVersion
		require.NoError(t, json.Unmarshal([]byte(tt.raw), &v), tt.raw)
		assert.Equal(t, tt.versioned, v.IsVersioned(), tt.raw)
	}

	var v TxVersion
	assert.Error(t, json.Unmarshal([]byte(`"v2"`), &v))
}

func TestTxVersion_OmittedIsLegacy(t *testing.T) {
	var tx Transaction
	require.NoError(t, json.Unmarshal([]byte(`{"slot":1}`), &tx))
	assert.False(t, tx.Version.IsVersioned())
	assert.Equal(t, "legacy", tx.Version.String())
}

func TestMintLabel(t *testing.T) {
	assert.Equal(t, "SOL", MintLabel(SOLMint))
	assert.Equal(t, "USDC", MintLabel(USDCMint))
	assert.Equal(t, "USDT", MintLabel(USDTMint))
	assert.Equal(t, "CAMMCzo5", MintLabel(RaydiumCLMMProgram))
}

func TestStubRPC_TransactionPropagation(t *testing.T) {
	stub := NewStubRPCClient()
	tx := &Transaction{Slot: 10}
	stub.AddTransaction("sig", tx, 2)

	got, err := stub.GetTransaction(context.Background(), "sig")
	require.NoError(t, err)
	assert.Nil(t, got)
	got, _ = stub.GetTransaction(context.Background(), "sig")
	assert.Nil(t, got)
	got, _ = stub.GetTransaction(context.Background(), "sig")
	assert.Equal(t, tx, got)
	assert.Equal(t, 3, stub.TransactionCalls("sig"))
}

func TestStubRPC_ScriptedBalances(t *testing.T) {
	stub := NewStubRPCClient()
	stub.ScriptBalances("vault", UnavailableBalance(), UIBalance("100"))

	bal, err := stub.GetTokenAccountBalance(context.Background(), "vault")
	require.NoError(t, err)
	assert.False(t, bal.Available)

	for i := 0; i < 3; i++ {
		bal, err = stub.GetTokenAccountBalance(context.Background(), "vault")
		require.NoError(t, err)
		assert.True(t, bal.Available)
		assert.Equal(t, "100", bal.UIAmount.String())
	}

	stub.FailBalances(1)
	_, err = stub.GetTokenAccountBalance(context.Background(), "vault")
	assert.Error(t, err)

	_, err = stub.GetTokenAccountBalance(context.Background(), "unknown")
	assert.Error(t, err)
}
