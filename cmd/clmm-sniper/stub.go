package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

const (
	stubPoolInterval = 15 * time.Second
	stubPathLength   = 120
)

// stubEvents feeds synthetic CreatePool notifications backed by stub
// transactions and random-walk vault balances.
func stubEvents(ctx context.Context, stub *solana.StubRPCClient, program solana.Pubkey) <-chan solana.LogEvent {
	out := make(chan solana.LogEvent, 1)
	go func() {
		defer close(out)
		ticker := time.NewTicker(stubPoolInterval)
		defer ticker.Stop()

		var slot uint64 = 250_000_000
		for {
			slot++
			ev := stubPool(stub, program, slot)
			select {
			case out <- ev:
				log.Debug().Str("sig", ev.Signature.Short()).Msg("stub: synthetic pool emitted")
			case <-ctx.Done():
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
	return out
}

func stubPool(stub *solana.StubRPCClient, program solana.Pubkey, slot uint64) solana.LogEvent {
	creator, ammConfig, poolState := randomKey(), randomKey(), randomKey()
	token, vaultToken, vaultQuote := randomKey(), randomKey(), randomKey()
	sig := solana.Signature(base58.Encode(append(randomBytes(), randomBytes()...)))

	keys := []string{
		string(creator), string(poolState), string(vaultToken), string(vaultQuote),
		string(ammConfig), string(token), string(solana.SOLMint), string(program),
	}
	tx := &solana.Transaction{
		Slot: slot,
		Transaction: solana.TransactionBody{
			Message: solana.Message{
				AccountKeys: keys,
				Instructions: []solana.CompiledInstruction{
					{ProgramIDIndex: 7, Accounts: []int{0, 4, 1, 5, 6, 2, 3}},
				},
			},
		},
		Meta: &solana.TransactionMeta{},
	}
	stub.AddTransaction(sig, tx, rand.Intn(3))

	base, quote := randomWalk()
	stub.ScriptBalances(vaultToken, base...)
	stub.ScriptBalances(vaultQuote, quote...)

	return solana.LogEvent{
		Signature:  sig,
		Slot:       slot,
		Logs:       []string{"Program " + string(program) + " invoke [1]", "Program log: Instruction: CreatePool"},
		ReceivedAt: time.Now(),
	}
}

// randomWalk returns lockstep base and quote vault sequences. The first
// reads report no liquidity.
func randomWalk() (base, quote []solana.TokenBalance) {
	wait := 1 + rand.Intn(3)
	for i := 0; i < wait; i++ {
		base = append(base, solana.UnavailableBalance())
		quote = append(quote, solana.UnavailableBalance())
	}

	tokens := decimal.NewFromInt(1_000_000)
	sol := decimal.NewFromInt(100)
	for i := 0; i < stubPathLength; i++ {
		base = append(base, solana.UIBalance(tokens.String()))
		quote = append(quote, solana.UIBalance(sol.StringFixed(4)))
		step := decimal.NewFromFloat(rand.NormFloat64() * 1.5)
		sol = sol.Add(step)
		if sol.LessThan(decimal.NewFromInt(1)) {
			sol = decimal.NewFromInt(1)
		}
	}
	return base, quote
}

func randomBytes() []byte {
	id := uuid.New()
	return id[:]
}

func randomKey() solana.Pubkey {
	return solana.Pubkey(base58.Encode(append(randomBytes(), randomBytes()...)))
}
