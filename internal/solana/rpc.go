package solana

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// RPC Client Interface
// ---------------------------------------------------------------------------

// TransactionFetcher fetches a confirmed transaction by signature.
// A nil transaction with a nil error means the node does not have it yet.
type TransactionFetcher interface {
	GetTransaction(ctx context.Context, sig Signature) (*Transaction, error)
}

// BalanceReader reads an SPL token account balance at "confirmed".
type BalanceReader interface {
	GetTokenAccountBalance(ctx context.Context, account Pubkey) (*TokenBalance, error)
}

// RPCClient is the interface for Solana RPC interactions.
// Implementations: LiveRPCClient (real Solana), StubRPCClient (testing).
type RPCClient interface {
	TransactionFetcher
	BalanceReader

	// Health returns the RPC endpoint health.
	Health(ctx context.Context) error
}

// RPCConfig configures the Solana RPC client.
type RPCConfig struct {
	Endpoint     string        `yaml:"endpoint"`    // e.g. https://api.mainnet-beta.solana.com
	WSEndpoint   string        `yaml:"ws_endpoint"` // e.g. wss://api.mainnet-beta.solana.com
	Commitment   string        `yaml:"commitment"`
	Timeout      time.Duration `yaml:"timeout"`
	MaxRetries   int           `yaml:"max_retries"`
	RateLimitRPS float64       `yaml:"rate_limit_rps"` // requests per second limit
}

// DefaultRPCConfig returns development defaults.
func DefaultRPCConfig() RPCConfig {
	return RPCConfig{
		Endpoint:     "https://api.mainnet-beta.solana.com",
		WSEndpoint:   "wss://api.mainnet-beta.solana.com",
		Commitment:   "confirmed",
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RateLimitRPS: 10,
	}
}

// ---------------------------------------------------------------------------
// Stub RPC Client (for testing and development)
// ---------------------------------------------------------------------------

// StubRPCClient is a scripted RPC client for tests and -stub runs.
type StubRPCClient struct {
	mu           sync.Mutex
	txs          map[Signature]*Transaction
	txMisses     map[Signature]int // nil responses before the tx "propagates"
	txCalls      map[Signature]int
	balances     map[Pubkey][]TokenBalance
	balanceCalls map[Pubkey]int
	balanceFails int
	failNext     bool
}

// NewStubRPCClient creates a stub RPC client for testing.
func NewStubRPCClient() *StubRPCClient {
	return &StubRPCClient{
		txs:          make(map[Signature]*Transaction),
		txMisses:     make(map[Signature]int),
		txCalls:      make(map[Signature]int),
		balances:     make(map[Pubkey][]TokenBalance),
		balanceCalls: make(map[Pubkey]int),
	}
}

// AddTransaction registers a transaction. It is returned after `misses`
// empty responses, simulating propagation delay.
func (s *StubRPCClient) AddTransaction(sig Signature, tx *Transaction, misses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txs[sig] = tx
	s.txMisses[sig] = misses
}

// ScriptBalances sets the sequence of balances returned for an account.
// Each call consumes one entry; the last entry repeats once exhausted.
func (s *StubRPCClient) ScriptBalances(account Pubkey, seq ...TokenBalance) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range seq {
		seq[i].Account = account
	}
	s.balances[account] = seq
	s.balanceCalls[account] = 0
}

// FailBalances makes the next n balance reads fail.
func (s *StubRPCClient) FailBalances(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balanceFails = n
}

// SetFailNext makes the next call fail.
func (s *StubRPCClient) SetFailNext() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = true
}

// TransactionCalls returns how many times a signature was fetched.
func (s *StubRPCClient) TransactionCalls(sig Signature) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txCalls[sig]
}

// BalanceCalls returns how many times an account balance was read.
func (s *StubRPCClient) BalanceCalls(account Pubkey) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balanceCalls[account]
}

func (s *StubRPCClient) shouldFail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return true
	}
	return false
}

// --- Interface implementation ---

func (s *StubRPCClient) GetTransaction(_ context.Context, sig Signature) (*Transaction, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCalls[sig]++
	tx, ok := s.txs[sig]
	if !ok {
		return nil, nil
	}
	if s.txMisses[sig] > 0 {
		s.txMisses[sig]--
		return nil, nil
	}
	return tx, nil
}

func (s *StubRPCClient) GetTokenAccountBalance(_ context.Context, account Pubkey) (*TokenBalance, error) {
	if s.shouldFail() {
		return nil, fmt.Errorf("stub: simulated RPC failure")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.balanceFails > 0 {
		s.balanceFails--
		return nil, fmt.Errorf("stub: simulated balance failure for %s", account)
	}
	seq := s.balances[account]
	if len(seq) == 0 {
		return nil, fmt.Errorf("stub: account %s not found", account)
	}
	idx := s.balanceCalls[account]
	s.balanceCalls[account]++
	if idx >= len(seq) {
		idx = len(seq) - 1
	}
	bal := seq[idx]
	return &bal, nil
}

func (s *StubRPCClient) Health(_ context.Context) error {
	if s.shouldFail() {
		return fmt.Errorf("stub: simulated RPC failure")
	}
	return nil
}

// UIBalance builds an available balance from a decimal string.
func UIBalance(ui string) TokenBalance {
	return TokenBalance{
		UIAmount:  decimal.RequireFromString(ui),
		Available: true,
	}
}

// UnavailableBalance is a balance whose uiAmount was reported as null.
func UnavailableBalance() TokenBalance {
	return TokenBalance{}
}
