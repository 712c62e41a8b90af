package papertrade

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// State is a session lifecycle state. OPEN -> CLOSED only.
type State string

const (
	StateOpen   State = "OPEN"
	StateClosed State = "CLOSED"
)

var hundred = decimal.NewFromInt(100)

// Params describes what a session watches.
type Params struct {
	Token      solana.Pubkey
	Quote      solana.Pubkey
	BaseVault  solana.Pubkey
	QuoteVault solana.Pubkey
	// Inverted means the vault labelled base holds the quote side and the
	// vault labelled quote holds the token.
	Inverted  bool
	Signature solana.Signature
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	ID         string           `json:"id"`
	Token      solana.Pubkey    `json:"token"`
	Quote      solana.Pubkey    `json:"quote"`
	BaseVault  solana.Pubkey    `json:"base_vault"`
	QuoteVault solana.Pubkey    `json:"quote_vault"`
	Inverted   bool             `json:"inverted"`
	Signature  solana.Signature `json:"signature,omitempty"`
	State      State            `json:"state"`

	Entered      bool            `json:"entered"`
	InitialPrice decimal.Decimal `json:"initial_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MaxPrice     decimal.Decimal `json:"max_price"`
	Liquidity    decimal.Decimal `json:"liquidity"` // quote units at entry
	PnLPct       float64         `json:"pnl_pct"`
	MaxPnLPct    float64         `json:"max_pnl_pct"`
	Ticks        int64           `json:"ticks"`
	Exit         ExitState       `json:"exit"`

	StartedAt time.Time  `json:"started_at"`
	EnteredAt *time.Time `json:"entered_at,omitempty"`

	ExitPrice      decimal.Decimal `json:"exit_price"`
	ExitReason     string          `json:"exit_reason,omitempty"`
	RealizedPnLPct float64         `json:"realized_pnl_pct"`
	RealizedPnL    decimal.Decimal `json:"realized_pnl"`
	ClosedAt       *time.Time      `json:"closed_at,omitempty"`
}

// Elapsed is the time since the session started, or its lifetime once closed.
func (s Snapshot) Elapsed(now time.Time) time.Duration {
	if s.ClosedAt != nil {
		return s.ClosedAt.Sub(s.StartedAt)
	}
	return now.Sub(s.StartedAt)
}

// tickOutcome is what a single balance observation did to the session.
type tickOutcome int

const (
	tickAwaitLiquidity tickOutcome = iota // a balance was unavailable
	tickZeroAmount                        // a side was zero, no price
	tickPriced                            // price updated, still open
	tickClosed                            // policy closed the session
	tickStale                             // session already closed
)

// session is owned by its loop goroutine; mu guards reads from snapshots.
type session struct {
	mu         sync.Mutex
	snap       Snapshot
	policy     ExitPolicy
	investment decimal.Decimal
	pnl        decimal.Decimal

	stop     chan struct{}
	stopOnce sync.Once
	reported bool // included in a Snapshot after closing
}

func newSession(id string, p Params, policy ExitPolicy, investment decimal.Decimal, now time.Time) *session {
	return &session{
		snap: Snapshot{
			ID:         id,
			Token:      p.Token,
			Quote:      p.Quote,
			BaseVault:  p.BaseVault,
			QuoteVault: p.QuoteVault,
			Inverted:   p.Inverted,
			Signature:  p.Signature,
			State:      StateOpen,
			StartedAt:  now,
			Exit:       policy.State(),
		},
		policy:     policy,
		investment: investment,
		stop:       make(chan struct{}),
	}
}

func (s *session) snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap
}

func (s *session) isOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.State == StateOpen
}

// signalStop closes the stop channel once.
func (s *session) signalStop() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// observe applies one pair of vault balances.
func (s *session) observe(base, quote solana.TokenBalance, now time.Time) tickOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.snap.State != StateOpen {
		return tickStale
	}
	if !base.Available || !quote.Available {
		return tickAwaitLiquidity
	}

	solAmount, tokenAmount := quote.UIAmount, base.UIAmount
	if s.snap.Inverted {
		solAmount, tokenAmount = base.UIAmount, quote.UIAmount
	}
	if solAmount.IsZero() || tokenAmount.IsZero() {
		return tickZeroAmount
	}

	price := solAmount.Div(tokenAmount)
	s.snap.Ticks++
	s.snap.CurrentPrice = price

	if !s.snap.Entered {
		entered := now
		s.snap.Entered = true
		s.snap.EnteredAt = &entered
		s.snap.InitialPrice = price
		s.snap.MaxPrice = price
		s.snap.Liquidity = solAmount
		log.Info().
			Str("session", s.snap.ID).
			Str("token", string(s.snap.Token)).
			Str("price", price.StringFixed(9)).
			Str("liquidity", solAmount.StringFixed(2)).
			Time("entry_time", now).
			Msg("paper: simulated buy")
	}
	if price.GreaterThan(s.snap.MaxPrice) {
		s.snap.MaxPrice = price
	}

	s.pnl = pctChange(s.snap.InitialPrice, price)
	s.snap.PnLPct = s.pnl.InexactFloat64()
	s.snap.MaxPnLPct = pctChange(s.snap.InitialPrice, s.snap.MaxPrice).InexactFloat64()

	decision := s.policy.Evaluate(s.snap.PnLPct, s.snap.MaxPnLPct)
	s.snap.Exit = s.policy.State()

	log.Debug().
		Str("session", s.snap.ID).
		Float64("elapsed_s", now.Sub(s.snap.StartedAt).Seconds()).
		Str("price", price.StringFixed(9)).
		Float64("pnl_pct", s.snap.PnLPct).
		Float64("max_pnl_pct", s.snap.MaxPnLPct).
		Msg("paper: tick")

	if !decision.ShouldExit {
		return tickPriced
	}
	s.closeLocked(decision.Reason, now)
	return tickClosed
}

// close marks the session CLOSED. It reports false if it already was.
func (s *session) close(reason string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap.State != StateOpen {
		return false
	}
	s.closeLocked(reason, now)
	return true
}

func (s *session) closeLocked(reason string, now time.Time) {
	closed := now
	s.snap.State = StateClosed
	s.snap.ExitReason = reason
	s.snap.ClosedAt = &closed
	if s.snap.Entered {
		s.snap.ExitPrice = s.snap.CurrentPrice
		s.snap.RealizedPnLPct = s.snap.PnLPct
		s.snap.RealizedPnL = s.investment.Mul(s.pnl).Div(hundred)
	}
}

func pctChange(from, to decimal.Decimal) decimal.Decimal {
	if from.IsZero() {
		return decimal.Zero
	}
	return to.Sub(from).Div(from).Mul(hundred)
}

// run polls the session's vaults until the policy closes it, it is
// stopped, or ctx ends.
func (m *Manager) run(ctx context.Context, s *session) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session", s.snap.ID).Msg("paper: session loop panic recovered")
			m.finish(s, ReasonShutdown)
		}
	}()

	cfg := m.config
	for {
		select {
		case <-ctx.Done():
			m.finish(s, ReasonShutdown)
			return
		case <-s.stop:
			return
		default:
		}

		base, quote, err := m.readVaults(ctx, s)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			m.metrics.BalanceErrors.Inc()
			log.Warn().Err(err).Str("session", s.snap.ID).Msg("paper: balance read failed, backing off")
			m.sleep(ctx, s, cfg.ErrorBackoff())
			continue
		}

		switch s.observe(base, quote, m.now()) {
		case tickAwaitLiquidity:
			log.Debug().Str("session", s.snap.ID).Msg("paper: awaiting liquidity")
			m.sleep(ctx, s, cfg.IdleInterval())
		case tickZeroAmount:
			m.sleep(ctx, s, cfg.IdleInterval())
		case tickPriced:
			m.metrics.PriceTicks.Inc()
			m.sleep(ctx, s, cfg.PollInterval())
		case tickClosed:
			m.metrics.PriceTicks.Inc()
			m.finish(s, "")
			return
		case tickStale:
			return
		}
	}
}

func (m *Manager) readVaults(ctx context.Context, s *session) (solana.TokenBalance, solana.TokenBalance, error) {
	base, err := m.balances.GetTokenAccountBalance(ctx, s.snap.BaseVault)
	if err != nil {
		return solana.TokenBalance{}, solana.TokenBalance{}, err
	}
	quote, err := m.balances.GetTokenAccountBalance(ctx, s.snap.QuoteVault)
	if err != nil {
		return solana.TokenBalance{}, solana.TokenBalance{}, err
	}
	if base == nil || quote == nil {
		return solana.UnavailableBalance(), solana.UnavailableBalance(), nil
	}
	return *base, *quote, nil
}

// sleep waits d, returning false if interrupted by stop or ctx.
func (m *Manager) sleep(ctx context.Context, s *session, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.stop:
		return false
	case <-ctx.Done():
		return false
	}
}
