// Package papertrade simulates a buy on each newly detected pool and
// tracks it against an exit policy until it closes.
package papertrade

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/observability"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/poolparse"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// ErrSessionLimit is returned when MaxSessions sessions are already open.
var ErrSessionLimit = errors.New("paper: session limit reached")

// Config configures the paper trader.
type Config struct {
	// Preset fills poll cadence and exit policy: scalp, swing or trailing.
	// Explicit values in the same section override it.
	Preset string `yaml:"preset"`

	// Simulated notional per session, in quote units.
	Investment float64 `yaml:"investment"`

	// Sleep after a priced tick.
	PollIntervalMs int `yaml:"poll_interval_ms"`

	// Sleep while liquidity is missing or a side is zero.
	IdleIntervalMs int `yaml:"idle_interval_ms"`

	// Sleep after a failed balance read.
	ErrorBackoffMs int `yaml:"error_backoff_ms"`

	// Maximum concurrently open sessions (0 = unlimited).
	MaxSessions int `yaml:"max_sessions"`

	// How long a closed session stays visible before it is dropped from
	// the registry. Snapshot drops it sooner.
	RetainClosedMs int `yaml:"retain_closed_ms"`

	Exit ExitConfig `yaml:"exit"`
}

// DefaultConfig returns the coarse monitoring cadence with a breakeven stop.
func DefaultConfig() Config {
	return Config{
		Investment:     1,
		PollIntervalMs: 2000,
		IdleIntervalMs: 1000,
		ErrorBackoffMs: 5000,
		MaxSessions:    0,
		RetainClosedMs: 10000,
		Exit:           DefaultExitConfig(),
	}
}

// PresetConfig returns a named preset.
func PresetConfig(name string) (Config, error) {
	cfg := DefaultConfig()
	switch name {
	case "", "swing":
	case "scalp":
		cfg.PollIntervalMs = 100
		cfg.Exit = ExitConfig{Kind: ExitFixed, TakeProfitPct: 5, StopLossPct: 10}
	case "trailing":
		cfg.PollIntervalMs = 1000
		cfg.Exit = ExitConfig{
			Kind:                ExitTrailing,
			TakeProfitPct:       50,
			StopLossPct:         10,
			BreakevenTriggerPct: 5,
			TrailingPct:         5,
		}
	default:
		return Config{}, fmt.Errorf("paper: unknown preset %q", name)
	}
	cfg.Preset = name
	return cfg, nil
}

// Validate checks intervals, notional and the exit policy.
func (c Config) Validate() error {
	if c.Investment <= 0 {
		return fmt.Errorf("paper: investment must be > 0, got %v", c.Investment)
	}
	if c.PollIntervalMs <= 0 || c.IdleIntervalMs <= 0 || c.ErrorBackoffMs <= 0 {
		return fmt.Errorf("paper: intervals must be > 0 (poll=%d idle=%d backoff=%d)",
			c.PollIntervalMs, c.IdleIntervalMs, c.ErrorBackoffMs)
	}
	if c.MaxSessions < 0 {
		return fmt.Errorf("paper: max_sessions must be >= 0, got %d", c.MaxSessions)
	}
	if c.RetainClosedMs <= 0 {
		return fmt.Errorf("paper: retain_closed_ms must be > 0, got %d", c.RetainClosedMs)
	}
	return c.Exit.Validate()
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c Config) IdleInterval() time.Duration {
	return time.Duration(c.IdleIntervalMs) * time.Millisecond
}

func (c Config) ErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoffMs) * time.Millisecond
}

func (c Config) RetainClosed() time.Duration {
	return time.Duration(c.RetainClosedMs) * time.Millisecond
}

// Manager owns the session registry. Each session runs its own loop.
type Manager struct {
	config     Config
	investment decimal.Decimal
	balances   solana.BalanceReader
	metrics    *observability.Metrics

	mu       sync.RWMutex
	sessions map[string]*session

	// Callbacks.
	onSessionOpen  func(Snapshot)
	onSessionClose func(Snapshot)
	onStopAll      func()

	// Stats.
	statsMu      sync.Mutex
	realized     decimal.Decimal
	totalStarted atomic.Int64
	totalClosed  atomic.Int64
	winCount     atomic.Int64
	lossCount    atomic.Int64

	now   func() time.Time
	newID func() string
}

// NewManager creates a manager reading vault balances from balances.
// A nil metrics discards measurements.
func NewManager(config Config, balances solana.BalanceReader, metrics *observability.Metrics) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if metrics == nil {
		metrics = observability.NewNoop()
	}
	return &Manager{
		config:     config,
		investment: decimal.NewFromFloat(config.Investment),
		balances:   balances,
		metrics:    metrics,
		sessions:   make(map[string]*session),
		now:        time.Now,
		newID:      func() string { return uuid.New().String()[:12] },
	}, nil
}

// SetOnSessionOpen sets the callback for new sessions.
func (m *Manager) SetOnSessionOpen(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionOpen = fn
}

// SetOnSessionClose sets the callback for closed sessions.
func (m *Manager) SetOnSessionClose(fn func(Snapshot)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onSessionClose = fn
}

// SetOnStopAll sets the hook StopAll runs after closing every session.
func (m *Manager) SetOnStopAll(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStopAll = fn
}

// StartTracking opens a session on a classified pool and returns its id
// without waiting for the first tick.
func (m *Manager) StartTracking(ctx context.Context, pool poolparse.ClassifiedPool, sig solana.Signature) (string, error) {
	// Classified vaults are already role-aligned.
	return m.Track(ctx, Params{
		Token:      pool.BaseMint,
		Quote:      pool.QuoteMint,
		BaseVault:  pool.BaseVault,
		QuoteVault: pool.QuoteVault,
		Inverted:   false,
		Signature:  sig,
	})
}

// Track opens a session with explicit vault roles. The loop stops when the
// policy exits, Stop is called, or ctx is cancelled.
func (m *Manager) Track(ctx context.Context, p Params) (string, error) {
	policy, err := NewExitPolicy(m.config.Exit)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	if m.config.MaxSessions > 0 && m.openLocked() >= m.config.MaxSessions {
		m.mu.Unlock()
		return "", fmt.Errorf("%w (%d open)", ErrSessionLimit, m.config.MaxSessions)
	}
	id := m.newID()
	for _, taken := m.sessions[id]; taken; _, taken = m.sessions[id] {
		id = m.newID()
	}
	s := newSession(id, p, policy, m.investment, m.now())
	m.sessions[id] = s
	cb := m.onSessionOpen
	m.mu.Unlock()

	m.totalStarted.Add(1)
	m.metrics.SessionsStarted.Inc()
	m.metrics.SessionsOpen.Inc()

	log.Info().
		Str("session", id).
		Str("token", string(p.Token)).
		Str("quote", solana.MintLabel(p.Quote)).
		Str("base_vault", string(p.BaseVault)).
		Str("quote_vault", string(p.QuoteVault)).
		Bool("inverted", p.Inverted).
		Str("policy", string(m.config.Exit.Kind)).
		Msg("paper: session OPENED")

	if cb != nil {
		cb(s.snapshot())
	}

	go m.run(ctx, s)
	return id, nil
}

func (m *Manager) openLocked() int {
	n := 0
	for _, s := range m.sessions {
		if s.isOpen() {
			n++
		}
	}
	return n
}

// Stop closes a session with reason manual-stop and removes it from the
// registry. It reports whether the id was registered; repeat calls are no-ops.
func (m *Manager) Stop(id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}

	if s.close(ReasonManualStop, m.now()) {
		m.recordClose(s.snapshot())
	}
	s.signalStop()
	return true
}

// StopAll stops every session and then runs the stop-all hook.
func (m *Manager) StopAll() int {
	stopped := m.StopSessions()

	m.mu.RLock()
	hook := m.onStopAll
	m.mu.RUnlock()
	if hook != nil {
		hook()
	}
	return stopped
}

// StopSessions stops every registered session. Unlike StopAll it leaves
// the stop-all hook alone, so sinks keep running for later sessions.
func (m *Manager) StopSessions() int {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	stopped := 0
	for _, id := range ids {
		if m.Stop(id) {
			stopped++
		}
	}
	log.Info().Int("stopped", stopped).Msg("paper: all sessions stopped")
	return stopped
}

// finish closes s for reason (empty when the loop already closed it) and
// records the result once.
func (m *Manager) finish(s *session, reason string) {
	if reason != "" && !s.close(reason, m.now()) {
		return
	}
	s.signalStop()
	m.recordClose(s.snapshot())
	m.scheduleReap(s)
}

// scheduleReap drops s from the registry once the retention window ends,
// unless Snapshot or Stop removed it first.
func (m *Manager) scheduleReap(s *session) {
	time.AfterFunc(m.config.RetainClosed(), func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if cur, ok := m.sessions[s.snap.ID]; ok && cur == s {
			delete(m.sessions, s.snap.ID)
		}
	})
}

func (m *Manager) recordClose(snap Snapshot) {
	m.totalClosed.Add(1)
	switch {
	case !snap.Entered:
		// No simulated buy, so neither a win nor a loss.
	case snap.RealizedPnLPct < 0:
		m.lossCount.Add(1)
	default:
		m.winCount.Add(1)
	}
	m.statsMu.Lock()
	m.realized = m.realized.Add(snap.RealizedPnL)
	m.statsMu.Unlock()

	m.metrics.SessionsClosed.Inc(snap.ExitReason)
	m.metrics.SessionsOpen.Dec()

	m.mu.RLock()
	cb := m.onSessionClose
	m.mu.RUnlock()
	if cb != nil {
		cb(snap)
	}

	log.Info().
		Str("session", snap.ID).
		Str("token", string(snap.Token)).
		Str("reason", snap.ExitReason).
		Str("exit_price", snap.ExitPrice.StringFixed(9)).
		Float64("pnl_pct", snap.RealizedPnLPct).
		Str("realized", snap.RealizedPnL.String()).
		Msg("paper: session CLOSED")
}

// Snapshot returns copies of every registered session ordered by start
// time. Closed sessions are returned once and then dropped from the registry.
func (m *Manager) Snapshot() []Snapshot {
	m.mu.Lock()
	out := make([]Snapshot, 0, len(m.sessions))
	for id, s := range m.sessions {
		snap := s.snapshot()
		out = append(out, snap)
		if snap.State == StateClosed {
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	sortSnapshots(out)
	return out
}

// Sessions returns copies of every registered session without reaping.
func (m *Manager) Sessions() []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s.snapshot())
	}
	m.mu.RUnlock()

	sortSnapshots(out)
	return out
}

// Lookup returns a copy of one session.
func (m *Manager) Lookup(id string) (Snapshot, bool) {
	m.mu.RLock()
	s, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot(), true
}

// OpenCount returns the number of OPEN sessions.
func (m *Manager) OpenCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.openLocked()
}

func sortSnapshots(s []Snapshot) {
	sort.Slice(s, func(i, j int) bool {
		if s[i].StartedAt.Equal(s[j].StartedAt) {
			return s[i].ID < s[j].ID
		}
		return s[i].StartedAt.Before(s[j].StartedAt)
	})
}

// Stats summarizes the manager's lifetime.
type Stats struct {
	TotalStarted int64   `json:"total_started"`
	TotalClosed  int64   `json:"total_closed"`
	OpenSessions int     `json:"open_sessions"`
	WinCount     int64   `json:"win_count"`
	LossCount    int64   `json:"loss_count"`
	WinRate      float64 `json:"win_rate"`
	RealizedPnL  string  `json:"realized_pnl"`
	Policy       string  `json:"policy"`
}

func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	realized := m.realized.String()
	m.statsMu.Unlock()

	wins := m.winCount.Load()
	losses := m.lossCount.Load()
	total := wins + losses
	winRate := 0.0
	if total > 0 {
		winRate = float64(wins) / float64(total) * 100.0
	}

	return Stats{
		TotalStarted: m.totalStarted.Load(),
		TotalClosed:  m.totalClosed.Load(),
		OpenSessions: m.OpenCount(),
		WinCount:     wins,
		LossCount:    losses,
		WinRate:      winRate,
		RealizedPnL:  realized,
		Policy:       string(m.config.Exit.Kind),
	}
}
