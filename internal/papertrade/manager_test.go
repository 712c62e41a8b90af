package papertrade

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/poolparse"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.PollIntervalMs = 5
	cfg.IdleIntervalMs = 5
	cfg.ErrorBackoffMs = 5
	cfg.Exit = ExitConfig{Kind: ExitFixed, TakeProfitPct: 5, StopLossPct: 10}
	return cfg
}

func newTestManager(t *testing.T, cfg Config) (*Manager, *solana.StubRPCClient) {
	t.Helper()
	stub := solana.NewStubRPCClient()
	m, err := NewManager(cfg, stub, nil)
	require.NoError(t, err)
	return m, stub
}

// flatPool scripts a pool that never moves.
func flatPool(stub *solana.StubRPCClient, n int) Params {
	p := Params{
		Token:      solana.Pubkey(fmt.Sprintf("token-%d", n)),
		Quote:      solana.SOLMint,
		BaseVault:  solana.Pubkey(fmt.Sprintf("base-%d", n)),
		QuoteVault: solana.Pubkey(fmt.Sprintf("quote-%d", n)),
	}
	stub.ScriptBalances(p.BaseVault, solana.UIBalance("1000000"))
	stub.ScriptBalances(p.QuoteVault, solana.UIBalance("100"))
	return p
}

func waitState(t *testing.T, m *Manager, id string, state State) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		var ok bool
		snap, ok = m.Lookup(id)
		return ok && snap.State == state
	}, 2*time.Second, 5*time.Millisecond)
	return snap
}

func TestManager_ConcurrentSessionsAreIndependent(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const n = 8
	ids := make([]string, n)
	params := make([]Params, n)
	for i := 0; i < n; i++ {
		params[i] = flatPool(stub, i)
	}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := m.Track(ctx, params[i])
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.Len(t, id, 12)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}

	for _, id := range ids {
		require.Eventually(t, func() bool {
			snap, ok := m.Lookup(id)
			return ok && snap.Entered
		}, 2*time.Second, 5*time.Millisecond)
	}

	// Pump the first pool past take-profit.
	stub.ScriptBalances(params[0].QuoteVault, solana.UIBalance("110"))
	closed := waitState(t, m, ids[0], StateClosed)
	assert.Equal(t, ReasonTakeProfit, closed.ExitReason)

	for _, id := range ids[1:] {
		snap, ok := m.Lookup(id)
		require.True(t, ok)
		assert.Equal(t, StateOpen, snap.State, id)
	}
	assert.Equal(t, n-1, m.OpenCount())
}

func TestManager_StopIsIdempotent(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	var closes atomic.Int32
	var last atomic.Value
	m.SetOnSessionClose(func(s Snapshot) {
		closes.Add(1)
		last.Store(s)
	})

	id, err := m.Track(context.Background(), flatPool(stub, 1))
	require.NoError(t, err)

	assert.True(t, m.Stop(id))
	assert.False(t, m.Stop(id))
	assert.False(t, m.Stop(id))

	_, ok := m.Lookup(id)
	assert.False(t, ok, "stopped sessions leave the registry")
	assert.Equal(t, int32(1), closes.Load())
	assert.Equal(t, ReasonManualStop, last.Load().(Snapshot).ExitReason)
	assert.Equal(t, int64(1), m.Stats().TotalClosed)

	// The loop exits: reads stop advancing.
	time.Sleep(20 * time.Millisecond)
	calls := stub.BalanceCalls("base-1")
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, calls, stub.BalanceCalls("base-1"))
}

func TestManager_StopUnknown(t *testing.T) {
	m, _ := newTestManager(t, fastConfig())
	assert.False(t, m.Stop("nope"))
}

func TestManager_BalanceErrorsNeverClose(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	p := flatPool(stub, 1)
	stub.FailBalances(5)

	id, err := m.Track(context.Background(), p)
	require.NoError(t, err)
	defer m.Stop(id)

	require.Eventually(t, func() bool {
		snap, ok := m.Lookup(id)
		return ok && snap.Ticks >= 2
	}, 2*time.Second, 5*time.Millisecond)
	snap, _ := m.Lookup(id)
	assert.Equal(t, StateOpen, snap.State)
}

func TestManager_WaitsForLiquidity(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	p := flatPool(stub, 1)
	stub.ScriptBalances(p.QuoteVault, solana.UnavailableBalance(), solana.UnavailableBalance(), solana.UIBalance("0"), solana.UIBalance("100"))

	id, err := m.Track(context.Background(), p)
	require.NoError(t, err)
	defer m.Stop(id)

	require.Eventually(t, func() bool {
		snap, _ := m.Lookup(id)
		return snap.Entered
	}, 2*time.Second, 5*time.Millisecond)
	snap, _ := m.Lookup(id)
	assert.True(t, snap.InitialPrice.Equal(snap.CurrentPrice))
	assert.GreaterOrEqual(t, stub.BalanceCalls(p.QuoteVault), 4)
}

func TestManager_StopAllRunsHook(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	hooked := make(chan struct{})
	m.SetOnStopAll(func() { close(hooked) })

	for i := 0; i < 3; i++ {
		_, err := m.Track(context.Background(), flatPool(stub, i))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, m.StopAll())
	select {
	case <-hooked:
	case <-time.After(time.Second):
		t.Fatal("stop-all hook not called")
	}
	assert.Empty(t, m.Snapshot())
	assert.Equal(t, 0, m.OpenCount())
	assert.Equal(t, int64(3), m.Stats().TotalClosed)
}

func TestManager_ContextCancelClosesWithShutdown(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	ctx, cancel := context.WithCancel(context.Background())

	id, err := m.Track(ctx, flatPool(stub, 1))
	require.NoError(t, err)
	cancel()

	snap := waitState(t, m, id, StateClosed)
	assert.Equal(t, ReasonShutdown, snap.ExitReason)
}

func TestManager_SnapshotReapsClosedAfterOneObservation(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	p := flatPool(stub, 1)
	stub.ScriptBalances(p.QuoteVault, solana.UIBalance("100"), solana.UIBalance("80"))

	id, err := m.Track(context.Background(), p)
	require.NoError(t, err)
	waitState(t, m, id, StateClosed)

	// Sessions does not reap.
	require.Len(t, m.Sessions(), 1)

	first := m.Snapshot()
	require.Len(t, first, 1)
	assert.Equal(t, ReasonStopLoss, first[0].ExitReason)
	assert.Empty(t, m.Snapshot())
}

func TestManager_ClosedSessionsLeaveRegistryWithoutSink(t *testing.T) {
	cfg := fastConfig()
	cfg.RetainClosedMs = 10
	m, stub := newTestManager(t, cfg)

	const n = 20
	for i := 0; i < n; i++ {
		p := flatPool(stub, i)
		stub.ScriptBalances(p.QuoteVault, solana.UIBalance("100"), solana.UIBalance("110"))
		_, err := m.Track(context.Background(), p)
		require.NoError(t, err)
	}

	require.Eventually(t, func() bool {
		return m.Stats().TotalClosed == n
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, m.OpenCount())

	// Nothing calls Snapshot here; retention alone empties the registry.
	require.Eventually(t, func() bool {
		return len(m.Sessions()) == 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestManager_ClosedSessionVisibleDuringRetention(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	p := flatPool(stub, 1)
	stub.ScriptBalances(p.QuoteVault, solana.UIBalance("100"), solana.UIBalance("110"))

	id, err := m.Track(context.Background(), p)
	require.NoError(t, err)
	snap := waitState(t, m, id, StateClosed)
	assert.Equal(t, ReasonTakeProfit, snap.ExitReason)
	assert.Len(t, m.Sessions(), 1)
}

func TestManager_StopSessionsLeavesHook(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	var hooked atomic.Bool
	m.SetOnStopAll(func() { hooked.Store(true) })

	for i := 0; i < 3; i++ {
		_, err := m.Track(context.Background(), flatPool(stub, i))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, m.StopSessions())
	assert.False(t, hooked.Load())
	assert.Empty(t, m.Sessions())

	id, err := m.Track(context.Background(), flatPool(stub, 9))
	require.NoError(t, err)
	defer m.Stop(id)
	assert.Equal(t, 1, m.OpenCount())
}

func TestManager_StopBeforeEntryIsNeitherWinNorLoss(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	p := flatPool(stub, 1)
	stub.ScriptBalances(p.QuoteVault, solana.UnavailableBalance())

	id, err := m.Track(context.Background(), p)
	require.NoError(t, err)
	require.True(t, m.Stop(id))

	st := m.Stats()
	assert.Equal(t, int64(1), st.TotalClosed)
	assert.Equal(t, int64(0), st.WinCount)
	assert.Equal(t, int64(0), st.LossCount)
	assert.Equal(t, 0.0, st.WinRate)
}

func TestManager_SnapshotReturnsCopies(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	id, err := m.Track(context.Background(), flatPool(stub, 1))
	require.NoError(t, err)
	defer m.Stop(id)

	snaps := m.Snapshot()
	require.Len(t, snaps, 1)
	snaps[0].ExitReason = "tampered"
	snaps[0].State = StateClosed

	again, ok := m.Lookup(id)
	require.True(t, ok)
	assert.Equal(t, StateOpen, again.State)
	assert.Empty(t, again.ExitReason)
}

func TestManager_SessionLimit(t *testing.T) {
	cfg := fastConfig()
	cfg.MaxSessions = 2
	m, stub := newTestManager(t, cfg)
	defer m.StopAll()

	_, err := m.Track(context.Background(), flatPool(stub, 1))
	require.NoError(t, err)
	_, err = m.Track(context.Background(), flatPool(stub, 2))
	require.NoError(t, err)
	_, err = m.Track(context.Background(), flatPool(stub, 3))
	assert.ErrorIs(t, err, ErrSessionLimit)
}

func TestManager_StartTrackingUsesClassifiedRoles(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())
	var opened atomic.Value
	m.SetOnSessionOpen(func(s Snapshot) { opened.Store(s) })

	p := flatPool(stub, 7)
	pool := poolparse.ClassifiedPool{
		BaseMint:   p.Token,
		QuoteMint:  solana.SOLMint,
		BaseVault:  p.BaseVault,
		QuoteVault: p.QuoteVault,
		Inverted:   true, // slot orientation, already resolved into the roles
	}
	id, err := m.StartTracking(context.Background(), pool, "sig-7")
	require.NoError(t, err)
	defer m.Stop(id)

	snap := opened.Load().(Snapshot)
	assert.Equal(t, id, snap.ID)
	assert.False(t, snap.Inverted)
	assert.Equal(t, solana.Signature("sig-7"), snap.Signature)

	require.Eventually(t, func() bool {
		s, _ := m.Lookup(id)
		return s.Entered
	}, 2*time.Second, 5*time.Millisecond)
	s, _ := m.Lookup(id)
	assert.Equal(t, "0.000100000", s.CurrentPrice.StringFixed(9))
}

func TestManager_StatsTrackWinsAndLosses(t *testing.T) {
	m, stub := newTestManager(t, fastConfig())

	win := flatPool(stub, 1)
	stub.ScriptBalances(win.QuoteVault, solana.UIBalance("100"), solana.UIBalance("105.2"))
	loss := flatPool(stub, 2)
	stub.ScriptBalances(loss.QuoteVault, solana.UIBalance("100"), solana.UIBalance("90"))

	winID, err := m.Track(context.Background(), win)
	require.NoError(t, err)
	lossID, err := m.Track(context.Background(), loss)
	require.NoError(t, err)
	waitState(t, m, winID, StateClosed)
	waitState(t, m, lossID, StateClosed)

	st := m.Stats()
	assert.Equal(t, int64(2), st.TotalStarted)
	assert.Equal(t, int64(2), st.TotalClosed)
	assert.Equal(t, int64(1), st.WinCount)
	assert.Equal(t, int64(1), st.LossCount)
	assert.Equal(t, "-0.048", st.RealizedPnL)
	assert.Equal(t, 0, st.OpenSessions)
}

func TestConfig_Presets(t *testing.T) {
	scalp, err := PresetConfig("scalp")
	require.NoError(t, err)
	assert.Equal(t, 100, scalp.PollIntervalMs)
	assert.Equal(t, ExitFixed, scalp.Exit.Kind)
	require.NoError(t, scalp.Validate())

	trailing, err := PresetConfig("trailing")
	require.NoError(t, err)
	assert.Equal(t, ExitTrailing, trailing.Exit.Kind)
	require.NoError(t, trailing.Validate())

	_, err = PresetConfig("yolo")
	assert.Error(t, err)
}

func TestNewManager_RejectsInvalidConfig(t *testing.T) {
	cfg := fastConfig()
	cfg.PollIntervalMs = 0
	_, err := NewManager(cfg, solana.NewStubRPCClient(), nil)
	assert.Error(t, err)

	cfg = fastConfig()
	cfg.Investment = 0
	_, err = NewManager(cfg, solana.NewStubRPCClient(), nil)
	assert.Error(t, err)

	cfg = fastConfig()
	cfg.RetainClosedMs = 0
	_, err = NewManager(cfg, solana.NewStubRPCClient(), nil)
	assert.Error(t, err)
}
