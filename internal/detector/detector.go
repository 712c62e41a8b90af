// Package detector watches program logs for CLMM pool creations and hands
// each classified pool to the paper trader.
package detector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/observability"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/papertrade"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/poolparse"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// ErrTransactionUnavailable means every fetch attempt came back empty.
var ErrTransactionUnavailable = errors.New("transaction not available after retries")

// creationMarkers are the log lines the program emits for CreatePool.
var creationMarkers = []string{
	"Instruction: CreatePool",
	"Instruction: create_pool",
}

// Config configures the detector.
type Config struct {
	ProgramID         string   `yaml:"program_id"`
	QuoteMints        []string `yaml:"quote_mints"`
	FetchAttempts     int      `yaml:"fetch_attempts"`
	FetchRetryDelayMs int      `yaml:"fetch_retry_delay_ms"`
	LayoutVersion     string   `yaml:"layout_version"`
	DedupeTTLSeconds  int      `yaml:"dedupe_ttl_s"`
	Banner            bool     `yaml:"banner"` // print a colored block per detection
}

// DefaultConfig returns the Raydium CLMM defaults.
func DefaultConfig() Config {
	quotes := solana.DefaultQuoteMints()
	qs := make([]string, len(quotes))
	for i, q := range quotes {
		qs[i] = string(q)
	}
	return Config{
		ProgramID:         string(solana.RaydiumCLMMProgram),
		QuoteMints:        qs,
		FetchAttempts:     5,
		FetchRetryDelayMs: 500,
		LayoutVersion:     string(poolparse.LayoutCreatePoolV1),
		DedupeTTLSeconds:  600,
		Banner:            true,
	}
}

// SessionStarter opens a paper trading session on a pool.
type SessionStarter interface {
	StartTracking(ctx context.Context, pool poolparse.ClassifiedPool, sig solana.Signature) (string, error)
}

// Detection is a pool the detector handed to the paper trader.
type Detection struct {
	Signature  solana.Signature         `json:"signature"`
	Slot       uint64                   `json:"slot"`
	Pool       poolparse.ClassifiedPool `json:"pool"`
	SessionID  string                   `json:"session_id"`
	DetectedAt time.Time                `json:"detected_at"`
	LatencyMs  int64                    `json:"latency_ms"` // log receipt to session start
}

// DexscreenerURL links the token's chart.
func (d Detection) DexscreenerURL() string {
	return "https://dexscreener.com/solana/" + string(d.Pool.BaseMint)
}

// Detector turns log batches into paper trading sessions.
type Detector struct {
	config     Config
	program    solana.Pubkey
	fetcher    solana.TransactionFetcher
	classifier *poolparse.Classifier
	decode     poolparse.Decoder
	starter    SessionStarter
	metrics    *observability.Metrics
	out        io.Writer

	mu          sync.Mutex
	seen        map[solana.Signature]time.Time
	onDetection func(Detection)
	inflight    sync.WaitGroup

	// Stats.
	batches    atomic.Int64
	lastBatch  atomic.Int64 // unix nanos
	creations  atomic.Int64
	duplicates atomic.Int64
	abandoned  atomic.Int64
	rejected   atomic.Int64
	anomalies  atomic.Int64
	detected   atomic.Int64
}

// New validates cfg and builds a detector. A nil metrics discards measurements.
func New(cfg Config, fetcher solana.TransactionFetcher, starter SessionStarter, metrics *observability.Metrics) (*Detector, error) {
	program, err := solana.ParsePubkey(cfg.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("detector: program_id: %w", err)
	}
	quotes := make([]solana.Pubkey, 0, len(cfg.QuoteMints))
	for _, q := range cfg.QuoteMints {
		pk, err := solana.ParsePubkey(q)
		if err != nil {
			return nil, fmt.Errorf("detector: quote mint %q: %w", q, err)
		}
		quotes = append(quotes, pk)
	}
	if cfg.LayoutVersion == "" {
		cfg.LayoutVersion = string(poolparse.LayoutCreatePoolV1)
	}
	decode, err := poolparse.DecoderFor(poolparse.LayoutVersion(cfg.LayoutVersion))
	if err != nil {
		return nil, fmt.Errorf("detector: %w", err)
	}
	if cfg.FetchAttempts <= 0 {
		cfg.FetchAttempts = 5
	}
	if cfg.FetchRetryDelayMs < 0 {
		cfg.FetchRetryDelayMs = 0
	}
	if cfg.DedupeTTLSeconds <= 0 {
		cfg.DedupeTTLSeconds = 600
	}
	if metrics == nil {
		metrics = observability.NewNoop()
	}

	return &Detector{
		config:     cfg,
		program:    program,
		fetcher:    fetcher,
		classifier: poolparse.NewClassifier(quotes),
		decode:     decode,
		starter:    starter,
		metrics:    metrics,
		out:        os.Stdout,
		seen:       make(map[solana.Signature]time.Time),
	}, nil
}

// SetOutput redirects the detection banner.
func (d *Detector) SetOutput(w io.Writer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out = w
}

// SetOnDetection sets a callback run after each session start.
func (d *Detector) SetOnDetection(fn func(Detection)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDetection = fn
}

// IsCreation reports whether a log batch announces a pool creation.
func IsCreation(logs []string) bool {
	for _, line := range logs {
		for _, marker := range creationMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}

// Run consumes events until ctx ends or the channel closes, then waits for
// in-flight fetches to finish.
func (d *Detector) Run(ctx context.Context, events <-chan solana.LogEvent) error {
	log.Info().
		Str("program", string(d.program)).
		Int("fetch_attempts", d.config.FetchAttempts).
		Str("layout", d.config.LayoutVersion).
		Msg("detector: watching for pool creations")

	ttl := time.Duration(d.config.DedupeTTLSeconds) * time.Second
	sweep := time.NewTicker(ttl / 2)
	defer sweep.Stop()
	defer d.inflight.Wait()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sweep.C:
			d.sweepSeen(time.Now().Add(-ttl))
		case ev, ok := <-events:
			if !ok {
				log.Warn().Msg("detector: event stream closed")
				return nil
			}
			d.HandleLogs(ctx, ev)
		}
	}
}

// HandleLogs filters one log batch and, for a new creation, starts an
// asynchronous fetch. It reports whether a fetch was started.
func (d *Detector) HandleLogs(ctx context.Context, ev solana.LogEvent) bool {
	d.batches.Add(1)
	d.lastBatch.Store(time.Now().UnixNano())
	d.metrics.LogBatches.Inc()

	if ev.Failed || !IsCreation(ev.Logs) {
		return false
	}
	d.creations.Add(1)
	d.metrics.CreationEvents.Inc()

	if !d.markSeen(ev.Signature) {
		d.duplicates.Add(1)
		log.Debug().Str("sig", string(ev.Signature)).Msg("detector: duplicate creation event")
		return false
	}

	log.Info().
		Str("sig", string(ev.Signature)).
		Uint64("slot", ev.Slot).
		Msg("detector: pool creation seen, fetching transaction")

	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer func() {
			if r := recover(); r != nil {
				d.anomalies.Add(1)
				d.metrics.PoolAnomalies.Inc()
				log.Error().Interface("panic", r).Str("sig", string(ev.Signature)).Msg("detector: panic recovered")
			}
		}()
		d.process(ctx, ev)
	}()
	return true
}

func (d *Detector) process(ctx context.Context, ev solana.LogEvent) {
	det, err := d.Process(ctx, ev.Signature)
	switch {
	case err == nil:
		det.Slot = ev.Slot
		if !ev.ReceivedAt.IsZero() {
			det.LatencyMs = det.DetectedAt.Sub(ev.ReceivedAt).Milliseconds()
		}
		d.announce(det)
	case errors.Is(err, context.Canceled):
	case errors.Is(err, ErrTransactionUnavailable):
		d.abandoned.Add(1)
		d.metrics.TxFetchAbandoned.Inc()
		log.Debug().Err(err).Str("sig", string(ev.Signature)).Msg("detector: dropped creation event")
	case errors.Is(err, papertrade.ErrSessionLimit):
		d.rejected.Add(1)
		d.metrics.PoolsRejected.Inc("session_limit")
		log.Warn().Err(err).Str("sig", string(ev.Signature)).Msg("detector: pool skipped")
	case poolparse.IsNotApplicable(err):
		d.rejected.Add(1)
		d.metrics.PoolsRejected.Inc(rejectReason(err))
		log.Debug().Err(err).Str("sig", string(ev.Signature)).Msg("detector: not a tradable pool")
	default:
		d.anomalies.Add(1)
		d.metrics.PoolAnomalies.Inc()
		log.Warn().Err(err).Str("sig", string(ev.Signature)).Msg("detector: creation event could not be processed")
	}
}

// Process fetches sig and runs it through resolution, extraction,
// classification and session start.
func (d *Detector) Process(ctx context.Context, sig solana.Signature) (Detection, error) {
	tx, err := d.fetchWithRetry(ctx, sig)
	if err != nil {
		return Detection{}, err
	}

	table, ix, err := poolparse.Resolve(tx, d.program)
	if err != nil {
		return Detection{}, err
	}
	accounts, err := d.decode(ix, table)
	if err != nil {
		return Detection{}, err
	}
	pool, err := d.classifier.Classify(accounts)
	if err != nil {
		return Detection{}, err
	}

	id, err := d.starter.StartTracking(ctx, pool, sig)
	if err != nil {
		return Detection{}, fmt.Errorf("start tracking %s: %w", pool.BaseMint, err)
	}

	d.detected.Add(1)
	d.metrics.PoolsDetected.Inc()
	return Detection{
		Signature:  sig,
		Slot:       tx.Slot,
		Pool:       pool,
		SessionID:  id,
		DetectedAt: time.Now(),
	}, nil
}

// fetchWithRetry treats an empty response as propagation delay and an RPC
// error as transient; both consume one attempt.
func (d *Detector) fetchWithRetry(ctx context.Context, sig solana.Signature) (*solana.Transaction, error) {
	delay := time.Duration(d.config.FetchRetryDelayMs) * time.Millisecond
	var lastErr error

	for attempt := 1; attempt <= d.config.FetchAttempts; attempt++ {
		if attempt > 1 {
			d.metrics.TxFetchRetries.Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		tx, err := d.fetcher.GetTransaction(ctx, sig)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			log.Debug().Err(err).Int("attempt", attempt).Str("sig", string(sig)).Msg("detector: fetch failed")
			continue
		}
		if tx != nil {
			return tx, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %d attempts, last error: %v", ErrTransactionUnavailable, d.config.FetchAttempts, lastErr)
	}
	return nil, fmt.Errorf("%w: %d attempts", ErrTransactionUnavailable, d.config.FetchAttempts)
}

func (d *Detector) markSeen(sig solana.Signature) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.seen[sig]; ok {
		return false
	}
	d.seen[sig] = time.Now()
	return true
}

func (d *Detector) sweepSeen(before time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for sig, at := range d.seen {
		if at.Before(before) {
			delete(d.seen, sig)
		}
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, poolparse.ErrIgnoredPair):
		return "ignored_pair"
	case errors.Is(err, poolparse.ErrExoticPair):
		return "exotic_pair"
	case errors.Is(err, poolparse.ErrInstructionNotFound):
		return "instruction_not_found"
	default:
		return "malformed"
	}
}

var (
	bannerRule  = color.New(color.FgCyan)
	bannerTitle = color.New(color.FgMagenta, color.Bold)
	bannerToken = color.New(color.FgWhite)
	bannerQuote = color.New(color.FgHiBlack)
	bannerLink  = color.New(color.FgBlue)
)

func (d *Detector) announce(det Detection) {
	d.mu.Lock()
	out := d.out
	cb := d.onDetection
	d.mu.Unlock()

	log.Info().
		Str("sig", string(det.Signature)).
		Uint64("slot", det.Slot).
		Str("token", string(det.Pool.BaseMint)).
		Str("quote", solana.MintLabel(det.Pool.QuoteMint)).
		Bool("slot_inverted", det.Pool.Inverted).
		Str("session", det.SessionID).
		Int64("latency_ms", det.LatencyMs).
		Str("dexscreener", det.DexscreenerURL()).
		Msg("detector: NEW CLMM POOL")

	if d.config.Banner && out != nil {
		rule := strings.Repeat("=", 50)
		bannerRule.Fprintln(out, rule)
		bannerTitle.Fprintln(out, "NEW CLMM POOL")
		bannerToken.Fprintf(out, "   Token: %s\n", det.Pool.BaseMint)
		bannerQuote.Fprintf(out, "   Quote: %s (%s)\n", det.Pool.QuoteMint, solana.MintLabel(det.Pool.QuoteMint))
		bannerLink.Fprintf(out, "   Dex:   %s\n", det.DexscreenerURL())
		bannerRule.Fprintln(out, rule)
	}

	if cb != nil {
		cb(det)
	}
}

// Stats counts what the detector has seen.
type Stats struct {
	LogBatches     int64 `json:"log_batches"`
	CreationEvents int64 `json:"creation_events"`
	Duplicates     int64 `json:"duplicates"`
	Abandoned      int64 `json:"abandoned"`
	Rejected       int64 `json:"rejected"`
	Anomalies      int64 `json:"anomalies"`
	Detected       int64 `json:"detected"`
}

// LastBatchAt returns when the last log batch arrived, zero if none has.
func (d *Detector) LastBatchAt() time.Time {
	ns := d.lastBatch.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (d *Detector) Stats() Stats {
	return Stats{
		LogBatches:     d.batches.Load(),
		CreationEvents: d.creations.Load(),
		Duplicates:     d.duplicates.Load(),
		Abandoned:      d.abandoned.Load(),
		Rejected:       d.rejected.Load(),
		Anomalies:      d.anomalies.Load(),
		Detected:       d.detected.Load(),
	}
}
