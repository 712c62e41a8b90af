// Package telemetry renders open paper trading sessions as a live table.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/rs/zerolog/log"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/papertrade"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
)

// Config configures the renderer.
type Config struct {
	Enabled    bool `yaml:"enabled"`
	IntervalMs int  `yaml:"interval_ms"`
	// ClearScreen redraws in place instead of appending frames.
	ClearScreen bool `yaml:"clear_screen"`
}

// DefaultConfig renders once per second.
func DefaultConfig() Config {
	return Config{Enabled: true, IntervalMs: 1000}
}

// Source supplies session snapshots. Closed sessions are expected once.
type Source interface {
	Snapshot() []papertrade.Snapshot
}

var (
	gain    = color.New(color.FgGreen)
	loss    = color.New(color.FgRed)
	heading = color.New(color.FgCyan, color.Bold)
	muted   = color.New(color.FgHiBlack)
)

// Renderer periodically writes a snapshot table.
type Renderer struct {
	config Config
	source Source
	out    io.Writer
	now    func() time.Time

	mu       sync.Mutex // serializes frames
	stopCh   chan struct{}
	stopOnce sync.Once
	stopped  atomic.Bool
	frames   atomic.Int64
}

// NewRenderer creates a renderer writing to stdout.
func NewRenderer(config Config, source Source) *Renderer {
	if config.IntervalMs <= 0 {
		config.IntervalMs = 1000
	}
	return &Renderer{
		config: config,
		source: source,
		out:    os.Stdout,
		now:    time.Now,
		stopCh: make(chan struct{}),
	}
}

// SetOutput redirects frames.
func (r *Renderer) SetOutput(w io.Writer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.out = w
}

// Run renders every interval until ctx ends or Stop is called.
func (r *Renderer) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(r.config.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	log.Info().Int("interval_ms", r.config.IntervalMs).Msg("telemetry: renderer started")
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.Render()
		}
	}
}

// Stop halts rendering. Safe to call more than once.
func (r *Renderer) Stop() {
	r.stopOnce.Do(func() {
		r.stopped.Store(true)
		close(r.stopCh)
		log.Info().Int64("frames", r.frames.Load()).Msg("telemetry: renderer stopped")
	})
}

// Frames returns how many non-empty frames were written.
func (r *Renderer) Frames() int64 {
	return r.frames.Load()
}

// Render writes one frame. It is a no-op after Stop or when there is
// nothing to show.
func (r *Renderer) Render() {
	if r.stopped.Load() {
		return
	}
	snaps := r.source.Snapshot()
	if len(snaps) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped.Load() {
		return
	}

	now := r.now()
	var open, closed []papertrade.Snapshot
	for _, s := range snaps {
		if s.State == papertrade.StateOpen {
			open = append(open, s)
		} else {
			closed = append(closed, s)
		}
	}

	if r.config.ClearScreen {
		fmt.Fprint(r.out, "\033[H\033[2J")
	}
	heading.Fprintf(r.out, "PAPER SESSIONS  %s  open=%d\n", now.Format("15:04:05"), len(open))

	tw := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTOKEN\tENTRY\tPRICE\tMAX\tELAPSED\tPNL\tMAX PNL\tLIQUIDITY")
	for _, s := range open {
		if !s.Entered {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.0fs\t%s\t%s\t%s\n",
				s.ID, s.Token.Short(), "-", "-", "-", s.Elapsed(now).Seconds(),
				muted.Sprint("waiting"), "-", "-")
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%.0fs\t%s\t%s\t%s %s\n",
			s.ID,
			s.Token.Short(),
			s.InitialPrice.StringFixed(9),
			s.CurrentPrice.StringFixed(9),
			s.MaxPrice.StringFixed(9),
			s.Elapsed(now).Seconds(),
			pct(s.PnLPct),
			pct(s.MaxPnLPct),
			s.Liquidity.StringFixed(2),
			solana.MintLabel(s.Quote),
		)
	}
	_ = tw.Flush()

	for _, s := range closed {
		fmt.Fprintf(r.out, "  closed %s %s reason=%s pnl=%s realized=%s\n",
			s.ID, s.Token.Short(), s.ExitReason, pct(s.RealizedPnLPct), s.RealizedPnL.StringFixed(6))
	}
	r.frames.Add(1)
}

func pct(v float64) string {
	s := fmt.Sprintf("%+.2f%%", v)
	switch {
	case v > 0:
		return gain.Sprint(s)
	case v < 0:
		return loss.Sprint(s)
	}
	return s
}
