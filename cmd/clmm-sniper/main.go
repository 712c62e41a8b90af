package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/config"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/detector"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/observability"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/papertrade"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/telemetry"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file (optional)")
	stubMode := flag.Bool("stub", false, "Use a stub RPC with a synthetic pool (no Solana connection)")
	flag.Parse()

	// 2. Load configuration.
	path := *configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		path = ""
	}
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	logFile := setupLogging(cfg.General)
	if logFile != nil {
		defer logFile.Close()
	}
	if path == "" {
		log.Warn().Str("path", *configPath).Msg("Config file not found, using defaults and environment")
	}

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("stub_mode", *stubMode).
		Str("program", cfg.Detector.ProgramID).
		Strs("quote_mints", cfg.Detector.QuoteMints).
		Str("policy", string(cfg.Trader.Exit.Kind)).
		Float64("take_profit_pct", cfg.Trader.Exit.TakeProfitPct).
		Float64("stop_loss_pct", cfg.Trader.Exit.StopLossPct).
		Int("poll_ms", cfg.Trader.PollIntervalMs).
		Float64("investment", cfg.Trader.Investment).
		Msg("CLMM sniper (paper) - configuration loaded")

	// 4. Metrics.
	metrics := observability.NewNoop()
	var prom *observability.Prometheus
	if cfg.Metrics.Enabled {
		prom = observability.NewPrometheus()
		metrics = prom.Metrics
	}

	// 5. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 6. Solana transport.
	program, err := solana.ParsePubkey(cfg.Detector.ProgramID)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid program id")
	}

	var (
		rpc     solana.RPCClient
		liveRPC *solana.LiveRPCClient
		ws      *solana.WSMonitor
		events  <-chan solana.LogEvent
	)
	if *stubMode {
		stub := solana.NewStubRPCClient()
		rpc = stub
		events = stubEvents(ctx, stub, program)
		log.Info().Msg("Solana RPC: STUB mode (synthetic pool)")
	} else {
		liveRPC = solana.NewLiveRPCClient(cfg.Solana.RPC())
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Solana.RPCEndpoint).
				Msg("Solana RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Solana.RPCEndpoint).Msg("Solana RPC: LIVE - connected")
		}
		healthCancel()

		ws = solana.NewWSMonitor(cfg.Solana.WS(program))
		events, err = ws.Start(ctx)
		if err != nil {
			log.Fatal().Err(err).Str("endpoint", cfg.Solana.WSEndpoint).Msg("Log subscription failed")
		}
	}

	// 7. Paper trader, detector, telemetry.
	manager, err := papertrade.NewManager(cfg.Trader, rpc, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid trader configuration")
	}

	det, err := detector.New(cfg.Detector, rpc, manager, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid detector configuration")
	}

	var renderer *telemetry.Renderer
	if cfg.Telemetry.Enabled {
		renderer = telemetry.NewRenderer(cfg.Telemetry, manager)
		manager.SetOnStopAll(renderer.Stop)
	}

	// 8. Start services.
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := det.Run(ctx, events); err != nil {
			log.Error().Err(err).Msg("Detector error")
		}
	}()

	if renderer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			renderer.Run(ctx)
		}()
	}

	if cfg.Metrics.Enabled {
		health := observability.NewHealthMonitor(time.Duration(cfg.Metrics.HealthIntervalS) * time.Second)
		health.Register("rpc", observability.PingCheck(rpc.Health, 5*time.Second))
		if ws != nil {
			health.Register("ws", observability.FlagCheck(func() bool { return ws.Stats().Connected }, "log subscription disconnected"))
		}
		health.Register("log_feed", observability.StaleCheck(det.LastBatchAt, 2*time.Minute))

		wg.Add(1)
		go func() {
			defer wg.Done()
			health.Start(ctx)
		}()

		mux := observability.NewOpsMux(observability.OpsHandlers{
			Health: health,
			Stats: func() any {
				return statsSnapshot(det, manager, liveRPC, ws)
			},
			Sessions:    func() any { return manager.Sessions() },
			Metrics:     prom.Handler(),
			StopSession: manager.Stop,
			StopAll:     func() { manager.StopSessions() },
		})

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := observability.Serve(ctx, cfg.Metrics.ListenAddr, mux); err != nil {
				log.Error().Err(err).Msg("HTTP server error")
			}
		}()
	}

	// Periodic stats logging.
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				ds := det.Stats()
				ms := manager.Stats()
				logEvt := log.Info().
					Int64("log_batches", ds.LogBatches).
					Int64("creations", ds.CreationEvents).
					Int64("detected", ds.Detected).
					Int64("rejected", ds.Rejected).
					Int64("abandoned", ds.Abandoned).
					Int64("anomalies", ds.Anomalies).
					Int("open_sessions", ms.OpenSessions).
					Int64("wins", ms.WinCount).
					Int64("losses", ms.LossCount).
					Float64("win_rate", ms.WinRate).
					Str("realized_pnl", ms.RealizedPnL)
				if ws != nil {
					wsStats := ws.Stats()
					logEvt = logEvt.Bool("ws_connected", wsStats.Connected).Int64("ws_reconnects", wsStats.Reconnects)
				}
				if liveRPC != nil {
					rpcStats := liveRPC.Stats()
					logEvt = logEvt.Int64("rpc_requests", rpcStats.RequestCount).Int64("rpc_errors", rpcStats.ErrorCount)
				}
				logEvt.Msg("[STATS]")
			}
		}
	}()

	log.Info().Str("program", string(program)).Msg("Monitoring for new CLMM pools...")

	// 9. Block until shutdown.
	<-ctx.Done()

	// 10. Graceful shutdown.
	log.Info().Msg("Shutting down...")
	manager.StopAll()
	if renderer != nil {
		renderer.Stop()
	}
	wg.Wait()

	// Final stats.
	final := manager.Stats()
	ds := det.Stats()
	log.Info().
		Int64("sessions", final.TotalStarted).
		Int64("closed", final.TotalClosed).
		Int64("wins", final.WinCount).
		Int64("losses", final.LossCount).
		Float64("win_rate", final.WinRate).
		Str("realized_pnl", final.RealizedPnL).
		Int64("detected", ds.Detected).
		Int64("rejected", ds.Rejected).
		Msg("CLMM sniper - Final Statistics")

	log.Info().Msg("CLMM sniper - Shutdown complete")
}

// statsSnapshot combines component stats for the /stats route.
func statsSnapshot(det *detector.Detector, manager *papertrade.Manager, liveRPC *solana.LiveRPCClient, ws *solana.WSMonitor) map[string]any {
	out := map[string]any{
		"detector": det.Stats(),
		"paper":    manager.Stats(),
	}
	if liveRPC != nil {
		out["rpc"] = liveRPC.Stats()
	}
	if ws != nil {
		out["ws"] = ws.Stats()
	}
	return out
}

// setupLogging configures the global logger. The returned closer is the
// rotated log file, if any.
func setupLogging(general config.GeneralConfig) io.Closer {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var console io.Writer = os.Stdout
	if general.LogFormat == "text" {
		console = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.TimeOnly}
	}

	var (
		out    io.Writer = console
		closer io.Closer
	)
	if general.LogFile != "" {
		file := &lumberjack.Logger{
			Filename:   general.LogFile,
			MaxSize:    general.LogMaxSizeMB,
			MaxBackups: general.LogMaxBackups,
			MaxAge:     general.LogMaxAgeDays,
			Compress:   true,
		}
		out = zerolog.MultiLevelWriter(console, file)
		closer = file
	}

	log.Logger = zerolog.New(out).
		With().Timestamp().Str("service", "clmm-sniper").
		Str("instance", general.InstanceID).Logger()
	return closer
}
