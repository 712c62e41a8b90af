package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/detector"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/papertrade"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/solana"
	"github.com/manumastro/Solana-CLMM-Sniper-Raydium/internal/telemetry"
)

// Environment variables that override the YAML endpoints.
const (
	EnvRPCEndpoint    = "RPC_ENDPOINT"
	EnvWSEndpoint     = "RPC_WEBSOCKET_ENDPOINT"
	defaultDotEnvFile = ".env"
)

// Config is the root configuration of the sniper.
type Config struct {
	General   GeneralConfig     `yaml:"general"`
	Solana    SolanaConfig      `yaml:"solana"`
	Detector  detector.Config   `yaml:"detector"`
	Trader    papertrade.Config `yaml:"trader"`
	Telemetry telemetry.Config  `yaml:"telemetry"`
	Metrics   MetricsConfig     `yaml:"metrics"`
}

type GeneralConfig struct {
	InstanceID string `yaml:"instance_id"`
	LogLevel   string `yaml:"log_level"`
	LogFormat  string `yaml:"log_format"` // json|text
	// LogFile additionally writes JSON logs to a rotated file.
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
}

type SolanaConfig struct {
	RPCEndpoint      string  `yaml:"rpc_endpoint"`
	WSEndpoint       string  `yaml:"ws_endpoint"`
	Commitment       string  `yaml:"commitment"`
	TimeoutMs        int     `yaml:"timeout_ms"`
	MaxRetries       int     `yaml:"max_retries"`
	RateLimitRPS     float64 `yaml:"rate_limit_rps"`
	ReconnectDelayMs int     `yaml:"reconnect_delay_ms"`
	PingIntervalS    int     `yaml:"ping_interval_s"`
	MaxReconnects    int     `yaml:"max_reconnects"`
	BufferSize       int     `yaml:"buffer_size"`
}

type MetricsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	ListenAddr      string `yaml:"listen_addr"`
	HealthIntervalS int    `yaml:"health_interval_s"`
}

// RPC converts the section into the RPC client config.
func (s SolanaConfig) RPC() solana.RPCConfig {
	return solana.RPCConfig{
		Endpoint:     s.RPCEndpoint,
		WSEndpoint:   s.WSEndpoint,
		Commitment:   s.Commitment,
		Timeout:      time.Duration(s.TimeoutMs) * time.Millisecond,
		MaxRetries:   s.MaxRetries,
		RateLimitRPS: s.RateLimitRPS,
	}
}

// WS converts the section into the log monitor config for program.
func (s SolanaConfig) WS(program solana.Pubkey) solana.WSMonitorConfig {
	return solana.WSMonitorConfig{
		WSEndpoint:       s.WSEndpoint,
		ProgramID:        program,
		Commitment:       s.Commitment,
		ReconnectDelayMs: s.ReconnectDelayMs,
		PingIntervalS:    s.PingIntervalS,
		MaxReconnects:    s.MaxReconnects,
		BufferSize:       s.BufferSize,
	}
}

// Default returns a runnable configuration against public mainnet.
func Default() *Config {
	rpc := solana.DefaultRPCConfig()
	ws := solana.DefaultWSMonitorConfig()
	return &Config{
		General: GeneralConfig{
			InstanceID:    "clmm-sniper-1",
			LogLevel:      "info",
			LogFormat:     "text",
			LogMaxSizeMB:  100,
			LogMaxBackups: 5,
			LogMaxAgeDays: 14,
		},
		Solana: SolanaConfig{
			RPCEndpoint:      rpc.Endpoint,
			WSEndpoint:       rpc.WSEndpoint,
			Commitment:       rpc.Commitment,
			TimeoutMs:        int(rpc.Timeout / time.Millisecond),
			MaxRetries:       rpc.MaxRetries,
			RateLimitRPS:     rpc.RateLimitRPS,
			ReconnectDelayMs: ws.ReconnectDelayMs,
			PingIntervalS:    ws.PingIntervalS,
			MaxReconnects:    ws.MaxReconnects,
			BufferSize:       ws.BufferSize,
		},
		Detector:  detector.DefaultConfig(),
		Trader:    papertrade.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled:         false,
			ListenAddr:      "127.0.0.1:9464",
			HealthIntervalS: 15,
		},
	}
}

// Load reads an optional .env file and a YAML config. An empty path
// yields Default with environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(defaultDotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", defaultDotEnvFile, err)
	}

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		// Expand environment variables
		expanded := []byte(os.ExpandEnv(string(data)))

		var head struct {
			Trader struct {
				Preset string `yaml:"preset"`
			} `yaml:"trader"`
		}
		if err := yaml.Unmarshal(expanded, &head); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
		if head.Trader.Preset != "" {
			preset, err := papertrade.PresetConfig(head.Trader.Preset)
			if err != nil {
				return nil, err
			}
			cfg.Trader = preset
		}

		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// applyEnv overrides the endpoints. An RPC override without a WebSocket
// override points the subscription at the same node.
func applyEnv(cfg *Config) {
	if v := os.Getenv(EnvRPCEndpoint); v != "" {
		cfg.Solana.RPCEndpoint = v
		cfg.Solana.WSEndpoint = wsFromHTTP(v)
	}
	if v := os.Getenv(EnvWSEndpoint); v != "" {
		cfg.Solana.WSEndpoint = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.General.InstanceID == "" {
		cfg.General.InstanceID = "clmm-sniper-1"
	}
	if cfg.General.LogLevel == "" {
		cfg.General.LogLevel = "info"
	}
	if cfg.General.LogFormat == "" {
		cfg.General.LogFormat = "text"
	}
	if cfg.Solana.WSEndpoint == "" && cfg.Solana.RPCEndpoint != "" {
		cfg.Solana.WSEndpoint = wsFromHTTP(cfg.Solana.RPCEndpoint)
	}
	if cfg.Solana.Commitment == "" {
		cfg.Solana.Commitment = "confirmed"
	}
	if cfg.Detector.FetchAttempts == 0 {
		cfg.Detector.FetchAttempts = 5
	}
	if cfg.Detector.ProgramID == "" {
		cfg.Detector.ProgramID = string(solana.RaydiumCLMMProgram)
	}
	if cfg.Telemetry.IntervalMs == 0 {
		cfg.Telemetry.IntervalMs = 1000
	}
	if cfg.Metrics.ListenAddr == "" {
		cfg.Metrics.ListenAddr = "127.0.0.1:9464"
	}
	if cfg.Metrics.HealthIntervalS == 0 {
		cfg.Metrics.HealthIntervalS = 15
	}
}

// wsFromHTTP derives the WebSocket URL the way Solana nodes expose it.
func wsFromHTTP(endpoint string) string {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return "wss://" + strings.TrimPrefix(endpoint, "https://")
	case strings.HasPrefix(endpoint, "http://"):
		return "ws://" + strings.TrimPrefix(endpoint, "http://")
	}
	return endpoint
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if !hasScheme(c.Solana.RPCEndpoint, "http://", "https://") {
		return fmt.Errorf("solana.rpc_endpoint must be an http(s) URL, got %q", c.Solana.RPCEndpoint)
	}
	if !hasScheme(c.Solana.WSEndpoint, "ws://", "wss://") {
		return fmt.Errorf("solana.ws_endpoint must be a ws(s) URL, got %q", c.Solana.WSEndpoint)
	}
	switch c.Solana.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("solana.commitment: unknown level %q", c.Solana.Commitment)
	}
	switch c.General.LogFormat {
	case "json", "text":
	default:
		return fmt.Errorf("general.log_format must be json or text, got %q", c.General.LogFormat)
	}
	if _, err := solana.ParsePubkey(c.Detector.ProgramID); err != nil {
		return fmt.Errorf("detector.program_id: %w", err)
	}
	for _, q := range c.Detector.QuoteMints {
		if _, err := solana.ParsePubkey(q); err != nil {
			return fmt.Errorf("detector.quote_mints: %w", err)
		}
	}
	if c.Detector.FetchAttempts < 1 {
		return fmt.Errorf("detector.fetch_attempts must be >= 1, got %d", c.Detector.FetchAttempts)
	}
	if err := c.Trader.Validate(); err != nil {
		return fmt.Errorf("trader: %w", err)
	}
	if c.Telemetry.Enabled && c.Telemetry.IntervalMs <= 0 {
		return fmt.Errorf("telemetry.interval_ms must be > 0, got %d", c.Telemetry.IntervalMs)
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return errors.New("metrics.listen_addr is required when metrics are enabled")
	}
	return nil
}

func hasScheme(u string, schemes ...string) bool {
	for _, s := range schemes {
		if strings.HasPrefix(u, s) && len(u) > len(s) {
			return true
		}
	}
	return false
}
