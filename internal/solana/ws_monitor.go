package solana

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// WebSocket Log Monitor: logsSubscribe on one program, emits every batch
// ---------------------------------------------------------------------------

// WSMonitorConfig configures the WebSocket log monitor.
type WSMonitorConfig struct {
	WSEndpoint       string `yaml:"ws_endpoint"`
	ProgramID        Pubkey `yaml:"program_id"` // program whose logs are watched
	Commitment       string `yaml:"commitment"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	PingIntervalS    int    `yaml:"ping_interval_s"`
	MaxReconnects    int    `yaml:"max_reconnects"`
	BufferSize       int    `yaml:"buffer_size"`
}

// DefaultWSMonitorConfig returns defaults for mainnet monitoring.
func DefaultWSMonitorConfig() WSMonitorConfig {
	return WSMonitorConfig{
		WSEndpoint:       "wss://api.mainnet-beta.solana.com",
		ProgramID:        RaydiumCLMMProgram,
		Commitment:       "confirmed",
		ReconnectDelayMs: 1000,
		PingIntervalS:    30,
		MaxReconnects:    0, // 0 = unlimited reconnects
		BufferSize:       256,
	}
}

// WSMonitor streams program log notifications over a Solana WebSocket.
type WSMonitor struct {
	config WSMonitorConfig

	mu    sync.RWMutex
	conn  *websocket.Conn
	subID int // server-side subscription id, 0 until confirmed

	// Output channel for log batches.
	events chan LogEvent
	closed atomic.Bool // tracks if events is closed

	// Request ID counter.
	nextReqID atomic.Int64

	// Stats.
	messagesRecv  atomic.Int64
	eventsEmitted atomic.Int64
	eventsDropped atomic.Int64
	reconnects    atomic.Int64
	connected     atomic.Bool
}

// NewWSMonitor creates a new WebSocket log monitor.
func NewWSMonitor(config WSMonitorConfig) *WSMonitor {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.Commitment == "" {
		config.Commitment = "confirmed"
	}
	if config.ReconnectDelayMs <= 0 {
		config.ReconnectDelayMs = 1000
	}
	return &WSMonitor{
		config: config,
		events: make(chan LogEvent, config.BufferSize),
	}
}

// Start dials the endpoint and subscribes once before returning, so a
// broken transport at startup surfaces to the caller. Afterwards the
// monitor reconnects on its own until ctx is cancelled, at which point the
// returned channel is closed.
func (m *WSMonitor) Start(ctx context.Context) (<-chan LogEvent, error) {
	if err := m.connect(ctx); err != nil {
		return nil, err
	}
	if err := m.subscribe(); err != nil {
		m.disconnect()
		return nil, err
	}
	go m.runLoop(ctx)
	go func() {
		// Unblocks a pending ReadMessage on shutdown.
		<-ctx.Done()
		m.disconnect()
	}()
	return m.events, nil
}

func (m *WSMonitor) runLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: runLoop panic recovered")
		}
		// Acquire write lock to synchronize with handleMessage's channel send.
		m.mu.Lock()
		if m.closed.CompareAndSwap(false, true) {
			close(m.events)
		}
		m.mu.Unlock()
	}()

	reconnectDelay := time.Duration(m.config.ReconnectDelayMs) * time.Millisecond
	reconnectCount := 0

	// Start already connected and subscribed.
	m.readLoop(ctx)

	for {
		select {
		case <-ctx.Done():
			m.disconnect()
			return
		default:
		}

		// Unlimited reconnects when MaxReconnects == 0.
		if m.config.MaxReconnects > 0 && reconnectCount >= m.config.MaxReconnects {
			log.Error().Int("max", m.config.MaxReconnects).Msg("ws: max reconnects reached, restarting counter after cooldown")
			select {
			case <-time.After(60 * time.Second):
				reconnectCount = 0
				continue
			case <-ctx.Done():
				m.disconnect()
				return
			}
		}

		if err := m.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", reconnectCount).Msg("ws: connection failed")
			reconnectCount++

			maxDelay := 30 * time.Second
			if reconnectDelay > maxDelay {
				reconnectDelay = maxDelay
			}
			select {
			case <-time.After(reconnectDelay):
				reconnectDelay = reconnectDelay * 2
				if reconnectDelay > maxDelay {
					reconnectDelay = maxDelay
				}
			case <-ctx.Done():
				return
			}
			continue
		}

		reconnectCount = 0
		reconnectDelay = time.Duration(m.config.ReconnectDelayMs) * time.Millisecond

		if err := m.subscribe(); err != nil {
			log.Warn().Err(err).Str("program", m.config.ProgramID.Short()).Msg("ws: subscribe failed")
			m.disconnect()
			continue
		}

		// Read messages until disconnect.
		m.readLoop(ctx)
		m.reconnects.Add(1)
	}
}

func (m *WSMonitor) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	conn, _, err := dialer.DialContext(ctx, m.config.WSEndpoint, header)
	if err != nil {
		return fmt.Errorf("ws: dial: %w", err)
	}

	m.mu.Lock()
	if m.conn != nil {
		m.conn.Close()
	}
	m.conn = conn
	m.subID = 0
	m.mu.Unlock()
	m.connected.Store(true)

	log.Info().Str("endpoint", m.config.WSEndpoint).Msg("ws: connected")
	return nil
}

func (m *WSMonitor) disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.connected.Store(false)
}

// subscribe sends a logsSubscribe request for the configured program.
func (m *WSMonitor) subscribe() error {
	reqID := m.nextReqID.Add(1)

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      reqID,
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{
				"mentions": []string{string(m.config.ProgramID)},
			},
			map[string]any{
				"commitment": m.config.Commitment,
			},
		},
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == nil {
		return fmt.Errorf("ws: not connected")
	}
	if err := m.conn.WriteJSON(req); err != nil {
		return fmt.Errorf("ws: write subscribe: %w", err)
	}

	log.Info().
		Str("program", m.config.ProgramID.Short()).
		Str("commitment", m.config.Commitment).
		Msg("ws: subscribed to program logs")

	return nil
}

func (m *WSMonitor) readLoop(ctx context.Context) {
	// Ping ticker.
	pingInterval := time.Duration(m.config.PingIntervalS) * time.Second
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			m.mu.Lock()
			var err error
			if m.conn != nil {
				err = m.conn.WriteMessage(websocket.PingMessage, nil)
			}
			m.mu.Unlock()
			if err != nil {
				log.Debug().Err(err).Msg("ws: ping failed")
				return
			}
		default:
		}

		m.mu.RLock()
		conn := m.conn
		m.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("ws: connection closed normally")
			} else {
				log.Warn().Err(err).Msg("ws: read error, reconnecting")
			}
			m.connected.Store(false)
			return
		}

		m.messagesRecv.Add(1)
		m.handleMessage(message)
	}
}

func (m *WSMonitor) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("ws: handleMessage panic recovered")
		}
	}()

	event, ok := parseLogsNotification(data)
	if !ok {
		// Could be a subscription confirmation response.
		var subResp struct {
			ID     int64 `json:"id"`
			Result int   `json:"result"`
			Error  *struct {
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(data, &subResp) != nil {
			return
		}
		if subResp.Error != nil {
			log.Warn().Str("error", subResp.Error.Message).Msg("ws: subscription rejected")
			return
		}
		if subResp.Result > 0 {
			m.mu.Lock()
			m.subID = subResp.Result
			m.mu.Unlock()
			log.Debug().Int("sub_id", subResp.Result).Msg("ws: subscription confirmed")
		}
		return
	}

	// Synchronize channel send with close using mutex to prevent
	// send-on-closed-channel panic (atomic check alone is racy).
	m.mu.RLock()
	if !m.closed.Load() {
		select {
		case m.events <- event:
			m.eventsEmitted.Add(1)
		default:
			m.eventsDropped.Add(1)
			log.Warn().Str("sig", event.Signature.Short()).Msg("ws: event channel full, dropping batch")
		}
	}
	m.mu.RUnlock()
}

// parseLogsNotification decodes a logsNotification frame.
func parseLogsNotification(data []byte) (LogEvent, bool) {
	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string          `json:"signature"`
					Err       json.RawMessage `json:"err"`
					Logs      []string        `json:"logs"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
			Subscription int `json:"subscription"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return LogEvent{}, false
	}
	if notification.Method != "logsNotification" {
		return LogEvent{}, false
	}

	value := notification.Params.Result.Value
	txErr := bytes.TrimSpace(value.Err)
	return LogEvent{
		Signature:  Signature(value.Signature),
		Slot:       notification.Params.Result.Context.Slot,
		Logs:       value.Logs,
		Failed:     len(txErr) > 0 && !bytes.Equal(txErr, []byte("null")),
		ReceivedAt: time.Now(),
	}, true
}

// WSStats returns monitor statistics.
type WSStats struct {
	Connected      bool  `json:"connected"`
	SubscriptionID int   `json:"subscription_id"`
	MessagesRecv   int64 `json:"messages_recv"`
	EventsEmitted  int64 `json:"events_emitted"`
	EventsDropped  int64 `json:"events_dropped"`
	Reconnects     int64 `json:"reconnects"`
}

func (m *WSMonitor) Stats() WSStats {
	m.mu.RLock()
	subID := m.subID
	m.mu.RUnlock()
	return WSStats{
		Connected:      m.connected.Load(),
		SubscriptionID: subID,
		MessagesRecv:   m.messagesRecv.Load(),
		EventsEmitted:  m.eventsEmitted.Load(),
		EventsDropped:  m.eventsDropped.Load(),
		Reconnects:     m.reconnects.Load(),
	}
}
