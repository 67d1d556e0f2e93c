package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/baeder-monitor/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// SubscriberConfig holds configuration for the live feed subscriber
type SubscriberConfig struct {
	URL                  string
	Origin               string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	PingInterval         time.Duration
	PongTimeout          time.Duration
}

// Handlers receive decoded server messages. Nil handlers are skipped.
type Handlers struct {
	Hello    func(models.HelloMessage)
	Readings func(models.ReadingsMessage)
	Error    func(models.ErrorMessage)
}

// Subscriber follows the dashboard's websocket feed and reconnects with
// exponential backoff when the connection drops.
type Subscriber struct {
	cfg      SubscriberConfig
	handlers Handlers
	logger   zerolog.Logger

	stateMutex sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn
	clientID   string
	connects   int

	currentReconnectInterval time.Duration

	lastPongMutex sync.RWMutex
	lastPong      time.Time

	writeMutex sync.Mutex
}

// NewSubscriber creates a subscriber. Zero durations get defaults.
func NewSubscriber(cfg SubscriberConfig, handlers Handlers, logger zerolog.Logger) *Subscriber {
	if cfg.ReconnectInterval <= 0 {
		cfg.ReconnectInterval = time.Second
	}
	if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
		cfg.MaxReconnectInterval = 30 * time.Second
		if cfg.MaxReconnectInterval < cfg.ReconnectInterval {
			cfg.MaxReconnectInterval = cfg.ReconnectInterval
		}
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	return &Subscriber{
		cfg:                      cfg,
		handlers:                 handlers,
		logger:                   logger,
		state:                    StateDisconnected,
		currentReconnectInterval: cfg.ReconnectInterval,
	}
}

func (s *Subscriber) setState(state ConnectionState) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.state = state
	s.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (s *Subscriber) State() ConnectionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// IsConnected returns true if currently connected
func (s *Subscriber) IsConnected() bool {
	return s.State() == StateConnected
}

// ClientID is the id the server assigned in its last hello.
func (s *Subscriber) ClientID() string {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.clientID
}

// Connects counts successful dials.
func (s *Subscriber) Connects() int {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.connects
}

// Connect dials the server once.
func (s *Subscriber) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	s.logger.Info().Str("url", s.cfg.URL).Msg("Connecting to dashboard")

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	header := http.Header{}
	if s.cfg.Origin != "" {
		header.Set("Origin", s.cfg.Origin)
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		s.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}
	resp.Body.Close()

	conn.SetPongHandler(func(string) error {
		s.updateLastPong()
		return nil
	})

	s.stateMutex.Lock()
	s.conn = conn
	s.state = StateConnected
	s.connects++
	s.stateMutex.Unlock()

	s.currentReconnectInterval = s.cfg.ReconnectInterval
	s.logger.Info().Msg("Connected to dashboard")
	return nil
}

// Run keeps the subscription alive until ctx is cancelled.
func (s *Subscriber) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := s.Connect(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Connection failed")
			s.waitBeforeReconnect(ctx)
			continue
		}

		s.runLoops(ctx)

		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Info().Msg("Connection lost, will reconnect")
		s.waitBeforeReconnect(ctx)
	}
}

// NextReconnectDelay is the wait before the next dial attempt.
func (s *Subscriber) NextReconnectDelay() time.Duration {
	return s.currentReconnectInterval
}

func (s *Subscriber) waitBeforeReconnect(ctx context.Context) {
	s.logger.Info().Dur("delay", s.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(s.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	s.currentReconnectInterval *= 2
	if s.currentReconnectInterval > s.cfg.MaxReconnectInterval {
		s.currentReconnectInterval = s.cfg.MaxReconnectInterval
	}
}

func (s *Subscriber) runLoops(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.readLoop()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeatLoop(ctx)
		// unblock the reader
		s.disconnect()
	}()

	wg.Wait()
	s.disconnect()
}

func (s *Subscriber) disconnect() {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
}

func (s *Subscriber) currentConn() *websocket.Conn {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.conn
}

func (s *Subscriber) readLoop() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		s.updateLastPong()
		s.handleMessage(&msg)
	}
}

func (s *Subscriber) handleMessage(msg *models.Message) {
	switch msg.Type {
	case models.MessageTypeHello:
		var hello models.HelloMessage
		if err := msg.UnmarshalPayload(&hello); err != nil {
			s.logger.Warn().Err(err).Msg("Bad hello payload")
			return
		}
		s.stateMutex.Lock()
		s.clientID = hello.ClientID
		s.stateMutex.Unlock()
		if s.handlers.Hello != nil {
			s.handlers.Hello(hello)
		}
	case models.MessageTypeReadings:
		var readings models.ReadingsMessage
		if err := msg.UnmarshalPayload(&readings); err != nil {
			s.logger.Warn().Err(err).Msg("Bad readings payload")
			return
		}
		if s.handlers.Readings != nil {
			s.handlers.Readings(readings)
		}
	case models.MessageTypeError:
		var errMsg models.ErrorMessage
		if err := msg.UnmarshalPayload(&errMsg); err != nil {
			return
		}
		s.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
		if s.handlers.Error != nil {
			s.handlers.Error(errMsg)
		}
	default:
		s.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

func (s *Subscriber) updateLastPong() {
	s.lastPongMutex.Lock()
	defer s.lastPongMutex.Unlock()
	s.lastPong = time.Now()
}

func (s *Subscriber) timeSinceLastPong() time.Duration {
	s.lastPongMutex.RLock()
	defer s.lastPongMutex.RUnlock()
	return time.Since(s.lastPong)
}

// heartbeatLoop pings the server and returns when the link looks dead or ctx ends
func (s *Subscriber) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()
	s.updateLastPong()

	for {
		select {
		case <-ctx.Done():
			s.closeGracefully()
			return
		case <-ticker.C:
			if err := s.ping(); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to send ping")
				return
			}
			if s.timeSinceLastPong() > s.cfg.PongTimeout {
				s.logger.Warn().Msg("No pong received, connection appears dead")
				return
			}
		}
	}
}

func (s *Subscriber) ping() error {
	conn := s.currentConn()
	if conn == nil {
		return fmt.Errorf("not connected")
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	return conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
}

func (s *Subscriber) closeGracefully() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
}
