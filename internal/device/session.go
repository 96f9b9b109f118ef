// Package device holds the device's MQTT session: connect over the TLS
// identity, subscribe, drain incoming messages on a background listener and
// publish on a fixed interval.
package device

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/arhuman/devlink/internal/logging"
)

// disconnectQuiesce is how long Disconnect waits for in-flight work, in ms.
const disconnectQuiesce = 250

// DefaultPublishInterval is used when Options.PublishInterval is not set.
const DefaultPublishInterval = 10 * time.Second

// Message is an incoming publication.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// Options configure a Session.
type Options struct {
	BrokerURL       string
	ClientID        string
	Topic           string
	QoS             byte
	MessagePrefix   string
	PublishInterval time.Duration
	// ConnectTimeout bounds the wait for CONNACK, SUBACK and PUBACK.
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	TLSConfig      *tls.Config
	// OnMessage is called from the listener goroutine for every message.
	OnMessage func(Message)
}

// Session is one MQTT connection with its listener and publish loop.
type Session struct {
	opts   Options
	client Client
	logger *zap.Logger

	inbox chan Message
	lost  chan error
	done  chan struct{}
	wg    sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	connected atomic.Bool
	published atomic.Int64
	received  atomic.Int64
}

// NewSession creates a session backed by the paho MQTT client. Automatic
// reconnect and connect retry are off: a lost connection ends Run.
func NewSession(opts Options, logger *zap.Logger) *Session {
	s := newSession(opts, logger)
	s.client = mqtt.NewClient(s.clientOptions())
	return s
}

// NewSessionWithClient creates a session driving the given client.
func NewSessionWithClient(opts Options, client Client, logger *zap.Logger) *Session {
	s := newSession(opts, logger)
	s.client = client
	return s
}

func newSession(opts Options, logger *zap.Logger) *Session {
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = DefaultPublishInterval
	}
	return &Session{
		opts:   opts,
		logger: logger.With(zap.String("client_id", opts.ClientID)),
		inbox:  make(chan Message, 16),
		lost:   make(chan error, 1),
		done:   make(chan struct{}),
	}
}

func (s *Session) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(s.opts.BrokerURL).
		SetClientID(s.opts.ClientID).
		SetTLSConfig(s.opts.TLSConfig).
		SetKeepAlive(s.opts.KeepAlive).
		SetConnectTimeout(s.opts.ConnectTimeout).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectionLostHandler(s.connectionLost)
}

// Connect opens the connection and waits for the broker's CONNACK.
func (s *Session) Connect(ctx context.Context) error {
	logger, start := logging.FuncLogger(s.logger, "Session.Connect")
	defer logging.FuncExit(logger, start)

	logger.Info("Connecting to broker", zap.String("broker", s.opts.BrokerURL))
	if err := s.wait(ctx, s.client.Connect()); err != nil {
		logger.Error("Failed to connect to broker", zap.Error(err))
		return &OperationError{Op: "connect", Err: err}
	}

	s.connected.Store(true)
	logger.Info("MQTT client started")
	return nil
}

// Start launches the background listener. Calling it again has no effect.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.wg.Add(1)
		go s.listen()
	})
}

// Subscribe subscribes to the configured topic and classifies the broker's
// answer. Only granted and downgraded subscriptions return a nil error.
func (s *Session) Subscribe(ctx context.Context) (SubscribeOutcome, error) {
	logger, start := logging.FuncLogger(s.logger, "Session.Subscribe")
	defer logging.FuncExit(logger, start)

	if !s.connected.Load() {
		return SubscribeUnknown, &OperationError{Op: "subscribe", Err: ErrNotConnected}
	}

	tok := s.client.Subscribe(s.opts.Topic, s.opts.QoS, s.deliver)
	if err := s.wait(ctx, tok); err != nil {
		logger.Error("Subscribe failed", zap.String("topic", s.opts.Topic), zap.Error(err))
		return SubscribeUnknown, &OperationError{Op: "subscribe", Err: err}
	}

	var code byte
	present := false
	if r, ok := tok.(subscribeResulter); ok {
		code, present = r.Result()[s.opts.Topic]
	}
	outcome := ClassifySubscribe(s.opts.QoS, code, present)

	fields := []zap.Field{
		zap.String("topic", s.opts.Topic),
		zap.Uint8("requested_qos", s.opts.QoS),
		zap.Uint8("code", code),
		zap.Stringer("outcome", outcome),
	}
	switch outcome {
	case SubscribeGranted:
		logger.Info("Subscribed", fields...)
	case SubscribeDowngraded:
		logger.Warn("Subscribed with a lower QoS than requested", fields...)
	default:
		logger.Error("Subscription refused", fields...)
		return outcome, &SubscribeError{Topic: s.opts.Topic, Outcome: outcome, Code: code}
	}
	return outcome, nil
}

// Run publishes "<prefix> - <n>" now and then every PublishInterval, n
// counting from 0. It returns nil when ctx is cancelled or the session is
// stopped, and an error on the first failed publish or lost connection.
func (s *Session) Run(ctx context.Context) error {
	logger, start := logging.FuncLogger(s.logger, "Session.Run")
	defer logging.FuncExit(logger, start)

	if !s.connected.Load() {
		return &OperationError{Op: "publish", Err: ErrNotConnected}
	}

	ticker := time.NewTicker(s.opts.PublishInterval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		if ctx.Err() != nil {
			return nil
		}
		if err := s.publish(ctx, n); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, stopping publish loop")
			return nil
		case <-s.done:
			logger.Debug("Session stopped, stopping publish loop")
			return nil
		case err := <-s.lost:
			return fmt.Errorf("%w: %w", ErrConnectionLost, err)
		case <-ticker.C:
		}
	}
}

func (s *Session) publish(ctx context.Context, n int) error {
	payload := fmt.Sprintf("%s - %d", s.opts.MessagePrefix, n)
	s.logger.Info("Publish a message",
		zap.String("topic", s.opts.Topic),
		zap.Int("seq", n))

	tok := s.client.Publish(s.opts.Topic, s.opts.QoS, false, []byte(payload))
	if err := s.wait(ctx, tok); err != nil {
		s.logger.Error("Publish failed", zap.Int("seq", n), zap.Error(err))
		return &OperationError{Op: "publish", Err: err}
	}
	s.published.Add(1)
	return nil
}

// Stop disconnects and waits for the listener to exit. Safe to call more
// than once.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		if s.connected.Swap(false) {
			s.client.Disconnect(disconnectQuiesce)
		}
		s.wg.Wait()
		s.logger.Info("Session stopped",
			zap.Int64("published", s.published.Load()),
			zap.Int64("received", s.received.Load()))
	})
}

// Published returns how many messages the broker acknowledged.
func (s *Session) Published() int64 {
	return s.published.Load()
}

// Received returns how many messages the listener processed.
func (s *Session) Received() int64 {
	return s.received.Load()
}

// IsConnected reports whether the session believes the link is up.
func (s *Session) IsConnected() bool {
	return s.connected.Load()
}

// deliver is the MQTT client callback. It hands the message to the listener
// and blocks while the inbox is full.
func (s *Session) deliver(_ mqtt.Client, m mqtt.Message) {
	msg := Message{
		Topic:     m.Topic(),
		Payload:   append([]byte(nil), m.Payload()...),
		QoS:       m.Qos(),
		Retained:  m.Retained(),
		Duplicate: m.Duplicate(),
		MessageID: m.MessageID(),
	}
	select {
	case s.inbox <- msg:
	case <-s.done:
	}
}

func (s *Session) listen() {
	defer s.wg.Done()
	s.logger.Info("Listening for messages")

	for {
		select {
		case <-s.done:
			return
		case msg := <-s.inbox:
			s.received.Add(1)
			s.logger.Info("MQTT message",
				zap.String("topic", msg.Topic),
				zap.Uint16("message_id", msg.MessageID),
				zap.Uint8("qos", msg.QoS),
				zap.Bool("retained", msg.Retained),
				zap.ByteString("payload", msg.Payload))
			if s.opts.OnMessage != nil {
				s.opts.OnMessage(msg)
			}
		}
	}
}

func (s *Session) connectionLost(_ mqtt.Client, err error) {
	s.connected.Store(false)
	s.logger.Error("MQTT connection lost", zap.Error(err))
	select {
	case s.lost <- err:
	default:
	}
}

// wait blocks until tok completes, the operation timeout elapses or ctx ends.
func (s *Session) wait(ctx context.Context, tok mqtt.Token) error {
	var timeout <-chan time.Time
	if s.opts.ConnectTimeout > 0 {
		timer := time.NewTimer(s.opts.ConnectTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case <-tok.Done():
		return tok.Error()
	case <-timeout:
		return ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
