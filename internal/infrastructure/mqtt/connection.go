package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
)

// Logger is the logging surface used by Connection.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// MessageHandler receives one inbound message. receivedAt is taken when
// the message reaches the client, before any queueing.
//
// Handlers run on paho's callback goroutines and must return quickly.
type MessageHandler func(topic string, payload []byte, receivedAt time.Time)

// Status is a point-in-time view of the connection.
type Status struct {
	Connected bool      `json:"connected"`
	State     State     `json:"state"`
	Broker    string    `json:"broker"`
	ClientID  string    `json:"client_id"`
	Topics    []string  `json:"topics"`
	Since     time.Time `json:"since"`
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger for state transitions and handler failures.
func WithLogger(logger Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// withSessionFactory replaces the paho client, for tests.
func withSessionFactory(f sessionFactory) Option {
	return func(c *Connection) {
		c.newSession = f
	}
}

// Connection owns the broker session and keeps it alive.
//
// A supervisor goroutine connects, subscribes to every registered topic,
// and on failure or connection loss waits a fixed interval before trying
// again, indefinitely, until Stop is called or the Start context ends.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Handle must be called before Start.
type Connection struct {
	cfg            config.MQTTConfig
	logger         Logger
	newSession     sessionFactory
	interval       time.Duration
	connectTimeout time.Duration
	now            func() time.Time

	mu        sync.RWMutex
	state     State
	since     time.Time
	topics    []string
	handlers  map[string]MessageHandler
	listeners []func(State)
	client    session
	started   bool

	lost     chan error
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConnection creates a Connection in the Disconnected state. Nothing
// touches the network until Start.
func NewConnection(cfg config.MQTTConfig, opts ...Option) *Connection {
	c := &Connection{
		cfg:            cfg,
		logger:         nopLogger{},
		newSession:     newPahoSession,
		interval:       cfg.ReconnectInterval(),
		connectTimeout: cfg.ConnectTimeoutDuration(),
		now:            time.Now,
		state:          StateDisconnected,
		handlers:       make(map[string]MessageHandler),
		lost:           make(chan error, 1),
		stop:           make(chan struct{}),
		done:           make(chan struct{}),
	}
	c.since = c.now()

	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle registers handler for a topic filter. The subscription set is
// fixed once Start is called.
func (c *Connection) Handle(filter string, handler MessageHandler) error {
	if err := ValidateFilter(filter); err != nil {
		return fmt.Errorf("%w: %q", err, filter)
	}
	if handler == nil {
		return fmt.Errorf("%w: nil handler for %q", ErrSubscribeFailed, filter)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return ErrAlreadyStarted
	}
	if c.state == StateStopped {
		return ErrStopped
	}
	if _, exists := c.handlers[filter]; !exists {
		c.topics = append(c.topics, filter)
	}
	c.handlers[filter] = handler
	return nil
}

// OnStateChange registers fn to be called after every state transition.
// fn runs on the supervisor goroutine and must not block.
func (c *Connection) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Start launches the supervisor. It returns immediately; the first
// connection attempt happens in the background.
//
// Cancelling ctx has the same effect as Stop.
func (c *Connection) Start(ctx context.Context) error {
	if c.cfg.QoS < 0 || c.cfg.QoS > maxQoS {
		return ErrInvalidQoS
	}

	c.mu.Lock()
	select {
	case <-c.stop:
		c.mu.Unlock()
		return ErrStopped
	default:
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true

	opts := buildClientOptions(c.cfg)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.connectionLost(err)
	})
	c.client = c.newSession(opts)
	c.mu.Unlock()

	go c.run(ctx)
	return nil
}

// Stop unsubscribes, disconnects and moves to Stopped. It blocks until the
// supervisor has exited. Safe to call more than once.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })

	c.mu.RLock()
	started := c.started
	c.mu.RUnlock()

	if started {
		<-c.done
		return
	}
	c.setState(StateStopped)
}

// run is the supervisor loop.
func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	retry := backoff.WithContext(backoff.NewConstantBackOff(c.interval), ctx)
	broker := BrokerURL(c.cfg)

	for {
		c.setState(StateConnecting)

		err := c.connect(ctx)
		switch {
		case err == nil:
			c.setState(StateConnected)
			c.logger.Info("mqtt connected", "broker", broker, "topics", c.Topics())

			select {
			case lostErr := <-c.lost:
				c.logger.Warn("mqtt connection lost", "broker", broker, "error", lostErr)
			case <-ctx.Done():
				c.shutdown(true)
				return
			case <-c.stop:
				c.shutdown(true)
				return
			}
		case errors.Is(err, ErrStopped):
			c.shutdown(false)
			return
		default:
			c.logger.Warn("mqtt connection attempt failed",
				"broker", broker,
				"error", err,
				"retry_in", c.interval.String(),
			)
		}

		c.setState(StateReconnecting)

		wait := retry.NextBackOff()
		if wait == backoff.Stop {
			c.shutdown(false)
			return
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			c.shutdown(false)
			return
		case <-c.stop:
			timer.Stop()
			c.shutdown(false)
			return
		}
	}
}

// connect performs one connection attempt followed by the subscriptions.
func (c *Connection) connect(ctx context.Context) error {
	// Discard a loss signal left over from the previous session.
	select {
	case <-c.lost:
	default:
	}

	if err := c.await(ctx, c.client.Connect(), c.connectTimeout); err != nil {
		if errors.Is(err, ErrTimeout) {
			c.client.Disconnect(0)
			return fmt.Errorf("%w: after %v", ErrConnectTimeout, c.connectTimeout)
		}
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.mu.RLock()
	topics := append([]string(nil), c.topics...)
	c.mu.RUnlock()

	for _, topic := range topics {
		token := c.client.Subscribe(topic, byte(c.cfg.QoS), c.wrapHandler(c.handlerFor(topic)))
		if err := c.await(ctx, token, defaultAckTimeout); err != nil {
			c.client.Disconnect(0)
			if errors.Is(err, ErrStopped) {
				return err
			}
			return fmt.Errorf("%w: %s: %w", ErrSubscribeFailed, topic, err)
		}
	}
	return nil
}

// await waits for token, the timeout, or shutdown, whichever comes first.
func (c *Connection) await(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrTimeout
	case <-ctx.Done():
		return ErrStopped
	case <-c.stop:
		return ErrStopped
	}
}

func (c *Connection) shutdown(connected bool) {
	if connected {
		c.mu.RLock()
		topics := append([]string(nil), c.topics...)
		c.mu.RUnlock()

		if len(topics) > 0 {
			token := c.client.Unsubscribe(topics...)
			if !token.WaitTimeout(defaultAckTimeout) {
				c.logger.Warn("mqtt unsubscribe not acknowledged before disconnect")
			}
		}
		c.client.Disconnect(defaultDisconnectQuiesce)
	} else if c.client != nil {
		// Abort an attempt that may still be in flight.
		c.client.Disconnect(0)
	}

	c.setState(StateStopped)
	c.logger.Info("mqtt connection stopped")
}

// connectionLost is paho's connection-lost callback.
func (c *Connection) connectionLost(err error) {
	select {
	case c.lost <- err:
	default:
	}
}

func (c *Connection) handlerFor(topic string) MessageHandler {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.handlers[topic]
}

// wrapHandler stamps the receive time and recovers handler panics.
func (c *Connection) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		receivedAt := c.now().UTC()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("mqtt handler panic recovered",
					"topic", msg.Topic(),
					"panic", r,
				)
			}
		}()

		handler(msg.Topic(), msg.Payload(), receivedAt)
	}
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateStopped {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.since = c.now()
	listeners := append([]func(State){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(s)
	}
}

// Publish sends payload on topic when connected. It is best-effort: when
// the session is down, or the broker does not acknowledge in time, the
// message is dropped and a warning logged. Reports whether the broker
// acknowledged the message.
func (c *Connection) Publish(topic string, payload []byte, retained bool) bool {
	if err := ValidatePublishTopic(topic); err != nil {
		c.logger.Warn("mqtt publish rejected", "topic", topic, "error", err)
		return false
	}

	c.mu.RLock()
	state, client := c.state, c.client
	c.mu.RUnlock()

	if state != StateConnected {
		c.logger.Warn("mqtt publish skipped, broker not connected", "topic", topic, "state", state.String())
		return false
	}

	token := client.Publish(topic, byte(c.cfg.QoS), retained, payload)
	if !token.WaitTimeout(defaultAckTimeout) {
		c.logger.Warn("mqtt publish not acknowledged", "topic", topic, "timeout", defaultAckTimeout.String())
		return false
	}
	if err := token.Error(); err != nil {
		c.logger.Warn("mqtt publish failed", "topic", topic, "error", err)
		return false
	}
	return true
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the state is Connected.
func (c *Connection) IsConnected() bool {
	return c.State() == StateConnected
}

// Topics returns the registered topic filters in registration order.
func (c *Connection) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string{}, c.topics...)
}

// Status returns a snapshot for status endpoints.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return Status{
		Connected: c.state == StateConnected,
		State:     c.state,
		Broker:    BrokerURL(c.cfg),
		ClientID:  c.cfg.Broker.ClientID,
		Topics:    append([]string{}, c.topics...),
		Since:     c.since,
	}
}

// HealthCheck returns ErrNotConnected unless the session is up.
func (c *Connection) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}
