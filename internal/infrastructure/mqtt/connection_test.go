package mqtt

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
)

const (
	readingsTopic = "irrigacao/umidade"
	relayTopic    = "irrigacao/rele"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker:         config.MQTTBrokerConfig{Host: "broker.test", Port: 1883, ClientID: "irrigation-core-test"},
		QoS:            1,
		Reconnect:      config.MQTTReconnectConfig{Interval: 5},
		ConnectTimeout: 30,
	}
}

// transitionLog records every state change together with the Connected
// flag observed at that moment.
type transitionLog struct {
	mu        sync.Mutex
	states    []State
	connected []bool
}

func (l *transitionLog) list() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State{}, l.states...)
}

func newTestConnection(t *testing.T, fake *fakeSession) (*Connection, *transitionLog, *recordingLogger) {
	t.Helper()

	logger := &recordingLogger{}
	conn := NewConnection(testConfig(), WithLogger(logger), withSessionFactory(fake.factory))
	conn.interval = 10 * time.Millisecond
	conn.connectTimeout = 50 * time.Millisecond

	log := &transitionLog{}
	conn.OnStateChange(func(s State) {
		status := conn.Status()
		log.mu.Lock()
		log.states = append(log.states, s)
		log.connected = append(log.connected, status.Connected)
		log.mu.Unlock()
	})

	noop := func(string, []byte, time.Time) {}
	if err := conn.Handle(readingsTopic, noop); err != nil {
		t.Fatalf("Handle(%s) error = %v", readingsTopic, err)
	}
	if err := conn.Handle(relayTopic, noop); err != nil {
		t.Fatalf("Handle(%s) error = %v", relayTopic, err)
	}

	t.Cleanup(conn.Stop)
	return conn, log, logger
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func waitForState(t *testing.T, conn *Connection, want State) {
	t.Helper()
	waitFor(t, "state "+want.String(), func() bool { return conn.State() == want })
}

// ============================================================================
// Lifecycle
// ============================================================================

func TestConnection_InitialState(t *testing.T) {
	conn := NewConnection(testConfig())

	status := conn.Status()
	if status.State != StateDisconnected || status.Connected {
		t.Errorf("Status() = %+v, want disconnected", status)
	}
	if status.Broker != "tcp://broker.test:1883" {
		t.Errorf("Broker = %q, want %q", status.Broker, "tcp://broker.test:1883")
	}
	if err := conn.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConnected", err)
	}
}

func TestConnection_ConnectsAndSubscribes(t *testing.T) {
	fake := newFakeSession()
	conn, log, _ := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	_, subscribes, _, _ := fake.snapshot()
	if !reflect.DeepEqual(subscribes, []string{readingsTopic, relayTopic}) {
		t.Errorf("subscribes = %v, want both topics in order", subscribes)
	}

	want := []State{StateConnecting, StateConnected}
	if got := log.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	status := conn.Status()
	if !status.Connected || !reflect.DeepEqual(status.Topics, []string{readingsTopic, relayTopic}) {
		t.Errorf("Status() = %+v, want connected with both topics", status)
	}
	if err := conn.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestConnection_ReconnectsAfterLoss(t *testing.T) {
	fake := newFakeSession()
	conn, log, logger := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	conn.connectionLost(errors.New("EOF"))

	waitFor(t, "second connect", func() bool {
		connects, _, _, _ := fake.snapshot()
		return connects == 2 && conn.State() == StateConnected
	})

	want := []State{StateConnecting, StateConnected, StateReconnecting, StateConnecting, StateConnected}
	if got := log.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}

	log.mu.Lock()
	for i, s := range log.states {
		if s != StateConnected && log.connected[i] {
			t.Errorf("Connected = true while %v", s)
		}
	}
	log.mu.Unlock()

	// Subscriptions are re-issued on the new session.
	_, subscribes, _, _ := fake.snapshot()
	if len(subscribes) != 4 {
		t.Errorf("subscribe calls = %d, want 4", len(subscribes))
	}
	if !logger.contains("warn: mqtt connection lost") {
		t.Error("connection loss should be logged as a warning")
	}
}

func TestConnection_RetriesFailedAttempts(t *testing.T) {
	fake := newFakeSession()
	refused := errors.New("connection refused")
	fake.connectErrs = []error{refused, refused}
	conn, log, logger := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	connects, _, _, _ := fake.snapshot()
	if connects != 3 {
		t.Errorf("connect attempts = %d, want 3", connects)
	}

	want := []State{
		StateConnecting, StateReconnecting,
		StateConnecting, StateReconnecting,
		StateConnecting, StateConnected,
	}
	if got := log.list(); !reflect.DeepEqual(got, want) {
		t.Errorf("transitions = %v, want %v", got, want)
	}
	if !logger.contains("warn: mqtt connection attempt failed") {
		t.Error("failed attempts should be logged")
	}
}

func TestConnection_ConnectTimeout(t *testing.T) {
	fake := newFakeSession()
	fake.hangConnect = true
	conn, _, _ := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "a timed out attempt", func() bool {
		_, _, _, disconnects := fake.snapshot()
		return disconnects >= 1
	})
	if conn.IsConnected() {
		t.Fatal("IsConnected() = true while the broker never answered")
	}

	fake.setHang(false)
	waitForState(t, conn, StateConnected)
}

func TestConnection_SubscribeFailureRetries(t *testing.T) {
	fake := newFakeSession()
	fake.subscribeErr = errors.New("not authorised")
	conn, _, _ := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	waitFor(t, "two attempts", func() bool {
		connects, _, _, _ := fake.snapshot()
		return connects >= 2
	})
	if conn.IsConnected() {
		t.Error("IsConnected() = true although subscriptions failed")
	}
}

func TestConnection_Stop(t *testing.T) {
	fake := newFakeSession()
	conn, _, _ := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	conn.Stop()
	conn.Stop()

	if conn.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", conn.State())
	}

	_, _, unsubscribed, disconnects := fake.snapshot()
	if !reflect.DeepEqual(unsubscribed, []string{readingsTopic, relayTopic}) {
		t.Errorf("unsubscribed = %v, want both topics", unsubscribed)
	}
	if disconnects != 1 {
		t.Errorf("disconnects = %d, want 1", disconnects)
	}

	// Stopped is terminal.
	conn.connectionLost(errors.New("late"))
	time.Sleep(30 * time.Millisecond)
	if conn.State() != StateStopped {
		t.Errorf("State() after late loss = %v, want stopped", conn.State())
	}
	if err := conn.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestConnection_StopBeforeStart(t *testing.T) {
	conn := NewConnection(testConfig())
	conn.Stop()

	if conn.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", conn.State())
	}
	if err := conn.Handle(readingsTopic, func(string, []byte, time.Time) {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Handle() after Stop error = %v, want ErrStopped", err)
	}
	if err := conn.Start(context.Background()); !errors.Is(err, ErrStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrStopped", err)
	}
}

func TestConnection_StopWhileReconnecting(t *testing.T) {
	fake := newFakeSession()
	fake.connectErrs = []error{errors.New("refused")}
	conn, _, _ := newTestConnection(t, fake)
	conn.interval = time.Hour

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateReconnecting)

	done := make(chan struct{})
	go func() {
		conn.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop() did not interrupt the reconnect wait")
	}
	if conn.State() != StateStopped {
		t.Errorf("State() = %v, want stopped", conn.State())
	}
}

func TestConnection_ContextCancelStops(t *testing.T) {
	fake := newFakeSession()
	conn, _, _ := newTestConnection(t, fake)

	ctx, cancel := context.WithCancel(context.Background())
	if err := conn.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	cancel()
	waitForState(t, conn, StateStopped)
}

func TestConnection_StartTwice(t *testing.T) {
	fake := newFakeSession()
	conn, _, _ := newTestConnection(t, fake)

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := conn.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if err := conn.Handle("irrigacao/extra", func(string, []byte, time.Time) {}); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Handle() after Start error = %v, want ErrAlreadyStarted", err)
	}
}

// ============================================================================
// Messages
// ============================================================================

func TestConnection_DeliversMessages(t *testing.T) {
	fake := newFakeSession()
	logger := &recordingLogger{}
	conn := NewConnection(testConfig(), WithLogger(logger), withSessionFactory(fake.factory))
	t.Cleanup(conn.Stop)

	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	conn.now = func() time.Time { return fixed }

	type delivery struct {
		topic      string
		payload    string
		receivedAt time.Time
	}
	got := make(chan delivery, 1)

	if err := conn.Handle(readingsTopic, func(topic string, payload []byte, at time.Time) {
		got <- delivery{topic, string(payload), at}
	}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}
	if err := conn.Handle(relayTopic, func(string, []byte, time.Time) {
		panic("boom")
	}); err != nil {
		t.Fatalf("Handle() error = %v", err)
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	fake.deliver(readingsTopic, []byte("42.5"))
	d := <-got
	if d.topic != readingsTopic || d.payload != "42.5" || !d.receivedAt.Equal(fixed) {
		t.Errorf("delivery = %+v, want %s/42.5 at %v", d, readingsTopic, fixed)
	}

	// A panicking handler is contained.
	fake.deliver(relayTopic, []byte("ligado"))
	if !logger.contains("error: mqtt handler panic recovered") {
		t.Error("handler panic should be recovered and logged")
	}
}

func TestConnection_PublishBestEffort(t *testing.T) {
	fake := newFakeSession()
	conn, _, logger := newTestConnection(t, fake)

	if conn.Publish("irrigacao/config", []byte(`{}`), true) {
		t.Error("Publish() before connect = true, want false")
	}
	if !logger.contains("warn: mqtt publish skipped, broker not connected") {
		t.Error("skipped publish should be logged")
	}

	if err := conn.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitForState(t, conn, StateConnected)

	if !conn.Publish("irrigacao/config", []byte(`{"moisture_min":30}`), true) {
		t.Fatal("Publish() while connected = false, want true")
	}
	if conn.Publish("irrigacao/#", []byte("x"), false) {
		t.Error("Publish() to a wildcard topic = true, want false")
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	if len(fake.published) != 1 {
		t.Fatalf("published = %d, want 1", len(fake.published))
	}
	if p := fake.published[0]; p.topic != "irrigacao/config" || !p.retained {
		t.Errorf("published = %+v, want retained irrigacao/config", p)
	}
}

func TestConnection_HandleValidation(t *testing.T) {
	conn := NewConnection(testConfig())

	if err := conn.Handle("", func(string, []byte, time.Time) {}); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Handle(\"\") error = %v, want ErrInvalidTopic", err)
	}
	if err := conn.Handle(readingsTopic, nil); err == nil {
		t.Error("Handle(nil handler) error = nil, want error")
	}
}

func TestConnection_InvalidQoS(t *testing.T) {
	cfg := testConfig()
	cfg.QoS = 3
	conn := NewConnection(cfg)

	if err := conn.Start(context.Background()); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Start() error = %v, want ErrInvalidQoS", err)
	}
}
