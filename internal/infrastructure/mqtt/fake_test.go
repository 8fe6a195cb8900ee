package mqtt

import (
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// fakeToken is a pahomqtt.Token completed on demand.
type fakeToken struct {
	done chan struct{}
	err  error
}

func completedToken(err error) *fakeToken {
	t := &fakeToken{done: make(chan struct{}), err: err}
	close(t.done)
	return t
}

func pendingToken() *fakeToken {
	return &fakeToken{done: make(chan struct{})}
}

func (t *fakeToken) Wait() bool {
	<-t.done
	return true
}

func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}

func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

// fakeMessage implements pahomqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 1 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

type publishedMessage struct {
	topic    string
	payload  []byte
	retained bool
}

// fakeSession scripts broker behaviour for Connection tests.
type fakeSession struct {
	mu sync.Mutex

	// connectErrs is consumed one per attempt; attempts past the end succeed.
	connectErrs []error
	hangConnect bool
	subscribeErr error

	connects     int
	subscribes   []string
	callbacks    map[string]pahomqtt.MessageHandler
	unsubscribed []string
	disconnects  int
	published    []publishedMessage
}

func newFakeSession() *fakeSession {
	return &fakeSession{callbacks: make(map[string]pahomqtt.MessageHandler)}
}

func (f *fakeSession) factory(_ *pahomqtt.ClientOptions) session { return f }

func (f *fakeSession) Connect() pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	attempt := f.connects
	f.connects++

	if f.hangConnect {
		return pendingToken()
	}
	if attempt < len(f.connectErrs) && f.connectErrs[attempt] != nil {
		return completedToken(f.connectErrs[attempt])
	}
	return completedToken(nil)
}

func (f *fakeSession) Disconnect(uint) {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
}

func (f *fakeSession) Subscribe(topic string, _ byte, callback pahomqtt.MessageHandler) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.subscribes = append(f.subscribes, topic)
	f.callbacks[topic] = callback
	return completedToken(f.subscribeErr)
}

func (f *fakeSession) Unsubscribe(topics ...string) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.unsubscribed = append(f.unsubscribed, topics...)
	return completedToken(nil)
}

func (f *fakeSession) Publish(topic string, _ byte, retained bool, payload interface{}) pahomqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, ok := payload.([]byte)
	if !ok {
		b = []byte(fmt.Sprint(payload))
	}
	f.published = append(f.published, publishedMessage{topic: topic, payload: b, retained: retained})
	return completedToken(nil)
}

// deliver invokes the callback registered for topic as paho would.
func (f *fakeSession) deliver(topic string, payload []byte) {
	f.mu.Lock()
	cb := f.callbacks[topic]
	f.mu.Unlock()

	if cb != nil {
		cb(nil, fakeMessage{topic: topic, payload: payload})
	}
}

func (f *fakeSession) snapshot() (connects int, subscribes []string, unsubscribed []string, disconnects int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, append([]string{}, f.subscribes...), append([]string{}, f.unsubscribed...), f.disconnects
}

func (f *fakeSession) setHang(hang bool) {
	f.mu.Lock()
	f.hangConnect = hang
	f.mu.Unlock()
}

// recordingLogger captures entries for assertions.
type recordingLogger struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLogger) record(level, msg string) {
	l.mu.Lock()
	l.entries = append(l.entries, level+": "+msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Info(msg string, _ ...any)  { l.record("info", msg) }
func (l *recordingLogger) Warn(msg string, _ ...any)  { l.record("warn", msg) }
func (l *recordingLogger) Error(msg string, _ ...any) { l.record("error", msg) }

func (l *recordingLogger) contains(entry string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.entries {
		if e == entry {
			return true
		}
	}
	return false
}
