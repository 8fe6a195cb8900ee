package ingest

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
)

// recordingProcessor remembers payloads and optionally fails or blocks.
type recordingProcessor struct {
	mu       sync.Mutex
	payloads []string
	err      error
	gate     chan struct{}
}

func (p *recordingProcessor) Process(_ context.Context, payload []byte, _ time.Time) error {
	if p.gate != nil {
		<-p.gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, string(payload))
	return p.err
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string{}, p.payloads...)
}

func testTopics() map[string]Category {
	return TopicTable(config.MQTTTopicsConfig{
		Readings: "irrigacao/umidade",
		Relay:    "irrigacao/rele",
	})
}

func TestNewRouter_RequiresProcessorPerCategory(t *testing.T) {
	_, err := NewRouter(testTopics(), map[Category]Processor{
		CategoryReading: &recordingProcessor{},
	}, nil)
	if err == nil {
		t.Fatal("NewRouter() error = nil, want error for missing relay processor")
	}

	if _, err := NewRouter(nil, nil, nil); err == nil {
		t.Error("NewRouter(empty) error = nil, want error")
	}
}

func TestRouter_Route(t *testing.T) {
	readings, relay := &recordingProcessor{}, &recordingProcessor{}
	logger := &recordingLogger{}

	router, err := NewRouter(testTopics(), map[Category]Processor{
		CategoryReading: readings,
		CategoryRelay:   relay,
	}, logger)
	if err != nil {
		t.Fatalf("NewRouter() error = %v", err)
	}

	ctx := context.Background()
	if err := router.Route(ctx, "irrigacao/umidade", []byte("42"), receivedAt); err != nil {
		t.Errorf("Route(readings) error = %v", err)
	}
	if err := router.Route(ctx, "irrigacao/rele", []byte("ligado"), receivedAt); err != nil {
		t.Errorf("Route(relay) error = %v", err)
	}

	err = router.Route(ctx, "irrigacao/temperatura", []byte("21"), receivedAt)
	if !errors.Is(err, ErrUnknownTopic) {
		t.Errorf("Route(unknown) error = %v, want ErrUnknownTopic", err)
	}
	if len(logger.find("warn", "message on unknown topic dropped")) != 1 {
		t.Error("unknown topic should be logged as a warning")
	}

	if got := readings.seen(); !reflect.DeepEqual(got, []string{"42"}) {
		t.Errorf("reading processor saw %v", got)
	}
	if got := relay.seen(); !reflect.DeepEqual(got, []string{"ligado"}) {
		t.Errorf("relay processor saw %v", got)
	}
}

func TestRouter_PropagatesProcessorError(t *testing.T) {
	failing := &recordingProcessor{err: ErrParse}
	router, _ := NewRouter(testTopics(), map[Category]Processor{
		CategoryReading: failing,
		CategoryRelay:   &recordingProcessor{},
	}, nil)

	if err := router.Route(context.Background(), "irrigacao/umidade", []byte("x"), receivedAt); !errors.Is(err, ErrParse) {
		t.Errorf("Route() error = %v, want ErrParse", err)
	}
}

func TestRouter_TopicsAndCategory(t *testing.T) {
	router, _ := NewRouter(testTopics(), map[Category]Processor{
		CategoryReading: &recordingProcessor{},
		CategoryRelay:   &recordingProcessor{},
	}, nil)

	if got, want := router.Topics(), []string{"irrigacao/rele", "irrigacao/umidade"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Topics() = %v, want %v", got, want)
	}
	if c, ok := router.Category("irrigacao/rele"); !ok || c != CategoryRelay {
		t.Errorf("Category(rele) = %v, %v", c, ok)
	}
	if _, ok := router.Category("other"); ok {
		t.Error("Category(other) ok = true")
	}
	if CategoryReading.String() != "reading" || Category(0).String() != "unknown" {
		t.Error("unexpected Category names")
	}
}
