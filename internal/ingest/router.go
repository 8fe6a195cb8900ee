package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
)

// Category tags a topic with the kind of message it carries.
type Category int

const (
	CategoryReading Category = iota + 1
	CategoryRelay
)

// String returns the category name used in logs and metrics.
func (c Category) String() string {
	switch c {
	case CategoryReading:
		return "reading"
	case CategoryRelay:
		return "relay"
	default:
		return "unknown"
	}
}

// Processor handles the payload of one message.
type Processor interface {
	Process(ctx context.Context, payload []byte, receivedAt time.Time) error
}

// TopicTable maps the configured telemetry topics to their categories.
func TopicTable(topics config.MQTTTopicsConfig) map[string]Category {
	return map[string]Category{
		topics.Readings: CategoryReading,
		topics.Relay:    CategoryRelay,
	}
}

// Router maps a topic to exactly one processor through a table fixed at
// construction.
type Router struct {
	topics     map[string]Category
	processors map[Category]Processor
	logger     Logger
}

// NewRouter builds a Router. Every category named in topics must have a
// processor; a gap is reported here rather than at the first message.
func NewRouter(topics map[string]Category, processors map[Category]Processor, logger Logger) (*Router, error) {
	if len(topics) == 0 {
		return nil, fmt.Errorf("ingest: router needs at least one topic")
	}

	r := &Router{
		topics:     make(map[string]Category, len(topics)),
		processors: make(map[Category]Processor, len(processors)),
		logger:     logger,
	}
	if r.logger == nil {
		r.logger = noopLogger{}
	}

	for topic, category := range topics {
		if topic == "" {
			return nil, fmt.Errorf("ingest: empty topic for category %s", category)
		}
		if processors[category] == nil {
			return nil, fmt.Errorf("ingest: no processor for category %s (topic %q)", category, topic)
		}
		r.topics[topic] = category
	}
	for category, p := range processors {
		r.processors[category] = p
	}
	return r, nil
}

// Route hands the message to the processor for topic. Messages on topics
// outside the table are logged and dropped with ErrUnknownTopic.
func (r *Router) Route(ctx context.Context, topic string, payload []byte, receivedAt time.Time) error {
	category, ok := r.topics[topic]
	if !ok {
		r.logger.Warn("message on unknown topic dropped", "topic", topic, "bytes", len(payload))
		return fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	return r.processors[category].Process(ctx, payload, receivedAt)
}

// Category returns the category for topic.
func (r *Router) Category(topic string) (Category, bool) {
	c, ok := r.topics[topic]
	return c, ok
}

// Topics returns the routed topics, sorted.
func (r *Router) Topics() []string {
	topics := make([]string, 0, len(r.topics))
	for t := range r.topics {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
