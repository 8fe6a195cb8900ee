package influxdb

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	defaultBatchSize     = 100
	defaultFlushInterval = 10 * time.Second
)

// Stats is a snapshot of the mirror's write activity.
type Stats struct {
	Connected   bool      `json:"connected"`
	URL         string    `json:"url"`
	Bucket      string    `json:"bucket"`
	Points      uint64    `json:"points"`
	WriteErrors uint64    `json:"write_errors"`
	LastError   string    `json:"last_error,omitempty"`
	LastErrorAt time.Time `json:"last_error_at,omitempty"`
}

// Client is a batching, non-blocking InfluxDB writer.
//
// Points are handed to the client library's write buffer and flushed every
// batch_size points or flush_interval seconds. Failed batches are counted
// and reported through SetOnError; they are not retried by the caller.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	url      string
	bucket   string

	closed atomic.Bool
	points atomic.Uint64
	failed atomic.Uint64

	mu          sync.Mutex
	onError     func(err error)
	lastError   string
	lastErrorAt time.Time
}

// Connect pings the server and returns a client writing to cfg.Bucket.
//
// Returns ErrDisabled when cfg.Enabled is false, and ErrConnectionFailed
// when the url or bucket is missing or the server does not answer healthy.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}
	if cfg.URL == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: url and bucket are required", ErrConnectionFailed)
	}

	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize(cfg)).
		SetFlushInterval(uint(flushInterval(cfg).Milliseconds())).
		SetPrecision(time.Millisecond).
		SetUseGZip(true)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()
	if err := ping(ctx, client); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
		url:      cfg.URL,
		bucket:   cfg.Bucket,
	}
	// Errors of writes made before the channel exists are not reported.
	go c.collectErrors(c.writeAPI.Errors())

	return c, nil
}

func batchSize(cfg config.InfluxDBConfig) uint {
	if cfg.BatchSize <= 0 {
		return defaultBatchSize
	}
	return uint(cfg.BatchSize) // #nosec G115 -- positive, checked above
}

func flushInterval(cfg config.InfluxDBConfig) time.Duration {
	if cfg.FlushInterval <= 0 {
		return defaultFlushInterval
	}
	return time.Duration(cfg.FlushInterval) * time.Second
}

func ping(ctx context.Context, client influxdb2.Client) error {
	healthy, err := client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	if !healthy {
		return fmt.Errorf("server not healthy")
	}
	return nil
}

// collectErrors drains the write API's error channel until Close.
func (c *Client) collectErrors(errs <-chan error) {
	for err := range errs {
		c.failed.Add(1)

		c.mu.Lock()
		c.lastError = err.Error()
		c.lastErrorAt = time.Now().UTC()
		callback := c.onError
		c.mu.Unlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError registers a callback for failed batch writes. Writes are
// asynchronous, so this is the only place their errors surface.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	c.onError = callback
	c.mu.Unlock()
}

// WritePoint writes a point stamped with the current time.
func (c *Client) WritePoint(measurement string, tags map[string]string, fields map[string]interface{}) {
	c.WritePointWithTime(measurement, tags, fields, time.Now())
}

// WritePointWithTime queues a point with an explicit timestamp. Telemetry
// is mirrored with the time the message reached the core. Points written
// after Close are dropped.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]interface{}, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
	c.points.Add(1)
}

// Flush blocks until buffered points are sent. No-op after Close.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := ping(checkCtx, c.client); err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	return nil
}

// IsConnected reports whether the client is open. It does not ping.
func (c *Client) IsConnected() bool {
	return c != nil && c.client != nil && !c.closed.Load()
}

// Stats returns the write counters since Connect.
func (c *Client) Stats() Stats {
	if c == nil {
		return Stats{}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Connected:   c.IsConnected(),
		URL:         c.url,
		Bucket:      c.bucket,
		Points:      c.points.Load(),
		WriteErrors: c.failed.Load(),
		LastError:   c.lastError,
		LastErrorAt: c.lastErrorAt,
	}
}

// Close flushes buffered points and releases the client. Safe on a nil
// Client and safe to call twice.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}

	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
