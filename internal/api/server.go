package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/irrigation-core/internal/audit"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/logging"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/irrigation-core/internal/settings"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// Broker is the part of the MQTT connection the API needs.
type Broker interface {
	Status() mqtt.Status
	Publish(topic string, payload []byte, retained bool) bool
}

// ReadingRecorder feeds manual readings into the ingestion pipeline.
type ReadingRecorder interface {
	Record(ctx context.Context, r *telemetry.Reading) error
	RelayCutoff() float64
}

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config    config.APIConfig
	WS        config.WebSocketConfig
	Security  config.SecurityConfig
	Topics    config.MQTTTopicsConfig
	Logger    *logging.Logger
	DB        *database.DB
	Telemetry *telemetry.SQLiteRepository
	Settings  *settings.Store
	Audit     audit.Repository
	Readings  ReadingRecorder
	MQTT      Broker              // optional; the config push is skipped without it
	Hub       *Hub                // optional; created on Start when nil
	Gatherer  prometheus.Gatherer // optional; /metrics is not mounted without it
	Mirror    MirrorStats         // optional; reported by /system/status when set
	Version   string
}

// Server is the HTTP API server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg       config.APIConfig
	wsCfg     config.WebSocketConfig
	secCfg    config.SecurityConfig
	topics    config.MQTTTopicsConfig
	logger    *logging.Logger
	db        *database.DB
	telemetry *telemetry.SQLiteRepository
	settings  *settings.Store
	auditRepo audit.Repository
	auditCh   chan *audit.Entry
	readings  ReadingRecorder
	mqtt      Broker
	hub       *Hub
	ownHub    bool // true if the hub was created by Start
	gatherer  prometheus.Gatherer
	mirror    MirrorStats
	version   string
	startTime time.Time
	server    *http.Server
	cancel    context.CancelFunc // cancels background goroutines on Close()
	drained   chan struct{}
}

// New creates a new API server with the given dependencies.
//
// The server is not started until Start() is called.
//
// Parameters:
//   - deps: Required dependencies (logger, database, repositories, recorder)
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If required dependencies are missing
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database is required")
	}
	if deps.Telemetry == nil {
		return nil, fmt.Errorf("telemetry repository is required")
	}
	if deps.Settings == nil {
		return nil, fmt.Errorf("settings store is required")
	}
	if deps.Readings == nil {
		return nil, fmt.Errorf("reading recorder is required")
	}

	if deps.Security.JWT.Secret == "" {
		deps.Logger.Warn("jwt secret not configured, write endpoints are unauthenticated")
	}

	s := &Server{
		cfg:       deps.Config,
		wsCfg:     deps.WS,
		secCfg:    deps.Security,
		topics:    deps.Topics,
		logger:    deps.Logger,
		db:        deps.DB,
		telemetry: deps.Telemetry,
		settings:  deps.Settings,
		auditRepo: deps.Audit,
		readings:  deps.Readings,
		mqtt:      deps.MQTT,
		hub:       deps.Hub,
		gatherer:  deps.Gatherer,
		mirror:    deps.Mirror,
		version:   deps.Version,
		startTime: time.Now(),
	}
	if s.auditRepo != nil {
		s.auditCh = make(chan *audit.Entry, auditChanSize)
	}
	return s, nil
}

// Hub returns the WebSocket hub, or nil before Start when none was injected.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start begins listening for HTTP connections.
//
// It starts the WebSocket hub (unless one was injected), the audit writer,
// and the HTTP listener in background goroutines. The server can be stopped
// with Close().
//
// Parameters:
//   - ctx: Parent context for background goroutines
//
// Returns:
//   - error: If the server has already been started
func (s *Server) Start(ctx context.Context) error {
	if s.server != nil {
		return fmt.Errorf("api server already started")
	}

	var srvCtx context.Context
	srvCtx, s.cancel = context.WithCancel(ctx)

	if s.hub == nil {
		s.hub = NewHub(s.wsCfg, s.logger)
		s.ownHub = true
	}
	if s.ownHub {
		go s.hub.Run(srvCtx)
	}

	if s.auditCh != nil {
		s.drained = make(chan struct{})
		go func() {
			defer close(s.drained)
			s.drainAuditLog(srvCtx)
		}()
	}

	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port),
		Handler:           s.buildRouter(),
		ReadTimeout:       time.Duration(s.cfg.Timeouts.Read) * time.Second,
		ReadHeaderTimeout: time.Duration(s.cfg.Timeouts.Read) * time.Second,
		WriteTimeout:      time.Duration(s.cfg.Timeouts.Write) * time.Second,
		IdleTimeout:       time.Duration(s.cfg.Timeouts.Idle) * time.Second,
	}

	go func() {
		s.logger.Info("API server starting", "address", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Close gracefully shuts down the API server.
//
// It waits up to 10 seconds for in-flight requests to complete, then
// flushes queued audit entries.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.logger.Info("API server shutting down")
	err := s.server.Shutdown(ctx)

	// Cancel background goroutines (hub, audit writer) after requests finish
	// so that their audit entries are still written.
	if s.cancel != nil {
		s.cancel()
	}
	if s.drained != nil {
		<-s.drained
	}

	if err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}

// HealthCheck verifies the API server is running and responsive.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//
// Returns:
//   - error: nil if healthy, error describing the issue otherwise
func (s *Server) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("api health check: %w", ctx.Err())
	default:
	}

	if s.server == nil {
		return fmt.Errorf("api server not started")
	}

	return nil
}
