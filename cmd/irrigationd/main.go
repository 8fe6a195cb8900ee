// Irrigation Core - soil moisture and relay telemetry service
//
// This is the main entry point for the irrigation core. It subscribes to the
// moisture sensor and relay topics on the MQTT broker, stores every reading
// and relay transition in SQLite, raises threshold alerts and serves the
// REST and WebSocket API used by the dashboard.
//
// The broker is optional at startup: the connection supervisor keeps
// retrying in the background while the API stays available.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/nerrad567/irrigation-core/internal/api"
	"github.com/nerrad567/irrigation-core/internal/audit"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/config"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/database"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/logging"
	"github.com/nerrad567/irrigation-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/irrigation-core/internal/ingest"
	"github.com/nerrad567/irrigation-core/internal/settings"
	"github.com/nerrad567/irrigation-core/internal/telemetry"
	"github.com/nerrad567/irrigation-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// configEnvVar names the environment variable that overrides the config path.
const configEnvVar = "IRRIGATION_CONFIG"

func main() {
	// Cancel on Ctrl+C and SIGTERM so every component shuts down in order.
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the service itself, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: Explicit config file, or "" to use IRRIGATION_CONFIG or the default
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting irrigation core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(configPath, log)
	if err != nil {
		return err
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database ready", "path", cfg.Database.Path)

	telemetryRepo := telemetry.NewSQLiteRepository(db.DB)
	settingsStore := settings.NewStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := ingest.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	observers := ingest.Observers{metrics, hub}

	var mirrorStats api.MirrorStats
	influxClient := connectInflux(cfg.InfluxDB, log)
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		observers = append(observers, influxdb.NewMirror(influxClient, cfg.Site.ID))
		mirrorStats = influxClient
	}

	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("startup health checks passed")

	// Ingest pipeline: broker callback -> dispatcher queue -> router -> processors
	ingestLog := log.With("component", "ingest")

	evaluator := ingest.NewAlertEvaluator(telemetryRepo, settingsStore, ingest.AlertPolicy{
		Defaults: telemetry.Thresholds{
			Low:  cfg.Ingest.DefaultLowThreshold,
			High: cfg.Ingest.DefaultHighThreshold,
		},
		SuppressUnread: cfg.Ingest.SuppressUnreadAlerts,
	})
	evaluator.SetLogger(ingestLog)
	evaluator.SetObserver(observers)

	readings := ingest.NewReadingProcessor(telemetryRepo, evaluator, cfg.Ingest.RelayCutoff)
	readings.SetLogger(ingestLog)
	readings.SetObserver(observers)

	relay := ingest.NewRelayEventProcessor(telemetryRepo)
	relay.SetLogger(ingestLog)
	relay.SetObserver(observers)

	router, err := ingest.NewRouter(ingest.TopicTable(cfg.MQTT.Topics), map[ingest.Category]ingest.Processor{
		ingest.CategoryReading: readings,
		ingest.CategoryRelay:   relay,
	}, ingestLog)
	if err != nil {
		return fmt.Errorf("building ingest router: %w", err)
	}

	dispatcher := ingest.NewDispatcher(router, cfg.Ingest.QueueSize)
	dispatcher.SetLogger(ingestLog)
	dispatcher.SetRecorder(metrics)
	dispatcher.Start(ctx)
	defer func() {
		log.Info("draining ingest queues")
		dispatcher.Stop()
	}()

	conn, err := startBroker(ctx, cfg.MQTT, dispatcher, hub, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		conn.Stop()
	}()

	apiServer, err := api.New(api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Security:  cfg.Security,
		Topics:    cfg.MQTT.Topics,
		Logger:    log.With("component", "api"),
		DB:        db,
		Telemetry: telemetryRepo,
		Settings:  settingsStore,
		Audit:     auditRepo,
		Readings:  readings,
		MQTT:      conn,
		Hub:       hub,
		Gatherer:  registry,
		Mirror:    mirrorStats,
		Version:   version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	// Deferred closes run in reverse: API, broker, ingest queues, InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// loadConfig resolves the config path and loads it. A missing file is only
// tolerated for the default path, in which case built-in defaults apply.
func loadConfig(explicit string, log *logging.Logger) (*config.Config, error) {
	path, isDefault := getConfigPath(explicit)

	if isDefault {
		if _, statErr := os.Stat(path); errors.Is(statErr, os.ErrNotExist) {
			log.Warn("config file not found, using defaults", "path", path)
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, fmt.Errorf("validating default config: %w", err)
			}
			return cfg, nil
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", path)
	return cfg, nil
}

// getConfigPath returns the config file to load and whether it is the
// built-in default. Precedence: explicit flag, IRRIGATION_CONFIG, default.
func getConfigPath(explicit string) (path string, isDefault bool) {
	if explicit != "" {
		return explicit, false
	}
	if path := os.Getenv(configEnvVar); path != "" {
		return path, false
	}
	return defaultConfigPath, true
}

// openDatabase opens SQLite and applies the embedded migrations.
func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// connectInflux returns a client when the mirror is enabled and reachable.
// A failure is logged and the service runs without the mirror.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) *influxdb.Client {
	client, err := influxdb.Connect(cfg)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
		return nil
	case err != nil:
		log.Warn("InfluxDB unavailable, continuing without mirror", "url", cfg.URL, "error", err)
		return nil
	}

	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.URL,
		"org", cfg.Org,
		"bucket", cfg.Bucket,
	)
	return client
}

// startBroker subscribes the dispatcher to the telemetry topics and starts
// the connection supervisor. The first connect happens in the background.
func startBroker(ctx context.Context, cfg config.MQTTConfig, dispatcher *ingest.Dispatcher, hub *api.Hub, log *logging.Logger) (*mqtt.Connection, error) {
	mqttLog := log.With("component", "mqtt")
	conn := mqtt.NewConnection(cfg, mqtt.WithLogger(mqttLog))

	for _, topic := range []string{cfg.Topics.Readings, cfg.Topics.Relay} {
		if err := conn.Handle(topic, dispatcher.Enqueue); err != nil {
			return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
		}
	}

	conn.OnStateChange(func(s mqtt.State) {
		if s == mqtt.StateConnected {
			mqttLog.Info("broker connection state changed", "state", s.String())
		} else {
			mqttLog.Warn("broker connection state changed", "state", s.String())
		}
		hub.BroadcastBrokerState(s)
	})

	if err := conn.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting MQTT connection: %w", err)
	}
	log.Info("MQTT supervisor started",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
		"client_id", cfg.Broker.ClientID,
	)
	return conn, nil
}

// healthCheck verifies the stores the service cannot run without. The
// broker is excluded: it may come up after the service.
func healthCheck(ctx context.Context, db *database.DB, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
