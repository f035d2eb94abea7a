// Gray Logic Relay - device/console command relay
//
// This is the main entry point for the relay. Devices and operator consoles
// hold WebSocket sessions to it; consoles discover which devices are online,
// send them named commands and receive their results.
//
// Optional integrations:
//   - SQLite audit trail of relay activity
//   - MQTT presence mirror (retained online/offline per device)
//   - InfluxDB activity and connection metrics
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-relay/internal/api"
	"github.com/nerrad567/gray-logic-relay/internal/audit"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-relay/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-relay/internal/relay"
	"github.com/nerrad567/gray-logic-relay/internal/telemetry"
	"github.com/nerrad567/gray-logic-relay/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path, used when it exists and neither the flag
// nor RELAY_CONFIG names another.
const defaultConfigPath = "configs/config.yaml"

// drainTimeout bounds the wait for sockets to finish disconnecting at shutdown.
const drainTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFlag string

	cmd := &cobra.Command{
		Use:           "relay",
		Short:         "Relay commands between devices and operator consoles",
		Long:          "Run the Gray Logic relay: devices and web consoles connect over WebSocket; consoles list online devices and send them commands.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, getConfigPath(configFlag))
		},
	}
	cmd.Flags().StringVarP(&configFlag, "config", "c", "", "path to config file (or RELAY_CONFIG)")

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "relay %s (commit %s, built %s)\n", version, commit, date)
		},
	})

	return cmd
}

// getConfigPath resolves the config file: flag, then RELAY_CONFIG, then the
// default path if present. An empty result means built-in defaults.
func getConfigPath(flag string) string {
	if flag != "" {
		return flag
	}
	if path := os.Getenv("RELAY_CONFIG"); path != "" {
		return path
	}
	if _, err := os.Stat(defaultConfigPath); err == nil {
		return defaultConfigPath
	}
	return ""
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown after ctx is cancelled.
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // Startup wiring: each optional component adds a branch
	log := logging.Default()
	log.Info("starting Gray Logic Relay",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"relay_id", cfg.Relay.ID,
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	counters := telemetry.NewCounters()
	observers := []relay.Observer{counters}

	// Audit trail (optional)
	var (
		db        *database.DB
		auditRepo audit.Repository
		recorder  *audit.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(ctx, database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database ready", "path", cfg.Database.Path)

		repo := audit.NewSQLiteRepository(db.DB)
		auditRepo = repo
		recorder = audit.NewRecorder(repo, log, audit.DefaultQueueSize)
		observers = append(observers, recorder)
	} else {
		log.Info("audit trail disabled")
	}

	// MQTT presence mirror (optional)
	var (
		mqttClient *mqtt.Client
		mirror     *telemetry.PresenceMirror
	)
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(ctx, cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"topic_prefix", cfg.MQTT.TopicPrefix,
		)

		mirror = telemetry.NewPresenceMirror(mqttClient, telemetry.PresenceOptions{
			RelayID: cfg.Relay.ID,
			Topics:  mqttClient.Topics(),
			QoS:     mqttClient.QoS(),
			Events:  cfg.MQTT.PublishEvents,
			Logger:  log,
		})
		observers = append(observers, mirror)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB metrics (optional)
	var (
		influxClient *influxdb.Client
		metrics      *telemetry.Metrics
	)
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})

		metrics = telemetry.NewMetrics(influxClient, cfg.Relay.ID)
		observers = append(observers, metrics)
	} else {
		log.Info("InfluxDB disabled")
	}

	broker := relay.NewBroker(relay.BrokerOptions{
		Logger:    log.With("component", "relay"),
		Observers: observers,
	})

	if mqttClient != nil {
		mqttClient.SetOnConnect(func() {
			devices := broker.Snapshot().Devices
			log.Info("MQTT reconnected, republishing presence", "devices", len(devices))
			mirror.Resync(devices)
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Logger:   log,
		Broker:   broker,
		Audit:    auditRepo,
		DB:       db,
		MQTT:     mqttClient,
		Influx:   influxClient,
		Counters: counters,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		server.Close() //nolint:errcheck // Already failing
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("initialisation complete, waiting for shutdown signal", "address", server.Addr())

	// Background writers outlive ctx so they can flush what the shutdown
	// itself produces (disconnects, offline presence).
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWorkers()

	g, gctx := errgroup.WithContext(ctx)
	if recorder != nil {
		g.Go(func() error {
			recorder.Run(workerCtx)
			return nil
		})
	}
	if mirror != nil {
		g.Go(func() error {
			mirror.Run(workerCtx)
			return nil
		})
	}
	if metrics != nil {
		g.Go(func() error {
			metrics.Run(workerCtx, broker, telemetry.DefaultSampleInterval)
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, cleaning up")

		closeErr := server.Close()
		broker.Close()
		waitForDrain(broker, drainTimeout, log)
		stopWorkers()
		return closeErr
	})

	err = g.Wait()
	if recorder != nil && recorder.Dropped() > 0 {
		log.Warn("audit entries dropped", "count", recorder.Dropped())
	}
	if mirror != nil && mirror.Dropped() > 0 {
		log.Warn("MQTT presence messages dropped", "count", mirror.Dropped())
	}
	log.Info("Gray Logic Relay stopped")
	return err
}

// waitForDrain waits until every socket has run its disconnect path.
func waitForDrain(b *relay.Broker, timeout time.Duration, log *logging.Logger) {
	deadline := time.Now().Add(timeout)
	for b.Registry().Len() > 0 {
		if time.Now().After(deadline) {
			log.Warn("connections still open at shutdown", "connections", b.Registry().Len())
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// healthCheck verifies every enabled component answers before traffic starts.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	var errs []error
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mqtt: %w", err))
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			errs = append(errs, fmt.Errorf("influxdb: %w", err))
		}
	}
	return errors.Join(errs...)
}
