// Gray Audio Core - Multi-Room Audio Controller
//
// This is the main entry point for the Gray Audio Core application, the
// coordination layer between a declared zone/client topology and a
// Snapcast multi-room audio server:
//   - Desired state authoritative in-process, persisted to SQLite
//   - Self-healing zone grouping via periodic reconciliation
//   - Command ingress over HTTP, MQTT, and KNX
//   - State egress over WebSocket, retained MQTT topics, KNX status
//     telegrams, and InfluxDB measurements
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/nerrad567/gray-audio-core/migrations"

	"github.com/nerrad567/gray-audio-core/internal/api"
	"github.com/nerrad567/gray-audio-core/internal/bridges/knx"
	"github.com/nerrad567/gray-audio-core/internal/bridges/mqttbridge"
	"github.com/nerrad567/gray-audio-core/internal/command"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/config"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/database"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/logging"
	"github.com/nerrad567/gray-audio-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-audio-core/internal/metrics"
	"github.com/nerrad567/gray-audio-core/internal/notify"
	"github.com/nerrad567/gray-audio-core/internal/persistence"
	"github.com/nerrad567/gray-audio-core/internal/reconcile"
	"github.com/nerrad567/gray-audio-core/internal/snapcast"
	"github.com/nerrad567/gray-audio-core/internal/topology"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Audio Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
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
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Topology store and state persistence. Persisted state restores
	// first, then the config seeds whatever was never persisted, so a
	// restart keeps runtime state while new config entries still appear.
	store := topology.NewStore()
	store.SetLogger(log)

	repo := persistence.New(db, store)
	repo.SetLogger(log)
	if restoreErr := repo.Restore(ctx); restoreErr != nil {
		return fmt.Errorf("restoring persisted state: %w", restoreErr)
	}
	if seedErr := seedTopology(store, cfg.Topology); seedErr != nil {
		return fmt.Errorf("seeding topology: %w", seedErr)
	}
	log.Info("topology initialised",
		"zones", store.ZoneCount(),
		"clients", store.ClientCount(),
	)

	// Notification fan-out. Publishers registered below; the store hands
	// every field change to the dispatcher synchronously, delivery to
	// publishers is async per entity.
	dispatcher := notify.NewDispatcher()
	dispatcher.SetLogger(log)
	dispatcher.Register(repo)
	store.SetSink(dispatcher)
	defer dispatcher.Close()

	// Snapcast connection (background reconnect loop)
	snap := snapcast.New(cfg.Snapcast)
	snap.SetLogger(log)
	snap.Start(ctx)
	defer func() {
		if closeErr := snap.Close(); closeErr != nil {
			log.Error("error closing snapcast connection", "error", closeErr)
		}
	}()
	log.Info("snapcast connection starting",
		"host", cfg.Snapcast.Host,
		"port", cfg.Snapcast.Port,
	)

	// Command pipeline
	pipeline := command.NewPipeline(store, snap, nil)
	pipeline.SetLogger(log)

	// Reconcile engine: periodic cohesion enforcement plus on-demand
	// zone sync kicks from the pipeline
	engine := reconcile.NewEngine(store, snap, reconcile.Options{
		Interval:       time.Duration(cfg.Reconciler.Interval) * time.Second,
		MaxAttempts:    cfg.Reconciler.MaxAttempts,
		AdapterTimeout: time.Duration(cfg.Reconciler.AdapterTimeout) * time.Second,
	})
	engine.SetLogger(log)
	engine.SetDispatcher(pipeline)
	pipeline.SetSynchronizer(engine)
	go func() {
		if runErr := engine.Run(ctx); runErr != nil && ctx.Err() == nil {
			log.Error("reconcile engine stopped", "error", runErr)
		}
	}()
	log.Info("reconcile engine started", "interval_seconds", cfg.Reconciler.Interval)

	// Track snapcast client connect/disconnect through the pipeline so
	// observed connectivity lands in the store like any other change
	watchClientPresence(ctx, snap, store, pipeline, log)

	// MQTT bridge (optional)
	if cfg.MQTT.Enabled {
		mqttClient, mqttErr := mqtt.Connect(cfg.MQTT)
		if mqttErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", mqttErr)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttBridge := mqttbridge.New(mqttClient, pipeline)
		mqttBridge.SetLogger(log)
		if startErr := mqttBridge.Start(); startErr != nil {
			return fmt.Errorf("starting MQTT bridge: %w", startErr)
		}
		dispatcher.Register(mqttBridge)
		engine.AddStats(mqttBridge)
		log.Info("MQTT bridge started")
	} else {
		log.Info("MQTT disabled")
	}

	// KNX bridge (optional)
	if cfg.KNX.Enabled {
		knxBridge, knxConn, knxErr := startKNXBridge(ctx, cfg, pipeline, log)
		if knxErr != nil {
			return fmt.Errorf("starting KNX bridge: %w", knxErr)
		}
		defer func() {
			log.Info("closing knxd connection")
			if closeErr := knxConn.Close(); closeErr != nil {
				log.Error("error closing knxd connection", "error", closeErr)
			}
		}()
		dispatcher.Register(knxBridge)
	} else {
		log.Info("KNX bridge disabled")
	}

	// InfluxDB telemetry (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		recorder := metrics.NewRecorder(influxClient)
		dispatcher.Register(recorder)
		engine.AddStats(recorder)
	} else {
		log.Info("InfluxDB disabled")
	}

	// HTTP API + WebSocket
	apiServer, err := api.New(api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Logger:     log,
		Store:      store,
		Dispatcher: pipeline,
		Reconciler: engine,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	dispatcher.Register(apiServer.Hub())

	// Verify infrastructure is healthy
	if err := healthCheck(ctx, db, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Gray Audio Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYAUDIO_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYAUDIO_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// seedTopology inserts the configured zones and clients into the store.
// Inserts are idempotent no-ops for entities already restored from the
// database, so persisted runtime state survives restarts.
func seedTopology(store *topology.Store, topo config.TopologyConfig) error {
	for i, zc := range topo.Zones {
		index := i + 1
		zone := &topology.Zone{
			Index:    index,
			Name:     zc.Name,
			Icon:     zc.Icon,
			Members:  zc.Clients,
			StreamID: zc.StreamID,
		}
		if err := store.InitializeZoneState(index, zone); err != nil {
			return fmt.Errorf("zone %d (%s): %w", index, zc.Name, err)
		}
	}

	zoneOf := make(map[int]int)
	for i, zc := range topo.Zones {
		for _, member := range zc.Clients {
			zoneOf[member] = i + 1
		}
	}

	for i, cc := range topo.Clients {
		index := i + 1
		snapcastID := cc.SnapcastID
		if snapcastID == "" {
			snapcastID = cc.MAC
		}
		client := &topology.Client{
			Index:      index,
			SnapcastID: snapcastID,
			Name:       cc.Name,
			MAC:        cc.MAC,
			LatencyMS:  cc.DefaultLatencyMS,
			ZoneIndex:  zoneOf[index],
		}
		if err := store.InitializeClientState(index, client); err != nil {
			return fmt.Errorf("client %d (%s): %w", index, cc.Name, err)
		}
	}

	return nil
}

// presenceEvent is the subset of Snapcast client notification params
// the presence watcher needs.
type presenceEvent struct {
	ID string `json:"id"`
}

// watchClientPresence routes Snapcast Client.OnConnect/OnDisconnect
// notifications into set_connected commands, so observed connectivity
// flows the same pipeline path as every other state change.
func watchClientPresence(ctx context.Context, snap *snapcast.Conn, store *topology.Store, pipeline *command.Pipeline, log *logging.Logger) {
	snap.SetOnNotification(func(method string, params json.RawMessage) {
		var connected bool
		switch method {
		case "Client.OnConnect":
			connected = true
		case "Client.OnDisconnect":
			connected = false
		default:
			return
		}

		var event presenceEvent
		if err := json.Unmarshal(params, &event); err != nil || event.ID == "" {
			log.Warn("unparseable snapcast client notification", "method", method, "error", err)
			return
		}

		index := clientIndexBySnapcastID(store, event.ID)
		if index == 0 {
			log.Debug("snapcast notification for unknown client", "snapcast_id", event.ID)
			return
		}

		cmd := command.New(command.TargetClient, index, command.OpSetConnected,
			map[string]any{"connected": connected}, command.SourceInternal)
		if result := pipeline.Dispatch(ctx, cmd); !result.OK {
			log.Warn("presence update rejected",
				"client", index,
				"connected", connected,
				"error", result.Message,
			)
		}
	})
}

// clientIndexBySnapcastID resolves a Snapcast client ID to a topology
// index. Returns 0 when no configured client matches.
func clientIndexBySnapcastID(store *topology.Store, snapcastID string) int {
	for index, client := range store.AllClients() {
		if client.SnapcastID == snapcastID {
			return index
		}
	}
	return 0
}

// healthCheck verifies infrastructure connections are healthy.
// The Snapcast connection is deliberately excluded: the controller runs
// degraded without the audio server and reconnects in the background.
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

// startKNXBridge loads the group address mappings, connects to knxd,
// and starts the bridge.
func startKNXBridge(ctx context.Context, cfg *config.Config, pipeline *command.Pipeline, log *logging.Logger) (*knx.Bridge, *knx.KNXDClient, error) {
	mappings, err := knx.LoadMappings(cfg.KNX.ConfigFile)
	if err != nil {
		return nil, nil, fmt.Errorf("loading KNX mappings: %w", err)
	}
	log.Info("KNX mappings loaded",
		"path", cfg.KNX.ConfigFile,
		"zones", len(mappings.Zones),
		"clients", len(mappings.Clients),
	)

	knxConn, err := knx.Connect(ctx, knx.KNXDConfig{
		Connection: cfg.KNX.Connection,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to knxd: %w", err)
	}
	knxConn.SetLogger(log)
	log.Info("connected to knxd", "url", cfg.KNX.Connection)

	bridge := knx.NewBridge(knxConn, pipeline, mappings)
	bridge.SetLogger(log)
	bridge.Start()
	log.Info("KNX bridge started")

	return bridge, knxConn, nil
}
