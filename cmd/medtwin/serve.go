package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/nerrad567/medtwin-core/internal/api"
	"github.com/nerrad567/medtwin-core/internal/audit"
	"github.com/nerrad567/medtwin-core/internal/devicecmd"
	"github.com/nerrad567/medtwin-core/internal/docstore"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/config"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/database"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/logging"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/metrics"
	"github.com/nerrad567/medtwin-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/medtwin-core/internal/ingest"
	"github.com/nerrad567/medtwin-core/internal/notify"
	"github.com/nerrad567/medtwin-core/internal/pairing"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/scheduler"
	"github.com/nerrad567/medtwin-core/internal/service"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// runServe wires every component and blocks until ctx is cancelled.
// Components are closed in reverse order of construction by the defer chain.
func runServe(ctx context.Context, opts *rootOptions) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting MedTwin Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, configPath, err := opts.load()
	if err != nil {
		return err
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded",
		"path", configPath,
		"fleet", cfg.Fleet.ID,
		"store", cfg.Store.Driver,
	)

	metrics.MustRegister()

	db, err := openDatabase(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()

	docs, err := docstore.Open(ctx, cfg.Store, db)
	if err != nil {
		return fmt.Errorf("opening document store: %w", err)
	}
	defer func() {
		if closeErr := docs.Close(); closeErr != nil {
			log.Error("error closing document store", "error", closeErr)
		}
	}()
	log.Info("document store ready", "driver", cfg.Store.Driver)

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log.Component("mqtt"))
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

	influxClient, err := connectInflux(cfg, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
	}

	qos := byte(cfg.MQTT.QoS)
	replicas := replica.NewStore(docs)
	devices := devicecmd.New(mqttClient, qos)

	registry := twin.NewRegistry(docs, service.Deps{
		Replicas: replicas,
		Devices:  devices,
		Logger:   log.Component("service"),
	}, service.SettingsFrom(cfg.Services))
	registry.SetLogger(log.Component("twin"))

	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	gateway := notify.NewGateway(registry, notificationTransport(cfg.Notifications, mqttClient, qos, hub), cfg.Notifications.FallbackOperatorID)
	gateway.SetLogger(log.Component("notify"))
	registry.SetNotifier(gateway)

	handshake := pairing.New(mqttClient, replicas, qos, cfg.PairingTimeout())
	handshake.SetLogger(log.Component("pairing"))

	router := ingest.NewRouter(mqttClient, registry, ingest.Config{
		QoS:       qos,
		InboxSize: cfg.MQTT.InboxSize,
		Location:  cfg.Location(),
	})
	router.SetLogger(log.Component("ingest"))
	if influxClient != nil {
		router.SetTelemetry(influxClient)
	}
	if startErr := router.Start(ctx); startErr != nil {
		return fmt.Errorf("starting ingest router: %w", startErr)
	}
	defer func() {
		log.Info("stopping ingest router")
		router.Stop()
	}()
	log.Info("ingest router started", "topic_classes", len(ingest.Suffixes()))

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(registry, scheduler.Config{
			Interval:           cfg.SchedulerInterval(),
			MaxConcurrentTwins: cfg.Scheduler.MaxConcurrentTwins,
		})
		sched.SetLogger(log.Component("scheduler"))
		if startErr := sched.Start(ctx); startErr != nil {
			return fmt.Errorf("starting scheduler: %w", startErr)
		}
		defer func() {
			log.Info("stopping scheduler")
			sched.Stop()
		}()
		log.Info("scheduler started", "interval", sched.Interval())
	} else {
		log.Info("scheduler disabled")
	}

	health := map[string]api.HealthChecker{
		"database": db,
		"store":    docs,
		"mqtt":     mqttClient,
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log.Component("api"),
		Twins:    registry,
		Replicas: replicas,
		Pairing:  handshake,
		Devices:  devices,
		Audit:    audit.NewSQLiteRepository(db.DB),
		Hub:      hub,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// openDatabase opens the SQLite database and applies pending migrations.
// The audit log always lives here, whatever document store is selected.
func openDatabase(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.ConfigFrom(cfg.Database))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// connectInflux returns nil without error when telemetry is disabled.
func connectInflux(cfg *config.Config, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg.InfluxDB)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})
	log.Info("InfluxDB connected",
		"url", cfg.InfluxDB.URL,
		"org", cfg.InfluxDB.Org,
		"bucket", cfg.InfluxDB.Bucket,
	)
	return client, nil
}

// notificationTransport selects the operator channel. With "both" a
// message counts as delivered if either channel accepts it.
func notificationTransport(cfg config.NotificationConfig, pub notify.Publisher, qos byte, hub *api.Hub) notify.Transport {
	mqttTransport := notify.NewMQTTTransport(pub, qos)
	switch cfg.Transport {
	case config.TransportWebSocket:
		return hub
	case config.TransportBoth:
		return notify.Fanout{mqttTransport, hub}
	default:
		return mqttTransport
	}
}
