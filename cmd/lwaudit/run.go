package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	_ "github.com/nerrad567/lwaudit/migrations"

	"github.com/nerrad567/lwaudit/internal/api"
	"github.com/nerrad567/lwaudit/internal/audit"
	"github.com/nerrad567/lwaudit/internal/device"
	"github.com/nerrad567/lwaudit/internal/infrastructure/config"
	"github.com/nerrad567/lwaudit/internal/infrastructure/database"
	"github.com/nerrad567/lwaudit/internal/infrastructure/influxdb"
	"github.com/nerrad567/lwaudit/internal/infrastructure/logging"
	"github.com/nerrad567/lwaudit/internal/infrastructure/mqtt"
	"github.com/nerrad567/lwaudit/internal/lwrp"
	"github.com/nerrad567/lwaudit/internal/monitor"
)

// Lifecycle records written under the SYSTEM label.
const (
	msgStart   = "Start the Livewire Audit Logger"
	msgClosing = "Application is closing"

	msgInvalidDevice = "Ignoring device list "
)

// consoleOutput is where the console destination writes. Tests replace it.
var consoleOutput io.Writer = os.Stdout

// run starts the audit logger and blocks until ctx is cancelled.
//
// Startup order: configuration, logger, outputs (file, live view, database,
// MQTT, InfluxDB), the start record, the device list, the API server and
// finally the device registry. Shutdown writes the closing record, stops
// every device connection and then closes the outputs in reverse order.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting Livewire Audit Logger",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	liveView := audit.NewLiveView(cfg.Audit.LiveView.Size)
	file, err := audit.NewRotatingFile(audit.FileConfig{
		Path:       cfg.Audit.File.Path,
		MaxBackups: cfg.Audit.File.MaxBackups,
	})
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	sink, err := audit.NewSink(log, file, liveView)
	if err != nil {
		file.Close()
		return fmt.Errorf("creating audit sink: %w", err)
	}
	defer func() {
		if closeErr := sink.Close(); closeErr != nil {
			log.Error("error closing audit outputs", "error", closeErr)
		}
	}()
	if cfg.Audit.Console {
		addDestination(sink, audit.NewConsole(consoleOutput), log)
	}

	// Database (optional)
	var (
		db      *database.DB
		history api.HistoryReader
	)
	if cfg.Database.Enabled {
		db, err = openDatabase(ctx, cfg)
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

		repo := audit.NewSQLiteRepository(db.DB)
		addDestination(sink, repo, log)
		history = repo
	} else {
		log.Info("database disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log)
		topics := mqttClient.Topics()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
			"audit_topics", topics.AllAuditRecords(),
		)

		publisher := audit.NewMQTTPublisher(mqttClient, topics.AuditRecord, mqttClient.QoS())
		publisher.SetOnError(func(err error) {
			log.Error("MQTT audit publish failed", "error", err)
		})
		// Flush queued records while the broker connection is still open.
		defer publisher.Close()
		addDestination(sink, publisher, log)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, err := influxdb.Connect(cfg.InfluxDB)
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
		addDestination(sink, audit.NewInfluxWriter(influxClient), log)
	} else {
		log.Info("InfluxDB disabled")
	}

	sink.Info(audit.SystemLabel, msgStart)

	descriptors, err := loadDevices(cfg.Devices, sink, log)
	if err != nil {
		sink.Error(audit.SystemLabel, err.Error())
		return err
	}

	detector := monitor.NewDetector(sink, log)
	registry := monitor.NewRegistry(
		lwrpConnector(cfg.LWRP, log),
		detector,
		sink,
		monitor.RegistryConfig{
			ConnectTimeout: cfg.ConnectTimeout(),
			LoginTimeout:   cfg.LoginTimeout(),
		},
		log,
	)

	// API server (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:   cfg.API,
			WS:       cfg.WebSocket,
			Logger:   log,
			LiveView: liveView,
			Devices:  registry,
			History:  history,
			Version:  version,
		}
		if db != nil {
			deps.Database = db
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}

		server, err := api.New(deps)
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
		defer func() {
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	} else {
		log.Info("API server disabled")
	}

	// Connecting is sequential and may take a while with many unreachable
	// devices, so it runs alongside the wait for the shutdown signal.
	started := make(chan struct{})
	go func() {
		defer close(started)
		err := registry.Start(ctx, descriptors)
		switch {
		case err == nil:
			log.Info("device registry started",
				"devices", len(registry.Devices()),
				"connected", registry.Connected(),
			)
		case errors.Is(err, context.Canceled), errors.Is(err, monitor.ErrRegistryStopped):
			log.Debug("device registry start interrupted", "error", err)
		default:
			log.Error("device registry start failed", "error", err)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	sink.Info(audit.SystemLabel, msgClosing)
	if err := registry.Stop(); err != nil {
		log.Warn("error stopping device connections", "error", err)
	}
	<-started

	log.Info("Livewire Audit Logger stopped")
	return nil
}

// addDestination adds d to the sink. Sink.Add only rejects nil.
func addDestination(sink *audit.Sink, d audit.Destination, log *logging.Logger) {
	if err := sink.Add(d); err != nil {
		log.Error("adding audit destination", "destination", fmt.Sprintf("%T", d), "error", err)
	}
}

// loadDevices reads the device list, creating it first when configured to.
// A failed creation is only logged; reading the list then reports the problem.
// Invalid lines are skipped with a WARNING record each.
func loadDevices(cfg config.DevicesConfig, sink *audit.Sink, log *logging.Logger) ([]device.Descriptor, error) {
	if cfg.CreateIfMissing {
		created, err := device.EnsureListFile(cfg.File)
		switch {
		case err != nil:
			log.Warn("could not create device list", "path", cfg.File, "error", err)
		case created:
			log.Info("created empty device list", "path", cfg.File)
		}
	}

	descriptors, invalid, err := device.LoadList(cfg.File)
	if err != nil {
		return nil, err
	}
	for _, le := range invalid {
		log.Warn("skipping invalid device list entry", "path", cfg.File, "line", le.Line, "error", le.Err)
		sink.Warn(audit.SystemLabel, msgInvalidDevice+le.Error())
	}
	log.Info("device list loaded", "path", cfg.File, "devices", len(descriptors), "skipped", len(invalid))
	return descriptors, nil
}

// lwrpConnector dials devices with the configured LWRP settings.
func lwrpConnector(cfg config.LWRPConfig, log *logging.Logger) monitor.Connector {
	return func(ctx context.Context, address string) (monitor.Connection, error) {
		client, err := lwrp.Dial(ctx, lwrp.Config{
			Address:        address,
			Port:           cfg.Port,
			ConnectTimeout: time.Duration(cfg.ConnectTimeout) * time.Second,
			QueueSize:      cfg.QueueSize,
		})
		if err != nil {
			return nil, err
		}
		client.SetLogger(log.With("device", address))
		return client, nil
	}
}
