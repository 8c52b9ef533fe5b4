package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tagbridge/internal/controlapi"
	"tagbridge/internal/dedup"
	"tagbridge/internal/env"
	"tagbridge/internal/home"
	"tagbridge/internal/hostgroup"
	"tagbridge/internal/ingest/mqtt"
	"tagbridge/internal/ingestpipe"
	"tagbridge/internal/remoteconfig"
	"tagbridge/internal/staging"
	"tagbridge/internal/staging/memqueue"
	"tagbridge/internal/staging/redisqueue"
	"tagbridge/internal/tagevent"
)

// configPollInterval is how often the Ingestor re-reads the snapshot
// the Gateway last published, under normal conditions.
const configPollInterval = 15 * time.Second

func run(ctx context.Context, logger *slog.Logger, homeFlag string) error {
	l := env.New()
	location := l.Required("LOCATIONNAME")
	companyID := l.Required("COMPANY_ID")

	mqttHost := l.String("MQTT_HOST", "localhost")
	mqttPort := l.Int("MQTT_PORT", 1883)
	mqttTopic := l.String("MQTT_TOPIC", "rfid/#")
	aliveSeconds := l.Int("MQTT_ALIVE_INTERVAL", 60)

	redisHost := l.String("REDIS_HOST", "localhost")
	redisPort := l.Int("REDIS_PORT", 6379)
	redisPassword := l.String("REDIS_PASSWORD", "")
	redisDB := l.Int("REDIS_DB", 0)
	maxQueueSize := l.Int("MAX_QUEUE_SIZE", 10000)
	maxMemoryMB := l.Int("MAX_MEMORY_MB", 256)

	rfidFrequency := l.Int("RFID_FREQUENCY", 0)
	txPowerCdbm := l.Int("RFID_TRANSMIT_POWER_CDBM", 0)
	mobile := l.Bool("MOBILE", false)

	hostGroupsPath := l.String("HOSTGROUPS_PATH", "")
	controlAddr := l.String("CONTROL_ADDR", ":8091")

	if err := l.Err(); err != nil {
		return err
	}

	hd, err := resolveHome(homeFlag, "ingestor")
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if err := hd.EnsureExists(); err != nil {
		return err
	}
	if hostGroupsPath == "" {
		hostGroupsPath = hd.HostGroupsPath()
	}
	clientIDPrefix, err := hd.ClientIDPrefix()
	if err != nil {
		return fmt.Errorf("determine mqtt client id: %w", err)
	}

	groups := hostgroup.New(hostGroupsPath, logger)
	if err := groups.Load(); err != nil {
		return fmt.Errorf("load host-group file: %w", err)
	}
	if err := groups.WatchFile(); err != nil {
		logger.Warn("host-group file watch failed, changes require a restart", "error", err)
	}
	defer groups.Close()

	durable := redisqueue.New(redisqueue.Config{
		Host:         redisHost,
		Port:         redisPort,
		Password:     redisPassword,
		DB:           redisDB,
		MaxQueueSize: maxQueueSize,
		MaxMemoryMB:  int64(maxMemoryMB),
	})
	defer durable.Close()
	fallback := memqueue.New(maxQueueSize)
	store := staging.New(durable, fallback, staging.Limits{
		MaxQueueSize: maxQueueSize,
		MaxMemoryMB:  int64(maxMemoryMB),
	}, logger)

	var wg sync.WaitGroup
	wg.Go(func() { store.Run(ctx) })
	defer func() { store.Stop(); wg.Wait() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisHost, redisPort),
		Password: redisPassword,
		DB:       redisDB,
	})
	defer redisClient.Close()

	configStore := remoteconfig.NewStore()
	subscriber := remoteconfig.NewSubscriber(
		remoteconfig.NewRedisSource(redisClient), configStore, companyID, location, configPollInterval, logger,
	)
	wg.Go(func() { subscriber.Run(ctx) })

	dd := dedup.New()
	wg.Go(func() { watchDedupInterval(ctx, configStore, dd) })

	broker := mqtt.New(mqtt.Config{
		Host:           mqttHost,
		Port:           mqttPort,
		Topic:          mqttTopic,
		ClientIDPrefix: clientIDPrefix,
		Mobile:         mobile,
		AliveInterval:  time.Duration(aliveSeconds) * time.Second,
		Logger:         logger,
	})

	processCtx := tagevent.ProcessContext{
		Location:    location,
		CompanyID:   companyID,
		FrequencyHz: int64(rfidFrequency),
		TxPowerCdbm: txPowerCdbm,
		MobileFlag:  mobile,
	}

	pipeline := ingestpipe.New(ingestpipe.Config{
		Broker:         broker,
		Dedup:          dd,
		Staging:        store,
		Groups:         groups,
		ConfigProvider: configStore,
		ProcessCtx:     processCtx,
		Marshal:        json.Marshal,
		Logger:         logger,
	})
	if err := pipeline.Start(ctx); err != nil {
		return fmt.Errorf("start ingest pipeline: %w", err)
	}
	defer func() {
		if err := pipeline.Stop(); err != nil {
			logger.Error("stop ingest pipeline", "error", err)
		}
	}()

	status := &ingestorStatus{store: store, pipeline: pipeline}
	api := controlapi.New(controlapi.Config{
		Addr:        controlAddr,
		Health:      status,
		QueueStatus: status,
		Logger:      logger,
	})
	wg.Go(func() {
		if err := api.Run(ctx); err != nil {
			logger.Error("control API exited with error", "error", err)
		}
	})

	logger.Info("ingestor running", "location", location, "company_id", companyID, "control_addr", controlAddr)
	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func resolveHome(flagValue, process string) (home.Dir, error) {
	if flagValue != "" {
		return home.New(flagValue), nil
	}
	return home.Default(process)
}

// watchDedupInterval applies the live config's dedup window to dd
// whenever the snapshot changes, per spec.md §4.F.
func watchDedupInterval(ctx context.Context, store *remoteconfig.Store, dd *dedup.Deduplicator) {
	applyInterval := func() {
		if minutes := store.Current().DeduplicateIntervalMinutes; minutes > 0 {
			dd.SetInterval(time.Duration(minutes) * time.Minute)
		}
	}
	applyInterval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-store.Listen():
			applyInterval()
		}
	}
}

// ingestorStatus adapts the Ingestor's internal state to the Control
// API's provider interfaces.
type ingestorStatus struct {
	store    *staging.Store
	pipeline *ingestpipe.Pipeline
}

func (s *ingestorStatus) Health(ctx context.Context) controlapi.HealthStatus {
	stats, err := s.store.Stats(ctx)
	queue := "ok"
	if err != nil {
		queue = "unknown"
	} else if stats.CapacityPct >= 100 {
		queue = "full"
	}
	return controlapi.HealthStatus{Status: "ok", Auth: true, Queue: queue, Config: "ok"}
}

func (s *ingestorStatus) QueueStatus(ctx context.Context) (bool, int, bool, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return false, 0, false, err
	}
	return stats.DurableUp, stats.Size - stats.Ready, true, nil
}
