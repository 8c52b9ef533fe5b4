package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"tagbridge/internal/auth"
	"tagbridge/internal/controlapi"
	"tagbridge/internal/docstore"
	"tagbridge/internal/env"
	"tagbridge/internal/forwarder"
	"tagbridge/internal/home"
	"tagbridge/internal/remoteconfig"
	"tagbridge/internal/scheduler"
	"tagbridge/internal/staging"
	"tagbridge/internal/staging/memqueue"
	"tagbridge/internal/staging/redisqueue"
)

// configPollInterval mirrors the Ingestor's: how often the Gateway
// re-fetches the location configuration from the remote store under
// normal conditions.
const configPollInterval = 15 * time.Second

// updateStatusFile is the local file the out-of-process updater writes
// its status to; reading and relaying it is this process's only
// involvement with the updater itself, which is out of scope.
const updateStatusFile = "update_status.json"

func run(ctx context.Context, logger *slog.Logger, homeFlag string) error {
	l := env.New()
	location := l.Required("LOCATIONNAME")
	companyID := l.Required("COMPANY_ID")
	invitationCode := l.Required("INVITATION_CODE")
	functionsURL := l.Required("FIREBASE_FUNCTIONS_URL")
	firestoreURL := l.Required("FIREBASE_FIRESTORE_URL")

	redisHost := l.String("REDIS_HOST", "localhost")
	redisPort := l.Int("REDIS_PORT", 6379)
	redisPassword := l.String("REDIS_PASSWORD", "")
	redisDB := l.Int("REDIS_DB", 0)
	maxQueueSize := l.Int("MAX_QUEUE_SIZE", 10000)
	maxMemoryMB := l.Int("MAX_MEMORY_MB", 256)

	controlAddr := l.String("CONTROL_ADDR", ":8092")

	if err := l.Err(); err != nil {
		return err
	}

	hd, err := resolveHome(homeFlag, "gateway")
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	if err := hd.EnsureExists(); err != nil {
		return err
	}

	sched, err := scheduler.New(logger)
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	manager := auth.New(auth.Config{
		Client:         auth.NewHTTPClient(functionsURL),
		StatePath:      hd.AuthStatePath(),
		InvitationCode: invitationCode,
		Scheduler:      sched,
		Logger:         logger,
	})
	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("acquire auth credential: %w", err)
	}
	defer manager.Stop()

	sched.Start()
	defer func() {
		if err := sched.Stop(); err != nil {
			logger.Error("stop scheduler", "error", err)
		}
	}()

	store := docstore.New(firestoreURL, manager.Token)

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
	staged := staging.New(durable, fallback, staging.Limits{
		MaxQueueSize: maxQueueSize,
		MaxMemoryMB:  int64(maxMemoryMB),
	}, logger)

	var wg sync.WaitGroup
	wg.Go(func() { staged.Run(ctx) })
	defer func() { staged.Stop(); wg.Wait() }()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", redisHost, redisPort),
		Password: redisPassword,
		DB:       redisDB,
	})
	defer redisClient.Close()

	configStore := remoteconfig.NewStore()
	publishing := remoteconfig.NewPublishingSource(docstore.NewConfigSource(store), redisClient, logger)
	subscriber := remoteconfig.NewSubscriber(publishing, configStore, companyID, location, configPollInterval, logger)
	wg.Go(func() { subscriber.Run(ctx) })

	fwd := forwarder.New(forwarder.Config{
		Leaser: staged,
		Writer: store,
		Auth:   manager,
		Logger: logger,
	})
	wg.Go(func() {
		if err := fwd.Run(ctx); err != nil {
			logger.Error("forwarder exited with error", "error", err)
		}
	})

	status := &gatewayStatus{
		store:      store,
		staged:     staged,
		config:     configStore,
		manager:    manager,
		statusPath: filepath.Join(hd.Root(), updateStatusFile),
	}
	api := controlapi.New(controlapi.Config{
		Addr:         controlAddr,
		Health:       status,
		ConfigGetter: status,
		ConfigPutter: status,
		QueueStatus:  status,
		UpdateStatus: status,
		Logger:       logger,
	})
	wg.Go(func() {
		if err := api.Run(ctx); err != nil {
			logger.Error("control API exited with error", "error", err)
		}
	})

	logger.Info("gateway running", "location", location, "company_id", companyID, "control_addr", controlAddr)
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

// gatewayStatus adapts the Gateway's internal state to the Control
// API's provider interfaces.
type gatewayStatus struct {
	store      docstore.DocumentStore
	staged     *staging.Store
	config     *remoteconfig.Store
	manager    *auth.Manager
	statusPath string
}

func (s *gatewayStatus) Health(ctx context.Context) controlapi.HealthStatus {
	stats, err := s.staged.Stats(ctx)
	queue := "ok"
	if err != nil {
		queue = "unknown"
	} else if stats.CapacityPct >= 100 {
		queue = "full"
	}
	return controlapi.HealthStatus{Status: "ok", Auth: s.manager.Healthy(), Queue: queue, Config: "ok"}
}

func (s *gatewayStatus) QueueStatus(ctx context.Context) (bool, int, bool, error) {
	stats, err := s.staged.Stats(ctx)
	if err != nil {
		return false, 0, false, err
	}
	return stats.DurableUp, stats.Size - stats.Ready, true, nil
}

// GetLocationConfig fetches the live document; on failure it falls back
// to the last known good snapshot the Subscriber already holds.
func (s *gatewayStatus) GetLocationConfig(ctx context.Context, companyID, location string) (map[string]any, bool, error) {
	path := fmt.Sprintf("companies/%s/locations/%s", companyID, location)
	doc, err := s.store.Get(ctx, path)
	if err != nil {
		if errors.Is(err, docstore.ErrNotFound) {
			return nil, false, controlapi.ErrLocationNotFound
		}
		return snapshotToMap(s.config.Current()), true, nil
	}
	return doc.Fields, false, nil
}

// PutLocationConfig patches the live document, stamping an updatedAt
// server timestamp so the store records when the change landed.
func (s *gatewayStatus) PutLocationConfig(ctx context.Context, companyID, location string, patch map[string]any) error {
	path := fmt.Sprintf("companies/%s/locations/%s", companyID, location)
	patch["updatedAt"] = docstore.ServerTimestamp{}
	return s.store.Update(ctx, path, patch, true)
}

func (s *gatewayStatus) UpdateStatus(ctx context.Context) (string, error) {
	data, err := os.ReadFile(s.statusPath) //nolint:gosec // G304: path is home dir + constant filename
	if err != nil {
		if os.IsNotExist(err) {
			return "unknown", nil
		}
		return "", fmt.Errorf("read update status file: %w", err)
	}
	return string(data), nil
}

func snapshotToMap(snap remoteconfig.Snapshot) map[string]any {
	return map[string]any{
		"deduplicate":                  snap.Deduplicate,
		"deduplicate_interval_minutes": snap.DeduplicateIntervalMinutes,
		"reporting":                    snap.Reporting,
	}
}
