// Package app wires configuration, storage and services into the pieces
// the server, worker and CLI binaries run.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/redis/go-redis/v9"

	"github.com/ignite/campaign-mailer/internal/api"
	"github.com/ignite/campaign-mailer/internal/auth"
	"github.com/ignite/campaign-mailer/internal/config"
	"github.com/ignite/campaign-mailer/internal/content"
	"github.com/ignite/campaign-mailer/internal/pkg/distlock"
	"github.com/ignite/campaign-mailer/internal/pkg/logger"
	"github.com/ignite/campaign-mailer/internal/repository/memory"
	"github.com/ignite/campaign-mailer/internal/repository/postgres"
	"github.com/ignite/campaign-mailer/internal/service/batch"
	"github.com/ignite/campaign-mailer/internal/service/campaign"
	"github.com/ignite/campaign-mailer/internal/service/quota"
	"github.com/ignite/campaign-mailer/internal/service/recipient"
	"github.com/ignite/campaign-mailer/internal/service/sending"
	"github.com/ignite/campaign-mailer/internal/service/suppression"
	"github.com/ignite/campaign-mailer/internal/tracking"
	"github.com/ignite/campaign-mailer/internal/transport"
	"github.com/ignite/campaign-mailer/internal/worker"
)

// DispatchLockKey names the lock that serializes dispatcher ticks.
const DispatchLockKey = "campaign-mailer:dispatch"

// Store is everything the services need from persistence. Both the
// Postgres and the in-memory store implement it.
type Store interface {
	campaign.Repository
	batch.Repository
	recipient.Repository
	suppression.Repository
	quota.Repository
	worker.BatchStore
	worker.RecipientStore
	worker.CampaignReader
	worker.RetentionStore
	tracking.Recorder
	api.SettingsStore
}

// App holds the wired engine.
type App struct {
	Config *config.Config

	DB    *sql.DB // nil when running on the in-memory store
	Redis *redis.Client
	SQS   *sqs.Client
	Store Store

	Delivery    config.Source
	Quota       *quota.Tracker
	Scheduler   *batch.Scheduler
	Campaigns   *campaign.Service
	Suppression *suppression.Service
	Signer      *tracking.Signer
	Transports  sending.Factory
	Processor   *worker.BatchProcessor
	Dispatcher  *worker.Dispatcher
	Recovery    *worker.RecoverySweeper
	Retention   *worker.RetentionSweeper
}

// New connects to the configured backends and builds the services. An
// empty database URL selects the in-memory store.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	if cfg.Log.RedactPII != nil {
		logger.SetRedactPII(*cfg.Log.RedactPII)
	}

	a := &App{Config: cfg}
	if cfg.Database.URL == "" {
		log.Println("[app] DATABASE_URL not set, using the in-memory store")
		a.Store = memory.New()
	} else {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.DB = db
		a.Store = postgres.NewStore(db)
	}

	if cfg.Redis.Addr != "" {
		a.Redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.Redis.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unavailable, falling back to postgres lock", "addr", cfg.Redis.Addr, "error", err)
			a.Redis.Close()
			a.Redis = nil
		}
	}

	if cfg.Tracking.SQSQueueURL != "" {
		client, err := newSQSClient(ctx, cfg)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.SQS = client
	}

	a.wire()
	return a, nil
}

func (a *App) wire() {
	cfg := a.Config
	a.Delivery = config.NewProvider(cfg.Delivery, a.Store)

	a.Quota = quota.NewTracker(a.Store, a.Delivery)
	a.Scheduler = batch.NewScheduler(a.Store, a.Delivery)
	a.Campaigns = campaign.NewService(a.Store, recipient.NewResolver(a.Store), a.Quota, a.Scheduler)
	a.Suppression = suppression.NewService(a.Store)
	if cfg.Tracking.SigningKey == "" {
		logger.Warn("TRACKING_SIGNING_KEY is empty, tracking links are unsigned and click redirects are not verified")
	}
	a.Signer = tracking.NewSigner(cfg.Tracking.SigningKey)
	a.Transports = transport.NewFactory(a.Delivery, cfg.Transport, cfg.SES)

	a.Processor = worker.NewBatchProcessor(worker.ProcessorDeps{
		Batches:      a.Store,
		Recipients:   a.Store,
		Campaigns:    a.Store,
		Lifecycle:    a.Campaigns,
		Scheduler:    a.Scheduler,
		Quota:        a.Quota,
		Suppressions: a.Suppression,
		Transports:   a.Transports,
		Personalizer: content.NewPersonalizer(a.Signer),
		Settings:     a.Delivery,
	})

	var lock distlock.DistLock
	if a.Redis != nil || a.DB != nil {
		lock = distlock.NewLock(a.Redis, a.DB, DispatchLockKey, 2*cfg.Worker.PollInterval())
	}
	a.Dispatcher = worker.NewDispatcher(a.Processor, a.Store, a.Campaigns, lock)
	a.Dispatcher.SetInterval(cfg.Worker.PollInterval())
	a.Dispatcher.SetLimit(cfg.Worker.DueBatchLimit)

	a.Recovery = worker.NewRecoverySweeper(a.Store, a.Store, a.Delivery,
		cfg.Worker.RecoveryInterval(), cfg.Worker.StaleAfter())
	a.Retention = worker.NewRetentionSweeper(a.Store)
}

// Recorder returns where tracking events go: SQS when a queue is
// configured, the store otherwise.
func (a *App) Recorder() tracking.Recorder {
	if a.SQS != nil {
		return tracking.NewPublisher(a.SQS, a.Config.Tracking.SQSQueueURL)
	}
	return a.Store
}

// Consumer returns the SQS tracking consumer, or nil without a queue.
func (a *App) Consumer() *tracking.Consumer {
	if a.SQS == nil {
		return nil
	}
	return tracking.NewConsumer(a.SQS, a.Config.Tracking.SQSQueueURL, a.Store)
}

// Router builds the HTTP surface served by cmd/server.
func (a *App) Router() http.Handler {
	h := api.NewHandlers(api.Deps{
		Campaigns: a.Campaigns,
		Batches:   a.Processor,
		Due:       a.Dispatcher,
		Quota:     a.Quota,
		Settings:  a.Store,
		Delivery:  a.Delivery,
	})
	return api.SetupRoutes(api.RouteDeps{
		Handlers:       h,
		Health:         api.NewHealthChecker(a.DB, a.Redis),
		Tracking:       tracking.NewHandler(a.Recorder(), a.Suppression, a.Signer),
		Authorizer:     auth.NewAuthorizer(a.Config.Server.AdminToken),
		AllowedOrigins: a.Config.Server.AllowedOrigins,
	})
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
}

func newSQSClient(ctx context.Context, cfg *config.Config) (*sqs.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Tracking.SQSRegion)}
	if cfg.SES.AccessKey != "" && cfg.SES.SecretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.SES.AccessKey, cfg.SES.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load AWS config: %w", err)
	}
	return sqs.NewFromConfig(awsCfg), nil
}
