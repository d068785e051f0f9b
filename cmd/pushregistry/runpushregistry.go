// --- File: cmd/pushregistry/runpushregistry.go ---
package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"

	firebase "firebase.google.com/go/v4"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"

	"github.com/tinywideclouds/go-push-registry/internal/platform/apns"
	"github.com/tinywideclouds/go-push-registry/internal/platform/fcm"
	"github.com/tinywideclouds/go-push-registry/internal/platform/iid"
	"github.com/tinywideclouds/go-push-registry/internal/platform/web"
	"github.com/tinywideclouds/go-push-registry/internal/platform/wns"

	"github.com/tinywideclouds/go-push-registry/internal/storage/cache"
	fsStore "github.com/tinywideclouds/go-push-registry/internal/storage/firestore"
	pgStore "github.com/tinywideclouds/go-push-registry/internal/storage/postgres"
	"github.com/tinywideclouds/go-push-registry/pkg/device"
	"github.com/tinywideclouds/go-push-registry/pkg/dispatch"

	"github.com/tinywideclouds/go-push-registry/pushregistry"
	"github.com/tinywideclouds/go-push-registry/pushregistry/config"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"gopkg.in/yaml.v3"
)

//go:embed local.yaml
var configFile []byte

func main() {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "warn", "WARN":
		logLevel = slog.LevelWarn
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})).With("service", "go-push-registry")
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Config Loading ---
	var yamlCfg config.YamlConfig
	if err := yaml.Unmarshal(configFile, &yamlCfg); err != nil {
		logger.Error("Failed to unmarshal embedded yaml config", "err", err)
		os.Exit(1)
	}
	baseCfg, _ := config.NewConfigFromYaml(&yamlCfg, logger)
	cfg, err := config.UpdateConfigWithEnvOverrides(baseCfg, logger)
	if err != nil {
		logger.Error("Config failed", "err", err)
		os.Exit(1)
	}

	// --- Infrastructure Clients ---
	psClient, err := pubsub.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		logger.Error("PubSub client failed", "err", err)
		os.Exit(1)
	}
	defer psClient.Close()

	// --- Device Repository (Decorated) ---
	var repo device.Repository
	if cfg.Postgres.Enabled {
		store, err := pgStore.Open(cfg.Postgres.DSN)
		if err != nil {
			logger.Error("Postgres store failed", "err", err)
			os.Exit(1)
		}
		repo = store
		logger.Info("Device repository initialized", "type", "postgres")
	} else {
		fsClient, err := firestore.NewClient(ctx, cfg.ProjectID)
		if err != nil {
			logger.Error("Firestore client failed", "err", err)
			os.Exit(1)
		}
		defer fsClient.Close()
		repo = fsStore.NewDeviceStore(fsClient)
		logger.Info("Device repository initialized", "type", "firestore")
	}

	if cfg.Redis.Enabled {
		logger.Info("Initializing Redis Cache layer...", "addr", cfg.Redis.Addr)
		redisClient, err := cache.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Error("Failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		repo = cache.NewCachedDeviceStore(repo, redisClient, 24*time.Hour)
		logger.Info("Device repository upgraded", "type", "redis_cached")
	}

	// --- Auth ---
	identityURL := os.Getenv("IDENTITY_SERVICE_URL")
	if identityURL == "" {
		identityURL = "http://localhost:3000"
	}
	jwksURL, _ := middleware.DiscoverAndValidateJWTConfig(identityURL, middleware.RSA256, logger)
	authMiddleware, _ := middleware.NewJWKSAuthMiddleware(jwksURL, logger)

	// --- Vendor Gateways ---
	// Vendors without credentials stay nil: the engine rejects dispatches to
	// them explicitly instead of the process refusing to start. A deployment
	// serving only Android devices should not need Apple keys.
	gateways := dispatch.Gateways{}

	// A. Google (GCM multicast + the single-device FCM bridge)
	fbApp, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID})
	if err != nil {
		logger.Error("Failed to initialize Firebase App", "err", err)
		os.Exit(1)
	}
	fcmMessaging, err := fbApp.Messaging(ctx)
	if err != nil {
		logger.Error("Failed to create FCM messaging client", "err", err)
		os.Exit(1)
	}
	fcmGateway := fcm.NewGateway(fcmMessaging, logger)
	gateways.GCM = fcmGateway
	gateways.FCM = fcmGateway

	// B. Apple (native APNS)
	if cfg.APNS.P8KeyPath != "" {
		p8Key, err := os.ReadFile(cfg.APNS.P8KeyPath)
		if err != nil {
			logger.Error("Failed to read APNs P8 key", "path", cfg.APNS.P8KeyPath, "err", err)
			os.Exit(1)
		}
		apnsGateway, err := apns.NewGateway(apns.Config{
			KeyID:        cfg.APNS.KeyID,
			TeamID:       cfg.APNS.TeamID,
			BundleID:     cfg.APNS.BundleID,
			P8KeyContent: string(p8Key),
			Host:         cfg.APNS.Host,
		}, logger)
		if err != nil {
			logger.Error("Failed to create APNS gateway", "err", err)
			os.Exit(1)
		}
		gateways.APNS = apnsGateway
	} else {
		logger.Warn("APNs credentials missing in configuration. Native Apple push disabled.")
	}

	// C. Token translation (APNS -> FCM bridge)
	if cfg.APNS.UseFCM {
		gateways.TokenImporter = iid.NewClient(iid.Config{APIKey: cfg.GCM.APIKey}, logger)
		logger.Info("FCM bridge enabled for APNS devices", "application", cfg.Application)
	}

	// D. Windows (WNS)
	if cfg.WNS.PackageSID != "" && cfg.WNS.SecretKey != "" {
		gateways.WNS = wns.NewGateway(wns.Config{
			PackageSID: cfg.WNS.PackageSID,
			SecretKey:  cfg.WNS.SecretKey,
		}, logger)
	} else {
		logger.Warn("WNS credentials missing in configuration. Windows push disabled.")
	}

	// E. Web (VAPID)
	if cfg.Vapid.PrivateKey == "" || cfg.Vapid.PublicKey == "" {
		logger.Warn("VAPID keys missing in configuration. Web Push disabled.")
	} else {
		gateways.Web = web.NewGateway(web.Config{
			PublicKey:       cfg.Vapid.PublicKey,
			PrivateKey:      cfg.Vapid.PrivateKey,
			SubscriberEmail: cfg.Vapid.SubscriberEmail,
		}, logger)
		logger.Info("Web gateway enabled", "public_key", cfg.Vapid.PublicKey)
	}

	// --- Dispatch Engine ---
	engine := dispatch.NewEngine(dispatch.Config{
		Application: cfg.Application,
		APNSHost:    cfg.APNS.Host,
		APNSUseFCM:  cfg.APNS.UseFCM,
	}, repo, gateways, logger)

	// --- Consumer & Service ---
	consumer, _ := newIngestionConsumer(ctx, cfg, psClient, logger)

	service, err := pushregistry.New(
		cfg,
		consumer,
		engine,
		repo,
		authMiddleware,
		logger,
	)
	if err != nil {
		logger.Error("Service creation failed", "err", err)
		os.Exit(1)
	}

	logger.Info("Starting service...")
	if err := service.Start(ctx); err != nil {
		logger.Error("Service shutdown with error", "err", err)
		os.Exit(1)
	}
}

func newIngestionConsumer(ctx context.Context, cfg *config.Config, psClient *pubsub.Client, logger *slog.Logger) (messagepipeline.MessageConsumer, error) {
	sub := convertPubsub(cfg.ProjectID, cfg.PubsubConsumerConfig.SubscriptionID, "subscriptions")
	topicID := convertPubsub(cfg.ProjectID, cfg.TopicID, "topics")
	dlt := convertPubsub(cfg.ProjectID, cfg.SubscriptionDLQTopicID, "topics")

	subConfig := &pubsubpb.Subscription{
		Name:               sub,
		Topic:              topicID,
		AckDeadlineSeconds: 10,
		DeadLetterPolicy: &pubsubpb.DeadLetterPolicy{
			DeadLetterTopic:     dlt,
			MaxDeliveryAttempts: 5,
		},
		EnableMessageOrdering: false,
	}
	logger.Debug("Ensuring subscription exists", "sub", subConfig.Name, "topic", subConfig.Topic)
	_, err := psClient.SubscriptionAdminClient.CreateSubscription(ctx, subConfig)
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			logger.Debug("Subscription already exists, skipping creation", "sub", subConfig.Name)
		} else {
			logger.Error("Failed to create subscription", "sub", subConfig.Name, "err", err)
			return nil, fmt.Errorf("could not create sub: %s", sub)
		}
	}

	return messagepipeline.NewGooglePubsubConsumer(
		messagepipeline.NewGooglePubsubConsumerDefaults(subConfig.Name), psClient, logger,
	)
}

type PS string

func convertPubsub(project, id string, ps PS) string {
	return fmt.Sprintf("projects/%s/%s/%s", project, ps, id)
}
