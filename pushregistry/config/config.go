// --- File: pushregistry/config/config.go ---
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
}

type PostgresConfig struct {
	Enabled bool
	DSN     string
}

type GCMConfig struct {
	// APIKey is the legacy server key used for Instance ID token imports.
	APIKey string
}

type APNSConfig struct {
	// Host selects the Apple environment; a host containing "sandbox"
	// switches token translation and the native client to development mode.
	Host string

	// UseFCM bridges APNS delivery through FCM via translated tokens.
	UseFCM bool

	KeyID     string
	TeamID    string
	BundleID  string
	P8KeyPath string
}

type WNSConfig struct {
	PackageSID string
	SecretKey  string
}

type VapidConfig struct {
	PublicKey       string
	PrivateKey      string
	SubscriberEmail string
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	// Application identifies this app installation in token import requests.
	Application string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Postgres   PostgresConfig
	GCM        GCMConfig
	APNS       APNSConfig
	WNS        WNSConfig
	Vapid      VapidConfig

	TopicID              string
	PubsubConsumerConfig *messagepipeline.GooglePubsubConsumerConfig
}

// UpdateConfigWithEnvOverrides applies environment variables and final validation.
func UpdateConfigWithEnvOverrides(cfg *Config, logger *slog.Logger) (*Config, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if val := os.Getenv("PROJECT_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "PROJECT_ID", "source", "env")
		cfg.ProjectID = val
	}
	if val := os.Getenv("PORT"); val != "" {
		logger.Debug("Overriding config value", "key", "PORT", "source", "env")
		cfg.ListenAddr = ":" + val
	}
	if val := os.Getenv("SUBSCRIPTION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_ID", "source", "env")
		cfg.SubscriptionID = val
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(val)
	}
	if val := os.Getenv("SUBSCRIPTION_DLQ_TOPIC_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "SUBSCRIPTION_DLQ_TOPIC_ID", "source", "env")
		cfg.SubscriptionDLQTopicID = val
	}
	if val := os.Getenv("NUM_PIPELINE_WORKERS"); val != "" {
		if workers, err := strconv.Atoi(val); err == nil && workers > 0 {
			logger.Debug("Overriding config value", "key", "NUM_PIPELINE_WORKERS", "source", "env")
			cfg.NumPipelineWorkers = workers
		}
	}
	if val := os.Getenv("APPLICATION_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APPLICATION_ID", "source", "env")
		cfg.Application = val
	}

	// Redis Overrides
	if val := os.Getenv("REDIS_ADDR"); val != "" {
		cfg.Redis.Addr = val
		cfg.Redis.Enabled = true
	}
	if val := os.Getenv("REDIS_PASSWORD"); val != "" {
		cfg.Redis.Password = val
	}
	if val := os.Getenv("REDIS_DB"); val != "" {
		if db, err := strconv.Atoi(val); err == nil {
			cfg.Redis.DB = db
		}
	}
	if val := os.Getenv("REDIS_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Redis.Enabled = enabled
	}

	// Postgres Overrides
	if val := os.Getenv("POSTGRES_DSN"); val != "" {
		cfg.Postgres.DSN = val
		cfg.Postgres.Enabled = true
	}
	if val := os.Getenv("POSTGRES_ENABLED"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		cfg.Postgres.Enabled = enabled
	}

	// GCM Overrides
	if val := os.Getenv("GCM_API_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "GCM_API_KEY", "source", "env")
		cfg.GCM.APIKey = val
	}

	// APNS Overrides
	if val := os.Getenv("APNS_HOST"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_HOST", "source", "env")
		cfg.APNS.Host = val
	}
	if val := os.Getenv("APNS_USE_FCM"); val != "" {
		enabled, _ := strconv.ParseBool(val)
		logger.Debug("Overriding config value", "key", "APNS_USE_FCM", "source", "env")
		cfg.APNS.UseFCM = enabled
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		cfg.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		cfg.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		cfg.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY_PATH"); val != "" {
		cfg.APNS.P8KeyPath = val
	}

	// WNS Overrides
	if val := os.Getenv("WNS_PACKAGE_SID"); val != "" {
		logger.Debug("Overriding config value", "key", "WNS_PACKAGE_SID", "source", "env")
		cfg.WNS.PackageSID = val
	}
	if val := os.Getenv("WNS_SECRET_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "WNS_SECRET_KEY", "source", "env")
		cfg.WNS.SecretKey = val
	}

	// VAPID Overrides
	if val := os.Getenv("VAPID_PUBLIC_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PUBLIC_KEY", "source", "env")
		cfg.Vapid.PublicKey = val
	}
	if val := os.Getenv("VAPID_PRIVATE_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_PRIVATE_KEY", "source", "env")
		cfg.Vapid.PrivateKey = val
	}
	if val := os.Getenv("VAPID_SUB_EMAIL"); val != "" {
		logger.Debug("Overriding config value", "key", "VAPID_SUB_EMAIL", "source", "env")
		cfg.Vapid.SubscriberEmail = val
	}

	// CORS Overrides
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		rawOrigins := strings.Split(corsOrigins, ",")
		var cleanOrigins []string
		for _, o := range rawOrigins {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.CorsConfig.AllowedOrigins = cleanOrigins
	}

	// 2. Final Validation
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("project_id is required (set via YAML or PROJECT_ID env var)")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("subscription_id is required (set via YAML or SUBSCRIPTION_ID env var)")
	}
	if cfg.APNS.UseFCM {
		// The FCM bridge imports APNS tokens through the Instance ID API,
		// which needs the server key and an application id.
		if cfg.GCM.APIKey == "" {
			return nil, fmt.Errorf("gcm.api_key is required when apns.use_fcm is enabled")
		}
		if cfg.Application == "" {
			return nil, fmt.Errorf("application is required when apns.use_fcm is enabled")
		}
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}
