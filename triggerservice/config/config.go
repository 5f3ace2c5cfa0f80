package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

const (
	ProviderFCM  = "fcm"
	ProviderAPNS = "apns"

	DefaultTriggersCollection = "notification_triggers"
	defaultUsersCollection    = "users"
	defaultAndroidChannelID   = "attendance_channel"
	defaultClaimTTL           = time.Minute
	defaultCacheTTL           = 24 * time.Hour
)

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	// ClaimTTL bounds how long a delivery holds the duplicate-send lease.
	ClaimTTL time.Duration
	CacheTTL time.Duration
}

type APNSConfig struct {
	KeyID        string
	TeamID       string
	BundleID     string
	P8KeyContent string
	Sandbox      bool
}

type PushConfig struct {
	Provider        string
	CredentialsFile string
	AndroidChannel  string
	APNS            APNSConfig
}

// Config defines the *single*, authoritative configuration.
type Config struct {
	ProjectID              string
	ListenAddr             string
	TopicID                string
	SubscriptionID         string
	SubscriptionDLQTopicID string
	NumPipelineWorkers     int

	TriggersCollection string
	UsersCollection    string

	CorsConfig middleware.CorsConfig
	Redis      RedisConfig
	Push       PushConfig

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
	if val := os.Getenv("TRIGGERS_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "TRIGGERS_COLLECTION", "source", "env")
		cfg.TriggersCollection = val
	}
	if val := os.Getenv("USERS_COLLECTION"); val != "" {
		logger.Debug("Overriding config value", "key", "USERS_COLLECTION", "source", "env")
		cfg.UsersCollection = val
	}

	// Push Overrides
	if val := os.Getenv("PUSH_PROVIDER"); val != "" {
		logger.Debug("Overriding config value", "key", "PUSH_PROVIDER", "source", "env")
		cfg.Push.Provider = strings.ToLower(val)
	}
	if val := os.Getenv("FIREBASE_CREDENTIALS_FILE"); val != "" {
		logger.Debug("Overriding config value", "key", "FIREBASE_CREDENTIALS_FILE", "source", "env")
		cfg.Push.CredentialsFile = val
	}
	if val := os.Getenv("ANDROID_CHANNEL_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "ANDROID_CHANNEL_ID", "source", "env")
		cfg.Push.AndroidChannel = val
	}
	if val := os.Getenv("APNS_KEY_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_KEY_ID", "source", "env")
		cfg.Push.APNS.KeyID = val
	}
	if val := os.Getenv("APNS_TEAM_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_TEAM_ID", "source", "env")
		cfg.Push.APNS.TeamID = val
	}
	if val := os.Getenv("APNS_BUNDLE_ID"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_BUNDLE_ID", "source", "env")
		cfg.Push.APNS.BundleID = val
	}
	if val := os.Getenv("APNS_P8_KEY"); val != "" {
		logger.Debug("Overriding config value", "key", "APNS_P8_KEY", "source", "env")
		cfg.Push.APNS.P8KeyContent = val
	}
	if val := os.Getenv("APNS_SANDBOX"); val != "" {
		sandbox, err := strconv.ParseBool(val)
		if err != nil {
			return nil, fmt.Errorf("invalid APNS_SANDBOX %q: %w", val, err)
		}
		logger.Debug("Overriding config value", "key", "APNS_SANDBOX", "source", "env")
		cfg.Push.APNS.Sandbox = sandbox
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
	if val := os.Getenv("CLAIM_TTL"); val != "" {
		ttl, err := time.ParseDuration(val)
		if err != nil {
			return nil, fmt.Errorf("invalid CLAIM_TTL %q: %w", val, err)
		}
		cfg.Redis.ClaimTTL = ttl
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
	if err := validatePush(&cfg.Push); err != nil {
		return nil, err
	}
	if cfg.Redis.Enabled && cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis is enabled but no address is set (REDIS_ADDR)")
	}

	// 3. Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.NumPipelineWorkers <= 0 {
		cfg.NumPipelineWorkers = 1
	}
	if cfg.TriggersCollection == "" {
		cfg.TriggersCollection = DefaultTriggersCollection
	}
	if cfg.UsersCollection == "" {
		cfg.UsersCollection = defaultUsersCollection
	}
	if cfg.Push.AndroidChannel == "" {
		cfg.Push.AndroidChannel = defaultAndroidChannelID
	}
	if cfg.Redis.ClaimTTL <= 0 {
		cfg.Redis.ClaimTTL = defaultClaimTTL
	}
	if cfg.Redis.CacheTTL <= 0 {
		cfg.Redis.CacheTTL = defaultCacheTTL
	}

	if cfg.PubsubConsumerConfig == nil && cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func validatePush(p *PushConfig) error {
	if p.Provider == "" {
		p.Provider = ProviderFCM
	}
	switch p.Provider {
	case ProviderFCM:
		return nil
	case ProviderAPNS:
		var missing []string
		if p.APNS.KeyID == "" {
			missing = append(missing, "key_id")
		}
		if p.APNS.TeamID == "" {
			missing = append(missing, "team_id")
		}
		if p.APNS.BundleID == "" {
			missing = append(missing, "bundle_id")
		}
		if p.APNS.P8KeyContent == "" {
			missing = append(missing, "p8_key")
		}
		if len(missing) > 0 {
			return fmt.Errorf("apns provider requires %s", strings.Join(missing, ", "))
		}
		return nil
	default:
		return fmt.Errorf("unknown push provider %q (expected %q or %q)", p.Provider, ProviderFCM, ProviderAPNS)
	}
}
