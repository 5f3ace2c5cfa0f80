package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
)

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	Role           string   `yaml:"role"`
}

type YamlRedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Enabled  bool   `yaml:"enabled"`
	ClaimTTL string `yaml:"claim_ttl"`
	CacheTTL string `yaml:"cache_ttl"`
}

type YamlAPNSConfig struct {
	KeyID    string `yaml:"key_id"`
	TeamID   string `yaml:"team_id"`
	BundleID string `yaml:"bundle_id"`
	Sandbox  bool   `yaml:"sandbox"`
}

type YamlPushConfig struct {
	Provider        string         `yaml:"provider"`
	CredentialsFile string         `yaml:"credentials_file"`
	AndroidChannel  string         `yaml:"android_channel_id"`
	APNS            YamlAPNSConfig `yaml:"apns"`
}

// YamlConfig is the structure that mirrors the raw config.yaml file.
// The APNs signing key is deliberately absent: it only comes from the environment.
type YamlConfig struct {
	ProjectID              string          `yaml:"project_id"`
	ListenAddr             string          `yaml:"listen_addr"`
	TopicID                string          `yaml:"topic_id"`
	SubscriptionID         string          `yaml:"subscription_id"`
	SubscriptionDLQTopicID string          `yaml:"subscription_dlq_topic_id"`
	TriggersCollection     string          `yaml:"triggers_collection"`
	UsersCollection        string          `yaml:"users_collection"`
	CorsConfig             YamlCorsConfig  `yaml:"cors"`
	RedisConfig            YamlRedisConfig `yaml:"redis"`
	PushConfig             YamlPushConfig  `yaml:"push"`
	NumPipelineWorkers     int             `yaml:"num_pipeline_workers"`
}

// NewConfigFromYaml converts the YamlConfig into a clean, base Config struct.
func NewConfigFromYaml(baseCfg *YamlConfig, logger *slog.Logger) (*Config, error) {
	logger.Debug("Mapping YAML config to base config struct")

	claimTTL, err := parseOptionalDuration(baseCfg.RedisConfig.ClaimTTL)
	if err != nil {
		return nil, fmt.Errorf("redis.claim_ttl: %w", err)
	}
	cacheTTL, err := parseOptionalDuration(baseCfg.RedisConfig.CacheTTL)
	if err != nil {
		return nil, fmt.Errorf("redis.cache_ttl: %w", err)
	}

	cfg := &Config{
		ProjectID:          baseCfg.ProjectID,
		ListenAddr:         baseCfg.ListenAddr,
		TopicID:            baseCfg.TopicID,
		SubscriptionID:     baseCfg.SubscriptionID,
		TriggersCollection: baseCfg.TriggersCollection,
		UsersCollection:    baseCfg.UsersCollection,
		CorsConfig: middleware.CorsConfig{
			AllowedOrigins: baseCfg.CorsConfig.AllowedOrigins,
			Role:           middleware.CorsRole(baseCfg.CorsConfig.Role),
		},
		Redis: RedisConfig{
			Addr:     baseCfg.RedisConfig.Addr,
			Password: baseCfg.RedisConfig.Password,
			DB:       baseCfg.RedisConfig.DB,
			Enabled:  baseCfg.RedisConfig.Enabled,
			ClaimTTL: claimTTL,
			CacheTTL: cacheTTL,
		},
		Push: PushConfig{
			Provider:        baseCfg.PushConfig.Provider,
			CredentialsFile: baseCfg.PushConfig.CredentialsFile,
			AndroidChannel:  baseCfg.PushConfig.AndroidChannel,
			APNS: APNSConfig{
				KeyID:    baseCfg.PushConfig.APNS.KeyID,
				TeamID:   baseCfg.PushConfig.APNS.TeamID,
				BundleID: baseCfg.PushConfig.APNS.BundleID,
				Sandbox:  baseCfg.PushConfig.APNS.Sandbox,
			},
		},
		SubscriptionDLQTopicID: baseCfg.SubscriptionDLQTopicID,
		NumPipelineWorkers:     baseCfg.NumPipelineWorkers,
	}

	if cfg.SubscriptionID != "" {
		cfg.PubsubConsumerConfig = messagepipeline.NewGooglePubsubConsumerDefaults(cfg.SubscriptionID)
	}

	logger.Debug("YAML config mapping complete",
		"project_id", cfg.ProjectID,
		"listen_addr", cfg.ListenAddr,
		"subscription_id", cfg.SubscriptionID,
		"push_provider", cfg.Push.Provider,
	)

	return cfg, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
