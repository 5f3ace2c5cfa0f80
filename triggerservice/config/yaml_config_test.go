package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tinywideclouds/go-microservice-base/pkg/middleware"
	"github.com/tinywideclouds/go-notification-trigger/triggerservice/config"
	"gopkg.in/yaml.v3"
)

func TestNewConfigFromYaml(t *testing.T) {
	logger := newTestLogger()

	t.Run("Success - maps all fields correctly", func(t *testing.T) {
		raw := []byte(`
project_id: yaml-project
listen_addr: ":9000"
topic_id: yaml-topic
subscription_id: yaml-subscription
subscription_dlq_topic_id: yaml-dlq
triggers_collection: yaml_triggers
users_collection: yaml_users
num_pipeline_workers: 5
cors:
  allowed_origins: ["http://yaml.com"]
  role: editor
redis:
  enabled: true
  addr: "redis:6379"
  claim_ttl: 2m
  cache_ttl: 1h
push:
  provider: apns
  android_channel_id: yaml_channel
  apns:
    key_id: KEY
    team_id: TEAM
    bundle_id: com.example.attendance
    sandbox: true
`)
		var yamlCfg config.YamlConfig
		require.NoError(t, yaml.Unmarshal(raw, &yamlCfg))

		cfg, err := config.NewConfigFromYaml(&yamlCfg, logger)

		require.NoError(t, err)
		require.NotNil(t, cfg)

		// 1. Direct Field Mapping
		assert.Equal(t, "yaml-project", cfg.ProjectID)
		assert.Equal(t, ":9000", cfg.ListenAddr)
		assert.Equal(t, "yaml-topic", cfg.TopicID)
		assert.Equal(t, "yaml-subscription", cfg.SubscriptionID)
		assert.Equal(t, "yaml-dlq", cfg.SubscriptionDLQTopicID)
		assert.Equal(t, "yaml_triggers", cfg.TriggersCollection)
		assert.Equal(t, "yaml_users", cfg.UsersCollection)
		assert.Equal(t, 5, cfg.NumPipelineWorkers)

		// 2. CORS
		assert.Equal(t, []string{"http://yaml.com"}, cfg.CorsConfig.AllowedOrigins)
		assert.Equal(t, middleware.CorsRoleEditor, cfg.CorsConfig.Role)

		// 3. Redis
		assert.True(t, cfg.Redis.Enabled)
		assert.Equal(t, "redis:6379", cfg.Redis.Addr)
		assert.Equal(t, 2*time.Minute, cfg.Redis.ClaimTTL)
		assert.Equal(t, time.Hour, cfg.Redis.CacheTTL)

		// 4. Push
		assert.Equal(t, "apns", cfg.Push.Provider)
		assert.Equal(t, "yaml_channel", cfg.Push.AndroidChannel)
		assert.Equal(t, "com.example.attendance", cfg.Push.APNS.BundleID)
		assert.True(t, cfg.Push.APNS.Sandbox)
		assert.Empty(t, cfg.Push.APNS.P8KeyContent)

		assert.NotNil(t, cfg.PubsubConsumerConfig)
	})

	t.Run("Success - Handles missing optional fields gracefully", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			ProjectID:      "minimal-project",
			SubscriptionID: "minimal-sub",
		}

		cfg, err := config.NewConfigFromYaml(yamlCfg, logger)

		require.NoError(t, err)
		assert.Equal(t, "minimal-project", cfg.ProjectID)
		assert.Equal(t, 0, cfg.NumPipelineWorkers)
		assert.Empty(t, cfg.ListenAddr)
		assert.Empty(t, cfg.Push.Provider)
		assert.Zero(t, cfg.Redis.ClaimTTL)
	})

	t.Run("Failure - bad duration", func(t *testing.T) {
		yamlCfg := &config.YamlConfig{
			RedisConfig: config.YamlRedisConfig{ClaimTTL: "forever"},
		}

		_, err := config.NewConfigFromYaml(yamlCfg, logger)

		assert.Error(t, err)
	})
}
