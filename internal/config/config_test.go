package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"MAILROOM_SERVER_HOST",
	"MAILROOM_SERVER_PORT",
	"MAILROOM_LOG_LEVEL",
	"MAILROOM_LOG_DEVELOPMENT",
	"MAILROOM_DATABASE_TYPE",
	"MAILROOM_DATABASE_DSN",
	"MAILROOM_REDIS_ADDRESS",
	"MAILROOM_REDIS_USER_CACHE_TTL",
	"MAILROOM_FORWARDING_GDPR_WINDOW_DAYS",
	"MAILROOM_FORWARDING_FREE_TAGS",
	"MAILROOM_FORWARDING_FEE_MINOR",
	"MAILROOM_FORWARDING_CURRENCY",
	"MAILROOM_INGEST_SOURCE_PREFIX",
	"MAILROOM_INGEST_WEBHOOK_SECRET",
	"MAILROOM_INGEST_BASIC_USER",
	"MAILROOM_INGEST_BASIC_PASS",
	"MAILROOM_NOTIFY_TIMEOUT",
	"MAILROOM_NOTIFY_REQUIRE_TLS",
	"MAILROOM_JWT_SECRET",
}

// resetEnv 清空相关环境变量并在测试结束后恢复
func resetEnv(t *testing.T) {
	t.Helper()
	original := make(map[string]string)
	for _, key := range envKeys {
		original[key] = os.Getenv(key)
		os.Unsetenv(key)
	}
	t.Cleanup(func() {
		for key, value := range original {
			if value == "" {
				os.Unsetenv(key)
			} else {
				os.Setenv(key, value)
			}
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("加载默认配置成功", func(t *testing.T) {
		resetEnv(t)

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, "0.0.0.0", cfg.Server.Host)
		assert.Equal(t, 8080, cfg.Server.Port)
		assert.Equal(t, "info", cfg.Log.Level)
		assert.False(t, cfg.Log.Development)
		assert.Equal(t, "", cfg.Database.Type)
		assert.Equal(t, 25, cfg.Database.MaxOpenConns)
		assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
		assert.Equal(t, "", cfg.Redis.Address)
		assert.Equal(t, 5*time.Minute, cfg.Redis.UserCacheTTL)
		assert.Equal(t, 30*24*time.Hour, cfg.Forwarding.GDPRWindow)
		assert.Equal(t, []string{"hmrc", "companies_house"}, cfg.Forwarding.FreeTags)
		assert.Equal(t, int64(350), cfg.Forwarding.FeeMinor)
		assert.Equal(t, "GBP", cfg.Forwarding.Currency)
		assert.Equal(t, "onedrive", cfg.Ingest.SourcePrefix)
		assert.Equal(t, "X-Signature", cfg.Ingest.SignatureHeader)
		assert.Equal(t, int64(1<<20), cfg.Ingest.MaxBodyBytes)
		assert.Equal(t, "", cfg.JWT.Secret)
		assert.Equal(t, "mailroom", cfg.JWT.Issuer)
		assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
		assert.False(t, cfg.Notify.RequireTLS)
	})

	t.Run("加载自定义配置成功", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_SERVER_PORT", "9090")
		os.Setenv("MAILROOM_LOG_DEVELOPMENT", "true")
		os.Setenv("MAILROOM_DATABASE_TYPE", "Postgres")
		os.Setenv("MAILROOM_DATABASE_DSN", "postgres://u:p@localhost:5432/mailroom")
		os.Setenv("MAILROOM_FORWARDING_GDPR_WINDOW_DAYS", "14")
		os.Setenv("MAILROOM_FORWARDING_FREE_TAGS", "HMRC, dvla ,")
		os.Setenv("MAILROOM_FORWARDING_FEE_MINOR", "499")
		os.Setenv("MAILROOM_FORWARDING_CURRENCY", "eur")
		os.Setenv("MAILROOM_INGEST_WEBHOOK_SECRET", "s3cret")
		os.Setenv("MAILROOM_INGEST_BASIC_USER", "zap")
		os.Setenv("MAILROOM_INGEST_BASIC_PASS", "hook")
		os.Setenv("MAILROOM_JWT_SECRET", "custom-jwt-secret-key-32-chars-long-minimum")

		cfg, err := Load()
		require.NoError(t, err)

		assert.Equal(t, 9090, cfg.Server.Port)
		assert.True(t, cfg.Log.Development)
		assert.Equal(t, "postgres", cfg.Database.Type)
		assert.Equal(t, 14*24*time.Hour, cfg.Forwarding.GDPRWindow)
		assert.Equal(t, []string{"hmrc", "dvla"}, cfg.Forwarding.FreeTags)
		assert.Equal(t, int64(499), cfg.Forwarding.FeeMinor)
		assert.Equal(t, "EUR", cfg.Forwarding.Currency)
		assert.Equal(t, "s3cret", cfg.Ingest.WebhookSecret)
		assert.Equal(t, "zap", cfg.Ingest.BasicUser)
		assert.Equal(t, "hook", cfg.Ingest.BasicPass)
	})

	t.Run("不支持的数据库类型", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_DATABASE_TYPE", "oracle")
		os.Setenv("MAILROOM_DATABASE_DSN", "x")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
	})

	t.Run("缺少数据库连接串", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_DATABASE_TYPE", "sqlite")

		_, err := Load()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database.dsn is required")
	})

	t.Run("转寄费必须为正", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_FORWARDING_FEE_MINOR", "0")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("GDPR 窗口必须为正", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_FORWARDING_GDPR_WINDOW_DAYS", "-1")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("通知投递时限", func(t *testing.T) {
		tests := []struct {
			name    string
			value   string
			want    time.Duration
			wantErr bool
		}{
			{"自定义时限", "3s", 3 * time.Second, false},
			{"格式错误", "soon", 0, true},
			{"零值", "0s", 0, true},
			{"负值", "-1s", 0, true},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resetEnv(t)
				os.Setenv("MAILROOM_NOTIFY_TIMEOUT", tt.value)
				os.Setenv("MAILROOM_NOTIFY_REQUIRE_TLS", "true")

				cfg, err := Load()
				if tt.wantErr {
					assert.Error(t, err)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, tt.want, cfg.Notify.Timeout)
				assert.True(t, cfg.Notify.RequireTLS)
			})
		}
	})

	t.Run("Basic 认证必须成对配置", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_INGEST_BASIC_USER", "only-user")

		_, err := Load()
		assert.Error(t, err)
	})

	t.Run("JWT密钥太短失败", func(t *testing.T) {
		resetEnv(t)
		os.Setenv("MAILROOM_JWT_SECRET", "short-key")

		cfg, err := Load()
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "JWT secret must be at least 32 characters long")
	})
}
