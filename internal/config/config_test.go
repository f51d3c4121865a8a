package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SAYIT_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, "SayIt API", cfg.AppName)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 168*time.Hour, cfg.JWTTTL)
	require.Equal(t, time.Minute, cfg.StatsCacheTTL)
	require.Equal(t, 720*time.Hour, cfg.NotificationRetention)
	require.Equal(t, 6*time.Hour, cfg.NotificationCleanup)
	require.Equal(t, 30, cfg.MessageRateLimit)
	require.Equal(t, 5, cfg.AvatarMaxSizeMB)
	require.Equal(t, "sayit", cfg.RealtimeChannel)
	require.False(t, cfg.CloudinaryEnabled())
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SAYIT_JWT_SECRET", "secret")
	t.Setenv("SAYIT_APP_PORT", ":9090")
	t.Setenv("SAYIT_STATS_CACHE_TTL", "30s")
	t.Setenv("SAYIT_RATE_LIMIT_MESSAGES", "5")
	t.Setenv("SAYIT_CLOUDINARY_CLOUD_NAME", "demo")
	t.Setenv("SAYIT_CLOUDINARY_API_KEY", "key")
	t.Setenv("SAYIT_CLOUDINARY_API_SECRET", "shh")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9090", cfg.HTTPAddress())
	require.Equal(t, 30*time.Second, cfg.StatsCacheTTL)
	require.Equal(t, 5, cfg.MessageRateLimit)
	require.True(t, cfg.CloudinaryEnabled())
}

func TestLoadRequiresSecret(t *testing.T) {
	t.Setenv("SAYIT_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("SAYIT_JWT_SECRET", "secret")
	t.Setenv("SAYIT_NOTIFICATIONS_RETENTION", "forever")

	_, err := Load()
	require.ErrorContains(t, err, "notifications.retention")
}
