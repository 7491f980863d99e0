package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 0.5, cfg.ScorePrecision)
	require.Equal(t, 60.0, cfg.DefaultPassThreshold)
	require.Equal(t, 100.0, cfg.DefaultMaxScore)
	require.Equal(t, 7, cfg.RegradeSLADays)
	require.Equal(t, 72*time.Hour, cfg.DefaultReviewWindow)
	require.Equal(t, time.Minute, cfg.StatusSweepInterval)
	require.Equal(t, time.Hour, cfg.DeadlineSweepInterval)
	require.Equal(t, ":8080", cfg.HTTPAddress())
	require.Equal(t, 20, cfg.DBMaxOpenConns)
	require.Equal(t, 30*time.Minute, cfg.DBConnLifetime)
	require.Equal(t, 30*time.Second, cfg.JWTLeeway)
	require.Equal(t, []string{"*"}, cfg.CORSAllowOrigins)
}

func TestLoadSplitsOriginsAndCapsIdleConns(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_CORS_ALLOW_ORIGINS", "https://lms.example, https://admin.example,")
	t.Setenv("GEMA_DATABASE_MAX_OPEN_CONNS", "4")
	t.Setenv("GEMA_DATABASE_MAX_IDLE_CONNS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, []string{"https://lms.example", "https://admin.example"}, cfg.CORSAllowOrigins)
	require.Equal(t, 4, cfg.DBMaxIdleConns)
}

func TestLoadRejectsMissingSecrets(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidPrecision(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_GRADING_PRECISION", "0")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("GEMA_JWT_SECRET", "secret")
	t.Setenv("GEMA_SCHEDULER_STATUS_INTERVAL", "soon")

	_, err := Load()
	require.Error(t, err)
}
