package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT", "")
	t.Setenv("PAYMENT_MAX_PENDING", "")

	cfg := Load()
	require.Equal(t, 24*time.Hour, cfg.PaymentTimeout)
	require.Equal(t, 3, cfg.PaymentMaxPending)
	require.Equal(t, "PAY", cfg.PaymentRefPrefix)
	require.Equal(t, 10*time.Minute, cfg.SweepInterval)
}

func TestLoadOverridesAndBadValues(t *testing.T) {
	t.Setenv("PAYMENT_TIMEOUT", "90m")
	t.Setenv("PAYMENT_MAX_PENDING", "not-a-number")
	t.Setenv("SWEEP_INTERVAL", "-5m")
	t.Setenv("DB_HOST", "db.internal")

	cfg := Load()
	require.Equal(t, 90*time.Minute, cfg.PaymentTimeout)
	require.Equal(t, 3, cfg.PaymentMaxPending)
	require.Equal(t, 10*time.Minute, cfg.SweepInterval)
	require.Contains(t, cfg.DSN(), "host=db.internal")
	require.Contains(t, cfg.DSN(), "TimeZone=UTC")
}
