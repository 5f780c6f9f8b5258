package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("CSRF_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.AppAddr)
	assert.Equal(t, 12*time.Hour, cfg.SessionTTL)
	assert.False(t, cfg.IsProduction())

	throttle := cfg.ThrottleConfig()
	assert.Equal(t, 3, throttle.Login.DelayThreshold)
	assert.Equal(t, 5, throttle.Login.CaptchaThreshold)
	assert.Equal(t, 30*24*time.Hour, throttle.Retention())
}

func TestLoadConfigRequiresCSRFSecret(t *testing.T) {
	t.Setenv("CSRF_SECRET", "")

	_, err := LoadConfig()
	require.Error(t, err)
}

func TestLoadConfigRejectsInvertedThresholds(t *testing.T) {
	t.Setenv("CSRF_SECRET", "secret")
	t.Setenv("THROTTLE_LOGIN_DELAY_THRESHOLD", "6")
	t.Setenv("THROTTLE_LOGIN_CAPTCHA_THRESHOLD", "4")

	_, err := LoadConfig()
	require.ErrorContains(t, err, "throttle config")
}

func TestIsProduction(t *testing.T) {
	var nilCfg *Config
	assert.False(t, nilCfg.IsProduction())
	assert.True(t, (&Config{AppEnv: "production"}).IsProduction())
}
