package outbox_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/relay/core/config"
	"github.com/dmitrymomot/relay/core/outbox"
)

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "7")
	t.Setenv("OUTBOX_DISPATCH_INTERVAL", "2s")

	var cfg outbox.Config
	require.NoError(t, config.Parse(&cfg))

	want := outbox.DefaultConfig()
	want.MaxAttempts = 7
	want.DispatchInterval = 2 * time.Second
	assert.Equal(t, want, cfg)
}
