package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoffDoubles(t *testing.T) {
	cfg := backoffConfig{Initial: time.Second, Multiplier: 2, Max: 5 * time.Minute}

	assert.Equal(t, time.Second, cfg.nextDelay(0, 0.5))
	assert.Equal(t, 2*time.Second, cfg.nextDelay(1, 0.5))
	assert.Equal(t, 32*time.Second, cfg.nextDelay(5, 0.5))
}

func TestBackoffCapsAtMax(t *testing.T) {
	cfg := backoffConfig{Initial: time.Second, Multiplier: 2, Max: 5 * time.Minute}
	assert.Equal(t, 5*time.Minute, cfg.nextDelay(20, 0.5))
}

func TestBackoffJitterBounds(t *testing.T) {
	// The worker runs with 0.5 jitter, spreading each delay across
	// 0.5x..1.5x of its nominal value.
	cfg := backoffConfig{Initial: time.Second, Multiplier: 2, Jitter: 0.5, Max: 5 * time.Minute}

	low := cfg.nextDelay(0, 0)  // rng 0 pulls the full jitter down
	high := cfg.nextDelay(0, 1) // rng 1 pushes it up
	assert.Equal(t, 500*time.Millisecond, low)
	assert.Equal(t, 1500*time.Millisecond, high)
}

func TestBackoffDefaults(t *testing.T) {
	var cfg backoffConfig
	assert.Equal(t, time.Second, cfg.nextDelay(0, 0.5))
	assert.Equal(t, 2*time.Second, cfg.nextDelay(1, 0.5))
	assert.Equal(t, time.Second, cfg.nextDelay(-3, 0.5), "negative attempts clamp to zero")
}
