package health

import (
	"math/rand"
	"time"

	"github.com/energizer-project/rconsole/internal/config"
)

// ReconnectConfig holds reconnection parameters.
type ReconnectConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the fraction of each delay that is randomized, 0 to 1.
	Jitter float64
}

// DefaultReconnectConfig returns the watchdog defaults: 1s doubling up to
// a minute, with 20% jitter.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.2,
	}
}

// ReconnectConfigFromTimers reads the backoff settings from the timers
// section. Zero delays and a multiplier below 1 keep the defaults; a zero
// jitter turns jitter off.
func ReconnectConfigFromTimers(t config.TimerConfig) ReconnectConfig {
	rc := DefaultReconnectConfig()
	if t.ReconnectInitialDelay > 0 {
		rc.InitialDelay = time.Duration(t.ReconnectInitialDelay) * time.Second
	}
	if t.ReconnectMaxDelay > 0 {
		rc.MaxDelay = time.Duration(t.ReconnectMaxDelay) * time.Second
	}
	if t.ReconnectMultiplier >= 1 {
		rc.Multiplier = t.ReconnectMultiplier
	}
	if t.ReconnectJitter >= 0 && t.ReconnectJitter <= 1 {
		rc.Jitter = t.ReconnectJitter
	}
	return rc
}

// Backoff produces the delays between reconnect attempts for one profile.
type Backoff struct {
	cfg     ReconnectConfig
	delay   time.Duration
	attempt int
	rnd     func() float64
}

// NewBackoff creates a backoff in its initial state.
func NewBackoff(cfg ReconnectConfig) *Backoff {
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = time.Second
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		cfg.MaxDelay = cfg.InitialDelay
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = 1
	}
	return &Backoff{cfg: cfg, delay: cfg.InitialDelay, rnd: rand.Float64}
}

// Next returns the delay before the next attempt and advances the
// sequence.
func (b *Backoff) Next() time.Duration {
	b.attempt++
	d := b.delay

	b.delay = time.Duration(float64(b.delay) * b.cfg.Multiplier)
	if b.delay > b.cfg.MaxDelay {
		b.delay = b.cfg.MaxDelay
	}

	if b.cfg.Jitter > 0 {
		// Spread d over [d*(1-j), d*(1+j)).
		spread := float64(d) * b.cfg.Jitter
		d = time.Duration(float64(d) - spread + 2*spread*b.rnd())
	}
	return d
}

// Max jumps straight to the largest delay, for failures that are not
// going to fix themselves quickly.
func (b *Backoff) Max() time.Duration {
	b.delay = b.cfg.MaxDelay
	return b.Next()
}

// Attempt returns how many delays have been handed out since the last
// Reset.
func (b *Backoff) Attempt() int {
	return b.attempt
}

// Reset returns to the initial delay after a successful connect.
func (b *Backoff) Reset() {
	b.attempt = 0
	b.delay = b.cfg.InitialDelay
}
