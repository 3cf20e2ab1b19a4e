// Package throttle paces real sends: an hourly ceiling enforced with a fixed
// cooldown, plus a random pause before every send.
package throttle

import (
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultCooldown is applied whenever the observed hourly rate exceeds the
// ceiling. It does not depend on the configured rate.
const DefaultCooldown = 30 * time.Second

// Options customises a Throttle. Zero values select real time, a
// randomly seeded source and DefaultCooldown.
type Options struct {
	Cooldown time.Duration
	Rand     *rand.Rand
	Now      func() time.Time
	Sleep    func(ctx context.Context, d time.Duration) error
	Logger   *log.Logger
	Out      io.Writer
}

// Throttle tracks sends for the current session
type Throttle struct {
	rate     int
	minDelay int
	maxDelay int
	cooldown time.Duration
	rnd      *rand.Rand
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
	logger   *log.Logger
	out      io.Writer

	start time.Time
	sent  int
}

// New creates a throttle allowing rate sends per hour and pausing between
// minDelay and maxDelay seconds (inclusive) before each send.
func New(rate, minDelay, maxDelay int, opts Options) *Throttle {
	if maxDelay < minDelay {
		minDelay, maxDelay = maxDelay, minDelay
	}

	t := &Throttle{
		rate:     rate,
		minDelay: minDelay,
		maxDelay: maxDelay,
		cooldown: opts.Cooldown,
		rnd:      opts.Rand,
		now:      opts.Now,
		sleep:    opts.Sleep,
		logger:   opts.Logger,
		out:      opts.Out,
	}
	if t.cooldown <= 0 {
		t.cooldown = DefaultCooldown
	}
	if t.rnd == nil {
		t.rnd = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if t.now == nil {
		t.now = time.Now
	}
	if t.sleep == nil {
		t.sleep = sleepWithContext
	}
	t.start = t.now()
	return t
}

// Wait blocks before a send: first for the cooldown when the hourly rate
// is over the ceiling, then for a random delay.
func (t *Throttle) Wait(ctx context.Context) error {
	if t.overLimit() {
		seconds := t.cooldown.Seconds()
		if t.out != nil {
			fmt.Fprintf(t.out, "Rate limit reached. Waiting %.1f seconds...\n", seconds)
		}
		if t.logger != nil {
			t.logger.Info("Rate limit reached", "wait", t.cooldown)
		}
		if err := t.sleep(ctx, t.cooldown); err != nil {
			return err
		}
	}

	return t.sleep(ctx, t.Delay())
}

// Delay draws one inter-send pause
func (t *Throttle) Delay() time.Duration {
	seconds := t.minDelay + t.rnd.IntN(t.maxDelay-t.minDelay+1)
	return time.Duration(seconds) * time.Second
}

// Record counts a successful send
func (t *Throttle) Record() {
	t.sent++
}

// Sent returns the number of recorded sends
func (t *Throttle) Sent() int {
	return t.sent
}

// Rate returns the observed sends per hour since the session started
func (t *Throttle) Rate() float64 {
	hours := t.now().Sub(t.start).Hours()
	if hours <= 0 {
		return 0
	}
	return float64(t.sent) / hours
}

func (t *Throttle) overLimit() bool {
	hours := t.now().Sub(t.start).Hours()
	return hours > 0 && float64(t.sent)/hours > float64(t.rate)
}

// sleepWithContext waits for the specified duration or until the context is cancelled.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
