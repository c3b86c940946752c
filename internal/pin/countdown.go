package pin

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Countdown counts whole seconds down to zero. While it is above zero the PIN
// is live and resending is on cooldown.
type Countdown struct {
	mu        sync.Mutex
	total     int
	remaining int
	onChange  func(remaining int)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewCountdown starts at ttl rounded down to whole seconds, minimum one.
func NewCountdown(ttl time.Duration, onChange func(remaining int)) *Countdown {
	total := int(ttl / time.Second)
	if total < 1 {
		total = 1
	}
	return &Countdown{total: total, remaining: total, onChange: onChange}
}

// Tick removes one second and returns what is left. It stops at zero.
func (c *Countdown) Tick() int {
	c.mu.Lock()
	if c.remaining > 0 {
		c.remaining--
	}
	left := c.remaining
	onChange := c.onChange
	c.mu.Unlock()

	if onChange != nil {
		onChange(left)
	}
	return left
}

// Remaining is the number of seconds left.
func (c *Countdown) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// Total is the full duration in seconds.
func (c *Countdown) Total() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// Expired reports whether the countdown reached zero.
func (c *Countdown) Expired() bool { return c.Remaining() == 0 }

// Reset restores the full duration. It does not notify onChange.
func (c *Countdown) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remaining = c.total
}

// Run ticks every interval on a background goroutine until ctx is done or
// Stop is called. Calling Run again replaces the previous driver.
func (c *Countdown) Run(ctx context.Context, interval time.Duration) {
	c.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	c.mu.Lock()
	c.cancel = cancel
	c.done = done
	c.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.Tick() == 0 {
					return
				}
			}
		}
	}()
}

// Stop halts the driver started by Run and waits for it to exit, so no tick
// callback fires after Stop returns.
func (c *Countdown) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
}

// Running reports whether a Run driver is active.
func (c *Countdown) Running() bool {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds int) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
