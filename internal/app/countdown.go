package app

import (
	"sync"
	"time"
)

// DefaultCountdown is how long a rate-limited session waits before it may submit
// again.
const DefaultCountdown = 60 * time.Second

// Countdown ticks down once per tick on its own goroutine and calls onExpire when
// it reaches zero. A stopped countdown never calls onExpire.
type Countdown struct {
	mu        sync.Mutex
	remaining int
	stopped   bool
	stop      chan struct{}
	onExpire  func()
}

// StartCountdown begins a countdown of the given whole seconds, decremented every
// tick.
func StartCountdown(seconds int, tick time.Duration, onExpire func()) *Countdown {
	if tick <= 0 {
		tick = time.Second
	}
	c := &Countdown{
		remaining: seconds,
		stop:      make(chan struct{}),
		onExpire:  onExpire,
	}
	if seconds <= 0 {
		c.stopped = true
		if onExpire != nil {
			go onExpire()
		}
		return c
	}
	go c.run(tick)
	return c
}

// Remaining returns the seconds left; zero once expired or stopped.
func (c *Countdown) Remaining() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return 0
	}
	return c.remaining
}

// Active reports whether the countdown is still running.
func (c *Countdown) Active() bool {
	return c.Remaining() > 0
}

// Stop cancels the countdown. It is safe to call more than once.
func (c *Countdown) Stop() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	close(c.stop)
}

func (c *Countdown) run(tick time.Duration) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.mu.Lock()
			if c.stopped {
				c.mu.Unlock()
				return
			}
			c.remaining--
			expired := c.remaining <= 0
			if expired {
				c.remaining = 0
				c.stopped = true
				close(c.stop)
			}
			c.mu.Unlock()

			if expired {
				if c.onExpire != nil {
					c.onExpire()
				}
				return
			}
		}
	}
}
