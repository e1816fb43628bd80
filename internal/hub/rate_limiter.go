package hub

import (
	"strings"
	"sync"
	"time"
)

// RateLimiter coalesces conversation text arriving within one interval
// into a single envelope. The first Add of a window arms the timer.
type RateLimiter struct {
	mu       sync.Mutex
	texts    []string
	timer    *time.Timer
	interval time.Duration
	onFlush  func()
}

func NewRateLimiter(interval time.Duration, onFlush func()) *RateLimiter {
	return &RateLimiter{
		interval: interval,
		onFlush:  onFlush,
	}
}

func (r *RateLimiter) Add(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.texts = append(r.texts, text)
	if r.timer == nil {
		r.timer = time.AfterFunc(r.interval, func() {
			if r.onFlush != nil {
				r.onFlush()
			}
		})
	}
}

// Take returns and clears everything pending.
func (r *RateLimiter) Take() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if len(r.texts) == 0 {
		return ""
	}
	text := strings.Join(r.texts, "")
	r.texts = nil
	return text
}

func (r *RateLimiter) Pending() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.texts) > 0
}
