package memory

import (
	"sync/atomic"
	"time"
)

// ServerClock holds the latest server timestamp from timeSync frames.
type ServerClock struct {
	ms atomic.Int64
}

// Set stores a server timestamp in unix milliseconds.
func (c *ServerClock) Set(ms int64) { c.ms.Store(ms) }

// Millis returns the last server timestamp, 0 before the first sync.
func (c *ServerClock) Millis() int64 { return c.ms.Load() }

// Time returns the last server time, the zero time before the first sync.
func (c *ServerClock) Time() time.Time {
	ms := c.ms.Load()
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
