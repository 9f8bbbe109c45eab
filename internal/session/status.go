package session

import "sync"

// CaptureStatus tracks which items have a download or collect in flight.
// One instance lives for one submission; a resubmit or Close swaps it out,
// so late completions only ever touch a discarded map.
type CaptureStatus struct {
	mu       sync.Mutex
	inFlight map[string]bool
}

func newCaptureStatus() *CaptureStatus {
	return &CaptureStatus{inFlight: make(map[string]bool)}
}

// begin marks url busy. It reports false if url was already busy.
func (c *CaptureStatus) begin(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight[url] {
		return false
	}
	c.inFlight[url] = true
	return true
}

func (c *CaptureStatus) end(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight[url] = false
}

// InFlight reports whether url has an action pending.
func (c *CaptureStatus) InFlight(url string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight[url]
}

func (c *CaptureStatus) pending() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool)
	for url, busy := range c.inFlight {
		if busy {
			out[url] = true
		}
	}
	return out
}
