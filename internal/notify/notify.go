// Package notify keeps transient, self-dismissing user notifications.
package notify

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// DefaultTTL is how long a notification stays visible.
const DefaultTTL = 2 * time.Second

// Kind distinguishes success from failure notifications.
type Kind string

// Notification kinds
const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
)

// Notification is one visible message.
type Notification struct {
	ID        string
	Kind      Kind
	Message   string
	Reason    string // Only set for failures
	CreatedAt time.Time
}

// Sender delivers notifications somewhere outside the Center, e.g. a log or terminal.
type Sender interface {
	Send(n Notification) error
}

// Center tracks live notifications. Each one expires on its own timer, so
// notifications coexist and never cancel each other.
type Center struct {
	ttl    time.Duration
	sender Sender

	mu     sync.Mutex
	seq    uint64
	order  map[string]uint64 // insertion sequence, breaks CreatedAt ties
	active map[string]Notification
	timers map[string]*time.Timer
	closed bool
}

// NewCenter returns a Center whose notifications live for ttl.
// sender may be nil.
func NewCenter(ttl time.Duration, sender Sender) *Center {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Center{
		ttl:    ttl,
		sender: sender,
		order:  make(map[string]uint64),
		active: make(map[string]Notification),
		timers: make(map[string]*time.Timer),
	}
}

// Success shows a success notification.
func (c *Center) Success(message string) Notification {
	return c.show(KindSuccess, message, "")
}

// Failure shows a failure notification carrying a human-readable reason.
func (c *Center) Failure(message, reason string) Notification {
	return c.show(KindError, message, reason)
}

func (c *Center) show(kind Kind, message, reason string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Kind:      kind,
		Message:   message,
		Reason:    reason,
		CreatedAt: time.Now(),
	}

	c.mu.Lock()
	if !c.closed {
		c.seq++
		c.order[n.ID] = c.seq
		c.active[n.ID] = n
		c.timers[n.ID] = time.AfterFunc(c.ttl, func() { c.dismiss(n.ID) })
	}
	c.mu.Unlock()

	if c.sender != nil {
		if err := c.sender.Send(n); err != nil {
			log.WithError(err).Warn("Failed to deliver notification")
		}
	}
	return n
}

// Dismiss removes a notification before its timer fires.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	if t, ok := c.timers[id]; ok {
		t.Stop()
	}
	c.mu.Unlock()
	c.dismiss(id)
}

func (c *Center) dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
	delete(c.order, id)
	delete(c.timers, id)
}

// Active returns the visible notifications, oldest first.
func (c *Center) Active() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, 0, len(c.active))
	for _, n := range c.active {
		out = append(out, n)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return c.order[out[i].ID] < c.order[out[j].ID]
	})
	return out
}

// Close stops all timers and drops every notification.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.active = make(map[string]Notification)
	c.order = make(map[string]uint64)
	c.closed = true
}

// LogSender writes notifications through logrus.
type LogSender struct{}

// Send implements Sender.
func (LogSender) Send(n Notification) error {
	entry := log.WithField("notification", n.ID)
	if n.Kind == KindError {
		entry.WithField("reason", n.Reason).Warn(n.Message)
		return nil
	}
	entry.Info(n.Message)
	return nil
}
