package notify

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSender struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (c *captureSender) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, n)
	return c.err
}

func TestNotificationsCoexistAndExpire(t *testing.T) {
	sender := &captureSender{}
	c := NewCenter(200*time.Millisecond, sender)
	defer c.Close()

	ok := c.Success("Image collected to ClipNest")
	time.Sleep(time.Millisecond)
	bad := c.Failure("Collect failed, please retry", "already collected")

	active := c.Active()
	require.Len(t, active, 2)
	assert.Equal(t, ok.ID, active[0].ID)
	assert.Equal(t, KindSuccess, active[0].Kind)
	assert.Equal(t, bad.ID, active[1].ID)
	assert.Equal(t, KindError, active[1].Kind)
	assert.Equal(t, "already collected", active[1].Reason)
	assert.NotEqual(t, ok.ID, bad.ID)

	require.Eventually(t, func() bool { return len(c.Active()) == 0 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sender.sent, 2)
}

func TestActiveKeepsShowOrder(t *testing.T) {
	c := NewCenter(time.Minute, nil)
	defer c.Close()

	var shown []string
	for i := 0; i < 50; i++ {
		shown = append(shown, c.Success(fmt.Sprintf("collected %d", i)).ID)
	}

	var got []string
	for _, n := range c.Active() {
		got = append(got, n.ID)
	}
	assert.Equal(t, shown, got, "notifications shown in the same instant keep their order")
}

func TestNotificationsHaveIndependentTimers(t *testing.T) {
	c := NewCenter(200*time.Millisecond, nil)
	defer c.Close()

	first := c.Success("first")
	time.Sleep(100 * time.Millisecond)
	second := c.Success("second")

	require.Eventually(t, func() bool {
		active := c.Active()
		return len(active) == 1 && active[0].ID == second.ID
	}, time.Second, 5*time.Millisecond, "first should expire while second is still shown")
	assert.NotEqual(t, first.ID, second.ID)

	require.Eventually(t, func() bool { return len(c.Active()) == 0 }, time.Second, 5*time.Millisecond)
}

func TestDismissAndClose(t *testing.T) {
	c := NewCenter(time.Hour, nil)

	n := c.Failure("nope", "reason")
	c.Success("kept")
	c.Dismiss(n.ID)
	require.Len(t, c.Active(), 1)
	assert.Equal(t, "kept", c.Active()[0].Message)

	c.Close()
	assert.Empty(t, c.Active())

	c.Success("after close")
	assert.Empty(t, c.Active(), "closed center keeps nothing")
}

func TestSenderErrorIsNotFatal(t *testing.T) {
	c := NewCenter(time.Hour, &captureSender{err: errors.New("no display")})
	defer c.Close()

	c.Success("still shown")
	assert.Len(t, c.Active(), 1)
}

func TestDefaultTTL(t *testing.T) {
	c := NewCenter(0, LogSender{})
	defer c.Close()
	assert.Equal(t, DefaultTTL, c.ttl)
}
