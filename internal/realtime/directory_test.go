package realtime

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func isClosed(c *Client) bool {
	select {
	case <-c.Done():
		return true
	default:
		return false
	}
}

func TestDirectory_SendToUser(t *testing.T) {
	dir := NewDirectory(discardLogger())
	a := NewClient("h1", "user-1", "dev-a", 4)
	b := NewClient("h2", "user-1", "dev-b", 4)
	other := NewClient("h3", "user-2", "dev-a", 4)
	dir.Register(a)
	dir.Register(b)
	dir.Register(other)

	ev, err := NewEvent(EventWelcome, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 2, dir.SendToUser("user-1", ev))
	assert.Len(t, a.Send, 1)
	assert.Len(t, b.Send, 1)
	assert.Empty(t, other.Send)
	assert.Equal(t, 0, dir.SendToUser("nobody", ev))
}

func TestDirectory_FanoutNeverBlocks(t *testing.T) {
	dir := NewDirectory(discardLogger())
	c := NewClient("h1", "user-1", "dev", 1)
	dir.Register(c)

	ev, err := NewEvent(EventWelcome, nil, time.Now())
	require.NoError(t, err)

	assert.Equal(t, 1, dir.SendToUser("user-1", ev))
	assert.Equal(t, 0, dir.SendToUser("user-1", ev), "full queue drops")
}

func TestDirectory_SkipsClosingClients(t *testing.T) {
	dir := NewDirectory(discardLogger())
	c := NewClient("h1", "user-1", "dev", 4)
	dir.Register(c)
	c.Close()

	dir.Publish("user-1", EventWelcome, nil)
	assert.Empty(t, c.Send)
}

func TestDirectory_Deregister(t *testing.T) {
	dir := NewDirectory(discardLogger())
	c := NewClient("h1", "user-1", "dev", 4)
	dir.Register(c)
	require.Equal(t, 1, dir.Count("user-1"))

	dir.Deregister("user-1", "h1")
	assert.Equal(t, 0, dir.Count("user-1"))
	assert.True(t, isClosed(c))

	// idempotent
	dir.Deregister("user-1", "h1")
	c.Close()
}

func TestDirectory_DisconnectUser(t *testing.T) {
	dir := NewDirectory(discardLogger())
	a := NewClient("h1", "user-1", "dev-a", 4)
	b := NewClient("h2", "user-1", "dev-b", 4)
	dir.Register(a)
	dir.Register(b)

	assert.Equal(t, 1, dir.DisconnectUser("user-1", "dev-a"))
	assert.True(t, isClosed(a))
	assert.False(t, isClosed(b))
	assert.Equal(t, 1, dir.Count("user-1"))

	assert.Equal(t, 1, dir.DisconnectUser("user-1", ""))
	assert.True(t, isClosed(b))
	assert.Equal(t, 0, dir.Connections())
}

func TestDirectory_ConcurrentRegisterAndFanout(t *testing.T) {
	dir := NewDirectory(discardLogger())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			handle, err := NewID(time.Now())
			if !assert.NoError(t, err) {
				return
			}
			dir.Register(NewClient(handle, "user-1", "dev", 2))
			dir.Deregister("user-1", handle)
		}()
		go func() {
			defer wg.Done()
			dir.Publish("user-1", EventSessionRevoked, map[string]string{"deviceKey": "dev"})
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, dir.Count("user-1"))
}

func TestNewID_Sortable(t *testing.T) {
	now := time.Now()
	first, err := NewID(now)
	require.NoError(t, err)
	second, err := NewID(now.Add(time.Millisecond))
	require.NoError(t, err)

	assert.Len(t, first, 26)
	assert.Less(t, first, second)
}
