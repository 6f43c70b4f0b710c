package realtime

import "sync"

const defaultSendQueueSize = 16

// Client is one live channel of a user.
//
// Send is never closed by the server, so concurrent fanout cannot panic.
// Close signals the connection goroutines through Done and is idempotent.
type Client struct {
	Handle    string
	UserID    string
	DeviceKey string
	Send      chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewClient(handle, userID, deviceKey string, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = defaultSendQueueSize
	}
	return &Client{
		Handle:    handle,
		UserID:    userID,
		DeviceKey: deviceKey,
		Send:      make(chan Event, sendQueueSize),
		done:      make(chan struct{}),
	}
}

// Done is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
