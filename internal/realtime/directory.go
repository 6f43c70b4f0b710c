package realtime

import (
	"log/slog"
	"sync"
	"time"
)

// Directory maps user ids to their live channels. A user may hold several
// channels at once, one per tab or device.
//
// Register/Deregister are safe under concurrent fanout. Fanout never blocks:
// events for a full queue are dropped.
type Directory struct {
	log *slog.Logger
	now func() time.Time

	mu    sync.RWMutex
	users map[string]map[string]*Client
}

func NewDirectory(log *slog.Logger) *Directory {
	return &Directory{
		log:   log,
		now:   time.Now,
		users: make(map[string]map[string]*Client),
	}
}

func (d *Directory) Register(c *Client) {
	if c == nil || c.UserID == "" || c.Handle == "" {
		return
	}

	d.mu.Lock()
	channels, ok := d.users[c.UserID]
	if !ok {
		channels = make(map[string]*Client)
		d.users[c.UserID] = channels
	}
	channels[c.Handle] = c
	d.mu.Unlock()

	d.log.Debug("realtime.register", slog.String("user_id", c.UserID), slog.String("handle", c.Handle))
}

// Deregister removes one channel and closes it.
func (d *Directory) Deregister(userID, handle string) {
	var c *Client

	d.mu.Lock()
	if channels, ok := d.users[userID]; ok {
		c = channels[handle]
		delete(channels, handle)
		if len(channels) == 0 {
			delete(d.users, userID)
		}
	}
	d.mu.Unlock()

	// Closed after removal so no sender still holds it.
	if c != nil {
		c.Close()
		d.log.Debug("realtime.deregister", slog.String("user_id", userID), slog.String("handle", handle))
	}
}

// SendToUser queues ev on every channel of userID and returns how many
// channels accepted it.
func (d *Directory) SendToUser(userID string, ev Event) int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	delivered := 0
	for _, c := range d.users[userID] {
		select {
		case <-c.Done():
			continue
		default:
		}

		select {
		case c.Send <- ev:
			delivered++
		default:
			d.log.Warn("realtime.drop", slog.String("user_id", userID), slog.String("handle", c.Handle), slog.String("type", ev.Type))
		}
	}
	return delivered
}

// Publish builds an event and fans it out to userID.
func (d *Directory) Publish(userID, eventType string, data any) {
	ev, err := NewEvent(eventType, data, d.now())
	if err != nil {
		d.log.Error("realtime.event", slog.String("type", eventType), slog.String("error", err.Error()))
		return
	}
	d.SendToUser(userID, ev)
}

// DisconnectUser closes the channels of userID. With a device key only the
// channels opened from that device are closed. It returns the number closed.
func (d *Directory) DisconnectUser(userID, deviceKey string) int {
	var closing []*Client

	d.mu.Lock()
	channels := d.users[userID]
	for handle, c := range channels {
		if deviceKey != "" && c.DeviceKey != deviceKey {
			continue
		}
		closing = append(closing, c)
		delete(channels, handle)
	}
	if len(channels) == 0 {
		delete(d.users, userID)
	}
	d.mu.Unlock()

	for _, c := range closing {
		c.Close()
	}
	return len(closing)
}

// Count returns the live channels of userID.
func (d *Directory) Count(userID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.users[userID])
}

// Connections returns the live channels across all users.
func (d *Directory) Connections() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := 0
	for _, channels := range d.users {
		n += len(channels)
	}
	return n
}
