// Package notify keeps the short, dismissible messages shown to the user
// about work that finished in the background.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Level is the severity of a notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is one message for one owner.
type Notification struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"ownerId,omitempty"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// DefaultCapacity bounds how many notifications are kept per owner.
const DefaultCapacity = 50

// Center stores notifications per owner, oldest dropped first once the
// capacity is reached. It is safe for concurrent use.
type Center struct {
	mu       sync.Mutex
	byOwner  map[string][]Notification
	capacity int
	now      func() time.Time
}

func NewCenter() *Center {
	return &Center{
		byOwner:  make(map[string][]Notification),
		capacity: DefaultCapacity,
		now:      time.Now,
	}
}

// Push records a notification and returns it.
func (c *Center) Push(ownerID string, level Level, message string) Notification {
	n := Notification{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Level:     level,
		Message:   message,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	list := append(c.byOwner[ownerID], n)
	if len(list) > c.capacity {
		list = list[len(list)-c.capacity:]
	}
	c.byOwner[ownerID] = list
	return n
}

func (c *Center) Info(ownerID, message string) Notification {
	return c.Push(ownerID, LevelInfo, message)
}

func (c *Center) Warn(ownerID, message string) Notification {
	return c.Push(ownerID, LevelWarning, message)
}

func (c *Center) Error(ownerID, message string) Notification {
	return c.Push(ownerID, LevelError, message)
}

// List returns the owner's notifications, oldest first.
func (c *Center) List(ownerID string) []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Notification, len(c.byOwner[ownerID]))
	copy(out, c.byOwner[ownerID])
	return out
}

// Dismiss removes one notification. It reports false if id is unknown.
func (c *Center) Dismiss(ownerID, id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.byOwner[ownerID]
	for i := range list {
		if list[i].ID == id {
			c.byOwner[ownerID] = append(list[:i:i], list[i+1:]...)
			return true
		}
	}
	return false
}

// Clear drops every notification for owner.
func (c *Center) Clear(ownerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.byOwner, ownerID)
}
