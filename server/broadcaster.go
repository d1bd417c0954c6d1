package server

import (
	"sync"

	"feedsync/models"

	log "github.com/sirupsen/logrus"
)

type client struct {
	feed string
	ch   chan models.FeedEvent
}

// Broadcaster fans committed feed states out to SSE clients
type Broadcaster struct {
	sync.RWMutex
	clients map[string]client
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]client),
	}
}

// Broadcast never blocks. Clients that fall behind miss events but always
// receive the full item list with the next one.
func (b *Broadcaster) Broadcast(event models.FeedEvent) {
	b.RLock()
	defer b.RUnlock()

	for id, c := range b.clients {
		if c.feed != event.FeedID {
			continue
		}
		select {
		case c.ch <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping event for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key, feed string, ch chan models.FeedEvent) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client{feed: feed, ch: ch}
	log.WithFields(log.Fields{
		"key":   key,
		"feed":  feed,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if c, ok := b.clients[key]; ok {
		close(c.ch)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

// RemoveFeedClient removes key only when it is subscribed to feed.
func (b *Broadcaster) RemoveFeedClient(key, feed string) bool {
	b.Lock()
	defer b.Unlock()

	c, ok := b.clients[key]
	if !ok || c.feed != feed {
		return false
	}
	close(c.ch)
	delete(b.clients, key)
	log.WithFields(log.Fields{
		"key":   key,
		"feed":  feed,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
	return true
}

func (b *Broadcaster) Count() int {
	b.RLock()
	defer b.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, c := range b.clients {
		close(c.ch)
		delete(b.clients, key)
	}
}
