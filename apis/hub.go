// Package apis implements the development simulator server: an in-memory
// stand-in for the HandyConnect backend serving the REST resources, the push
// channel end-points, and an event injection hook for driving the client
// during development.
package apis

import (
	"sync"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// subscriberBuffer per-subscriber event buffer depth
const subscriberBuffer = 16

// EventHub fans injected events out to every connected push client
type EventHub interface {
	// Subscribe register a new push client, returning its ID and feed
	Subscribe() (string, <-chan events.Envelope)
	// Unsubscribe drop a push client
	Unsubscribe(id string)
	// Broadcast deliver one event to every connected push client
	Broadcast(envelope events.Envelope)
	// SubscriberCount report the number of connected push clients
	SubscriberCount() int
}

// eventHubImpl implements EventHub
type eventHubImpl struct {
	common.Component
	subscribers map[string]chan events.Envelope
	lock        *sync.Mutex
}

// GetEventHubInstance define a new EventHub
func GetEventHubInstance(instance string) (EventHub, error) {
	logTags := log.Fields{
		"module": "apis", "component": "event-hub", "instance": instance,
	}
	return &eventHubImpl{
		Component:   common.Component{LogTags: logTags},
		subscribers: make(map[string]chan events.Envelope),
		lock:        &sync.Mutex{},
	}, nil
}

// Subscribe register a new push client, returning its ID and feed
func (h *eventHubImpl) Subscribe() (string, <-chan events.Envelope) {
	id := uuid.New().String()
	feed := make(chan events.Envelope, subscriberBuffer)
	h.lock.Lock()
	h.subscribers[id] = feed
	h.lock.Unlock()
	log.WithFields(h.LogTags).Infof("Subscriber %s joined", id)
	return id, feed
}

// Unsubscribe drop a push client
func (h *eventHubImpl) Unsubscribe(id string) {
	h.lock.Lock()
	if feed, ok := h.subscribers[id]; ok {
		delete(h.subscribers, id)
		close(feed)
	}
	h.lock.Unlock()
	log.WithFields(h.LogTags).Infof("Subscriber %s left", id)
}

// Broadcast deliver one event to every connected push client. A slow
// subscriber with a full buffer is skipped rather than blocking the rest.
func (h *eventHubImpl) Broadcast(envelope events.Envelope) {
	h.lock.Lock()
	defer h.lock.Unlock()
	for id, feed := range h.subscribers {
		select {
		case feed <- envelope:
		default:
			log.WithFields(h.LogTags).Warnf("Dropping event for slow subscriber %s", id)
		}
	}
}

// SubscriberCount report the number of connected push clients
func (h *eventHubImpl) SubscriberCount() int {
	h.lock.Lock()
	defer h.lock.Unlock()
	return len(h.subscribers)
}
