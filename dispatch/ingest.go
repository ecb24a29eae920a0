package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// Ingestor absorbs bursts of inbound events without flooding subscribers
// with per-event churn. Accepted events accumulate in an ordered queue which
// is drained as one batch when the debounce window elapses with no new
// arrivals.
//
// The window is a true debounce: every accepted event re-arms the flush
// timer, so a sustained event stream delays flushing indefinitely. That
// matches the observed production behavior and is deliberate.
type Ingestor interface {
	// OnEvent ingest one received envelope
	OnEvent(ctxt context.Context, envelope events.Envelope) error
	// Flush drain the queue immediately through the normal dispatch path
	Flush(ctxt context.Context) error
	// Pending report the number of queued events
	Pending() int
	// LastEventTime report the staleness high-water mark
	LastEventTime() time.Time
}

// ingestorImpl implements Ingestor
type ingestorImpl struct {
	common.Component
	window        time.Duration
	queue         []events.InboundEvent
	lastEventTime time.Time
	timer         common.ResettableTimer
	dispatcher    GroupDispatcher
	// The queue and high-water mark are touched from the transport read
	// goroutine and the flush timer goroutine
	lock             *sync.Mutex
	operationContext context.Context
}

// GetIngestorInstance define a new event Ingestor flushing into dispatcher
func GetIngestorInstance(
	instance string,
	rootCtxt context.Context,
	window time.Duration,
	dispatcher GroupDispatcher,
) (Ingestor, error) {
	logTags := log.Fields{
		"module": "dispatch", "component": "event-ingest", "instance": instance,
	}
	timer, err := common.GetResettableTimerInstance(
		"event-ingest-flush", rootCtxt,
	)
	if err != nil {
		return nil, err
	}
	return &ingestorImpl{
		Component:        common.Component{LogTags: logTags},
		window:           window,
		queue:            nil,
		lastEventTime:    time.Time{},
		timer:            timer,
		dispatcher:       dispatcher,
		lock:             &sync.Mutex{},
		operationContext: rootCtxt,
	}, nil
}

// OnEvent ingest one received envelope
func (i *ingestorImpl) OnEvent(ctxt context.Context, envelope events.Envelope) error {
	event := events.NewInboundEvent(envelope, time.Now())

	i.lock.Lock()
	if i.isStale(event) {
		i.lock.Unlock()
		log.WithFields(i.LogTags).Debugf("Dropping stale event %s", event)
		return nil
	}
	if event.EntityUpdatedAt != nil && event.EntityUpdatedAt.After(i.lastEventTime) {
		i.lastEventTime = *event.EntityUpdatedAt
	}
	i.queue = append(i.queue, event)
	queued := len(i.queue)
	i.lock.Unlock()

	log.WithFields(i.LogTags).Debugf("Queued event %s (%d pending)", event, queued)
	// Re-arming replaces any pending flush: the window restarts on each event
	return i.timer.Restart(i.window, i.drain)
}

// isStale an event describing a state older than the high-water mark is
// superseded by data the client already holds. Must hold i.lock.
func (i *ingestorImpl) isStale(event events.InboundEvent) bool {
	if event.EntityUpdatedAt == nil {
		return false
	}
	return event.EntityUpdatedAt.Before(i.lastEventTime)
}

// drain swap the queue for an empty one and hand the batch to the dispatcher.
// Events arriving during dispatch begin a new queue / timer cycle.
func (i *ingestorImpl) drain() error {
	i.lock.Lock()
	batch := i.queue
	i.queue = nil
	i.lock.Unlock()
	if len(batch) == 0 {
		return nil
	}
	log.WithFields(i.LogTags).Debugf("Dispatching batch of %d", len(batch))
	i.dispatcher.DispatchBatch(i.operationContext, batch)
	return nil
}

// Flush drain the queue immediately through the normal dispatch path
func (i *ingestorImpl) Flush(ctxt context.Context) error {
	if err := i.timer.Cancel(); err != nil {
		log.WithError(err).WithFields(i.LogTags).Error("Unable to clear flush timer")
	}
	return i.drain()
}

// Pending report the number of queued events
func (i *ingestorImpl) Pending() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return len(i.queue)
}

// LastEventTime report the staleness high-water mark
func (i *ingestorImpl) LastEventTime() time.Time {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.lastEventTime
}
