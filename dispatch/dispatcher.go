// Package dispatch implements the client-side event pipeline: staleness
// filtering and debounce batching of received change notifications, followed
// by grouped delivery to per-type subscriber handlers.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// BatchHandlerCB callback invoked with the ordered list of one type's events
// from a drained batch, so a subscriber can apply all changes in one pass
type BatchHandlerCB func(ctxt context.Context, group []events.InboundEvent) error

// CreationNotifier receives notification side effects for new-entity events.
// Whether anything is shown is the notifier's concern (e.g. a mute
// preference); the data handlers always run regardless.
type CreationNotifier interface {
	NotifyEntityCreated(count int)
}

// EventRecorder receives every dispatched event for the diagnostics surface
type EventRecorder interface {
	RecordEvent(event events.InboundEvent)
}

// GroupDispatcher groups a drained batch by event type and invokes exactly
// one registered handler per represented type
type GroupDispatcher interface {
	// RegisterHandler bind the one handler for an event type
	RegisterHandler(eventType string, handler BatchHandlerCB) error
	// DispatchBatch deliver one drained batch to the registered handlers.
	//
	// Within a type group the original arrival order is preserved. The order
	// in which different type groups are delivered is NOT a contract;
	// subscribers must not rely on it.
	DispatchBatch(ctxt context.Context, batch []events.InboundEvent)
}

// groupDispatcherImpl implements GroupDispatcher
type groupDispatcherImpl struct {
	common.Component
	handlers map[string]BatchHandlerCB
	notifier CreationNotifier
	recorder EventRecorder
	lock     *sync.Mutex
}

// GetGroupDispatcherInstance define a new GroupDispatcher. The notifier and
// recorder are optional.
func GetGroupDispatcherInstance(
	instance string, notifier CreationNotifier, recorder EventRecorder,
) (GroupDispatcher, error) {
	logTags := log.Fields{
		"module": "dispatch", "component": "group-dispatcher", "instance": instance,
	}
	return &groupDispatcherImpl{
		Component: common.Component{LogTags: logTags},
		handlers:  make(map[string]BatchHandlerCB),
		notifier:  notifier,
		recorder:  recorder,
		lock:      &sync.Mutex{},
	}, nil
}

// RegisterHandler bind the one handler for an event type
func (d *groupDispatcherImpl) RegisterHandler(eventType string, handler BatchHandlerCB) error {
	d.lock.Lock()
	defer d.lock.Unlock()
	if _, ok := d.handlers[eventType]; ok {
		err := fmt.Errorf("handler already registered for '%s'", eventType)
		log.WithError(err).WithFields(d.LogTags).Error("Unable to register handler")
		return err
	}
	d.handlers[eventType] = handler
	log.WithFields(d.LogTags).Infof("Registered handler for '%s'", eventType)
	return nil
}

// DispatchBatch deliver one drained batch to the registered handlers
func (d *groupDispatcherImpl) DispatchBatch(ctxt context.Context, batch []events.InboundEvent) {
	if len(batch) == 0 {
		return
	}
	// Stable partition by type; arrival order survives within each group
	groups := make(map[string][]events.InboundEvent)
	for _, event := range batch {
		groups[event.Type] = append(groups[event.Type], event)
		if d.recorder != nil {
			d.recorder.RecordEvent(event)
		}
	}
	for eventType, group := range groups {
		handler, ok := d.lookupHandler(eventType)
		if !ok {
			// Forward compatible with server-side additions
			log.WithFields(d.LogTags).Infof(
				"Dropping %d event(s) of unknown type '%s'", len(group), eventType,
			)
			continue
		}
		if err := d.invokeHandler(ctxt, handler, group); err != nil {
			log.WithError(err).WithFields(d.LogTags).Errorf(
				"Handler for '%s' failed on %d event(s)", eventType, len(group),
			)
		}
		if eventType == events.TypeEntityCreated && d.notifier != nil {
			d.notifier.NotifyEntityCreated(len(group))
		}
	}
}

func (d *groupDispatcherImpl) lookupHandler(eventType string) (BatchHandlerCB, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	handler, ok := d.handlers[eventType]
	return handler, ok
}

// invokeHandler run one handler, converting a panic into an error so one
// failing subscriber cannot abort the other groups in the batch
func (d *groupDispatcherImpl) invokeHandler(
	ctxt context.Context, handler BatchHandlerCB, group []events.InboundEvent,
) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("handler panic: %v", recovered)
		}
	}()
	return handler(ctxt, group)
}
