package common

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
)

// TimeoutHandler handler callback on timeout
type TimeoutHandler func() error

// IntervalTimer support class for triggering events at specific intervals
type IntervalTimer interface {
	Start(interval time.Duration, handler TimeoutHandler, oneShot bool) error
	Stop() error
}

// intervalTimerImpl implements IntervalTimer
type intervalTimerImpl struct {
	Component
	rootContext      context.Context
	operationContext context.Context
	contextCancel    context.CancelFunc
	wg               *sync.WaitGroup
}

// GetIntervalTimerInstance create new interval timer instance
func GetIntervalTimerInstance(
	name string, rootCtxt context.Context, wg *sync.WaitGroup,
) (IntervalTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "interval-timer", "instance": name,
	}
	return &intervalTimerImpl{
		Component:        Component{LogTags: logTags},
		rootContext:      rootCtxt,
		operationContext: nil,
		contextCancel:    nil,
		wg:               wg,
	}, nil
}

// Start start the interval timer
func (t *intervalTimerImpl) Start(
	interval time.Duration, handler TimeoutHandler, oneShot bool,
) error {
	log.WithFields(t.LogTags).Infof("Starting with int %s", interval)
	t.wg.Add(1)
	ctxt, cancel := context.WithCancel(t.rootContext)
	t.operationContext = ctxt
	t.contextCancel = cancel
	go func() {
		defer t.wg.Done()
		defer log.WithFields(t.LogTags).Info("Timer loop exiting")
		finished := false
		for !finished {
			select {
			case <-t.operationContext.Done():
				finished = true
			case <-time.After(interval):
				log.WithFields(t.LogTags).Debug("Calling handler")
				if err := handler(); err != nil {
					log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
				}
				if oneShot {
					return
				}
			}
		}
	}()
	return nil
}

// Stop stop the interval timer
func (t *intervalTimerImpl) Stop() error {
	if t.contextCancel != nil {
		log.WithFields(t.LogTags).Info("Stopping timer loop")
		t.contextCancel()
	}
	return nil
}

// ==============================================================================

// ResettableTimer a one-shot timer handle where re-arming first cancels any
// pending fire. At most one fire can be outstanding at a time; "clear pending
// timer before starting a new one" is part of this contract.
type ResettableTimer interface {
	// Restart cancel any pending fire and arm the timer for delay from now
	Restart(delay time.Duration, handler TimeoutHandler) error
	// Cancel clear any pending fire
	Cancel() error
}

// resettableTimerImpl implements ResettableTimer
type resettableTimerImpl struct {
	Component
	rootContext context.Context
	timer       *time.Timer
	lock        *sync.Mutex
}

// GetResettableTimerInstance create new resettable timer instance
func GetResettableTimerInstance(
	name string, rootCtxt context.Context,
) (ResettableTimer, error) {
	logTags := log.Fields{
		"module": "common", "component": "resettable-timer", "instance": name,
	}
	return &resettableTimerImpl{
		Component:   Component{LogTags: logTags},
		rootContext: rootCtxt,
		timer:       nil,
		lock:        &sync.Mutex{},
	}, nil
}

// Restart cancel any pending fire and arm the timer for delay from now
func (t *resettableTimerImpl) Restart(delay time.Duration, handler TimeoutHandler) error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil {
		t.timer.Stop()
	}
	log.WithFields(t.LogTags).Debugf("Armed for %s", delay)
	t.timer = time.AfterFunc(delay, func() {
		if t.rootContext.Err() != nil {
			log.WithFields(t.LogTags).Debug("Skipping fire on stopped context")
			return
		}
		if err := handler(); err != nil {
			log.WithError(err).WithFields(t.LogTags).Error("Handler failed")
		}
	})
	return nil
}

// Cancel clear any pending fire
func (t *resettableTimerImpl) Cancel() error {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
		log.WithFields(t.LogTags).Debug("Cleared pending fire")
	}
	return nil
}
