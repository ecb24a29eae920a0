package connection

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
)

// RefreshCB re-fetches one resource through the REST API. The same refresh
// entry points run whether triggered by push events or by the polling loop.
type RefreshCB func(ctxt context.Context) error

// PollingLoop the fixed-interval fallback refresh loop. Deliberately much
// sparser than the push channel; it exists so data stays recoverable after
// the channel is abandoned, not to approximate real-time delivery.
type PollingLoop interface {
	// Start begin the refresh loop
	Start() error
	// Stop halt the refresh loop
	Stop() error
}

// pollingLoopImpl implements PollingLoop
type pollingLoopImpl struct {
	common.Component
	interval         time.Duration
	refreshes        map[string]RefreshCB
	timer            common.IntervalTimer
	operationContext context.Context
}

// GetPollingLoopInstance define a new PollingLoop over a set of named
// refresh functions
func GetPollingLoopInstance(
	instance string,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
	interval time.Duration,
	refreshes map[string]RefreshCB,
) (PollingLoop, error) {
	logTags := log.Fields{
		"module": "connection", "component": "polling-loop", "instance": instance,
	}
	timer, err := common.GetIntervalTimerInstance("polling-fallback", rootCtxt, wg)
	if err != nil {
		return nil, err
	}
	return &pollingLoopImpl{
		Component:        common.Component{LogTags: logTags},
		interval:         interval,
		refreshes:        refreshes,
		timer:            timer,
		operationContext: rootCtxt,
	}, nil
}

// Start begin the refresh loop
func (p *pollingLoopImpl) Start() error {
	log.WithFields(p.LogTags).Infof(
		"Starting fallback refresh of %d resource(s) every %s", len(p.refreshes), p.interval,
	)
	return p.timer.Start(p.interval, p.refreshAll, false)
}

// Stop halt the refresh loop
func (p *pollingLoopImpl) Stop() error {
	return p.timer.Stop()
}

// refreshAll run every registered refresh. A failing resource is logged and
// skipped; the loop itself never stops on refresh errors.
func (p *pollingLoopImpl) refreshAll() error {
	for name, refresh := range p.refreshes {
		if err := refresh(p.operationContext); err != nil {
			log.WithError(err).WithFields(p.LogTags).Errorf("Refresh of '%s' failed", name)
		} else {
			log.WithFields(p.LogTags).Debugf("Refreshed '%s'", name)
		}
	}
	return nil
}
