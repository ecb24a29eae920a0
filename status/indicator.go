// Package status implements the small user-facing surface of the live-update
// client: the connection state indicator, the bounded developer diagnostics
// log, notification toasts, and the persisted mute preference.
package status

import (
	"sync"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/connection"
)

// RenderedState the fixed label and visual treatment of one indicator state
type RenderedState struct {
	// Label is the indicator text
	Label string `json:"label"`
	// Treatment is the visual class applied to the indicator
	Treatment string `json:"treatment"`
}

// renderTable exactly three renderable states
var renderTable = map[connection.ConnectionState]RenderedState{
	connection.StateConnected:    {Label: "Live updates on", Treatment: "ok"},
	connection.StateDisconnected: {Label: "Reconnecting...", Treatment: "warn"},
	connection.StatePolling:      {Label: "Periodic refresh", Treatment: "muted"},
}

// RenderListenerCB callback handed the rendered indicator on every transition
type RenderListenerCB func(state connection.ConnectionState, rendered RenderedState)

// Indicator the always-visible connection state indicator. Transitions apply
// immediately; there is no debouncing.
type Indicator interface {
	// SetState apply a state transition
	SetState(state connection.ConnectionState)
	// CurrentState report the displayed state
	CurrentState() connection.ConnectionState
	// Rendered report the displayed label and treatment
	Rendered() RenderedState
}

// indicatorImpl implements Indicator
type indicatorImpl struct {
	common.Component
	state    connection.ConnectionState
	listener RenderListenerCB
	lock     *sync.Mutex
}

// GetIndicatorInstance define a new state Indicator. The listener is optional.
func GetIndicatorInstance(instance string, listener RenderListenerCB) (Indicator, error) {
	logTags := log.Fields{
		"module": "status", "component": "indicator", "instance": instance,
	}
	return &indicatorImpl{
		Component: common.Component{LogTags: logTags},
		state:     connection.StateDisconnected,
		listener:  listener,
		lock:      &sync.Mutex{},
	}, nil
}

// SetState apply a state transition
func (i *indicatorImpl) SetState(state connection.ConnectionState) {
	rendered := renderTable[state]
	i.lock.Lock()
	i.state = state
	i.lock.Unlock()
	log.WithFields(i.LogTags).Infof("Status now '%s'", rendered.Label)
	if i.listener != nil {
		i.listener(state, rendered)
	}
}

// CurrentState report the displayed state
func (i *indicatorImpl) CurrentState() connection.ConnectionState {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.state
}

// Rendered report the displayed label and treatment
func (i *indicatorImpl) Rendered() RenderedState {
	i.lock.Lock()
	defer i.lock.Unlock()
	return renderTable[i.state]
}
