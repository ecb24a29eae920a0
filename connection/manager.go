package connection

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/dispatch"
	"github.com/handyconnect/liveupdate/events"
	"github.com/handyconnect/liveupdate/transport"
)

// Manager owns the single push channel for the client's lifetime. All
// failure modes terminate in a state transition, a dropped event, or a log
// line; nothing here raises transport errors to callers.
type Manager interface {
	// Connect request connection establishment. Idempotent: requesting a
	// connect while connected is a no-op in effect.
	Connect(ctxt context.Context) error
	// TriggerReconnect request an immediate reconnect attempt if not already
	// connected. Used for network-online and visibility-regained signals; it
	// does not reset or bypass the backoff counter.
	TriggerReconnect(reason string)
	// GetState report the current connection state
	GetState() ConnectionState
	// RegisterRefresh bind a named resource refresh used by the polling
	// fallback. Must be called before the fallback activates.
	RegisterRefresh(name string, refresh RefreshCB) error
	// RetriesScheduled report how many reconnect timers were armed
	RetriesScheduled() int
}

// managerImpl implements Manager
type managerImpl struct {
	common.Component
	tp               common.TaskProcessor
	channelFactory   transport.ChannelFactory
	ingestor         dispatch.Ingestor
	tracker          *BackoffTracker
	reconnectTimer   common.ResettableTimer
	pollingInterval  time.Duration
	refreshes        map[string]RefreshCB
	polling          PollingLoop
	stateListener    StateListenerCB
	channel          transport.PushChannel
	abandoned        bool
	scheduledRetries int
	// state is read from arbitrary goroutines but written only on the event loop
	state     ConnectionState
	stateLock *sync.Mutex
	wg        *sync.WaitGroup
	ctxt      context.Context
}

// ManagerParams parameters for defining a connection Manager
type ManagerParams struct {
	// ChannelFactory produces opened push channels
	ChannelFactory transport.ChannelFactory
	// Ingestor receives events read off the channel
	Ingestor dispatch.Ingestor
	// Reconnect is the backoff parameterization
	Reconnect common.ReconnectConfig
	// PollingInterval is the fallback refresh period
	PollingInterval time.Duration
	// StateListener observes every state transition. Optional.
	StateListener StateListenerCB
}

// GetManagerInstance define a connection Manager and start its event loop.
// Every lifecycle transition runs on that one loop, mirroring the
// single-threaded execution model this client is faithful to.
func GetManagerInstance(
	instance string,
	rootCtxt context.Context,
	wg *sync.WaitGroup,
	params ManagerParams,
) (Manager, error) {
	logTags := log.Fields{
		"module": "connection", "component": "manager", "instance": instance,
	}
	tp, err := common.GetNewTaskProcessorInstance(
		fmt.Sprintf("connection-mgr/%s", instance), 16, rootCtxt,
	)
	if err != nil {
		return nil, err
	}
	reconnectTimer, err := common.GetResettableTimerInstance("reconnect-delay", rootCtxt)
	if err != nil {
		return nil, err
	}
	mgr := &managerImpl{
		Component:      common.Component{LogTags: logTags},
		tp:             tp,
		channelFactory: params.ChannelFactory,
		ingestor:       params.Ingestor,
		tracker: NewBackoffTracker(
			time.Millisecond*time.Duration(params.Reconnect.BaseDelay),
			time.Millisecond*time.Duration(params.Reconnect.MaxDelay),
			params.Reconnect.MaxAttempts,
		),
		reconnectTimer:   reconnectTimer,
		pollingInterval:  params.PollingInterval,
		refreshes:        make(map[string]RefreshCB),
		polling:          nil,
		stateListener:    params.StateListener,
		channel:          nil,
		abandoned:        false,
		scheduledRetries: 0,
		state:            StateDisconnected,
		stateLock:        &sync.Mutex{},
		wg:               wg,
		ctxt:             rootCtxt,
	}
	// Add handlers
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(mgrConnectRequest{}), mgr.processConnectRequest,
	); err != nil {
		return nil, err
	}
	if err := tp.AddToTaskExecutionMap(
		reflect.TypeOf(mgrChannelClosed{}), mgr.processChannelClosed,
	); err != nil {
		return nil, err
	}
	if err := tp.StartEventLoop(wg); err != nil {
		return nil, err
	}
	return mgr, nil
}

// ----------------------------------------------------------------------------------------

type mgrConnectRequest struct {
	reason string
}

type mgrChannelClosed struct {
	err error
}

// Connect request connection establishment
func (m *managerImpl) Connect(ctxt context.Context) error {
	if err := m.tp.Submit(mgrConnectRequest{reason: "connect"}, ctxt); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Failed to submit connect request")
		return err
	}
	return nil
}

// TriggerReconnect request an immediate reconnect attempt if not connected
func (m *managerImpl) TriggerReconnect(reason string) {
	if m.GetState() == StateConnected {
		log.WithFields(m.LogTags).Debugf("Ignoring '%s' trigger while connected", reason)
		return
	}
	if err := m.tp.Submit(mgrConnectRequest{reason: reason}, m.ctxt); err != nil {
		log.WithError(err).WithFields(m.LogTags).Errorf(
			"Failed to submit '%s' reconnect trigger", reason,
		)
	}
}

// GetState report the current connection state
func (m *managerImpl) GetState() ConnectionState {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	return m.state
}

// RegisterRefresh bind a named resource refresh used by the polling fallback
func (m *managerImpl) RegisterRefresh(name string, refresh RefreshCB) error {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	if _, ok := m.refreshes[name]; ok {
		return fmt.Errorf("refresh already registered for '%s'", name)
	}
	m.refreshes[name] = refresh
	return nil
}

// RetriesScheduled report how many reconnect timers were armed
func (m *managerImpl) RetriesScheduled() int {
	m.stateLock.Lock()
	defer m.stateLock.Unlock()
	return m.scheduledRetries
}

// ----------------------------------------------------------------------------------------
// Event loop handlers. Everything below runs on the task processor goroutine.

func (m *managerImpl) processConnectRequest(param interface{}) error {
	request, ok := param.(mgrConnectRequest)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for connect request", reflect.TypeOf(param),
		)
	}
	m.processConnect(request.reason)
	return nil
}

func (m *managerImpl) processChannelClosed(param interface{}) error {
	request, ok := param.(mgrChannelClosed)
	if !ok {
		return fmt.Errorf(
			"can not process unknown type %s for channel closed", reflect.TypeOf(param),
		)
	}
	log.WithError(request.err).WithFields(m.LogTags).Warn("Push channel lost")
	m.handleChannelFailure()
	return nil
}

// processConnect attempt to establish the push channel
func (m *managerImpl) processConnect(reason string) {
	if m.abandoned {
		log.WithFields(m.LogTags).Debugf("Ignoring '%s': push channel abandoned", reason)
		return
	}
	if m.GetState() == StateConnected && m.channel != nil {
		log.WithFields(m.LogTags).Debugf("Ignoring '%s': already connected", reason)
		return
	}
	// Only one pending reconnect timer may ever be outstanding; an immediate
	// attempt supersedes a scheduled one
	if err := m.reconnectTimer.Cancel(); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to clear reconnect timer")
	}

	log.WithFields(m.LogTags).Infof("Connecting (%s)", reason)
	channel, err := m.channelFactory(m.ctxt)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Warn("Handshake failed")
		m.handleChannelFailure()
		return
	}
	if err := channel.StartReading(m.forwardEvent, m.onChannelClosed, m.wg); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to start channel read loop")
		_ = channel.Close(m.ctxt)
		m.handleChannelFailure()
		return
	}
	m.channel = channel
	m.tracker.Reset()
	m.setState(StateConnected)
	log.WithFields(m.LogTags).Infof("Connected over %s channel", channel.Mode())
	// Events which piled up while offline move through the normal batch path
	if err := m.ingestor.Flush(m.ctxt); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Offline event flush failed")
	}
}

// handleChannelFailure shared handling for handshake failures and drops of an
// established channel; the two are deliberately treated identically
func (m *managerImpl) handleChannelFailure() {
	if m.abandoned {
		return
	}
	if m.channel != nil {
		_ = m.channel.Close(m.ctxt)
		m.channel = nil
	}
	delay, exhausted := m.tracker.NextDelay()
	if exhausted {
		m.abandonPushChannel()
		return
	}
	m.setState(StateDisconnected)
	m.stateLock.Lock()
	m.scheduledRetries++
	m.stateLock.Unlock()
	log.WithFields(m.LogTags).Infof(
		"Retry %d in %s", m.tracker.Attempts(), delay,
	)
	if err := m.reconnectTimer.Restart(delay, func() error {
		return m.tp.Submit(mgrConnectRequest{reason: "retry"}, m.ctxt)
	}); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to arm reconnect timer")
	}
}

// abandonPushChannel one-way, session-permanent downgrade to interval polling
func (m *managerImpl) abandonPushChannel() {
	m.abandoned = true
	m.setState(StatePolling)
	log.WithFields(m.LogTags).Warnf(
		"Abandoning push channel after %d attempts; falling back to %s polling",
		m.tracker.Attempts()-1,
		m.pollingInterval,
	)
	m.stateLock.Lock()
	refreshes := make(map[string]RefreshCB, len(m.refreshes))
	for name, refresh := range m.refreshes {
		refreshes[name] = refresh
	}
	m.stateLock.Unlock()
	polling, err := GetPollingLoopInstance(
		"fallback", m.ctxt, m.wg, m.pollingInterval, refreshes,
	)
	if err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to define polling loop")
		return
	}
	m.polling = polling
	if err := m.polling.Start(); err != nil {
		log.WithError(err).WithFields(m.LogTags).Error("Unable to start polling loop")
	}
}

// setState apply a state transition and surface it. Transitions apply
// immediately, with no debouncing, even when the state is re-entered.
func (m *managerImpl) setState(newState ConnectionState) {
	m.stateLock.Lock()
	m.state = newState
	m.stateLock.Unlock()
	if m.stateListener != nil {
		m.stateListener(newState)
	}
}

// ----------------------------------------------------------------------------------------
// Transport callbacks. These run on transport goroutines and re-enter the
// event loop through the task processor.

func (m *managerImpl) forwardEvent(ctxt context.Context, envelope events.Envelope) error {
	return m.ingestor.OnEvent(ctxt, envelope)
}

func (m *managerImpl) onChannelClosed(err error) {
	if submitErr := m.tp.Submit(mgrChannelClosed{err: err}, m.ctxt); submitErr != nil {
		log.WithError(submitErr).WithFields(m.LogTags).Error(
			"Failed to submit channel closed signal",
		)
	}
}
