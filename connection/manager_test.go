package connection

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
	"github.com/handyconnect/liveupdate/transport"
	"github.com/stretchr/testify/assert"
)

// fakePushChannel synthetic transport for driving the manager
type fakePushChannel struct {
	forwardCB transport.ForwardEventHandlerCB
	closedCB  transport.ChannelClosedHandlerCB
	closed    bool
	lock      sync.Mutex
}

func (c *fakePushChannel) Open(ctxt context.Context) error {
	return nil
}

func (c *fakePushChannel) StartReading(
	forwardCB transport.ForwardEventHandlerCB,
	closedCB transport.ChannelClosedHandlerCB,
	wg *sync.WaitGroup,
) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.forwardCB = forwardCB
	c.closedCB = closedCB
	return nil
}

func (c *fakePushChannel) Close(ctxt context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.closed = true
	return nil
}

func (c *fakePushChannel) Mode() transport.ChannelMode {
	return transport.ModeBidirectional
}

func (c *fakePushChannel) dropFromServer(err error) {
	c.lock.Lock()
	closedCB := c.closedCB
	c.lock.Unlock()
	closedCB(err)
}

// fakeIngestor records what the manager pushes into the pipeline
type fakeIngestor struct {
	received []events.Envelope
	flushes  int
	lock     sync.Mutex
}

func (i *fakeIngestor) OnEvent(ctxt context.Context, envelope events.Envelope) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.received = append(i.received, envelope)
	return nil
}

func (i *fakeIngestor) Flush(ctxt context.Context) error {
	i.lock.Lock()
	defer i.lock.Unlock()
	i.flushes++
	return nil
}

func (i *fakeIngestor) Pending() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return len(i.received)
}

func (i *fakeIngestor) LastEventTime() time.Time {
	return time.Time{}
}

func (i *fakeIngestor) flushCount() int {
	i.lock.Lock()
	defer i.lock.Unlock()
	return i.flushes
}

// stateRecorder collects every reported transition
type stateRecorder struct {
	states []ConnectionState
	lock   sync.Mutex
}

func (r *stateRecorder) listener() StateListenerCB {
	return func(state ConnectionState) {
		r.lock.Lock()
		defer r.lock.Unlock()
		r.states = append(r.states, state)
	}
}

func (r *stateRecorder) observed() []ConnectionState {
	r.lock.Lock()
	defer r.lock.Unlock()
	result := make([]ConnectionState, len(r.states))
	copy(result, r.states)
	return result
}

func fastReconnect(maxAttempts int) common.ReconnectConfig {
	return common.ReconnectConfig{BaseDelay: 10, MaxDelay: 50, MaxAttempts: maxAttempts}
}

func TestManagerFallbackAfterRetryCeiling(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	attempts := 0
	attemptsLock := sync.Mutex{}
	factory := func(ctxt context.Context) (transport.PushChannel, error) {
		attemptsLock.Lock()
		defer attemptsLock.Unlock()
		attempts++
		return nil, fmt.Errorf("server unreachable")
	}

	ingestor := fakeIngestor{}
	recorder := stateRecorder{}
	uut, err := GetManagerInstance("testing", ctxt, &wg, ManagerParams{
		ChannelFactory:  factory,
		Ingestor:        &ingestor,
		Reconnect:       fastReconnect(3),
		PollingInterval: time.Millisecond * 30,
		StateListener:   recorder.listener(),
	})
	assert.Nil(err)

	refreshes := 0
	refreshesLock := sync.Mutex{}
	assert.Nil(uut.RegisterRefresh("tasks", func(ctxt context.Context) error {
		refreshesLock.Lock()
		defer refreshesLock.Unlock()
		refreshes++
		return nil
	}))

	assert.Nil(uut.Connect(ctxt))
	time.Sleep(time.Millisecond * 300)

	// Ceiling of 3 means 4 handshake attempts: the initial one plus 3 retries
	attemptsLock.Lock()
	assert.Equal(4, attempts)
	attemptsLock.Unlock()
	assert.Equal(3, uut.RetriesScheduled())
	assert.Equal(
		[]ConnectionState{
			StateDisconnected, StateDisconnected, StateDisconnected, StatePolling,
		},
		recorder.observed(),
	)
	assert.Equal(StatePolling, uut.GetState())

	// The fallback refresh loop is running
	refreshesLock.Lock()
	assert.GreaterOrEqual(refreshes, 2)
	refreshesLock.Unlock()

	// The downgrade is session permanent
	uut.TriggerReconnect("network online")
	time.Sleep(time.Millisecond * 50)
	attemptsLock.Lock()
	assert.Equal(4, attempts)
	attemptsLock.Unlock()
	assert.Equal(StatePolling, uut.GetState())
}

func TestManagerBackoffResetOnSuccess(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := make(chan *fakePushChannel, 4)
	failuresLeft := 2
	factoryLock := sync.Mutex{}
	factory := func(ctxt context.Context) (transport.PushChannel, error) {
		factoryLock.Lock()
		defer factoryLock.Unlock()
		if failuresLeft > 0 {
			failuresLeft--
			return nil, fmt.Errorf("server unreachable")
		}
		channel := &fakePushChannel{}
		channels <- channel
		return channel, nil
	}

	ingestor := fakeIngestor{}
	recorder := stateRecorder{}
	uut, err := GetManagerInstance("testing", ctxt, &wg, ManagerParams{
		ChannelFactory:  factory,
		Ingestor:        &ingestor,
		Reconnect:       fastReconnect(3),
		PollingInterval: time.Minute,
		StateListener:   recorder.listener(),
	})
	assert.Nil(err)

	assert.Nil(uut.Connect(ctxt))
	time.Sleep(time.Millisecond * 150)
	assert.Equal(StateConnected, uut.GetState())
	assert.Equal(2, uut.RetriesScheduled())
	// Offline backlog moved through the normal batch path
	assert.Equal(1, ingestor.flushCount())

	// The server drops the channel. With the counter reset on success, the
	// episode ceiling has full headroom again: three more failures do not
	// trigger the polling fallback.
	factoryLock.Lock()
	failuresLeft = 2
	factoryLock.Unlock()
	channel := <-channels
	channel.dropFromServer(fmt.Errorf("connection reset"))

	time.Sleep(time.Millisecond * 150)
	assert.Equal(StateConnected, uut.GetState())
	assert.Equal(
		[]ConnectionState{
			StateDisconnected, StateDisconnected, StateConnected,
			StateDisconnected, StateDisconnected, StateDisconnected, StateConnected,
		},
		recorder.observed(),
	)
}

func TestManagerEventForwarding(t *testing.T) {
	assert := assert.New(t)

	wg := sync.WaitGroup{}
	defer wg.Wait()
	ctxt, cancel := context.WithCancel(context.Background())
	defer cancel()

	channels := make(chan *fakePushChannel, 1)
	factory := func(ctxt context.Context) (transport.PushChannel, error) {
		channel := &fakePushChannel{}
		channels <- channel
		return channel, nil
	}

	ingestor := fakeIngestor{}
	uut, err := GetManagerInstance("testing", ctxt, &wg, ManagerParams{
		ChannelFactory:  factory,
		Ingestor:        &ingestor,
		Reconnect:       fastReconnect(3),
		PollingInterval: time.Minute,
	})
	assert.Nil(err)

	assert.Nil(uut.Connect(ctxt))
	time.Sleep(time.Millisecond * 50)
	assert.Equal(StateConnected, uut.GetState())

	// Connecting again while connected is a no-op
	assert.Nil(uut.Connect(ctxt))
	time.Sleep(time.Millisecond * 50)
	assert.Len(channels, 1)

	channel := <-channels
	assert.Nil(channel.forwardCB(ctxt, events.Envelope{Type: events.TypeEntityUpdated}))
	assert.Equal(1, ingestor.Pending())
}
