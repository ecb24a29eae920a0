// Package transport implements the push channel strategies used to receive
// change notifications from the HandyConnect backend: a bidirectional
// websocket channel, a one-way event stream channel, and the probe which
// picks between them at establishment time.
package transport

import (
	"context"
	"sync"

	"github.com/handyconnect/liveupdate/events"
)

// ChannelMode the capability class of a push channel
type ChannelMode string

const (
	// ModeBidirectional a persistent two-way channel
	ModeBidirectional ChannelMode = "bidirectional"
	// ModeOneWay a server-to-client only push channel
	ModeOneWay ChannelMode = "one-way"
)

// ForwardEventHandlerCB callback used to forward received events to the next
// pipeline stage
type ForwardEventHandlerCB func(ctxt context.Context, envelope events.Envelope) error

// ChannelClosedHandlerCB callback invoked once when an open channel stops,
// carrying the triggering error. The reason is recorded for diagnostics only;
// all closures are handled identically by the caller.
type ChannelClosedHandlerCB func(err error)

// PushChannel is one push channel connection. A channel instance is single
// use: open it, read from it until it closes, discard it.
type PushChannel interface {
	// Open perform the channel handshake
	Open(ctxt context.Context) error
	// StartReading begin the channel read loop, forwarding each event frame
	StartReading(
		forwardCB ForwardEventHandlerCB,
		closedCB ChannelClosedHandlerCB,
		wg *sync.WaitGroup,
	) error
	// Close stop the channel. The closed callback does not fire for a
	// deliberate close.
	Close(ctxt context.Context) error
	// Mode report the channel capability class
	Mode() ChannelMode
}
