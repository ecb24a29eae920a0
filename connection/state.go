// Package connection owns the push channel for the lifetime of the client:
// establishing it, scheduling reconnects with capped exponential backoff, and
// downgrading to interval polling when the channel cannot be sustained.
package connection

// ConnectionState the client's channel state. Exactly one state is active at
// a time and every transition is surfaced through the state listener.
type ConnectionState string

const (
	// StateConnected the push channel is established
	StateConnected ConnectionState = "connected"
	// StateDisconnected the push channel is down and a retry is scheduled
	StateDisconnected ConnectionState = "disconnected"
	// StatePolling the push channel was abandoned for this session; data is
	// refreshed on a fixed sparse interval instead
	StatePolling ConnectionState = "polling"
)

// StateListenerCB callback invoked on every connection state transition
type StateListenerCB func(newState ConnectionState)
