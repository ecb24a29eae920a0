package status

import (
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// DiagnosticEntry one processed event as kept for developer inspection
type DiagnosticEntry struct {
	// Type is the event category tag
	Type string `json:"type"`
	// DedupeKey identifies the event in human-readable form
	DedupeKey string `json:"dedupe_key"`
	// ReceivedAt is when the event arrived
	ReceivedAt time.Time `json:"received_at"`
	// ProcessedAt is when the event was dispatched
	ProcessedAt time.Time `json:"processed_at"`
}

// DiagnosticLog a trailing window over the last N processed events. Only
// surfaced behind an explicit developer toggle; the window bound keeps the
// structure memory-bounded no matter how long the session runs.
type DiagnosticLog interface {
	// RecordEvent append one processed event, evicting the oldest past the bound
	RecordEvent(event events.InboundEvent)
	// Snapshot copy the current window, oldest first
	Snapshot() []DiagnosticEntry
}

// diagnosticLogImpl implements DiagnosticLog
type diagnosticLogImpl struct {
	common.Component
	bound   int
	entries []DiagnosticEntry
	lock    *sync.Mutex
}

// GetDiagnosticLogInstance define a new DiagnosticLog keeping bound entries
func GetDiagnosticLogInstance(instance string, bound int) (DiagnosticLog, error) {
	logTags := log.Fields{
		"module": "status", "component": "diagnostic-log", "instance": instance,
	}
	return &diagnosticLogImpl{
		Component: common.Component{LogTags: logTags},
		bound:     bound,
		entries:   make([]DiagnosticEntry, 0, bound),
		lock:      &sync.Mutex{},
	}, nil
}

// RecordEvent append one processed event, evicting the oldest past the bound
func (d *diagnosticLogImpl) RecordEvent(event events.InboundEvent) {
	entry := DiagnosticEntry{
		Type:        event.Type,
		DedupeKey:   event.DedupeKey,
		ReceivedAt:  event.ReceivedAt,
		ProcessedAt: time.Now(),
	}
	d.lock.Lock()
	defer d.lock.Unlock()
	d.entries = append(d.entries, entry)
	if len(d.entries) > d.bound {
		d.entries = d.entries[len(d.entries)-d.bound:]
	}
}

// Snapshot copy the current window, oldest first
func (d *diagnosticLogImpl) Snapshot() []DiagnosticEntry {
	d.lock.Lock()
	defer d.lock.Unlock()
	result := make([]DiagnosticEntry, len(d.entries))
	copy(result, d.entries)
	return result
}
