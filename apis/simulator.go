// Copyright 2025-2026 The liveupdate Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package apis

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/events"
)

// APIRestSimulatorHandler REST handler for the development simulator
type APIRestSimulatorHandler struct {
	goutils.RestAPIHandler
	hub         EventHub
	store       *resourceStore
	upgrader    websocket.Upgrader
	validate    *validator.Validate
	baseContext context.Context
	wg          *sync.WaitGroup
}

// GetAPIRestSimulatorHandler define APIRestSimulatorHandler
func GetAPIRestSimulatorHandler(
	baseContext context.Context,
	config common.SimulatorServerConfig,
	hub EventHub,
	wg *sync.WaitGroup,
) (APIRestSimulatorHandler, error) {
	logTags := log.Fields{
		"module":    "apis",
		"component": "simulator",
	}
	return APIRestSimulatorHandler{
		RestAPIHandler: goutils.RestAPIHandler{
			Component: goutils.Component{
				LogTags: logTags,
				LogTagModifiers: []goutils.LogMetadataModifier{
					goutils.ModifyLogMetadataByRestRequestParam,
				},
			},
			CallRequestIDHeaderField: &config.RequestIDHeader,
			DoNotLogHeaders: func() map[string]bool {
				result := map[string]bool{}
				for _, v := range config.DoNotLogHeaders {
					result[v] = true
				}
				return result
			}(),
		},
		hub:         hub,
		store:       newResourceStore(),
		upgrader:    websocket.Upgrader{},
		validate:    validator.New(),
		baseContext: baseContext,
		wg:          wg,
	}, nil
}

// =======================================================================
// Resource collections

// ListTasks GET /api/tasks
func (h APIRestSimulatorHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	h.replyCollection(w, r, "tasks", h.store.Tasks())
}

// ListCases GET /api/cases
func (h APIRestSimulatorHandler) ListCases(w http.ResponseWriter, r *http.Request) {
	h.replyCollection(w, r, "cases", h.store.Cases())
}

// ListThreads GET /api/threads
func (h APIRestSimulatorHandler) ListThreads(w http.ResponseWriter, r *http.Request) {
	h.replyCollection(w, r, "threads", h.store.Threads())
}

// GetAnalytics GET /api/analytics
func (h APIRestSimulatorHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	h.replyCollection(w, r, "analytics", h.store.Analytics())
}

// replyCollection serialize one resource under the standard envelope
func (h APIRestSimulatorHandler) replyCollection(
	w http.ResponseWriter, r *http.Request, name string, data interface{},
) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	resp, err := successResponse(data)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Failed to serialize %s", name)
		_ = writeStandardResponse(
			w, http.StatusInternalServerError, errorResponse("serialization failure"),
		)
		return
	}
	if err := writeStandardResponse(w, http.StatusOK, resp); err != nil {
		log.WithError(err).WithFields(localLogTags).Errorf("Failed to respond with %s", name)
	}
}

// ListTasksHandler Wrapper around ListTasks
func (h APIRestSimulatorHandler) ListTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListTasks(w, r)
	}
}

// ListCasesHandler Wrapper around ListCases
func (h APIRestSimulatorHandler) ListCasesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListCases(w, r)
	}
}

// ListThreadsHandler Wrapper around ListThreads
func (h APIRestSimulatorHandler) ListThreadsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.ListThreads(w, r)
	}
}

// GetAnalyticsHandler Wrapper around GetAnalytics
func (h APIRestSimulatorHandler) GetAnalyticsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.GetAnalytics(w, r)
	}
}

// =======================================================================
// Event injection

// InjectEvent POST /v1/events
//
// Accepts one event envelope, folds it into the resource state, and fans it
// out to every connected push client.
func (h APIRestSimulatorHandler) InjectEvent(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	frame, err := io.ReadAll(r.Body)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Unable to read event body")
		_ = writeStandardResponse(w, http.StatusBadRequest, errorResponse("unreadable body"))
		return
	}
	envelope, err := events.ParseEnvelope(frame, h.validate)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Rejecting malformed event")
		_ = writeStandardResponse(w, http.StatusBadRequest, errorResponse("malformed event"))
		return
	}

	h.store.ApplyInjected(envelope)
	h.hub.Broadcast(envelope)
	log.WithFields(localLogTags).Infof(
		"Injected '%s' event to %d subscriber(s)", envelope.Type, h.hub.SubscriberCount(),
	)
	resp, err := successResponse(map[string]int{"subscribers": h.hub.SubscriberCount()})
	if err != nil {
		_ = writeStandardResponse(
			w, http.StatusInternalServerError, errorResponse("serialization failure"),
		)
		return
	}
	_ = writeStandardResponse(w, http.StatusOK, resp)
}

// InjectEventHandler Wrapper around InjectEvent
func (h APIRestSimulatorHandler) InjectEventHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.InjectEvent(w, r)
	}
}

// =======================================================================
// Push channels

// StreamEvents GET /v1/events/stream
//
// A long lived server-sent-event stream. Closes on client disconnect or
// server shutdown.
func (h APIRestSimulatorHandler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	// Send support headers for SSE first
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "text/event-stream")

	writeFlusher, ok := w.(http.Flusher)
	if !ok {
		msg := "Streaming not supported"
		log.WithFields(localLogTags).Errorf(msg)
		_ = writeStandardResponse(w, http.StatusInternalServerError, errorResponse(msg))
		return
	}
	w.WriteHeader(http.StatusOK)
	writeFlusher.Flush()

	id, feed := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	for {
		select {
		case <-h.baseContext.Done():
			log.WithFields(localLogTags).Info("Terminating event stream on server stop")
			return
		case <-r.Context().Done():
			log.WithFields(localLogTags).Info("Terminating event stream on request end")
			return
		case envelope, ok := <-feed:
			if !ok {
				return
			}
			serialized, err := json.Marshal(&envelope)
			if err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to frame event")
				continue
			}
			written, err := fmt.Fprintf(w, "data: %s\n\n", serialized)
			writeFlusher.Flush()
			if err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to transmit event")
				return
			}
			log.WithFields(localLogTags).Debugf("Written %dB", written)
		}
	}
}

// StreamEventsHandler Wrapper around StreamEvents
func (h APIRestSimulatorHandler) StreamEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.StreamEvents(w, r)
	}
}

// WebsocketEvents GET /v1/events/ws
//
// The bidirectional push channel. Events flow server to client as JSON
// frames; inbound frames are drained and ignored.
func (h APIRestSimulatorHandler) WebsocketEvents(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Websocket upgrade failed")
		return
	}
	defer func() {
		_ = conn.Close()
	}()

	id, feed := h.hub.Subscribe()
	defer h.hub.Unsubscribe(id)

	// Drain inbound frames so close frames are processed
	clientGone := make(chan struct{})
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-h.baseContext.Done():
			log.WithFields(localLogTags).Info("Terminating websocket on server stop")
			return
		case <-clientGone:
			log.WithFields(localLogTags).Info("Terminating websocket on client close")
			return
		case envelope, ok := <-feed:
			if !ok {
				return
			}
			if err := conn.WriteJSON(&envelope); err != nil {
				log.WithError(err).WithFields(localLogTags).Error("Failed to transmit event")
				return
			}
		}
	}
}

// WebsocketEventsHandler Wrapper around WebsocketEvents
func (h APIRestSimulatorHandler) WebsocketEventsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.WebsocketEvents(w, r)
	}
}

// =======================================================================
// Heartbeat

// StartHeartbeat begin the periodic stats event generator
func (h APIRestSimulatorHandler) StartHeartbeat(interval time.Duration) error {
	timer, err := common.GetIntervalTimerInstance("sim-heartbeat", h.baseContext, h.wg)
	if err != nil {
		return err
	}
	return timer.Start(interval, func() error {
		analytics := h.store.TouchAnalytics()
		payload, err := json.Marshal(&analytics)
		if err != nil {
			return err
		}
		h.hub.Broadcast(events.Envelope{Type: events.TypeStatsUpdated, Payload: payload})
		return nil
	}, false)
}

// =======================================================================
// Health Checks

// Alive GET /alive
func (h APIRestSimulatorHandler) Alive(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// AliveHandler Wrapper around Alive
func (h APIRestSimulatorHandler) AliveHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Alive(w, r)
	}
}

// Ready GET /ready
func (h APIRestSimulatorHandler) Ready(w http.ResponseWriter, r *http.Request) {
	localLogTags := h.GetLogTagsForContext(r.Context())
	if err := h.WriteRESTResponse(
		w, http.StatusOK, h.GetStdRESTSuccessMsg(r.Context()), nil,
	); err != nil {
		log.WithError(err).WithFields(localLogTags).Error("Failed to form response")
	}
}

// ReadyHandler Wrapper around Ready
func (h APIRestSimulatorHandler) ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.Ready(w, r)
	}
}
