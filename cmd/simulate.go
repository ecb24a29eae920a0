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

package cmd

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/handyconnect/liveupdate/apis"
	"github.com/handyconnect/liveupdate/common"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// RunSimulatorServer run the development simulator server
func RunSimulatorServer(
	config common.SimulatorServerConfig,
	instance string,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "simulate",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid simulator config")
		return err
	}

	hub, err := apis.GetEventHubInstance(instance)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define event hub")
		return err
	}

	localCtxt, lclCancel := context.WithCancel(runTimeContext)
	defer lclCancel()
	httpHandler, err := apis.GetAPIRestSimulatorHandler(localCtxt, config, hub, wg)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define HTTP handler")
		return err
	}

	if config.Heartbeat > 0 {
		if err := httpHandler.StartHeartbeat(
			time.Second * time.Duration(config.Heartbeat),
		); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to start stats heartbeat")
			return err
		}
	}

	// -------------------------------------------------------------------
	// Start the HTTP server

	router := mux.NewRouter()
	mainRouter := apis.RegisterPathPrefix(router, config.PathPrefix, nil)

	// Resource collections
	_ = apis.RegisterPathPrefix(mainRouter, "/api/tasks", map[string]http.HandlerFunc{
		"get": httpHandler.ListTasksHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/api/cases", map[string]http.HandlerFunc{
		"get": httpHandler.ListCasesHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/api/threads", map[string]http.HandlerFunc{
		"get": httpHandler.ListThreadsHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/api/analytics", map[string]http.HandlerFunc{
		"get": httpHandler.GetAnalyticsHandler(),
	})

	// Event injection and push channels
	eventAPIRouter := apis.RegisterPathPrefix(
		mainRouter, "/v1/events", map[string]http.HandlerFunc{
			"post": httpHandler.InjectEventHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		eventAPIRouter, "/stream", map[string]http.HandlerFunc{
			"get": httpHandler.StreamEventsHandler(),
		},
	)
	_ = apis.RegisterPathPrefix(
		eventAPIRouter, "/ws", map[string]http.HandlerFunc{
			"get": httpHandler.WebsocketEventsHandler(),
		},
	)

	// Health check
	_ = apis.RegisterPathPrefix(mainRouter, "/alive", map[string]http.HandlerFunc{
		"get": httpHandler.AliveHandler(),
	})
	_ = apis.RegisterPathPrefix(mainRouter, "/ready", map[string]http.HandlerFunc{
		"get": httpHandler.ReadyHandler(),
	})

	// Add logging
	router.Use(func(next http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(httpHandler, next)
	})

	serverListen := fmt.Sprintf("%s:%d", config.ListenOn, config.Port)
	// No write timeout. The push channels are long lived responses.
	httpSrv := &http.Server{
		Addr:    serverListen,
		Handler: h2c.NewHandler(router, &http2.Server{}),
	}

	// Cancel runtime context on shutdown
	httpSrv.RegisterOnShutdown(lclCancel)

	// Start the server
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("HTTP Server Failure")
		}
	}()

	log.WithFields(logTags).Infof("Started HTTP server on http://%s", serverListen)

	// ============================================================================

	<-runTimeContext.Done()

	// Stop the HTTP server
	{
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during HTTP shutdown")
		}
	}

	return nil
}
