package cmd

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/handyconnect/liveupdate/common"
	"github.com/handyconnect/liveupdate/connection"
	"github.com/handyconnect/liveupdate/dispatch"
	"github.com/handyconnect/liveupdate/events"
	"github.com/handyconnect/liveupdate/rest"
	"github.com/handyconnect/liveupdate/status"
	"github.com/handyconnect/liveupdate/transport"
)

// connectivityMessage user facing toast copy per connection state
func connectivityMessage(state connection.ConnectionState) string {
	switch state {
	case connection.StateConnected:
		return "Live updates restored"
	case connection.StateDisconnected:
		return "Connection lost. Reconnecting..."
	case connection.StatePolling:
		return "Live updates unavailable. Refreshing periodically."
	}
	return ""
}

// RunUpdateClient run the live update client
func RunUpdateClient(
	config common.ClientConfig,
	instance string,
	runTimeContext context.Context,
	wg *sync.WaitGroup,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "client",
		"instance":  instance,
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		log.WithError(err).WithFields(logTags).Error("Invalid client config")
		return err
	}

	apiClient, err := rest.GetClientInstance(config.API)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define API client")
		return err
	}

	// -------------------------------------------------------------------
	// Status and diagnostics surface

	prefs, err := status.GetPreferencesInstance(config.Diagnostics.PrefsFile)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to load preferences")
		return err
	}
	notifier, err := status.GetNotifierInstance(instance, prefs, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define notifier")
		return err
	}
	diagLog, err := status.GetDiagnosticLogInstance(instance, config.Diagnostics.HistorySize)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define diagnostic log")
		return err
	}
	indicator, err := status.GetIndicatorInstance(instance, nil)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define status indicator")
		return err
	}

	// -------------------------------------------------------------------
	// Event dispatch pipeline

	dispatcher, err := dispatch.GetGroupDispatcherInstance(instance, notifier, diagLog)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define dispatcher")
		return err
	}
	refreshOnBatch := func(view string, refresh connection.RefreshCB) dispatch.BatchHandlerCB {
		return func(ctxt context.Context, batch []events.InboundEvent) error {
			log.WithFields(logTags).Infof(
				"Refreshing %s on %d '%s' update(s)", view, len(batch), batch[0].Type,
			)
			return refresh(ctxt)
		}
	}
	refreshTasks := func(ctxt context.Context) error {
		_, err := apiClient.ListTasks(ctxt)
		return err
	}
	refreshCases := func(ctxt context.Context) error {
		_, err := apiClient.ListCases(ctxt)
		return err
	}
	refreshThreads := func(ctxt context.Context) error {
		_, err := apiClient.ListThreads(ctxt)
		return err
	}
	refreshAnalytics := func(ctxt context.Context) error {
		_, err := apiClient.GetAnalytics(ctxt)
		return err
	}
	refreshEntities := func(ctxt context.Context) error {
		if err := refreshTasks(ctxt); err != nil {
			return err
		}
		return refreshCases(ctxt)
	}
	batchHandlers := map[string]dispatch.BatchHandlerCB{
		events.TypeEntityCreated: refreshOnBatch("entities", refreshEntities),
		events.TypeEntityUpdated: refreshOnBatch("entities", refreshEntities),
		events.TypeEntityDeleted: refreshOnBatch("entities", refreshEntities),
		events.TypeThreadUpdated: refreshOnBatch("threads", refreshThreads),
		events.TypeStatsUpdated:  refreshOnBatch("analytics", refreshAnalytics),
	}
	for eventType, handler := range batchHandlers {
		if err := dispatcher.RegisterHandler(eventType, handler); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to register '%s' handler", eventType,
			)
			return err
		}
	}

	ingestor, err := dispatch.GetIngestorInstance(
		instance,
		runTimeContext,
		time.Millisecond*time.Duration(config.Batch.Window),
		dispatcher,
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define event ingestor")
		return err
	}

	// -------------------------------------------------------------------
	// Connection lifecycle

	// The indicator repaints on every transition report. Toasts fire only on
	// actual state changes.
	lastState := connection.StateDisconnected
	stateLock := sync.Mutex{}
	onStateChange := func(state connection.ConnectionState) {
		indicator.SetState(state)
		stateLock.Lock()
		changed := state != lastState
		lastState = state
		stateLock.Unlock()
		if changed {
			notifier.NotifyConnectivity(connectivityMessage(state))
		}
	}

	manager, err := connection.GetManagerInstance(
		instance, runTimeContext, wg, connection.ManagerParams{
			ChannelFactory:  transport.DefaultChannelFactory(runTimeContext, config.PushChannel),
			Ingestor:        ingestor,
			Reconnect:       config.Reconnect,
			PollingInterval: time.Second * time.Duration(config.Polling.Interval),
			StateListener:   onStateChange,
		},
	)
	if err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to define connection manager")
		return err
	}
	for name, refresh := range map[string]connection.RefreshCB{
		"tasks":     refreshTasks,
		"cases":     refreshCases,
		"threads":   refreshThreads,
		"analytics": refreshAnalytics,
	} {
		if err := manager.RegisterRefresh(name, refresh); err != nil {
			log.WithError(err).WithFields(logTags).Errorf(
				"Unable to register '%s' refresh", name,
			)
			return err
		}
	}

	reconnectSignalSetup(runTimeContext, wg, manager)

	if config.Diagnostics.DevMode {
		if err := startDebugServer(
			config.Diagnostics, runTimeContext, manager, indicator, diagLog,
		); err != nil {
			log.WithError(err).WithFields(logTags).Errorf("Unable to start debug server")
			return err
		}
	}

	if err := manager.Connect(runTimeContext); err != nil {
		log.WithError(err).WithFields(logTags).Errorf("Unable to request connect")
		return err
	}

	// ============================================================================

	<-runTimeContext.Done()
	return nil
}

// reconnectSignalSetup arm SIGUSR1 as the manual reconnect trigger. It stands
// in for the network-online and tab-visible signals a browser client gets.
func reconnectSignalSetup(
	runTimeContext context.Context, wg *sync.WaitGroup, manager connection.Manager,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		cc := make(chan os.Signal, 1)
		signal.Notify(cc, syscall.SIGUSR1)
		defer signal.Stop(cc)
		for {
			select {
			case <-runTimeContext.Done():
				return
			case <-cc:
				manager.TriggerReconnect("received SIGUSR1")
			}
		}
	}()
}

// startDebugServer expose the diagnostics surface on localhost when dev mode
// is active
func startDebugServer(
	config common.DiagnosticsConfig,
	runTimeContext context.Context,
	manager connection.Manager,
	indicator status.Indicator,
	diagLog status.DiagnosticLog,
) error {
	logTags := log.Fields{
		"module":    "cmd",
		"component": "debug-server",
	}

	writeJSON := func(w http.ResponseWriter, payload interface{}) {
		serialized, err := json.Marshal(payload)
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(serialized)
	}

	router := mux.NewRouter()
	router.Methods("get").Path("/debug/events").HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, diagLog.Snapshot())
		},
	)
	router.Methods("get").Path("/debug/state").HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			rendered := indicator.Rendered()
			writeJSON(w, map[string]interface{}{
				"state":             string(manager.GetState()),
				"label":             rendered.Label,
				"treatment":         rendered.Treatment,
				"retries_scheduled": manager.RetriesScheduled(),
			})
		},
	)

	httpSrv := &http.Server{
		Addr:    config.DebugListenOn,
		Handler: router,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("Debug Server Failure")
		}
	}()
	go func() {
		<-runTimeContext.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
		defer cancel()
		if err := httpSrv.Shutdown(ctx); err != nil {
			log.WithError(err).Error("Failure during debug server shutdown")
		}
	}()

	log.WithFields(logTags).Infof("Started debug server on http://%s", config.DebugListenOn)
	return nil
}
