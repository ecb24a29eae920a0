// Package rest implements the JSON REST client used by the polling fallback
// and by mutations against the HandyConnect backend.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/handyconnect/liveupdate/common"
)

// StandardResponse the response envelope every backend end-point uses
type StandardResponse struct {
	// Status is either "success" or "error"
	Status string `json:"status"`
	// Data is the end-point specific result
	Data json.RawMessage `json:"data,omitempty"`
	// Message carries detail, generally on error
	Message *string `json:"message,omitempty"`
}

// Successful whether the envelope reports success
func (r StandardResponse) Successful() bool {
	return r.Status == "success"
}

// Client calls the HandyConnect REST API. All methods return the envelope's
// data section on success, and an error carrying the envelope message when
// the backend reports failure.
type Client interface {
	// ListTasks fetch the current task collection
	ListTasks(ctxt context.Context) (json.RawMessage, error)
	// ListCases fetch the current case collection
	ListCases(ctxt context.Context) (json.RawMessage, error)
	// ListThreads fetch the current thread collection
	ListThreads(ctxt context.Context) (json.RawMessage, error)
	// GetAnalytics fetch the aggregate analytics counters
	GetAnalytics(ctxt context.Context) (json.RawMessage, error)
	// DoJSON perform one JSON API call with an arbitrary method
	DoJSON(
		ctxt context.Context, method, path string, body interface{},
	) (json.RawMessage, error)
}

// clientImpl implements Client
type clientImpl struct {
	common.Component
	baseURL         string
	requestIDHeader string
	httpClient      *http.Client
}

// GetClientInstance define a new REST API client
func GetClientInstance(config common.RestAPIConfig) (Client, error) {
	logTags := log.Fields{
		"module": "rest", "component": "api-client", "instance": config.BaseURL,
	}
	return &clientImpl{
		Component:       common.Component{LogTags: logTags},
		baseURL:         config.BaseURL,
		requestIDHeader: config.RequestIDHeader,
		httpClient: &http.Client{
			Timeout: time.Second * time.Duration(config.RequestTimeout),
		},
	}, nil
}

// ListTasks fetch the current task collection
func (c *clientImpl) ListTasks(ctxt context.Context) (json.RawMessage, error) {
	return c.DoJSON(ctxt, http.MethodGet, "/api/tasks", nil)
}

// ListCases fetch the current case collection
func (c *clientImpl) ListCases(ctxt context.Context) (json.RawMessage, error) {
	return c.DoJSON(ctxt, http.MethodGet, "/api/cases", nil)
}

// ListThreads fetch the current thread collection
func (c *clientImpl) ListThreads(ctxt context.Context) (json.RawMessage, error) {
	return c.DoJSON(ctxt, http.MethodGet, "/api/threads", nil)
}

// GetAnalytics fetch the aggregate analytics counters
func (c *clientImpl) GetAnalytics(ctxt context.Context) (json.RawMessage, error) {
	return c.DoJSON(ctxt, http.MethodGet, "/api/analytics", nil)
}

// DoJSON perform one JSON API call with an arbitrary method
func (c *clientImpl) DoJSON(
	ctxt context.Context, method, path string, body interface{},
) (json.RawMessage, error) {
	requestID := uuid.New().String()
	logTags, _ := common.UpdateLogTags(ctxt, c.LogTags)
	logTags["request_id"] = requestID
	logTags["request_method"] = method
	logTags["request_uri"] = fmt.Sprintf("'%s'", path)

	var reader io.Reader
	if body != nil {
		serialized, err := json.Marshal(body)
		if err != nil {
			log.WithError(err).WithFields(logTags).Error("Failed to marshal request body")
			return nil, err
		}
		reader = bytes.NewReader(serialized)
	}
	request, err := http.NewRequestWithContext(ctxt, method, c.baseURL+path, reader)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to build request")
		return nil, err
	}
	request.Header.Set("Accept", "application/json")
	request.Header.Set(c.requestIDHeader, requestID)
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.httpClient.Do(request)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Request failed")
		return nil, err
	}
	defer func() {
		_ = response.Body.Close()
	}()
	raw, err := io.ReadAll(response.Body)
	if err != nil {
		log.WithError(err).WithFields(logTags).Error("Failed to read response body")
		return nil, err
	}

	var envelope StandardResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		log.WithError(err).WithFields(logTags).Errorf(
			"Unparseable response with code %d", response.StatusCode,
		)
		return nil, err
	}
	if response.StatusCode < 200 || response.StatusCode > 299 || !envelope.Successful() {
		detail := "no detail given"
		if envelope.Message != nil {
			detail = *envelope.Message
		}
		err := fmt.Errorf("api call failed with %d: %s", response.StatusCode, detail)
		log.WithError(err).WithFields(logTags).Error("API reported failure")
		return nil, err
	}
	log.WithFields(logTags).Debugf("Call succeeded with %dB payload", len(envelope.Data))
	return envelope.Data, nil
}
