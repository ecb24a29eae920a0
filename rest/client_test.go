package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/handyconnect/liveupdate/common"
	"github.com/stretchr/testify/assert"
)

func testConfig(baseURL string) common.RestAPIConfig {
	return common.RestAPIConfig{
		BaseURL:         baseURL,
		RequestTimeout:  5,
		RequestIDHeader: "Handyconnect-Request-ID",
	}
}

func TestClientSuccessEnvelope(t *testing.T) {
	assert := assert.New(t)

	var seenPath, seenRequestID string
	lock := sync.Mutex{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lock.Lock()
		seenPath = r.URL.Path
		seenRequestID = r.Header.Get("Handyconnect-Request-ID")
		lock.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "success", "data": [{"id": "task-1"}]}`))
	}))
	defer server.Close()

	uut, err := GetClientInstance(testConfig(server.URL))
	assert.Nil(err)

	data, err := uut.ListTasks(context.Background())
	assert.Nil(err)
	assert.Equal("/api/tasks", seenPath)
	assert.NotEmpty(seenRequestID)

	var tasks []map[string]string
	assert.Nil(json.Unmarshal(data, &tasks))
	assert.Len(tasks, 1)
	assert.Equal("task-1", tasks[0]["id"])
}

func TestClientErrorEnvelope(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"status": "error", "message": "not allowed"}`))
	}))
	defer server.Close()

	uut, err := GetClientInstance(testConfig(server.URL))
	assert.Nil(err)

	_, err = uut.ListCases(context.Background())
	assert.NotNil(err)
	assert.Contains(err.Error(), "403")
	assert.Contains(err.Error(), "not allowed")
}

func TestClientErrorStatusInOKResponse(t *testing.T) {
	assert := assert.New(t)

	// The backend can report failure inside a 200
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "error", "message": "stale view"}`))
	}))
	defer server.Close()

	uut, err := GetClientInstance(testConfig(server.URL))
	assert.Nil(err)

	_, err = uut.GetAnalytics(context.Background())
	assert.NotNil(err)
	assert.Contains(err.Error(), "stale view")
}

func TestClientPostBody(t *testing.T) {
	assert := assert.New(t)

	var seenBody map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		assert.Nil(json.NewDecoder(r.Body).Decode(&seenBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status": "success"}`))
	}))
	defer server.Close()

	uut, err := GetClientInstance(testConfig(server.URL))
	assert.Nil(err)

	_, err = uut.DoJSON(
		context.Background(), http.MethodPost, "/api/tasks", map[string]string{"subject": "hi"},
	)
	assert.Nil(err)
	assert.Equal("hi", seenBody["subject"])
}

func TestClientUnparseableResponse(t *testing.T) {
	assert := assert.New(t)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer server.Close()

	uut, err := GetClientInstance(testConfig(server.URL))
	assert.Nil(err)

	_, err = uut.ListThreads(context.Background())
	assert.NotNil(err)
}
