package apis

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/handyconnect/liveupdate/events"
)

// SimTask one task resource served by the simulator
type SimTask struct {
	ID        string    `json:"id"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Priority  string    `json:"priority"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SimCase one case resource served by the simulator
type SimCase struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SimThread one email thread resource served by the simulator
type SimThread struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	MessageCount int       `json:"message_count"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SimAnalytics the aggregate counters served by the simulator
type SimAnalytics struct {
	OpenTasks      int   `json:"open_tasks"`
	OpenCases      int   `json:"open_cases"`
	ActiveThreads  int   `json:"active_threads"`
	EventsInjected int   `json:"events_injected"`
	UpdatedAt      int64 `json:"updated_at"`
}

// resourceStore in-memory resource state backing the simulator REST surface
type resourceStore struct {
	tasks     []SimTask
	cases     []SimCase
	threads   []SimThread
	analytics SimAnalytics
	lock      *sync.Mutex
}

// newResourceStore seed a resource store with demo data
func newResourceStore() *resourceStore {
	now := time.Now()
	return &resourceStore{
		tasks: []SimTask{
			{ID: "task-1", Subject: "Review onboarding backlog", Status: "open", Priority: "high", UpdatedAt: now},
			{ID: "task-2", Subject: "Reply to billing inquiry", Status: "in-progress", Priority: "medium", UpdatedAt: now},
		},
		cases: []SimCase{
			{ID: "case-1", Title: "Customer escalation: login loop", Status: "open", UpdatedAt: now},
		},
		threads: []SimThread{
			{ID: "thread-1", Subject: "Re: invoice 4821", MessageCount: 3, UpdatedAt: now},
		},
		analytics: SimAnalytics{
			OpenTasks: 2, OpenCases: 1, ActiveThreads: 1, UpdatedAt: now.UnixMilli(),
		},
		lock: &sync.Mutex{},
	}
}

// Tasks snapshot the task collection
func (s *resourceStore) Tasks() []SimTask {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]SimTask, len(s.tasks))
	copy(result, s.tasks)
	return result
}

// Cases snapshot the case collection
func (s *resourceStore) Cases() []SimCase {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]SimCase, len(s.cases))
	copy(result, s.cases)
	return result
}

// Threads snapshot the thread collection
func (s *resourceStore) Threads() []SimThread {
	s.lock.Lock()
	defer s.lock.Unlock()
	result := make([]SimThread, len(s.threads))
	copy(result, s.threads)
	return result
}

// Analytics snapshot the aggregate counters
func (s *resourceStore) Analytics() SimAnalytics {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.analytics
}

// TouchAnalytics advance the aggregate counter timestamp and snapshot
func (s *resourceStore) TouchAnalytics() SimAnalytics {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.analytics.UpdatedAt = time.Now().UnixMilli()
	return s.analytics
}

// ApplyInjected fold an injected event into the resource state so the REST
// surface stays consistent with what push clients were told
func (s *resourceStore) ApplyInjected(envelope events.Envelope) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.analytics.EventsInjected++
	s.analytics.UpdatedAt = time.Now().UnixMilli()
	if envelope.Type != events.TypeEntityCreated || len(envelope.Payload) == 0 {
		return
	}
	var task SimTask
	if err := json.Unmarshal(envelope.Payload, &task); err != nil || task.ID == "" {
		return
	}
	if task.UpdatedAt.IsZero() {
		task.UpdatedAt = time.Now()
	}
	s.tasks = append(s.tasks, task)
	s.analytics.OpenTasks++
}
