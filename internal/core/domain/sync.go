package domain

import (
	"sync"
	"time"
)

// SyncStats holds per-record outcomes of a sync run
type SyncStats struct {
	Written int `json:"written"`
	Failed  int `json:"failed"`
}

// SyncJob is the transient state of one sync run.
// Counters are safe for concurrent per-entry updates.
type SyncJob struct {
	ID        string
	StartedAt time.Time

	mu     sync.Mutex
	counts map[string]int
	order  []string
	stats  SyncStats
}

// NewSyncJob creates an empty job
func NewSyncJob(id string, startedAt time.Time) *SyncJob {
	return &SyncJob{
		ID:        id,
		StartedAt: startedAt,
		counts:    make(map[string]int),
	}
}

// AddEntries adds a page's entry count to the resource type's counter
func (j *SyncJob) AddEntries(resourceType string, n int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.counts[resourceType]; !ok {
		j.order = append(j.order, resourceType)
	}
	j.counts[resourceType] += n
}

// RecordWritten counts one mirrored record
func (j *SyncJob) RecordWritten() {
	j.mu.Lock()
	j.stats.Written++
	j.mu.Unlock()
}

// RecordFailed counts one record whose fetch or write failed
func (j *SyncJob) RecordFailed() {
	j.mu.Lock()
	j.stats.Failed++
	j.mu.Unlock()
}

// Count returns the counter for a resource type
func (j *SyncJob) Count(resourceType string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[resourceType]
}

// Total returns the sum of all resource type counters
func (j *SyncJob) Total() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	total := 0
	for _, n := range j.counts {
		total += n
	}
	return total
}

// Result builds the summary of the run so far
func (j *SyncJob) Result(completedAt time.Time, runErr error) *SyncResult {
	j.mu.Lock()
	defer j.mu.Unlock()

	counts := make([]ResourceCount, 0, len(j.order))
	total := 0
	for _, rt := range j.order {
		counts = append(counts, ResourceCount{ResourceType: rt, Count: j.counts[rt]})
		total += j.counts[rt]
	}

	r := &SyncResult{
		JobID:    j.ID,
		Success:  runErr == nil,
		Counts:   counts,
		Total:    total,
		Stats:    j.stats,
		Duration: completedAt.Sub(j.StartedAt).Seconds(),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	return r
}

// ResourceCount is the number of entries seen for one resource type
type ResourceCount struct {
	ResourceType string `json:"resource_type"`
	Count        int    `json:"count"`
}

// SyncResult represents the outcome of a sync run
type SyncResult struct {
	JobID    string          `json:"job_id"`
	Success  bool            `json:"success"`
	Counts   []ResourceCount `json:"counts"`
	Total    int             `json:"total"`
	Stats    SyncStats       `json:"stats"`
	Error    string          `json:"error,omitempty"`
	Duration float64         `json:"duration_seconds"`
}
