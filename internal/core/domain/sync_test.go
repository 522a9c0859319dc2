package domain

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestSyncJobCounts(t *testing.T) {
	job := NewSyncJob("job-1", time.Now())

	job.AddEntries("Patient", 2)
	job.AddEntries("Observation", 0)
	job.AddEntries("Patient", 3)

	if got := job.Count("Patient"); got != 5 {
		t.Errorf("expected Patient count 5, got %d", got)
	}
	if got := job.Count("Observation"); got != 0 {
		t.Errorf("expected Observation count 0, got %d", got)
	}
	if got := job.Total(); got != 5 {
		t.Errorf("expected total 5, got %d", got)
	}
}

func TestSyncJobConcurrentStats(t *testing.T) {
	job := NewSyncJob("job-1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%5 == 0 {
				job.RecordFailed()
			} else {
				job.RecordWritten()
			}
		}(i)
	}
	wg.Wait()

	r := job.Result(time.Now(), nil)
	if r.Stats.Written != 40 || r.Stats.Failed != 10 {
		t.Errorf("expected 40 written and 10 failed, got %+v", r.Stats)
	}
}

func TestSyncJobResult(t *testing.T) {
	start := time.Now()
	job := NewSyncJob("job-1", start)
	job.AddEntries("Patient", 2)
	job.AddEntries("Observation", 2)

	r := job.Result(start.Add(2*time.Second), nil)
	if !r.Success || r.Error != "" {
		t.Errorf("expected success, got %+v", r)
	}
	if r.Total != 4 {
		t.Errorf("expected total 4, got %d", r.Total)
	}
	if len(r.Counts) != 2 || r.Counts[0].ResourceType != "Patient" || r.Counts[1].ResourceType != "Observation" {
		t.Errorf("expected counts in first-seen order, got %+v", r.Counts)
	}
	if r.Duration != 2 {
		t.Errorf("expected duration 2s, got %v", r.Duration)
	}

	failed := job.Result(start, errors.New("boom"))
	if failed.Success || failed.Error != "boom" {
		t.Errorf("expected failed result, got %+v", failed)
	}
}
