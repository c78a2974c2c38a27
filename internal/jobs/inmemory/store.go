package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/dvloznov/finance-companion/internal/jobs"
)

// DefaultMaxJobs bounds the delivery history kept by a Store.
const DefaultMaxJobs = 1000

// Store keeps the delivery history of the running daemon, newest first,
// indexed by the notifier request that fired. Once it holds more than its
// limit, the oldest finished deliveries are dropped; jobs still pending or
// running are never evicted.
type Store struct {
	mu        sync.RWMutex
	maxJobs   int
	jobs      map[string]*jobs.DeliveryJob
	history   []string            // job ids, oldest first
	byRequest map[string][]string // request id -> job ids, oldest first
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithMaxJobs sets the history limit. Zero or less keeps everything.
func WithMaxJobs(n int) StoreOption {
	return func(s *Store) { s.maxJobs = n }
}

// NewStore creates an empty delivery history.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		maxJobs:   DefaultMaxJobs,
		jobs:      make(map[string]*jobs.DeliveryJob),
		byRequest: make(map[string][]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) before(a, b *jobs.DeliveryJob) bool {
	if a.CreatedAt.Equal(b.CreatedAt) {
		return a.JobID < b.JobID
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// insertLocked places id in ids keeping creation order.
func (s *Store) insertLocked(ids []string, job *jobs.DeliveryJob) []string {
	i := sort.Search(len(ids), func(i int) bool { return s.before(job, s.jobs[ids[i]]) })
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = job.JobID
	return ids
}

func remove(ids []string, id string) []string {
	for i, v := range ids {
		if v == id {
			return append(ids[:i], ids[i+1:]...)
		}
	}
	return ids
}

// SaveJob records a new delivery or replaces the state of a known one.
func (s *Store) SaveJob(ctx context.Context, job *jobs.DeliveryJob) error {
	if job.JobID == "" {
		return fmt.Errorf("SaveJob: job id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	saved := *job
	if prev, ok := s.jobs[job.JobID]; ok {
		s.jobs[job.JobID] = &saved
		if prev.RequestID != saved.RequestID || !prev.CreatedAt.Equal(saved.CreatedAt) {
			s.unindexLocked(prev)
			s.indexLocked(&saved)
		}
		return nil
	}

	s.jobs[job.JobID] = &saved
	s.indexLocked(&saved)
	s.evictLocked()
	return nil
}

func (s *Store) indexLocked(job *jobs.DeliveryJob) {
	s.history = s.insertLocked(s.history, job)
	s.byRequest[job.RequestID] = s.insertLocked(s.byRequest[job.RequestID], job)
}

func (s *Store) unindexLocked(job *jobs.DeliveryJob) {
	s.history = remove(s.history, job.JobID)
	ids := remove(s.byRequest[job.RequestID], job.JobID)
	if len(ids) == 0 {
		delete(s.byRequest, job.RequestID)
	} else {
		s.byRequest[job.RequestID] = ids
	}
}

// evictLocked drops the oldest finished jobs beyond the limit.
func (s *Store) evictLocked() {
	if s.maxJobs <= 0 {
		return
	}
	for i := 0; len(s.history) > s.maxJobs && i < len(s.history); {
		job := s.jobs[s.history[i]]
		if job.Status != jobs.JobStatusCompleted && job.Status != jobs.JobStatusFailed {
			i++
			continue
		}
		s.unindexLocked(job)
		delete(s.jobs, job.JobID)
	}
}

// GetJob returns a copy of the job, or jobs.ErrJobNotFound.
func (s *Store) GetJob(ctx context.Context, jobID string) (*jobs.DeliveryJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("GetJob %s: %w", jobID, jobs.ErrJobNotFound)
	}
	saved := *job
	return &saved, nil
}

// ListJobs returns matching jobs newest first. A RequestID filter reads the
// request's own index instead of the whole history.
func (s *Store) ListJobs(ctx context.Context, filter jobs.JobFilter) ([]*jobs.DeliveryJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.history
	if filter.RequestID != "" {
		ids = s.byRequest[filter.RequestID]
	}

	result := []*jobs.DeliveryJob{}
	skip := filter.Offset
	for i := len(ids) - 1; i >= 0; i-- {
		job := s.jobs[ids[i]]
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		if skip > 0 {
			skip--
			continue
		}
		saved := *job
		result = append(result, &saved)
		if filter.Limit > 0 && len(result) == filter.Limit {
			break
		}
	}
	return result, nil
}

// UpdateJobStatus sets the status and, when given, the error of a job.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status jobs.JobStatus, errorMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("UpdateJobStatus %s: %w", jobID, jobs.ErrJobNotFound)
	}
	job.Status = status
	if errorMsg != "" {
		job.Error = errorMsg
	}
	return nil
}

var _ jobs.JobStore = (*Store)(nil)
