package jobs

import (
	"sort"
	"sync"

	"yieldpilot/internal/domain"
)

// Store is the in-memory job table. Jobs live for the process lifetime;
// durability is out of scope for this service. All access goes through
// the mutex, and reads return copies so callers never share maps with
// the monitor goroutines.
type Store struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewStore() *Store {
	return &Store{jobs: map[string]*domain.Job{}}
}

func (s *Store) Put(job domain.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := copyJob(&job)
	s.jobs[job.JobID] = &j
}

func (s *Store) Get(jobID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return copyJob(j), nil
}

// Update mutates one job under the lock. The callback sees the live
// record; returning an error leaves it untouched only if the callback
// itself made no changes, so callbacks must check preconditions first.
func (s *Store) Update(jobID string, fn func(*domain.Job) error) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if err := fn(j); err != nil {
		return domain.Job{}, err
	}
	return copyJob(j), nil
}

// List returns all jobs ordered by creation time, then id.
func (s *Store) List() []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, copyJob(j))
	}
	sort.Slice(out, func(i, k int) bool {
		if out[i].CreatedAt != out[k].CreatedAt {
			return out[i].CreatedAt < out[k].CreatedAt
		}
		return out[i].JobID < out[k].JobID
	})
	return out
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

func copyJob(j *domain.Job) domain.Job {
	out := *j
	out.InputData = copyMap(j.InputData)
	out.Result = copyMap(j.Result)
	return out
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
