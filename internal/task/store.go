package task

import (
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned when a task id is unknown.
var ErrNotFound = errors.New("Task not found")

// Store is the in-memory task registry. Each task carries its own mutex so
// mutations are single-writer per task while reads of other tasks proceed.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*Task
	locks map[string]*sync.Mutex
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		tasks: make(map[string]*Task),
		locks: make(map[string]*sync.Mutex),
	}
}

// Get returns the task for an id, or nil when absent.
func (s *Store) Get(taskID string) *Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tasks[taskID]
}

// Save registers or replaces a task.
func (s *Store) Save(t *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[t.TaskID] = t
	if _, ok := s.locks[t.TaskID]; !ok {
		s.locks[t.TaskID] = &sync.Mutex{}
	}
}

// List returns all tasks ordered by creation time.
func (s *Store) List() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Lock acquires the per-task write lock, creating it for new ids, and
// returns the unlock function.
func (s *Store) Lock(taskID string) func() {
	s.mu.Lock()
	l, ok := s.locks[taskID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[taskID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}
