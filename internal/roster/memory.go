package roster

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory is an in-process Repository for development and tests.
type Memory struct {
	mu       sync.RWMutex
	students map[string]Student
	now      func() time.Time
}

// NewMemory creates an empty roster.
func NewMemory() *Memory {
	return &Memory{students: make(map[string]Student), now: time.Now}
}

func (m *Memory) GetByID(_ context.Context, id string) (*Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.students[id]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]Student, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Student, 0, len(m.students))
	for _, s := range m.students {
		if f.match(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name == out[j].Name {
			return out[i].ID < out[j].ID
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *Memory) Create(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.students {
		if existing.StudentNumber == s.StudentNumber {
			return Student{}, ErrDuplicateNumber
		}
	}
	now := m.now().UTC()
	s.CreatedAt, s.UpdatedAt = now, now
	m.students[s.ID] = s
	return s, nil
}

func (m *Memory) Update(_ context.Context, s Student) (Student, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.students[s.ID]
	if !ok {
		return Student{}, ErrNotFound
	}
	for id, existing := range m.students {
		if id != s.ID && existing.StudentNumber == s.StudentNumber {
			return Student{}, ErrDuplicateNumber
		}
	}
	s.CreatedAt = current.CreatedAt
	s.UpdatedAt = m.now().UTC()
	m.students[s.ID] = s
	return s, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.students[id]; !ok {
		return ErrNotFound
	}
	delete(m.students, id)
	return nil
}

func (m *Memory) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.students), nil
}

func (m *Memory) Classes(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	var out []string
	for _, s := range m.students {
		if _, ok := seen[s.Class]; ok {
			continue
		}
		seen[s.Class] = struct{}{}
		out = append(out, s.Class)
	}
	sort.Strings(out)
	return out, nil
}
