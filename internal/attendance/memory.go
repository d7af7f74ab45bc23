package attendance

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory keeps records in process. It has no uniqueness constraint of its
// own, so the Ledger's per-key locking is what keeps one row per day.
type Memory struct {
	mu      sync.RWMutex
	records []Record
}

// NewMemory creates an empty attendance store.
func NewMemory() *Memory { return &Memory{} }

func (m *Memory) FindByStudentDate(_ context.Context, studentID, date string) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.records {
		if r.StudentID == studentID && r.Date == date {
			return &r, nil
		}
	}
	return nil, nil
}

func (m *Memory) Insert(_ context.Context, rec Record) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.CreatedAt = time.Now().UTC()
	rec.Student = nil
	m.records = append(m.records, rec)
	return rec, nil
}

func (m *Memory) Update(_ context.Context, id string, status Status, timeOfDay string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Status = status
			m.records[i].Time = timeOfDay
			return m.records[i], nil
		}
	}
	return Record{}, ErrRecordNotFound
}

func (m *Memory) ListRange(_ context.Context, from, to, studentID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, r := range m.records {
		if r.Date < from || r.Date > to {
			continue
		}
		if studentID != "" && r.StudentID != studentID {
			continue
		}
		out = append(out, r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date > out[j].Date
		}
		return out[i].Time > out[j].Time
	})
	return out, nil
}

func (m *Memory) CountByStatus(_ context.Context, date string) (map[Status]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := make(map[Status]int)
	for _, r := range m.records {
		if r.Date == date {
			counts[r.Status]++
		}
	}
	return counts, nil
}

// DeleteStudent drops every record for a student, mirroring the cascade the
// Postgres schema applies when a roster entry is removed.
func (m *Memory) DeleteStudent(studentID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.records[:0]
	for _, r := range m.records {
		if r.StudentID != studentID {
			kept = append(kept, r)
		}
	}
	m.records = kept
}
