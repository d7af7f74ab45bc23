// Package appstate holds the dashboard's shared view of roster, today's
// attendance and scanner activity. Only the selected class outlives the
// process.
package appstate

import (
	"sync"

	"qrattend/internal/attendance"
	"qrattend/internal/roster"
)

// Snapshot is a copy of the state safe to hand to callers.
type Snapshot struct {
	Date            string              `json:"date"`
	Students        []roster.Student    `json:"students"`
	TodayAttendance []attendance.Record `json:"today_attendance"`
	Stats           *attendance.Stats   `json:"stats"`
	ScannerActive   bool                `json:"scanner_active"`
	SelectedClass   *string             `json:"selected_class"`
}

// State is the injected application state object.
type State struct {
	mu              sync.RWMutex
	date            string
	students        []roster.Student
	todayAttendance []attendance.Record
	stats           *attendance.Stats
	scannerActive   bool
	selectedClass   *string
}

// New returns an empty state.
func New() *State { return &State{} }

// Load replaces roster, attendance and stats with a fresh read for date.
func (s *State) Load(date string, students []roster.Student, today []attendance.Record, stats attendance.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.date = date
	s.students = append([]roster.Student(nil), students...)
	s.todayAttendance = append([]attendance.Record(nil), today...)
	s.stats = &stats
}

// Current reports whether the state was loaded for date.
func (s *State) Current(date string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.date != "" && s.date == date
}

func (s *State) AddStudent(st roster.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.students = append(s.students, st)
}

// UpdateStudent replaces the student with st.ID; unknown ids are ignored.
func (s *State) UpdateStudent(st roster.Student) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.students {
		if s.students[i].ID == st.ID {
			s.students[i] = st
			return
		}
	}
}

// RemoveStudent drops the student and their attendance for the day.
func (s *State) RemoveStudent(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var students []roster.Student
	for _, st := range s.students {
		if st.ID != id {
			students = append(students, st)
		}
	}
	s.students = students
	var records []attendance.Record
	for _, rec := range s.todayAttendance {
		if rec.StudentID != id {
			records = append(records, rec)
		}
	}
	s.todayAttendance = records
}

// AddAttendanceRecord upserts by student: a student has at most one record
// for the loaded day. Records for another day are ignored.
func (s *State) AddAttendanceRecord(rec attendance.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.date != "" && rec.Date != s.date {
		return
	}
	for i := range s.todayAttendance {
		if s.todayAttendance[i].StudentID == rec.StudentID {
			s.todayAttendance[i] = rec
			return
		}
	}
	s.todayAttendance = append(s.todayAttendance, rec)
}

// UpdateAttendanceRecord replaces the record with rec.ID and reports
// whether one was found.
func (s *State) UpdateAttendanceRecord(rec attendance.Record) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.todayAttendance {
		if s.todayAttendance[i].ID == rec.ID {
			s.todayAttendance[i] = rec
			return true
		}
	}
	return false
}

// SetStats stores stats unless they describe another day than the loaded one.
func (s *State) SetStats(stats attendance.Stats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.date != "" && stats.Date != s.date {
		return
	}
	s.stats = &stats
}

func (s *State) SetScannerActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scannerActive = active
}

// SetSelectedClass sets the class filter; nil clears it.
func (s *State) SetSelectedClass(class *string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if class == nil {
		s.selectedClass = nil
		return
	}
	c := *class
	s.selectedClass = &c
}

func (s *State) SelectedClass() *string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.selectedClass == nil {
		return nil
	}
	c := *s.selectedClass
	return &c
}

func (s *State) StudentByID(id string) (roster.Student, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, st := range s.students {
		if st.ID == id {
			return st, true
		}
	}
	return roster.Student{}, false
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := Snapshot{
		Date:            s.date,
		Students:        append([]roster.Student{}, s.students...),
		TodayAttendance: append([]attendance.Record{}, s.todayAttendance...),
		ScannerActive:   s.scannerActive,
	}
	if s.stats != nil {
		st := *s.stats
		snap.Stats = &st
	}
	if s.selectedClass != nil {
		c := *s.selectedClass
		snap.SelectedClass = &c
	}
	return snap
}
