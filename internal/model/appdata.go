package model

import (
	"fmt"
	"maps"
	"slices"
)

// Plan window bounds and audit retention.
const (
	MinTotalDays     = 7
	MaxTotalDays     = 60
	DefaultTotalDays = 12
	MaxAuditEntries  = 50
)

// Mood is a daily mood value.
type Mood string

const (
	MoodGreat Mood = "great"
	MoodGood  Mood = "good"
	MoodOkay  Mood = "okay"
	MoodBad   Mood = "bad"
	MoodAwful Mood = "awful"
)

// IsValid reports whether m is one of the fixed mood values.
func (m Mood) IsValid() bool {
	switch m {
	case MoodGreat, MoodGood, MoodOkay, MoodBad, MoodAwful:
		return true
	}
	return false
}

// Subject is a user-customizable study subject. Tasks refer to subjects by
// name only, so removing a Subject leaves existing tasks untouched.
type Subject struct {
	ID    string `json:"id" yaml:"id"`
	Name  string `json:"name" yaml:"name"`
	Icon  string `json:"icon,omitempty" yaml:"icon,omitempty"`
	Color string `json:"color,omitempty" yaml:"color,omitempty"`
}

// RoutineSlot is one entry of the daily schedule template.
type RoutineSlot struct {
	ID          string `json:"id" yaml:"id"`
	StartTime   string `json:"startTime" yaml:"startTime"`
	EndTime     string `json:"endTime" yaml:"endTime"`
	Title       string `json:"title" yaml:"title"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string `json:"category,omitempty" yaml:"category,omitempty"`
	Icon        string `json:"icon,omitempty" yaml:"icon,omitempty"`
}

// RoutineMark marks a routine slot as done on a plan day.
type RoutineMark struct {
	DayIndex int    `json:"dayIndex"`
	SlotID   string `json:"slotId"`
}

// AuditEntry is one line of the activity log.
type AuditEntry struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
	Action    string `json:"action"`
	Details   string `json:"details,omitempty"`
}

// ArchivedPlan is an immutable snapshot of a finished planning cycle.
type ArchivedPlan struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	StartDate      string            `json:"startDate"`
	EndDate        string            `json:"endDate"`
	ArchivedAt     int64             `json:"archivedAt"`
	Tasks          []Task            `json:"tasks"`
	Notes          map[string]string `json:"notes,omitempty"`
	Moods          map[string]Mood   `json:"moods,omitempty"`
	TotalTasks     int               `json:"totalTasks"`
	CompletedTasks int               `json:"completedTasks"`
}

// Settings is the flat user configuration record.
type Settings struct {
	DarkMode      bool   `json:"darkMode"`
	ViewMode      string `json:"viewMode"`
	ShowQuotes    bool   `json:"showQuotes"`
	Stream        string `json:"stream"`
	Notifications bool   `json:"notifications"`
	SoundEnabled  bool   `json:"soundEnabled"`
	Language      string `json:"language"`
}

// DefaultSettings returns the settings used for a fresh aggregate.
func DefaultSettings() Settings {
	return Settings{
		ViewMode:      "list",
		ShowQuotes:    true,
		Stream:        "general",
		Notifications: true,
		SoundEnabled:  true,
		Language:      "en",
	}
}

// AppData is the persisted and synchronized aggregate.
type AppData struct {
	Tasks                 []Task            `json:"tasks"`
	RoutineTemplate       []RoutineSlot     `json:"routineTemplate"`
	CompletedRoutineMarks []RoutineMark     `json:"completedRoutineMarks"`
	Notes                 map[string]string `json:"notes"`
	Moods                 map[string]Mood   `json:"moods"`
	XP                    int               `json:"xp"`
	AuditLog              []AuditEntry      `json:"auditLog"`
	Subjects              []Subject         `json:"subjects"`
	ArchivedPlans         []ArchivedPlan    `json:"archivedPlans"`
	StartDate             string            `json:"startDate"`
	TotalDays             int               `json:"totalDays"`
	Settings              Settings          `json:"settings"`
	LastUpdated           int64             `json:"lastUpdated"`
	SchemaVersion         int               `json:"schemaVersion"`

	// CustomSubjects is the legacy storage shape that predates Subjects. It is
	// folded into Subjects during hydration and never written back.
	CustomSubjects []Subject `json:"customSubjects,omitempty"`
}

// Normalize replaces nil collections with empty ones and clamps TotalDays.
func (d *AppData) Normalize() {
	if d.Tasks == nil {
		d.Tasks = []Task{}
	}
	if d.RoutineTemplate == nil {
		d.RoutineTemplate = []RoutineSlot{}
	}
	if d.CompletedRoutineMarks == nil {
		d.CompletedRoutineMarks = []RoutineMark{}
	}
	if d.Notes == nil {
		d.Notes = map[string]string{}
	}
	if d.Moods == nil {
		d.Moods = map[string]Mood{}
	}
	if d.AuditLog == nil {
		d.AuditLog = []AuditEntry{}
	}
	if d.Subjects == nil {
		d.Subjects = []Subject{}
	}
	if d.ArchivedPlans == nil {
		d.ArchivedPlans = []ArchivedPlan{}
	}
	if d.TotalDays == 0 {
		d.TotalDays = DefaultTotalDays
	}
	if d.TotalDays < MinTotalDays || d.TotalDays > MaxTotalDays {
		d.TotalDays = min(max(d.TotalDays, MinTotalDays), MaxTotalDays)
	}
	if d.XP < 0 {
		d.XP = 0
	}
}

// Reanchor recomputes the date of every anchored task from StartDate.
func (d *AppData) Reanchor() error {
	for i := range d.Tasks {
		if !d.Tasks[i].IsAnchored() {
			continue
		}
		date, err := PlanDate(d.StartDate, d.Tasks[i].DayID)
		if err != nil {
			return fmt.Errorf("failed to anchor task %s: %w", d.Tasks[i].ID, err)
		}
		d.Tasks[i].Date = date
	}
	return nil
}

// AppendAudit records e as the most recent entry, dropping the oldest entries
// beyond MaxAuditEntries.
func (d *AppData) AppendAudit(e AuditEntry) {
	log := make([]AuditEntry, 0, min(len(d.AuditLog)+1, MaxAuditEntries))
	log = append(log, e)
	for _, old := range d.AuditLog {
		if len(log) == MaxAuditEntries {
			break
		}
		log = append(log, old)
	}
	d.AuditLog = log
}

// HasRoutineMark reports whether slotID is marked done on dayIndex.
func (d *AppData) HasRoutineMark(dayIndex int, slotID string) bool {
	return slices.Contains(d.CompletedRoutineMarks, RoutineMark{DayIndex: dayIndex, SlotID: slotID})
}

// TaskIndex returns the position of the task with id, or -1.
func (d *AppData) TaskIndex(id string) int {
	return slices.IndexFunc(d.Tasks, func(t Task) bool { return t.ID == id })
}

// CompletedCount returns the number of completed live tasks.
func (d *AppData) CompletedCount() int {
	n := 0
	for _, t := range d.Tasks {
		if t.IsCompleted {
			n++
		}
	}
	return n
}

// EndDate returns the last date of the plan window.
func (d *AppData) EndDate() string {
	end, err := PlanDate(d.StartDate, d.TotalDays)
	if err != nil {
		return d.StartDate
	}
	return end
}

// Clone returns a deep copy of d.
func (d AppData) Clone() AppData {
	out := d
	if d.Tasks != nil {
		out.Tasks = cloneTasks(d.Tasks)
	}
	out.RoutineTemplate = slices.Clone(d.RoutineTemplate)
	out.CompletedRoutineMarks = slices.Clone(d.CompletedRoutineMarks)
	out.Notes = maps.Clone(d.Notes)
	out.Moods = maps.Clone(d.Moods)
	out.AuditLog = slices.Clone(d.AuditLog)
	out.Subjects = slices.Clone(d.Subjects)
	out.CustomSubjects = slices.Clone(d.CustomSubjects)
	if d.ArchivedPlans != nil {
		out.ArchivedPlans = make([]ArchivedPlan, len(d.ArchivedPlans))
		for i, p := range d.ArchivedPlans {
			out.ArchivedPlans[i] = p.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of p.
func (p ArchivedPlan) Clone() ArchivedPlan {
	p.Tasks = cloneTasks(p.Tasks)
	p.Notes = maps.Clone(p.Notes)
	p.Moods = maps.Clone(p.Moods)
	return p
}

func cloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
