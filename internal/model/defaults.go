package model

import (
	_ "embed"
	"fmt"
	"slices"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type seedFile struct {
	TotalDays int           `yaml:"totalDays"`
	Subjects  []Subject     `yaml:"subjects"`
	Routine   []RoutineSlot `yaml:"routine"`
	Days      []struct {
		Day   int    `yaml:"day"`
		Tasks []Task `yaml:"tasks"`
	} `yaml:"days"`
}

var seed = mustLoadSeed(defaultsYAML)

func mustLoadSeed(raw []byte) seedFile {
	var s seedFile
	if err := yaml.Unmarshal(raw, &s); err != nil {
		panic(fmt.Sprintf("model: invalid embedded defaults: %v", err))
	}
	if s.TotalDays < MinTotalDays || s.TotalDays > MaxTotalDays {
		panic(fmt.Sprintf("model: embedded plan has %d days", s.TotalDays))
	}
	return s
}

// DefaultSubjects returns the built-in subject list.
func DefaultSubjects() []Subject {
	return slices.Clone(seed.Subjects)
}

// DefaultRoutine returns the built-in daily routine template.
func DefaultRoutine() []RoutineSlot {
	return slices.Clone(seed.Routine)
}

// DefaultPlanTaskCount is the number of tasks in the built-in plan.
func DefaultPlanTaskCount() int {
	n := 0
	for _, d := range seed.Days {
		n += len(d.Tasks)
	}
	return n
}

// NewAppData returns an aggregate with default settings, subjects and routine
// but no tasks.
func NewAppData(startDate string) AppData {
	d := AppData{
		RoutineTemplate: DefaultRoutine(),
		Subjects:        DefaultSubjects(),
		StartDate:       startDate,
		TotalDays:       seed.TotalDays,
		Settings:        DefaultSettings(),
	}
	d.Normalize()
	return d
}

// DefaultPlan returns the built-in plan anchored at startDate.
func DefaultPlan(startDate string) (AppData, error) {
	d := NewAppData(startDate)
	for _, day := range seed.Days {
		for i, t := range day.Tasks {
			t = t.Clone()
			t.ID = fmt.Sprintf("plan-d%02d-%d", day.Day, i+1)
			t.DayID = day.Day
			d.Tasks = append(d.Tasks, t)
		}
	}
	if err := d.Reanchor(); err != nil {
		return AppData{}, fmt.Errorf("failed to anchor default plan: %w", err)
	}
	return d, nil
}
