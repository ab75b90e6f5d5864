package model

import (
	"fmt"
	"slices"
)

// StudyType classifies a task and decides its XP reward.
type StudyType string

const (
	StudyTypeStudy           StudyType = "study"
	StudyTypeReview          StudyType = "review"
	StudyTypeExam            StudyType = "exam"
	StudyTypeAnalysis        StudyType = "analysis"
	StudyTypeTestEducational StudyType = "test_educational"
	StudyTypeTestSpeed       StudyType = "test_speed"
)

// IsValid reports whether st is empty or one of the known study types.
func (st StudyType) IsValid() bool {
	switch st {
	case "", StudyTypeStudy, StudyTypeReview, StudyTypeExam, StudyTypeAnalysis,
		StudyTypeTestEducational, StudyTypeTestSpeed:
		return true
	}
	return false
}

// XP rewards granted when a task or routine slot is completed. The same amount
// is taken back when it is un-completed.
const (
	RewardTask     = 10
	RewardReview   = 15
	RewardExam     = 25
	RewardRoutine  = 5
	QualityMin     = 1
	QualityMax     = 5
	MaxTitleLength = 500
)

// Reward returns the XP granted for completing a task of this type.
func (st StudyType) Reward() int {
	switch st {
	case StudyTypeExam:
		return RewardExam
	case StudyTypeReview, StudyTypeAnalysis:
		return RewardReview
	default:
		return RewardTask
	}
}

// TestStats records a practice test result.
type TestStats struct {
	Correct int `json:"correct" yaml:"correct"`
	Wrong   int `json:"wrong" yaml:"wrong"`
	Total   int `json:"total" yaml:"total"`
}

// SubTask is one section of a composite exam or analysis task.
type SubTask struct {
	ID        string     `json:"id" yaml:"id"`
	Subject   string     `json:"subject" yaml:"subject"`
	TestStats *TestStats `json:"testStats,omitempty" yaml:"testStats,omitempty"`
}

// Task is a single study item. DayID 0 means the task is not anchored to the
// plan and its Date is assigned freely.
type Task struct {
	ID        string `json:"id" yaml:"id"`
	DayID     int    `json:"dayId" yaml:"dayId"`
	Date      string `json:"date" yaml:"date"`
	IsCustom  bool   `json:"isCustom,omitempty" yaml:"isCustom,omitempty"`
	Subject   string `json:"subject" yaml:"subject"`
	Topic     string `json:"topic" yaml:"topic"`
	Details   string `json:"details,omitempty" yaml:"details,omitempty"`
	TestRange string `json:"testRange,omitempty" yaml:"testRange,omitempty"`

	IsCompleted bool `json:"isCompleted" yaml:"isCompleted"`

	// Performance metrics, filled in after the fact.
	ActualDuration int        `json:"actualDuration,omitempty" yaml:"actualDuration,omitempty"` // minutes
	QualityRating  int        `json:"qualityRating,omitempty" yaml:"qualityRating,omitempty"`
	TestStats      *TestStats `json:"testStats,omitempty" yaml:"testStats,omitempty"`

	StudyType StudyType `json:"studyType,omitempty" yaml:"studyType,omitempty"`
	SubTasks  []SubTask `json:"subTasks,omitempty" yaml:"subTasks,omitempty"`
	Tags      []string  `json:"tags,omitempty" yaml:"tags,omitempty"`
}

// IsAnchored reports whether the task's date is derived from the plan window.
func (t *Task) IsAnchored() bool {
	return t.DayID > 0 && !t.IsCustom
}

// IsComposite reports whether the task is an exam or analysis with sections.
func (t *Task) IsComposite() bool {
	return (t.StudyType == StudyTypeExam || t.StudyType == StudyTypeAnalysis) && len(t.SubTasks) > 0
}

// Validate checks field values. It does not check that anchored dates match
// the plan; callers re-derive those instead.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("id is required")
	}
	if t.DayID < 0 {
		return fmt.Errorf("dayId must not be negative (got %d)", t.DayID)
	}
	if t.Subject == "" {
		return fmt.Errorf("subject is required")
	}
	if len(t.Topic) > MaxTitleLength {
		return fmt.Errorf("topic must be %d characters or less (got %d)", MaxTitleLength, len(t.Topic))
	}
	if t.Date != "" {
		if _, err := ParseDate(t.Date); err != nil {
			return err
		}
	}
	if t.QualityRating != 0 && (t.QualityRating < QualityMin || t.QualityRating > QualityMax) {
		return fmt.Errorf("qualityRating must be between %d and %d (got %d)", QualityMin, QualityMax, t.QualityRating)
	}
	if t.ActualDuration < 0 {
		return fmt.Errorf("actualDuration must not be negative")
	}
	if !t.StudyType.IsValid() {
		return fmt.Errorf("unknown studyType %q", t.StudyType)
	}
	return nil
}

// Clone returns a deep copy of t.
func (t Task) Clone() Task {
	if t.TestStats != nil {
		stats := *t.TestStats
		t.TestStats = &stats
	}
	if t.SubTasks != nil {
		subs := make([]SubTask, len(t.SubTasks))
		for i, s := range t.SubTasks {
			if s.TestStats != nil {
				stats := *s.TestStats
				s.TestStats = &stats
			}
			subs[i] = s
		}
		t.SubTasks = subs
	}
	t.Tags = slices.Clone(t.Tags)
	return t
}
