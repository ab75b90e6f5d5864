package model

import (
	"fmt"
	"testing"
)

func TestTask_Validate(t *testing.T) {
	tests := []struct {
		name    string
		task    Task
		wantErr bool
	}{
		{
			name: "valid task",
			task: Task{ID: "t-1", DayID: 2, Date: "2026-01-11", Subject: "Mathematics", Topic: "Limits"},
		},
		{
			name:    "missing id",
			task:    Task{Subject: "Mathematics"},
			wantErr: true,
		},
		{
			name:    "missing subject",
			task:    Task{ID: "t-1"},
			wantErr: true,
		},
		{
			name:    "negative day",
			task:    Task{ID: "t-1", Subject: "Physics", DayID: -1},
			wantErr: true,
		},
		{
			name:    "bad date",
			task:    Task{ID: "t-1", Subject: "Physics", Date: "11/01/2026"},
			wantErr: true,
		},
		{
			name:    "quality out of range",
			task:    Task{ID: "t-1", Subject: "Physics", QualityRating: 6},
			wantErr: true,
		},
		{
			name:    "unknown study type",
			task:    Task{ID: "t-1", Subject: "Physics", StudyType: "nap"},
			wantErr: true,
		},
		{
			name: "rated exam",
			task: Task{ID: "t-1", Subject: "Physics", StudyType: StudyTypeExam, QualityRating: 5},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.task.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStudyType_Reward(t *testing.T) {
	if StudyTypeExam.Reward() <= StudyTypeReview.Reward() {
		t.Errorf("exam reward %d should exceed review reward %d", StudyTypeExam.Reward(), StudyTypeReview.Reward())
	}
	if StudyTypeAnalysis.Reward() != StudyTypeReview.Reward() {
		t.Errorf("analysis reward = %d, want %d", StudyTypeAnalysis.Reward(), StudyTypeReview.Reward())
	}
	if StudyTypeReview.Reward() <= StudyType("").Reward() {
		t.Errorf("review reward should exceed plain task reward")
	}
}

func TestPlanDate(t *testing.T) {
	tests := []struct {
		start string
		day   int
		want  string
	}{
		{"2026-01-10", 1, "2026-01-10"},
		{"2026-01-10", 12, "2026-01-21"},
		{"2026-02-27", 3, "2026-03-01"},
		{"2024-02-28", 2, "2024-02-29"},
	}
	for _, tt := range tests {
		got, err := PlanDate(tt.start, tt.day)
		if err != nil {
			t.Fatalf("PlanDate(%s, %d) failed: %v", tt.start, tt.day, err)
		}
		if got != tt.want {
			t.Errorf("PlanDate(%s, %d) = %s, want %s", tt.start, tt.day, got, tt.want)
		}
	}

	if _, err := PlanDate("2026-01-10", 0); err == nil {
		t.Error("PlanDate() with day 0 should fail")
	}
}

func TestDayIndexFor(t *testing.T) {
	if got := DayIndexFor("2026-01-10", "2026-01-12", 12); got != 3 {
		t.Errorf("DayIndexFor() = %d, want 3", got)
	}
	if got := DayIndexFor("2026-01-10", "2026-01-01", 12); got != 1 {
		t.Errorf("DayIndexFor() before start = %d, want 1", got)
	}
	if got := DayIndexFor("2026-01-10", "2026-03-01", 12); got != 12 {
		t.Errorf("DayIndexFor() after end = %d, want 12", got)
	}
}

func TestAppData_AppendAuditKeepsMostRecent(t *testing.T) {
	var d AppData
	for i := 0; i < 75; i++ {
		d.AppendAudit(AuditEntry{ID: fmt.Sprintf("a-%d", i), Timestamp: int64(i), Action: "test"})
	}

	if len(d.AuditLog) != MaxAuditEntries {
		t.Fatalf("len(AuditLog) = %d, want %d", len(d.AuditLog), MaxAuditEntries)
	}
	if d.AuditLog[0].ID != "a-74" {
		t.Errorf("newest entry = %s, want a-74", d.AuditLog[0].ID)
	}
	if d.AuditLog[MaxAuditEntries-1].ID != "a-25" {
		t.Errorf("oldest retained entry = %s, want a-25", d.AuditLog[MaxAuditEntries-1].ID)
	}
}

func TestAppData_Reanchor(t *testing.T) {
	d := AppData{
		StartDate: "2026-03-01",
		Tasks: []Task{
			{ID: "a", DayID: 1, Date: "2000-01-01", Subject: "Math"},
			{ID: "b", DayID: 5, Date: "2000-01-01", Subject: "Math"},
			{ID: "c", DayID: 5, Date: "2000-01-01", Subject: "Math", IsCustom: true},
			{ID: "d", DayID: 0, Date: "2026-04-04", Subject: "Math"},
		},
	}
	if err := d.Reanchor(); err != nil {
		t.Fatalf("Reanchor() failed: %v", err)
	}

	want := map[string]string{"a": "2026-03-01", "b": "2026-03-05", "c": "2000-01-01", "d": "2026-04-04"}
	for _, task := range d.Tasks {
		if task.Date != want[task.ID] {
			t.Errorf("task %s date = %s, want %s", task.ID, task.Date, want[task.ID])
		}
	}
}

func TestDefaultPlan(t *testing.T) {
	d, err := DefaultPlan("2026-01-10")
	if err != nil {
		t.Fatalf("DefaultPlan() failed: %v", err)
	}

	if d.TotalDays != DefaultTotalDays {
		t.Errorf("TotalDays = %d, want %d", d.TotalDays, DefaultTotalDays)
	}
	if len(d.Tasks) != DefaultPlanTaskCount() {
		t.Errorf("len(Tasks) = %d, want %d", len(d.Tasks), DefaultPlanTaskCount())
	}
	if len(d.Subjects) == 0 || len(d.RoutineTemplate) == 0 {
		t.Error("default plan should carry subjects and a routine")
	}

	seen := make(map[string]bool)
	for _, task := range d.Tasks {
		if seen[task.ID] {
			t.Errorf("duplicate task id %s", task.ID)
		}
		seen[task.ID] = true

		want, _ := PlanDate("2026-01-10", task.DayID)
		if task.Date != want {
			t.Errorf("task %s date = %s, want %s", task.ID, task.Date, want)
		}
		if err := task.Validate(); err != nil {
			t.Errorf("task %s invalid: %v", task.ID, err)
		}
	}
}

func TestAppData_CloneIsDeep(t *testing.T) {
	d, err := DefaultPlan("2026-01-10")
	if err != nil {
		t.Fatalf("DefaultPlan() failed: %v", err)
	}
	d.Tasks[0].TestStats = &TestStats{Correct: 1, Total: 1}
	d.Notes["2026-01-10"] = "first day"

	c := d.Clone()
	c.Tasks[0].Topic = "changed"
	c.Tasks[0].TestStats.Correct = 99
	c.Notes["2026-01-10"] = "changed"
	c.Subjects[0].Name = "changed"

	if d.Tasks[0].Topic == "changed" || d.Tasks[0].TestStats.Correct == 99 {
		t.Error("Clone() shares task memory")
	}
	if d.Notes["2026-01-10"] != "first day" {
		t.Error("Clone() shares notes map")
	}
	if d.Subjects[0].Name == "changed" {
		t.Error("Clone() shares subjects slice")
	}
}

func TestAppData_NormalizeClampsTotalDays(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, DefaultTotalDays},
		{3, MinTotalDays},
		{90, MaxTotalDays},
		{30, 30},
	}
	for _, tt := range tests {
		d := AppData{TotalDays: tt.in}
		d.Normalize()
		if d.TotalDays != tt.want {
			t.Errorf("Normalize(%d) TotalDays = %d, want %d", tt.in, d.TotalDays, tt.want)
		}
		if d.Notes == nil || d.Tasks == nil {
			t.Error("Normalize() left nil collections")
		}
	}
}
