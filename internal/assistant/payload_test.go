package assistant

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/mschirtzinger/studysync/internal/model"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantType PayloadType
		wantErr  error
	}{
		{
			name:     "preview",
			raw:      `{"type":"preview_tasks","tasks":[{"subject":"Math","topic":"Limits"}]}`,
			wantType: TypePreviewTasks,
		},
		{
			name:     "series",
			raw:      `{"type":"autopilot_series","series":{"subject":"Math","topics":["A","B"]}}`,
			wantType: TypeAutopilotSeries,
		},
		{name: "unknown type", raw: `{"type":"delete_everything"}`, wantErr: ErrUnknownPayload},
		{name: "missing type", raw: `{"tasks":[]}`, wantErr: ErrUnknownPayload},
		{name: "not json", raw: `sure, here you go`, wantErr: ErrUnknownPayload},
		{name: "array", raw: `[1,2]`, wantErr: ErrUnknownPayload},
		{name: "preview without tasks", raw: `{"type":"preview_tasks"}`, wantErr: ErrInvalidPayload},
		{name: "preview empty", raw: `{"type":"preview_tasks","tasks":[]}`, wantErr: ErrInvalidPayload},
		{name: "preview wrong shape", raw: `{"type":"preview_tasks","tasks":{"subject":"Math"}}`, wantErr: ErrInvalidPayload},
		{name: "series without series", raw: `{"type":"autopilot_series","series":null}`, wantErr: ErrInvalidPayload},
		{name: "series no topics", raw: `{"type":"autopilot_series","series":{"subject":"Math","topics":[]}}`, wantErr: ErrInvalidPayload},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Parse([]byte(tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Parse() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Parse() failed: %v", err)
			}
			if p.Type() != tt.wantType {
				t.Errorf("Type() = %q, want %q", p.Type(), tt.wantType)
			}
		})
	}
}

func TestPreviewTasks_Tasks(t *testing.T) {
	p, err := Parse([]byte(`{"type":"preview_tasks","tasks":[
		{"subject":" Math ","topic":"Limits","date":"2026-03-05","studyType":"review"},
		{"subject":"Physics","topic":"Optics"}]}`))
	if err != nil {
		t.Fatalf("Parse() failed: %v", err)
	}

	got, err := p.Tasks("2026-03-01")
	if err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	want := []model.Task{
		{Subject: "Math", Topic: "Limits", Date: "2026-03-05", StudyType: model.StudyTypeReview},
		{Subject: "Physics", Topic: "Optics", Date: "2026-03-01"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Tasks() mismatch (-want +got):\n%s", diff)
	}
}

func TestPreviewTasks_RejectsBadTasks(t *testing.T) {
	tests := []struct {
		name string
		item TaskDraft
	}{
		{"no subject", TaskDraft{Topic: "x"}},
		{"no topic", TaskDraft{Subject: "Math"}},
		{"bad date", TaskDraft{Subject: "Math", Topic: "x", Date: "03/05/2026"}},
		{"bad type", TaskDraft{Subject: "Math", Topic: "x", StudyType: "nap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := PreviewTasks{Items: []TaskDraft{tt.item}}
			if _, err := p.Tasks("2026-03-01"); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Tasks() error = %v, want %v", err, ErrInvalidPayload)
			}
		})
	}
}

func TestAutopilotSeries_Tasks(t *testing.T) {
	s := AutopilotSeries{
		Subject:      "Chemistry",
		Topics:       []string{"Atoms", "Bonds", "Moles"},
		StartDate:    "2026-03-30",
		IntervalDays: 2,
		StudyType:    model.StudyTypeStudy,
	}
	got, err := s.Tasks("2026-03-01")
	if err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	var dates []string
	for _, task := range got {
		dates = append(dates, task.Date)
		if task.Subject != "Chemistry" || task.StudyType != model.StudyTypeStudy {
			t.Errorf("task = %+v, want Chemistry study task", task)
		}
	}
	if diff := cmp.Diff([]string{"2026-03-30", "2026-04-01", "2026-04-03"}, dates); diff != "" {
		t.Errorf("dates mismatch (-want +got):\n%s", diff)
	}

	// Start date and interval default to today and every day.
	s.StartDate, s.IntervalDays = "", 0
	got, err = s.Tasks("2026-03-01")
	if err != nil {
		t.Fatalf("Tasks() failed: %v", err)
	}
	if got[0].Date != "2026-03-01" || got[2].Date != "2026-03-03" {
		t.Errorf("default dates = %s..%s, want 2026-03-01..2026-03-03", got[0].Date, got[2].Date)
	}
}

func TestAutopilotSeries_RejectsBadSeries(t *testing.T) {
	tests := []struct {
		name   string
		series AutopilotSeries
	}{
		{"no subject", AutopilotSeries{Topics: []string{"a"}}},
		{"negative interval", AutopilotSeries{Subject: "Math", Topics: []string{"a"}, IntervalDays: -1}},
		{"huge interval", AutopilotSeries{Subject: "Math", Topics: []string{"a"}, IntervalDays: MaxIntervalDays + 1}},
		{"bad start", AutopilotSeries{Subject: "Math", Topics: []string{"a"}, StartDate: "soon"}},
		{"blank topic", AutopilotSeries{Subject: "Math", Topics: []string{"a", " "}}},
		{"bad type", AutopilotSeries{Subject: "Math", Topics: []string{"a"}, StudyType: "nap"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := tt.series.Tasks("2026-03-01"); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("Tasks() error = %v, want %v", err, ErrInvalidPayload)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		text string
		want string
		ok   bool
	}{
		{`{"type":"x"}`, `{"type":"x"}`, true},
		{"Here you go:\n```json\n{\"a\":{\"b\":1}}\n```", `{"a":{"b":1}}`, true},
		{"no json here", "", false},
		{"} backwards {", "", false},
	}
	for _, tt := range tests {
		got, ok := ExtractJSON(tt.text)
		if ok != tt.ok || string(got) != tt.want {
			t.Errorf("ExtractJSON(%q) = %q, %v; want %q, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}

type fakeAdder struct {
	added  []model.Task
	failAt int
}

func (f *fakeAdder) AddTask(t model.Task) (model.Task, error) {
	if f.failAt > 0 && len(f.added)+1 == f.failAt {
		return model.Task{}, fmt.Errorf("disk full")
	}
	t.ID = fmt.Sprintf("t-%d", len(f.added))
	f.added = append(f.added, t)
	return t, nil
}

func TestApply(t *testing.T) {
	series := AutopilotSeries{Subject: "Math", Topics: []string{"a", "b", "c"}}

	adder := &fakeAdder{}
	added, err := Apply(adder, series, "2026-03-01")
	if err != nil {
		t.Fatalf("Apply() failed: %v", err)
	}
	if len(added) != 3 || added[2].ID != "t-2" {
		t.Errorf("Apply() added %+v, want 3 tasks with ids", added)
	}

	adder = &fakeAdder{failAt: 2}
	added, err = Apply(adder, series, "2026-03-01")
	if err == nil {
		t.Fatal("Apply() succeeded despite a failing store")
	}
	if len(added) != 1 {
		t.Errorf("Apply() returned %d tasks before the failure, want 1", len(added))
	}

	if _, err := Apply(&fakeAdder{}, AutopilotSeries{Topics: []string{"a"}}, "2026-03-01"); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("Apply() error = %v, want %v", err, ErrInvalidPayload)
	}
}
