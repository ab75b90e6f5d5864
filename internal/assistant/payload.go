// Package assistant turns AI replies into study tasks.
//
// Replies are untrusted JSON. Parse accepts exactly two shapes, selected by
// the "type" field:
//
//	{"type":"preview_tasks","tasks":[{"subject":"Math","topic":"Limits","date":"2026-03-02"}]}
//	{"type":"autopilot_series","series":{"subject":"Math","topics":["A","B"],
//	  "startDate":"2026-03-02","intervalDays":2,"studyType":"review"}}
//
// Anything else is rejected with ErrUnknownPayload and nothing is applied.
package assistant

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mschirtzinger/studysync/internal/model"
)

var (
	// ErrUnknownPayload is returned for JSON whose type is not recognized.
	ErrUnknownPayload = errors.New("unknown assistant payload")

	// ErrInvalidPayload is returned for a recognized payload with bad fields.
	ErrInvalidPayload = errors.New("invalid assistant payload")
)

// PayloadType tags a payload variant.
type PayloadType string

const (
	TypePreviewTasks    PayloadType = "preview_tasks"
	TypeAutopilotSeries PayloadType = "autopilot_series"
)

// Limits on what a single payload may add.
const (
	MaxPayloadTasks = 100
	MaxSeriesTopics = 60
	MaxIntervalDays = 30
)

// Payload is a validated assistant reply.
type Payload interface {
	Type() PayloadType

	// Tasks expands the payload into tasks ready for state.AddTask. Dates
	// left empty default to today.
	Tasks(today string) ([]model.Task, error)
}

// PreviewTasks is a list of proposed tasks.
type PreviewTasks struct {
	Items []TaskDraft `json:"tasks"`
}

// TaskDraft is one proposed task.
type TaskDraft struct {
	Subject   string          `json:"subject"`
	Topic     string          `json:"topic"`
	Date      string          `json:"date,omitempty"`
	Details   string          `json:"details,omitempty"`
	StudyType model.StudyType `json:"studyType,omitempty"`
}

// AutopilotSeries spreads topics of one subject over evenly spaced days.
type AutopilotSeries struct {
	Subject      string          `json:"subject"`
	Topics       []string        `json:"topics"`
	StartDate    string          `json:"startDate,omitempty"`
	IntervalDays int             `json:"intervalDays,omitempty"`
	StudyType    model.StudyType `json:"studyType,omitempty"`
}

func (PreviewTasks) Type() PayloadType { return TypePreviewTasks }

func (p PreviewTasks) Tasks(today string) ([]model.Task, error) {
	tasks := make([]model.Task, 0, len(p.Items))
	for i, d := range p.Items {
		t := model.Task{
			ID:        "draft",
			Subject:   strings.TrimSpace(d.Subject),
			Topic:     strings.TrimSpace(d.Topic),
			Date:      d.Date,
			Details:   d.Details,
			StudyType: d.StudyType,
		}
		if t.Date == "" {
			t.Date = today
		}
		if t.Topic == "" {
			return nil, fmt.Errorf("%w: task %d has no topic", ErrInvalidPayload, i)
		}
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("%w: task %d: %v", ErrInvalidPayload, i, err)
		}
		t.ID = ""
		tasks = append(tasks, t)
	}
	return tasks, nil
}

func (AutopilotSeries) Type() PayloadType { return TypeAutopilotSeries }

func (s AutopilotSeries) Tasks(today string) ([]model.Task, error) {
	subject := strings.TrimSpace(s.Subject)
	if subject == "" {
		return nil, fmt.Errorf("%w: series has no subject", ErrInvalidPayload)
	}
	if !s.StudyType.IsValid() {
		return nil, fmt.Errorf("%w: unknown studyType %q", ErrInvalidPayload, s.StudyType)
	}
	interval := s.IntervalDays
	if interval == 0 {
		interval = 1
	}
	if interval < 1 || interval > MaxIntervalDays {
		return nil, fmt.Errorf("%w: intervalDays must be between 1 and %d (got %d)", ErrInvalidPayload, MaxIntervalDays, s.IntervalDays)
	}
	start := s.StartDate
	if start == "" {
		start = today
	}
	if _, err := model.ParseDate(start); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	tasks := make([]model.Task, 0, len(s.Topics))
	for i, topic := range s.Topics {
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, fmt.Errorf("%w: topic %d is empty", ErrInvalidPayload, i)
		}
		date, err := model.AddDays(start, i*interval)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, model.Task{
			Subject:   subject,
			Topic:     topic,
			Date:      date,
			StudyType: s.StudyType,
		})
	}
	return tasks, nil
}

// envelope is decoded first to pick the variant.
type envelope struct {
	Type   PayloadType     `json:"type"`
	Tasks  json.RawMessage `json:"tasks"`
	Series json.RawMessage `json:"series"`
}

// Parse validates raw JSON as one of the payload variants.
func Parse(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownPayload, err)
	}

	switch env.Type {
	case TypePreviewTasks:
		if len(env.Tasks) == 0 || bytes.Equal(env.Tasks, []byte("null")) {
			return nil, fmt.Errorf("%w: preview_tasks without tasks", ErrInvalidPayload)
		}
		var p PreviewTasks
		if err := json.Unmarshal(env.Tasks, &p.Items); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(p.Items) == 0 || len(p.Items) > MaxPayloadTasks {
			return nil, fmt.Errorf("%w: expected 1 to %d tasks (got %d)", ErrInvalidPayload, MaxPayloadTasks, len(p.Items))
		}
		return p, nil

	case TypeAutopilotSeries:
		if len(env.Series) == 0 || bytes.Equal(env.Series, []byte("null")) {
			return nil, fmt.Errorf("%w: autopilot_series without series", ErrInvalidPayload)
		}
		var s AutopilotSeries
		if err := json.Unmarshal(env.Series, &s); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		if len(s.Topics) == 0 || len(s.Topics) > MaxSeriesTopics {
			return nil, fmt.Errorf("%w: expected 1 to %d topics (got %d)", ErrInvalidPayload, MaxSeriesTopics, len(s.Topics))
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: type %q", ErrUnknownPayload, env.Type)
}

// ExtractJSON returns the outermost JSON object in text, which may be
// wrapped in prose or a code fence.
func ExtractJSON(text string) ([]byte, bool) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end < start {
		return nil, false
	}
	return []byte(text[start : end+1]), true
}

// TaskAdder is the part of *state.Store Apply uses.
type TaskAdder interface {
	AddTask(t model.Task) (model.Task, error)
}

// Apply expands p and adds every task. It stops at the first failure and
// returns the tasks added so far.
func Apply(st TaskAdder, p Payload, today string) ([]model.Task, error) {
	tasks, err := p.Tasks(today)
	if err != nil {
		return nil, err
	}
	added := make([]model.Task, 0, len(tasks))
	for _, t := range tasks {
		a, err := st.AddTask(t)
		if err != nil {
			return added, fmt.Errorf("failed to add %s: %s: %w", t.Subject, t.Topic, err)
		}
		added = append(added, a)
	}
	return added, nil
}
