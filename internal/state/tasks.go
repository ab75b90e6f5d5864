package state

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/mschirtzinger/studysync/internal/model"
)

// AddTask adds t to the plan and returns it as stored. A missing id is
// generated; an anchored task's date is derived from its day; an unanchored
// task without a date lands on today.
func (s *Store) AddTask(t model.Task) (model.Task, error) {
	t = t.Clone()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}

	err := s.mutate("task_added", t.Subject+": "+t.Topic, func(d *model.AppData) error {
		if d.TaskIndex(t.ID) >= 0 {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
		if err := s.placeTask(d, &t); err != nil {
			return err
		}
		d.Tasks = append(d.Tasks, t)
		return nil
	})
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

// UpdateTask applies fn to the task with id. The id and completion state are
// kept; completion only changes through ToggleTask. Changing the study type of
// a completed task moves XP by the difference in reward, so a later undo
// takes back exactly what is held.
func (s *Store) UpdateTask(id string, fn func(t *model.Task)) (model.Task, error) {
	var updated model.Task
	err := s.mutate("task_updated", id, func(d *model.AppData) error {
		i := d.TaskIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		t := d.Tasks[i].Clone()
		fn(&t)
		t.ID = id
		t.IsCompleted = d.Tasks[i].IsCompleted
		if err := s.placeTask(d, &t); err != nil {
			return err
		}
		if t.IsCompleted {
			if delta := t.StudyType.Reward() - d.Tasks[i].StudyType.Reward(); delta != 0 {
				d.XP = max(d.XP+delta, 0)
			}
		}
		d.Tasks[i] = t
		updated = t.Clone()
		return nil
	})
	return updated, err
}

// DeleteTask removes the task with id after confirmation.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	var prompt string
	err := s.peek(func(d *model.AppData) error {
		i := d.TaskIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		t := d.Tasks[i]
		if t.IsComposite() {
			prompt = fmt.Sprintf("Delete %s %q and all %d of its sections?", t.StudyType, t.Topic, len(t.SubTasks))
		} else {
			prompt = fmt.Sprintf("Delete task %q?", t.Topic)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, prompt); err != nil {
		return err
	}

	return s.mutate("task_deleted", id, func(d *model.AppData) error {
		i := d.TaskIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		d.Tasks = append(d.Tasks[:i], d.Tasks[i+1:]...)
		return nil
	})
}

// ToggleTask flips the completion of the task with id and moves XP by the
// task's reward. It returns the new completion state.
func (s *Store) ToggleTask(id string) (bool, error) {
	var completed bool
	err := s.mutate("task_toggled", id, func(d *model.AppData) error {
		i := d.TaskIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		t := &d.Tasks[i]
		t.IsCompleted = !t.IsCompleted
		completed = t.IsCompleted

		reward := t.StudyType.Reward()
		if completed {
			d.XP += reward
		} else {
			d.XP = max(d.XP-reward, 0)
		}
		return nil
	})
	return completed, err
}

// Tasks returns copies of the tasks on date, or all tasks when date is empty.
func (s *Store) Tasks(date string) []model.Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []model.Task
	for _, t := range s.data.Tasks {
		if date == "" || t.Date == date {
			out = append(out, t.Clone())
		}
	}
	return out
}

// Task returns a copy of the task with id.
func (s *Store) Task(id string) (model.Task, error) {
	var t model.Task
	err := s.peek(func(d *model.AppData) error {
		i := d.TaskIndex(id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		t = d.Tasks[i].Clone()
		return nil
	})
	return t, err
}

// placeTask derives t's date from the plan and validates it.
func (s *Store) placeTask(d *model.AppData, t *model.Task) error {
	switch {
	case t.IsAnchored():
		if t.DayID > d.TotalDays {
			return fmt.Errorf("%w: day %d is outside the %d-day plan", ErrInvalidInput, t.DayID, d.TotalDays)
		}
		date, err := model.PlanDate(d.StartDate, t.DayID)
		if err != nil {
			return err
		}
		t.Date = date
	case t.Date == "":
		t.Date = s.today()
	}

	if err := t.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}
