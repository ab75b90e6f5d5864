package state

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/model"
)

// SetStartDate moves the plan window and re-anchors every anchored task.
func (s *Store) SetStartDate(date string) error {
	if _, err := model.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return s.mutate("start_date_set", date, func(d *model.AppData) error {
		d.StartDate = date
		return d.Reanchor()
	})
}

// SetTotalDays changes the plan length. Values outside the allowed range are
// rejected and leave the plan unchanged.
func (s *Store) SetTotalDays(n int) error {
	if n < model.MinTotalDays || n > model.MaxTotalDays {
		return fmt.Errorf("%w (got %d)", ErrInvalidDuration, n)
	}
	return s.mutate("total_days_set", fmt.Sprint(n), func(d *model.AppData) error {
		d.TotalDays = n
		return nil
	})
}

// ShiftIncompleteTasks moves every incomplete task dated on or after
// viewedDate forward by one day, after confirmation. Anchored tasks move to
// the next plan day, growing the plan up to its maximum length; a task
// pushed past the last allowed day stays on its new date as a custom task.
func (s *Store) ShiftIncompleteTasks(ctx context.Context, viewedDate string) (int, error) {
	if _, err := model.ParseDate(viewedDate); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	var pending int
	err := s.peek(func(d *model.AppData) error {
		pending = len(shiftable(d, viewedDate))
		return nil
	})
	if err != nil {
		return 0, err
	}
	if pending == 0 {
		return 0, nil
	}
	if err := s.confirm(ctx, fmt.Sprintf("Move %d unfinished tasks from %s forward by one day?", pending, viewedDate)); err != nil {
		return 0, err
	}

	var moved int
	err = s.mutate("tasks_shifted", viewedDate, func(d *model.AppData) error {
		for _, i := range shiftable(d, viewedDate) {
			t := &d.Tasks[i]
			next, err := model.AddDays(t.Date, 1)
			if err != nil {
				return err
			}
			if t.IsAnchored() {
				if t.DayID < model.MaxTotalDays {
					t.DayID++
					d.TotalDays = max(d.TotalDays, t.DayID)
				} else {
					t.IsCustom = true
				}
			}
			t.Date = next
			moved++
		}
		return nil
	})
	return moved, err
}

func shiftable(d *model.AppData, from string) []int {
	var idx []int
	for i, t := range d.Tasks {
		if !t.IsCompleted && t.Date != "" && t.Date >= from {
			idx = append(idx, i)
		}
	}
	return idx
}

// ArchiveCurrentPlan snapshots the live tasks, notes and moods into an
// ArchivedPlan and clears them for the next cycle. XP, subjects and the
// routine template carry over. An empty title is generated from the dates.
func (s *Store) ArchiveCurrentPlan(title string) (model.ArchivedPlan, error) {
	var archived model.ArchivedPlan
	err := s.mutate("plan_archived", title, func(d *model.AppData) error {
		if title == "" {
			title = fmt.Sprintf("Plan %s to %s", d.StartDate, d.EndDate())
		}
		archived = model.ArchivedPlan{
			ID:             uuid.NewString(),
			Title:          title,
			StartDate:      d.StartDate,
			EndDate:        d.EndDate(),
			ArchivedAt:     s.clock.Now().UnixMilli(),
			Tasks:          d.Tasks,
			Notes:          d.Notes,
			Moods:          d.Moods,
			TotalTasks:     len(d.Tasks),
			CompletedTasks: d.CompletedCount(),
		}
		d.ArchivedPlans = append([]model.ArchivedPlan{archived}, d.ArchivedPlans...)
		d.Tasks = []model.Task{}
		d.Notes = map[string]string{}
		d.Moods = map[string]model.Mood{}
		d.CompletedRoutineMarks = []model.RoutineMark{}
		return nil
	})
	if err != nil {
		return model.ArchivedPlan{}, err
	}
	return archived.Clone(), nil
}

// ArchivedPlans returns the archive, newest first.
func (s *Store) ArchivedPlans() []model.ArchivedPlan {
	d := s.Snapshot()
	return d.ArchivedPlans
}

// DeleteArchivedPlan removes an archived plan after confirmation.
func (s *Store) DeleteArchivedPlan(ctx context.Context, id string) error {
	var title string
	err := s.peek(func(d *model.AppData) error {
		i := archiveIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
		}
		title = d.ArchivedPlans[i].Title
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, fmt.Sprintf("Delete archived plan %q?", title)); err != nil {
		return err
	}

	return s.mutate("archive_deleted", title, func(d *model.AppData) error {
		i := archiveIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, id)
		}
		d.ArchivedPlans = slices.Delete(d.ArchivedPlans, i, i+1)
		return nil
	})
}

func archiveIndex(d *model.AppData, id string) int {
	return slices.IndexFunc(d.ArchivedPlans, func(p model.ArchivedPlan) bool { return p.ID == id })
}

// ResetProgress wipes the current identity's local storage and starts over
// with the built-in plan, after confirmation.
func (s *Store) ResetProgress(ctx context.Context) error {
	if !s.Ready() {
		return ErrNotReady
	}
	if err := s.confirm(ctx, "Erase all progress and start over with the default plan?"); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return ErrNotReady
	}
	seeded, err := model.DefaultPlan(s.today())
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("failed to seed default plan: %w", err)
	}

	s.persister.ClearAll(s.identity)
	// Keep the stamp ahead of anything already synced for this identity.
	seeded.LastUpdated = s.data.LastUpdated
	seeded.AppendAudit(model.AuditEntry{
		ID:        uuid.NewString(),
		Timestamp: s.clock.Now().UnixMilli(),
		Action:    "progress_reset",
	})
	s.data = seeded
	saved := s.persister.Save(&s.data, s.identity)
	ch, listeners := s.commitLocked(OriginLocal, "progress_reset")
	s.mu.Unlock()

	if !saved {
		s.notifier.Notify(LevelError, "Could not save your changes on this device")
	}
	s.logger.Info("progress reset", zap.String("identity", ch.Identity))
	s.emit(ch, listeners)
	return nil
}
