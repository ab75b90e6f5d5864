package state

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mschirtzinger/studysync/internal/model"
)

const clockLayout = "15:04"

func validateSlot(r model.RoutineSlot) error {
	if r.Title == "" {
		return fmt.Errorf("%w: routine title is required", ErrInvalidInput)
	}
	start, err := time.Parse(clockLayout, r.StartTime)
	if err != nil {
		return fmt.Errorf("%w: invalid start time %q", ErrInvalidInput, r.StartTime)
	}
	end, err := time.Parse(clockLayout, r.EndTime)
	if err != nil {
		return fmt.Errorf("%w: invalid end time %q", ErrInvalidInput, r.EndTime)
	}
	if !end.After(start) {
		return fmt.Errorf("%w: routine must end after it starts", ErrInvalidInput)
	}
	return nil
}

func slotIndex(d *model.AppData, id string) int {
	return slices.IndexFunc(d.RoutineTemplate, func(r model.RoutineSlot) bool { return r.ID == id })
}

// AddRoutineSlot appends r to the daily routine.
func (s *Store) AddRoutineSlot(r model.RoutineSlot) (model.RoutineSlot, error) {
	if r.ID == "" {
		r.ID = "rt-" + uuid.NewString()
	}
	if err := validateSlot(r); err != nil {
		return model.RoutineSlot{}, err
	}
	err := s.mutate("routine_added", r.Title, func(d *model.AppData) error {
		if slotIndex(d, r.ID) >= 0 {
			return fmt.Errorf("%w: routine slot %s already exists", ErrInvalidInput, r.ID)
		}
		d.RoutineTemplate = append(d.RoutineTemplate, r)
		return nil
	})
	if err != nil {
		return model.RoutineSlot{}, err
	}
	return r, nil
}

// UpdateRoutineSlot applies fn to the slot with id.
func (s *Store) UpdateRoutineSlot(id string, fn func(r *model.RoutineSlot)) (model.RoutineSlot, error) {
	var updated model.RoutineSlot
	err := s.mutate("routine_updated", id, func(d *model.AppData) error {
		i := slotIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRoutineSlotNotFound, id)
		}
		r := d.RoutineTemplate[i]
		fn(&r)
		r.ID = id
		if err := validateSlot(r); err != nil {
			return err
		}
		d.RoutineTemplate[i] = r
		updated = r
		return nil
	})
	return updated, err
}

// DeleteRoutineSlot removes the slot with id and its completion marks, after
// confirmation.
func (s *Store) DeleteRoutineSlot(ctx context.Context, id string) error {
	var title string
	err := s.peek(func(d *model.AppData) error {
		i := slotIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRoutineSlotNotFound, id)
		}
		title = d.RoutineTemplate[i].Title
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.confirm(ctx, fmt.Sprintf("Delete routine %q?", title)); err != nil {
		return err
	}

	return s.mutate("routine_deleted", title, func(d *model.AppData) error {
		i := slotIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRoutineSlotNotFound, id)
		}
		d.RoutineTemplate = slices.Delete(d.RoutineTemplate, i, i+1)
		d.CompletedRoutineMarks = slices.DeleteFunc(d.CompletedRoutineMarks, func(m model.RoutineMark) bool {
			return m.SlotID == id
		})
		return nil
	})
}

// MoveRoutineSlot moves the slot with id to position to (0-based, clamped).
func (s *Store) MoveRoutineSlot(id string, to int) error {
	return s.mutate("routine_moved", id, func(d *model.AppData) error {
		i := slotIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrRoutineSlotNotFound, id)
		}
		r := d.RoutineTemplate[i]
		d.RoutineTemplate = slices.Delete(d.RoutineTemplate, i, i+1)
		to = min(max(to, 0), len(d.RoutineTemplate))
		d.RoutineTemplate = slices.Insert(d.RoutineTemplate, to, r)
		return nil
	})
}

// ToggleRoutineMark flips the done mark of slotID on plan day dayIndex and
// moves XP by the routine reward. It returns the new mark state.
func (s *Store) ToggleRoutineMark(dayIndex int, slotID string) (bool, error) {
	var marked bool
	err := s.mutate("routine_toggled", fmt.Sprintf("day %d %s", dayIndex, slotID), func(d *model.AppData) error {
		if dayIndex < 1 || dayIndex > d.TotalDays {
			return fmt.Errorf("%w: day %d is outside the plan", ErrInvalidInput, dayIndex)
		}
		if slotIndex(d, slotID) < 0 {
			return fmt.Errorf("%w: %s", ErrRoutineSlotNotFound, slotID)
		}
		mark := model.RoutineMark{DayIndex: dayIndex, SlotID: slotID}
		if i := slices.Index(d.CompletedRoutineMarks, mark); i >= 0 {
			d.CompletedRoutineMarks = slices.Delete(d.CompletedRoutineMarks, i, i+1)
			d.XP = max(d.XP-model.RewardRoutine, 0)
			return nil
		}
		d.CompletedRoutineMarks = append(d.CompletedRoutineMarks, mark)
		d.XP += model.RewardRoutine
		marked = true
		return nil
	})
	return marked, err
}
