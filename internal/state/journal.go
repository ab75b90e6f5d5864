package state

import (
	"fmt"
	"strings"

	"github.com/mschirtzinger/studysync/internal/model"
)

// SetNote stores the note for date. An empty note removes it.
func (s *Store) SetNote(date, text string) error {
	if _, err := model.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	text = strings.TrimSpace(text)
	return s.mutate("note_set", date, func(d *model.AppData) error {
		if text == "" {
			delete(d.Notes, date)
			return nil
		}
		d.Notes[date] = text
		return nil
	})
}

// SetMood records the mood for date. An empty mood clears it.
func (s *Store) SetMood(date string, mood model.Mood) error {
	if _, err := model.ParseDate(date); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if mood != "" && !mood.IsValid() {
		return fmt.Errorf("%w: unknown mood %q", ErrInvalidInput, mood)
	}
	return s.mutate("mood_set", date+" "+string(mood), func(d *model.AppData) error {
		if mood == "" {
			delete(d.Moods, date)
			return nil
		}
		d.Moods[date] = mood
		return nil
	})
}

// UpdateSettings applies fn to the settings record.
func (s *Store) UpdateSettings(fn func(st *model.Settings)) (model.Settings, error) {
	var updated model.Settings
	err := s.mutate("settings_updated", "", func(d *model.AppData) error {
		st := d.Settings
		fn(&st)
		if st.ViewMode == "" || st.Language == "" {
			return fmt.Errorf("%w: viewMode and language are required", ErrInvalidInput)
		}
		d.Settings = st
		updated = st
		return nil
	})
	return updated, err
}
