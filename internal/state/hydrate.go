package state

import (
	"fmt"

	"github.com/mschirtzinger/studysync/internal/model"
)

// hydrate turns a stored or remote aggregate into the in-memory shape:
// legacy subjects are merged, missing collections and settings are filled in,
// anchored dates are re-derived and the audit log is trimmed.
func hydrate(d model.AppData) (model.AppData, error) {
	d = d.Clone()

	// Older stores only kept user-added subjects under customSubjects.
	if d.Subjects == nil {
		d.Subjects = mergeSubjects(model.DefaultSubjects(), d.CustomSubjects)
	}
	d.CustomSubjects = nil

	if d.RoutineTemplate == nil {
		d.RoutineTemplate = model.DefaultRoutine()
	}
	if d.Settings.Language == "" {
		d.Settings = fillSettings(d.Settings)
	}
	d.Normalize()

	if d.StartDate == "" {
		return model.AppData{}, fmt.Errorf("startDate is missing")
	}
	if _, err := model.ParseDate(d.StartDate); err != nil {
		return model.AppData{}, err
	}
	if err := d.Reanchor(); err != nil {
		return model.AppData{}, err
	}
	if len(d.AuditLog) > model.MaxAuditEntries {
		d.AuditLog = d.AuditLog[:model.MaxAuditEntries]
	}
	return d, nil
}

// mergeSubjects appends extra to base, skipping ids already present.
func mergeSubjects(base, extra []model.Subject) []model.Subject {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]model.Subject, 0, len(base)+len(extra))
	for _, list := range [][]model.Subject{base, extra} {
		for _, s := range list {
			if seen[s.ID] {
				continue
			}
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out
}

// fillSettings supplies defaults for the string fields a legacy record lacks.
func fillSettings(s model.Settings) model.Settings {
	def := model.DefaultSettings()
	if s.ViewMode == "" {
		s.ViewMode = def.ViewMode
	}
	if s.Stream == "" {
		s.Stream = def.Stream
	}
	s.Language = def.Language
	return s
}
