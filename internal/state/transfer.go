package state

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mschirtzinger/studysync/internal/model"
)

// ExportVersion tags files written by Export.
const ExportVersion = 1

// ExportFile is the portable subset of the aggregate a user can download
// and import elsewhere.
type ExportFile struct {
	Version               int                   `json:"version"`
	ExportedAt            int64                 `json:"exportedAt"`
	Tasks                 []model.Task          `json:"tasks"`
	CompletedRoutineMarks []model.RoutineMark   `json:"completedRoutineMarks"`
	Notes                 map[string]string     `json:"notes"`
	XP                    int                   `json:"xp"`
	AuditLog              []model.AuditEntry    `json:"auditLog"`
	Moods                 map[string]model.Mood `json:"moods"`
	StartDate             string                `json:"startDate"`
	Settings              model.Settings        `json:"settings"`
}

// importFile mirrors ExportFile with optional fields so absent keys keep
// the current values.
type importFile struct {
	Tasks                 *[]model.Task          `json:"tasks"`
	CompletedRoutineMarks *[]model.RoutineMark   `json:"completedRoutineMarks"`
	Notes                 *map[string]string     `json:"notes"`
	XP                    *int                   `json:"xp"`
	AuditLog              *[]model.AuditEntry    `json:"auditLog"`
	Moods                 *map[string]model.Mood `json:"moods"`
	StartDate             *string                `json:"startDate"`
	Settings              *model.Settings        `json:"settings"`
}

// Export writes the portable subset of the aggregate to w as indented JSON.
func (s *Store) Export(w io.Writer) error {
	var f ExportFile
	err := s.peek(func(d *model.AppData) error {
		c := d.Clone()
		f = ExportFile{
			Version:               ExportVersion,
			ExportedAt:            s.clock.Now().UnixMilli(),
			Tasks:                 c.Tasks,
			CompletedRoutineMarks: c.CompletedRoutineMarks,
			Notes:                 c.Notes,
			XP:                    c.XP,
			AuditLog:              c.AuditLog,
			Moods:                 c.Moods,
			StartDate:             c.StartDate,
			Settings:              c.Settings,
		}
		return nil
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(f); err != nil {
		s.notifier.Notify(LevelError, "Export failed")
		return fmt.Errorf("failed to write export: %w", err)
	}
	s.notifier.Notify(LevelSuccess, fmt.Sprintf("Exported %d tasks", len(f.Tasks)))
	return nil
}

// Import replaces the exported fields of the aggregate with the contents of
// r. The file must carry a tasks field and valid tasks; it is rejected before
// anything changes otherwise. Overwriting requires confirmation.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	f, err := decodeImport(r)
	if err != nil {
		s.notifier.Notify(LevelError, "Import failed: "+err.Error())
		return err
	}
	if !s.Ready() {
		return ErrNotReady
	}
	if err := s.confirm(ctx, fmt.Sprintf("Replace your current plan with %d imported tasks?", len(*f.Tasks))); err != nil {
		return err
	}

	err = s.mutate("data_imported", fmt.Sprintf("%d tasks", len(*f.Tasks)), func(d *model.AppData) error {
		d.Tasks = *f.Tasks
		if f.CompletedRoutineMarks != nil {
			d.CompletedRoutineMarks = *f.CompletedRoutineMarks
		}
		if f.Notes != nil {
			d.Notes = *f.Notes
		}
		if f.XP != nil {
			d.XP = *f.XP
		}
		if f.AuditLog != nil {
			d.AuditLog = *f.AuditLog
			if len(d.AuditLog) > model.MaxAuditEntries {
				d.AuditLog = d.AuditLog[:model.MaxAuditEntries]
			}
		}
		if f.Moods != nil {
			d.Moods = *f.Moods
		}
		if f.StartDate != nil {
			d.StartDate = *f.StartDate
		}
		if f.Settings != nil {
			d.Settings = fillSettings(*f.Settings)
		}
		d.Normalize()
		return d.Reanchor()
	})
	if err != nil {
		s.notifier.Notify(LevelError, "Import failed: "+err.Error())
		return err
	}
	s.notifier.Notify(LevelSuccess, fmt.Sprintf("Imported %d tasks", len(*f.Tasks)))
	return nil
}

func decodeImport(r io.Reader) (importFile, error) {
	var f importFile
	if err := json.NewDecoder(r).Decode(&f); err != nil {
		return importFile{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
	}
	if f.Tasks == nil {
		return importFile{}, fmt.Errorf("%w: missing tasks", ErrInvalidImport)
	}
	if f.StartDate != nil {
		if _, err := model.ParseDate(*f.StartDate); err != nil {
			return importFile{}, fmt.Errorf("%w: %v", ErrInvalidImport, err)
		}
	}

	seen := make(map[string]bool, len(*f.Tasks))
	for i := range *f.Tasks {
		t := &(*f.Tasks)[i]
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		if seen[t.ID] {
			return importFile{}, fmt.Errorf("%w: duplicate task id %s", ErrInvalidImport, t.ID)
		}
		seen[t.ID] = true
		if err := t.Validate(); err != nil {
			return importFile{}, fmt.Errorf("%w: task %d: %v", ErrInvalidImport, i, err)
		}
	}
	if f.Moods != nil {
		for date, m := range *f.Moods {
			if !m.IsValid() {
				return importFile{}, fmt.Errorf("%w: unknown mood %q on %s", ErrInvalidImport, m, date)
			}
		}
	}
	return f, nil
}

// ApplyRemote adopts a document from the remote store when it is strictly
// newer than the local aggregate. It reports whether anything changed;
// applying the same document twice changes nothing the second time. The
// adopted document keeps its LastUpdated stamp.
func (s *Store) ApplyRemote(remote model.AppData) (bool, error) {
	s.mu.Lock()
	if !s.ready {
		s.mu.Unlock()
		return false, ErrNotReady
	}
	if remote.LastUpdated <= s.data.LastUpdated {
		s.mu.Unlock()
		return false, nil
	}

	data, err := hydrate(remote)
	if err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("failed to apply remote document: %w", err)
	}
	data.LastUpdated = remote.LastUpdated

	s.data = data
	if !s.persister.Put(s.data, s.identity) {
		s.logger.Warn("failed to persist remote document", zap.String("identity", s.identity))
	}
	ch, listeners := s.commitLocked(OriginRemote, "remote_applied")
	s.mu.Unlock()

	s.logger.Info("applied remote document",
		zap.String("identity", ch.Identity),
		zap.Int64("lastUpdated", ch.LastUpdated))
	s.emit(ch, listeners)
	return true, nil
}
