package state

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/mschirtzinger/studysync/internal/model"
)

func subjectIndex(d *model.AppData, id string) int {
	return slices.IndexFunc(d.Subjects, func(s model.Subject) bool { return s.ID == id })
}

func subjectNameTaken(d *model.AppData, name, exceptID string) bool {
	return slices.ContainsFunc(d.Subjects, func(s model.Subject) bool {
		return s.ID != exceptID && strings.EqualFold(s.Name, name)
	})
}

// AddSubject adds a subject. Names are unique ignoring case.
func (s *Store) AddSubject(sub model.Subject) (model.Subject, error) {
	sub.Name = strings.TrimSpace(sub.Name)
	if sub.Name == "" {
		return model.Subject{}, fmt.Errorf("%w: subject name is required", ErrInvalidInput)
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	err := s.mutate("subject_added", sub.Name, func(d *model.AppData) error {
		if subjectIndex(d, sub.ID) >= 0 || subjectNameTaken(d, sub.Name, "") {
			return fmt.Errorf("%w: %s", ErrDuplicateSubject, sub.Name)
		}
		d.Subjects = append(d.Subjects, sub)
		return nil
	})
	if err != nil {
		return model.Subject{}, err
	}
	return sub, nil
}

// UpdateSubject applies fn to the subject with id. Tasks keep the subject
// name they were created with.
func (s *Store) UpdateSubject(id string, fn func(sub *model.Subject)) (model.Subject, error) {
	var updated model.Subject
	err := s.mutate("subject_updated", id, func(d *model.AppData) error {
		i := subjectIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
		}
		sub := d.Subjects[i]
		fn(&sub)
		sub.ID = id
		sub.Name = strings.TrimSpace(sub.Name)
		if sub.Name == "" {
			return fmt.Errorf("%w: subject name is required", ErrInvalidInput)
		}
		if subjectNameTaken(d, sub.Name, id) {
			return fmt.Errorf("%w: %s", ErrDuplicateSubject, sub.Name)
		}
		d.Subjects[i] = sub
		updated = sub
		return nil
	})
	return updated, err
}

// DeleteSubject removes the subject with id after confirmation. Tasks that
// name the subject are left as they are.
func (s *Store) DeleteSubject(ctx context.Context, id string) error {
	var name string
	var used int
	err := s.peek(func(d *model.AppData) error {
		i := subjectIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
		}
		name = d.Subjects[i].Name
		for _, t := range d.Tasks {
			if t.Subject == name {
				used++
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	prompt := fmt.Sprintf("Delete subject %q?", name)
	if used > 0 {
		prompt = fmt.Sprintf("Delete subject %q? %d tasks keep their subject label.", name, used)
	}
	if err := s.confirm(ctx, prompt); err != nil {
		return err
	}

	return s.mutate("subject_deleted", name, func(d *model.AppData) error {
		i := subjectIndex(d, id)
		if i < 0 {
			return fmt.Errorf("%w: %s", ErrSubjectNotFound, id)
		}
		d.Subjects = slices.Delete(d.Subjects, i, i+1)
		return nil
	})
}
