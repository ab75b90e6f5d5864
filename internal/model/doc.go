// Package model defines the persisted study-plan aggregate.
//
// # Overview
//
// AppData is the single document that is written to on-device storage and
// mirrored to the remote document store. It is a flat JSON object so that a
// whole-document last-write-wins merge stays trivial: the copy with the higher
// LastUpdated (epoch milliseconds) replaces the other.
//
//	{
//	  "tasks": [...],
//	  "routineTemplate": [...],
//	  "completedRoutineMarks": [{"dayIndex": 3, "slotId": "rt-morning"}],
//	  "notes": {"2026-01-12": "..."},
//	  "moods": {"2026-01-12": "good"},
//	  "xp": 120,
//	  "auditLog": [...],
//	  "subjects": [...],
//	  "archivedPlans": [...],
//	  "startDate": "2026-01-10",
//	  "totalDays": 12,
//	  "settings": {...},
//	  "lastUpdated": 1768032000000,
//	  "schemaVersion": 2
//	}
//
// # Plan days
//
// A task with DayID > 0 that is not custom is anchored to the plan: its Date is
// always StartDate + (DayID - 1) days. Use PlanDate to derive it and
// Reanchor to refresh every anchored task after StartDate changes.
//
// # Built-in plan
//
// DefaultPlan returns the 12-day seed plan embedded from defaults.yaml. It is
// used on first run, when no stored aggregate exists for the identity.
package model
