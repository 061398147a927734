/*
allocator.go - Conflict-free table allocation

PURPOSE:
  Given a school and a time interval, find a table with no conflicting
  reservation, or validate a manually chosen one.

OVERLAP TEST:
  Intervals are half-open [start, end). Two intervals overlap iff
  s1 < e2 && s2 < e1. Back-to-back lessons (e1 == s2) do not conflict.

RACE NOTE:
  Allocation is a read; the final word is AppointmentStore.Insert,
  which re-checks overlap under the write lock. A lost race surfaces
  as ConcurrencyConflict and the engine retries with a fresh scan.
*/
package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/paddlepoint/coaching-engine/core"
)

// Overlaps reports whether [s1,e1) and [s2,e2) intersect.
func Overlaps(s1, e1, s2, e2 time.Time) bool {
	return s1.Before(e2) && s2.Before(e1)
}

// Allocator finds and validates physical tables for appointments.
type Allocator struct {
	Inventory    TableInventory
	Appointments AppointmentStore
}

// AutoAssign scans the school's table pool in stable order and returns
// the first table free for [start, end). Returns a wrapped
// core.ErrResourceUnavailable when every table is taken.
func (al *Allocator) AutoAssign(ctx context.Context, schoolID string, start, end time.Time) (string, error) {
	tables, err := al.Inventory.TablesOfSchool(ctx, schoolID)
	if err != nil {
		return "", fmt.Errorf("list tables of school %s: %w", schoolID, err)
	}

	for _, tableID := range tables {
		free, err := al.isFree(ctx, tableID, start, end)
		if err != nil {
			return "", err
		}
		if free {
			return tableID, nil
		}
	}
	return "", fmt.Errorf("%w: school %s has no free table in [%s, %s)",
		core.ErrResourceUnavailable, schoolID,
		start.Format(time.RFC3339), end.Format(time.RFC3339))
}

// ValidateManual checks a caller-chosen table: it must belong to the
// school and be free for the interval.
func (al *Allocator) ValidateManual(ctx context.Context, tableID, schoolID string, start, end time.Time) error {
	tables, err := al.Inventory.TablesOfSchool(ctx, schoolID)
	if err != nil {
		return fmt.Errorf("list tables of school %s: %w", schoolID, err)
	}

	owned := false
	for _, id := range tables {
		if id == tableID {
			owned = true
			break
		}
	}
	if !owned {
		return fmt.Errorf("%w: table %s does not belong to school %s", core.ErrValidation, tableID, schoolID)
	}

	free, err := al.isFree(ctx, tableID, start, end)
	if err != nil {
		return err
	}
	if !free {
		return fmt.Errorf("%w: table %s already reserved in [%s, %s)",
			core.ErrResourceUnavailable, tableID,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}
	return nil
}

func (al *Allocator) isFree(ctx context.Context, tableID string, start, end time.Time) (bool, error) {
	existing, err := al.Appointments.OverlappingOnTable(ctx, tableID, start, end)
	if err != nil {
		return false, fmt.Errorf("check table %s: %w", tableID, err)
	}
	return len(existing) == 0, nil
}
