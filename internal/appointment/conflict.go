package appointment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type overlapFinder interface {
	FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) ([]Appointment, error)
}

// FindConflict returns the first scheduled appointment of doctorID that overlaps
// candidate, ignoring exclude, or nil when the slot is free. Callers skip the
// check when no doctor is bound and reject non-positive durations beforehand.
func FindConflict(ctx context.Context, store overlapFinder, doctorID uuid.UUID, candidate Interval, exclude *uuid.UUID) (*Appointment, error) {
	if !candidate.End.After(candidate.Start) {
		return nil, validationError("candidate interval must end after it starts")
	}

	existing, err := store.FindOverlapping(ctx, doctorID, candidate, exclude)
	if err != nil {
		return nil, fmt.Errorf("check conflicts: %w", err)
	}

	// The store may answer with a coarser range query; the interval test is authoritative.
	for i := range existing {
		a := &existing[i]
		if a.Status != StatusScheduled || !a.HasDoctor(doctorID) {
			continue
		}
		if exclude != nil && a.ID == *exclude {
			continue
		}
		if a.Interval().Overlaps(candidate) {
			return a, nil
		}
	}
	return nil, nil
}

// HasConflict is the boolean form of FindConflict.
func HasConflict(ctx context.Context, store overlapFinder, doctorID uuid.UUID, candidate Interval, exclude *uuid.UUID) (bool, error) {
	a, err := FindConflict(ctx, store, doctorID, candidate, exclude)
	if err != nil {
		return false, err
	}
	return a != nil, nil
}

// ensureFree turns a found conflict into the structured error callers return.
func ensureFree(ctx context.Context, store overlapFinder, doctorID uuid.UUID, candidate Interval, exclude *uuid.UUID) error {
	a, err := FindConflict(ctx, store, doctorID, candidate, exclude)
	if err != nil {
		return err
	}
	if a != nil {
		return conflictWith(a.ID)
	}
	return nil
}
