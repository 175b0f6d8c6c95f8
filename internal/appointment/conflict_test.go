package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubFinder struct {
	apps []Appointment
}

// FindOverlapping deliberately returns everything to exercise the in-memory recheck.
func (s stubFinder) FindOverlapping(ctx context.Context, doctorID uuid.UUID, iv Interval, exclude *uuid.UUID) ([]Appointment, error) {
	return s.apps, nil
}

func scheduledAt(doctorID uuid.UUID, start time.Time, minutes int) Appointment {
	return Appointment{
		ID:              uuid.New(),
		PatientID:       uuid.New(),
		DoctorID:        &doctorID,
		ScheduledStart:  start,
		DurationMinutes: minutes,
		Status:          StatusScheduled,
	}
}

func TestFindConflict(t *testing.T) {
	ctx := context.Background()
	doctor := uuid.New()
	existing := scheduledAt(doctor, at(9, 0), 60)

	cancelled := scheduledAt(doctor, at(11, 0), 60)
	cancelled.Status = StatusCancelled
	otherDoctor := scheduledAt(uuid.New(), at(12, 0), 60)

	store := stubFinder{apps: []Appointment{existing, cancelled, otherDoctor}}

	tests := []struct {
		name    string
		start   time.Time
		minutes int
		exclude *uuid.UUID
		want    *uuid.UUID
	}{
		{"overlaps inside", at(9, 30), 30, nil, &existing.ID},
		{"back to back after", at(10, 0), 30, nil, nil},
		{"back to back before", at(8, 0), 60, nil, nil},
		{"one minute into", at(9, 59), 30, nil, &existing.ID},
		{"excluded self", at(9, 15), 60, &existing.ID, nil},
		{"cancelled frees slot", at(11, 0), 60, nil, nil},
		{"other doctor ignored", at(12, 0), 60, nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iv, err := NewInterval(tt.start, tt.minutes)
			require.NoError(t, err)

			got, err := FindConflict(ctx, store, doctor, iv, tt.exclude)
			require.NoError(t, err)
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, got.ID)
		})
	}
}

func TestFindConflict_RejectsEmptyInterval(t *testing.T) {
	_, err := FindConflict(context.Background(), stubFinder{}, uuid.New(), Interval{Start: at(9, 0), End: at(9, 0)}, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestHasConflict_UsesRepository(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctor := uuid.New()
	a := scheduledAt(doctor, at(9, 0), 60)
	_, err := repo.InsertAppointment(ctx, &a)
	require.NoError(t, err)

	iv, _ := NewInterval(at(9, 30), 30)
	conflict, err := HasConflict(ctx, repo, doctor, iv, nil)
	require.NoError(t, err)
	assert.True(t, conflict)

	iv, _ = NewInterval(at(10, 0), 30)
	conflict, err = HasConflict(ctx, repo, doctor, iv, nil)
	require.NoError(t, err)
	assert.False(t, conflict)
}
