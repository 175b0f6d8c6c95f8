package appointment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRepository_EnforcesNoOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctor := uuid.New()

	first := scheduledAt(doctor, at(9, 0), 60)
	_, err := repo.InsertAppointment(ctx, &first)
	require.NoError(t, err)

	clash := scheduledAt(doctor, at(9, 30), 30)
	_, err = repo.InsertAppointment(ctx, &clash)
	assert.ErrorIs(t, err, ErrOverlapConstraint)

	// cancelled rows do not hold the slot
	clash.Status = StatusCancelled
	_, err = repo.InsertAppointment(ctx, &clash)
	require.NoError(t, err)

	_, err = repo.UpdateAppointment(ctx, clash.ID, Condition{}, Patch{Status: ptr(StatusScheduled)})
	assert.ErrorIs(t, err, ErrOverlapConstraint)
}

func TestMemoryRepository_ConditionalUpdate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctor := uuid.New()
	a := scheduledAt(doctor, at(9, 0), 60)
	stored, err := repo.InsertAppointment(ctx, &a)
	require.NoError(t, err)

	other := uuid.New()
	_, err = repo.UpdateAppointment(ctx, a.ID, Condition{Scope: Scope{DoctorID: &other}}, Patch{Notes: ptr("x")})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.UpdateAppointment(ctx, a.ID, Condition{Status: ptr(StatusCompleted)}, Patch{Notes: ptr("x")})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	_, err = repo.UpdateAppointment(ctx, a.ID, Condition{Unassigned: true}, Patch{Notes: ptr("x")})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)

	updated, err := repo.UpdateAppointment(ctx, a.ID, Condition{Scope: Scope{DoctorID: &doctor}, Status: ptr(StatusScheduled)}, Patch{Notes: ptr("x")})
	require.NoError(t, err)
	assert.Equal(t, "x", updated.Notes)
	assert.True(t, updated.UpdatedAt.After(stored.UpdatedAt))
}

func TestMemoryRepository_TxRollback(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctor := uuid.New()
	a := scheduledAt(doctor, at(9, 0), 60)
	_, err := repo.InsertAppointment(ctx, &a)
	require.NoError(t, err)

	boom := errors.New("boom")
	b := scheduledAt(doctor, at(11, 0), 60)
	err = repo.Tx(ctx, func(tx Repository) error {
		if _, err := tx.UpdateAppointment(ctx, a.ID, Condition{}, Patch{Status: ptr(StatusCancelled)}); err != nil {
			return err
		}
		if _, err := tx.InsertAppointment(ctx, &b); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	current, err := repo.GetAppointment(ctx, a.ID, Scope{})
	require.NoError(t, err)
	assert.Equal(t, StatusScheduled, current.Status)

	_, err = repo.GetAppointment(ctx, b.ID, Scope{})
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestMemoryRepository_ListAndPaginate(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctor := uuid.New()
	for h := 8; h < 13; h++ {
		a := scheduledAt(doctor, at(h, 0), 60)
		_, err := repo.InsertAppointment(ctx, &a)
		require.NoError(t, err)
	}

	page, err := repo.ListAppointments(ctx, Filter{Scope: Scope{DoctorID: &doctor}, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, at(9, 0), page[0].ScheduledStart)
	assert.Equal(t, at(10, 0), page[1].ScheduledStart)

	empty, err := repo.ListAppointments(ctx, Filter{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, empty)
}
