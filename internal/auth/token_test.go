package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	p := Principal{ID: uuid.New(), Role: RoleDoctor}

	token, err := issuer.Issue(p)
	require.NoError(t, err)

	got, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestTokenIssuer_RejectsForeignSecret(t *testing.T) {
	token, err := NewTokenIssuer("one", time.Hour).Issue(Principal{ID: uuid.New(), Role: RolePatient})
	require.NoError(t, err)

	_, err = NewTokenIssuer("two", time.Hour).Verify(token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestTokenIssuer_RejectsExpired(t *testing.T) {
	issuer := NewTokenIssuer("secret", -time.Minute)
	token, err := issuer.Issue(Principal{ID: uuid.New(), Role: RoleHospital})
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestTokenIssuer_RejectsUnknownRole(t *testing.T) {
	issuer := NewTokenIssuer("secret", time.Hour)
	token, err := issuer.Issue(Principal{ID: uuid.New(), Role: Role("nurse")})
	require.NoError(t, err)

	_, err = issuer.Verify(token)
	assert.True(t, errors.Is(err, ErrUnauthenticated))
}

func TestCurrentPrincipal(t *testing.T) {
	_, err := CurrentPrincipal(context.Background())
	assert.ErrorIs(t, err, ErrUnauthenticated)

	p := Principal{ID: uuid.New(), Role: RolePatient}
	got, err := CurrentPrincipal(WithPrincipal(context.Background(), p))
	require.NoError(t, err)
	assert.Equal(t, p, got)
}
