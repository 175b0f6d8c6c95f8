package auth

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

type Role string

const (
	RolePatient  Role = "patient"
	RoleDoctor   Role = "doctor"
	RoleHospital Role = "hospital"
)

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleHospital:
		return true
	}
	return false
}

// Principal is the authenticated actor of a request. A hospital administrator
// acts with the hospital's id.
type Principal struct {
	ID   uuid.UUID
	Role Role
}

var ErrUnauthenticated = errors.New("unauthenticated")

type contextKey struct{}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// CurrentPrincipal returns the principal stored by the auth middleware.
func CurrentPrincipal(ctx context.Context) (Principal, error) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	if !ok || p.ID == uuid.Nil || !p.Role.Valid() {
		return Principal{}, ErrUnauthenticated
	}
	return p, nil
}
