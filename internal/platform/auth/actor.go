// Package auth resolves the authenticated actor from a bearer token and
// exposes role gates for routes. Authentication itself (issuing tokens,
// managing credentials) belongs to the external identity provider; this
// package only verifies signatures and extracts the actor.
package auth

import (
	"context"

	"github.com/google/uuid"
)

// Role is the resolved role of an authenticated actor.
type Role string

const (
	RoleRadiologist Role = "radiologist"
	RoleDoctor      Role = "doctor"
	RolePatient     Role = "patient"
	RoleAdmin       Role = "admin"
)

// Actor is the authenticated caller, passed by value into every service
// call. PatientID is set only for patient actors whose login identity has
// been linked to a patient record.
type Actor struct {
	ID        uuid.UUID
	Role      Role
	Name      string
	PatientID *uuid.UUID
}

// IsClinician reports whether the actor may create cases.
func (a Actor) IsClinician() bool {
	return a.Role == RoleRadiologist || a.Role == RoleDoctor
}

type contextKey string

const actorKey contextKey = "auth_actor"

// WithActor returns a context carrying the actor.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey, a)
}

// ActorFromContext extracts the actor placed by the middleware.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey).(Actor)
	return a, ok
}
