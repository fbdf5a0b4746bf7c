package authorization

import (
	"context"
	"errors"
)

// Service decides whether the actor in ctx may act on a resource. Owners of
// the resource are always allowed; everyone else needs a role policy.
type Service interface {
	Authorize(ctx context.Context, object string, action string, owner string) error
}

var (
	ErrInvalidObject = errors.New("invalid_object")
	ErrInvalidAction = errors.New("invalid_action")
	ErrForbidden     = errors.New("forbidden")
)
