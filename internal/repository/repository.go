// Package repository declares the storage contracts the service layer
// depends on. Implementations live in the sqlite and postgres subpackages.
package repository

import (
	"context"

	"github.com/sakif/account-service/internal/model"
)

// UserUpdate lists the fields UpdateByID may change. nil pointers are left
// untouched.
//
// SessionToken is set when SetSessionToken is true; a nil SessionToken with
// SetSessionToken clears the session (logout).
type UserUpdate struct {
	Subscription    *model.Subscription
	AvatarURL       *string
	SetSessionToken bool
	SessionToken    *string
}

// UserRepository stores users.
//
// Create must enforce email uniqueness atomically (a unique index), returning
// an apperror.ErrConflict error on violation. Lookups return
// apperror.ErrNotFound when no row matches.
type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByID(ctx context.Context, id string) (*model.User, error)
	UpdateByID(ctx context.Context, id string, upd UserUpdate) (*model.User, error)
	Ping(ctx context.Context) error
}

// UserStore is a UserRepository that owns its connection pool. The server
// closes it on shutdown.
type UserStore interface {
	UserRepository
	Close() error
}
