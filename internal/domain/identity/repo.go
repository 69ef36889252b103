package identity

import "context"

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	// EmailByID returns the user's email, or "" when none is on file.
	EmailByID(ctx context.Context, id int64) (string, error)
}
