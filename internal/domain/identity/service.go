package identity

import (
	"context"
	"fmt"
	"strings"
)

type Service struct {
	users UserRepository
}

func NewService(users UserRepository) *Service {
	return &Service{users: users}
}

func (s *Service) Register(ctx context.Context, u *User) error {
	u.FullName = strings.TrimSpace(u.FullName)
	if u.FullName == "" {
		return fmt.Errorf("full_name is required")
	}
	if err := u.Validate(); err != nil {
		return err
	}
	return s.users.Create(ctx, u)
}

func (s *Service) Get(ctx context.Context, id int64) (*User, error) {
	return s.users.GetByID(ctx, id)
}

// ContactEmail returns the address reminders go to, or "" when none is on file.
func (s *Service) ContactEmail(ctx context.Context, userID int64) (string, error) {
	return s.users.EmailByID(ctx, userID)
}
