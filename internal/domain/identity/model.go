package identity

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

var ErrNotFound = errors.New("user not found")

// User maps to the app_user table. Only the contact details needed for
// reminder delivery are kept here.
type User struct {
	ID        int64     `db:"id" json:"id"`
	Email     *string   `db:"email" json:"email,omitempty"`
	FullName  string    `db:"full_name" json:"full_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Validate normalizes the email address and rejects malformed ones.
func (u *User) Validate() error {
	if u.Email == nil {
		return nil
	}
	email := strings.TrimSpace(*u.Email)
	if email == "" {
		u.Email = nil
		return nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return fmt.Errorf("invalid email address %q", email)
	}
	u.Email = &email
	return nil
}
