package domain

import "time"

// Roles assignable to a user account.
const (
	RoleAdmin   = "Admin"
	RoleDefault = "Default"
)

// User is the account record owned by the user store. The auth flows mutate
// only the password and token fields; everything else belongs to the CRUD
// surface.
type User struct {
	ID               int64
	Email            string
	FirstName        string
	LastName         string
	PasswordHash     string // empty until a password is first set
	RefreshToken     string // empty means no active session
	ResetToken       string
	ResetTokenExpiry *time.Time // nil means no pending reset
	Role             string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
