package service

import (
	"time"

	"github.com/smallbiznis/accounts-auth/internal/domain"
)

// LoginResult is the successful login payload. The refresh token travels as a
// cookie, never in the response body.
type LoginResult struct {
	UserID      int64  `json:"id,string"`
	Email       string `json:"email"`
	AccessToken string `json:"access_token"`

	RefreshToken string `json:"-"`
}

// UserView is the externally visible shape of a user record. Credential and
// token fields never leave the service.
type UserView struct {
	ID        int64     `json:"id,string"`
	Email     string    `json:"email"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Role      string    `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newUserView(user domain.User) UserView {
	return UserView{
		ID:        user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}
}
