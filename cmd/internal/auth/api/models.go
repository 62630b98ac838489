package authapi

import (
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/identity"
	"github.com/GentritBegaj/whatsapp-clone-be/cmd/internal/auth/session"
)

type registerRequest struct {
	Username   string `json:"username" validate:"required,min=2,max=32"`
	Email      string `json:"email" validate:"required,email,max=254"`
	Password   string `json:"password" validate:"required"`
	ProfilePic string `json:"profilePic" validate:"omitempty,url,max=2048"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// sessionResponse is the token pair plus, for login and register, the user.
type sessionResponse struct {
	User *identity.User `json:"user,omitempty"`
	session.TokenPair
}
