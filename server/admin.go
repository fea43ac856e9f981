package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

func decodeRequest(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid JSON body", ErrValidation)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

type createUserRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	Email    string `json:"email" validate:"required,max=254"`
}

type resetPasswordRequest struct {
	Username    string `json:"username" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// userView is the user record with the password hash stripped.
type userView struct {
	UserID        string    `json:"user_id"`
	Username      string    `json:"username"`
	Email         string    `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func viewOf(u *User) userView {
	return userView{
		UserID:        u.UserID,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}

// handleCreateUser serves POST /users.
func (a *App) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeRequest(r, &req); err != nil {
		writeOAuthError(w, invalidRequest(err.Error()))
		return
	}

	user, err := a.Credentials.CreateUser(r.Context(), req.Username, req.Password, req.Email)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			writeOAuthError(w, invalidRequest(err.Error()))
			return
		}
		a.Logger.Error("create user failed", "username", req.Username, "error", err)
		writeOAuthError(w, err)
		return
	}

	a.Logger.Info("user created", "user_id", user.UserID, "username", user.Username)
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "User created successfully",
		"user":    viewOf(user),
	})
}

// handleResetPassword serves POST /users/reset-password.
func (a *App) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	var req resetPasswordRequest
	if err := decodeRequest(r, &req); err != nil {
		writeOAuthError(w, invalidRequest(err.Error()))
		return
	}

	user, err := a.Store.GetUserByUsername(r.Context(), req.Username)
	if err != nil {
		a.Logger.Error("lookup user for reset", "error", err)
		writeOAuthError(w, err)
		return
	}
	if user == nil {
		writeOAuthError(w, invalidRequest("User not found"))
		return
	}

	if err := a.Credentials.ResetPassword(r.Context(), user.UserID, req.NewPassword); err != nil {
		if errors.Is(err, ErrValidation) {
			writeOAuthError(w, invalidRequest(err.Error()))
			return
		}
		a.Logger.Error("reset password failed", "user_id", user.UserID, "error", err)
		writeOAuthError(w, err)
		return
	}

	a.Logger.Info("password reset", "user_id", user.UserID)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":  "Password reset successfully",
		"username": req.Username,
	})
}
