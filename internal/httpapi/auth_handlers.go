package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/identity"
)

type registerRequest struct {
	Username    string `json:"username"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	DisplayName string `json:"display_name"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token     string         `json:"token"`
	ExpiresAt time.Time      `json:"expires_at"`
	User      *identity.User `json:"user"`
}

// handleRegister opens a walk-up account at clearance 0. Recruits with an
// invitation token use the invitation redemption route instead.
func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req registerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.identity.Register(r.Context(), req.Username, req.Email, req.Password, req.DisplayName)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "identity.register", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
	})

	a.issueToken(w, r, user)
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	user, err := a.identity.Authenticate(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			writeError(w, r, http.StatusUnauthorized, "invalid credentials")
			return
		}
		handleIdentityError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "identity.login", map[string]any{
		"user_id": user.ID,
	})

	a.issueToken(w, r, user)
}

func (a *API) issueToken(w http.ResponseWriter, r *http.Request, user *identity.User) {
	token, err := auth.GenerateToken(user.ID, user.ClearanceLevel, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{
		Token:     token,
		ExpiresAt: time.Now().UTC().Add(a.tokenTTL),
		User:      user,
	})
}
