package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/invite"
	"sanctum.org/internal/obs"
)

type issueInvitationRequest struct {
	DisplayName    string  `json:"display_name"`
	Title          string  `json:"title"`
	ClearanceLevel int     `json:"clearance_level"`
	DepartmentID   *string `json:"department_id"`
	RankID         *string `json:"rank_id"`
	TTLHours       int     `json:"ttl_hours"`
}

type redeemInvitationRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleInvitationsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		invitations, err := a.invites.List(r.Context(), principal)
		if err != nil {
			handleInviteError(w, r, err)
			return
		}
		writeItems(w, invitations)
	case http.MethodPost:
		a.issueInvitation(w, r, principal)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) issueInvitation(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	var req issueInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	inv, err := a.invites.Issue(r.Context(), principal, invite.IssueInput{
		DisplayName:    req.DisplayName,
		Title:          req.Title,
		ClearanceLevel: req.ClearanceLevel,
		DepartmentID:   req.DepartmentID,
		RankID:         req.RankID,
		TTL:            time.Duration(req.TTLHours) * time.Hour,
	})
	if err != nil {
		handleInviteError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.issue", map[string]any{
		"invitation_id": inv.ID,
		"clearance":     inv.ClearanceLevel,
	})

	writeJSON(w, http.StatusCreated, inv)
}

// handleInvitationResource serves the token-addressed public routes and
// the id-addressed revoke.
func (a *API) handleInvitationResource(w http.ResponseWriter, r *http.Request) {
	key, rest := shiftPath(r.URL.Path[len("/v1/invitations/"):])
	if key == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		inv, err := a.invites.Inspect(r.Context(), key)
		if err != nil {
			handleInviteError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodPost:
		a.redeemInvitation(w, r, key)
	case http.MethodDelete:
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		if err := a.invites.Revoke(r.Context(), principal, key); err != nil {
			handleInviteError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) redeemInvitation(w http.ResponseWriter, r *http.Request, token string) {
	var req redeemInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.invites.Redeem(r.Context(), token, invite.RedeemInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleInviteError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "invite.redeem", map[string]any{
		"user_id":   user.ID,
		"clearance": user.ClearanceLevel,
	})

	token2, err := auth.GenerateToken(user.ID, user.ClearanceLevel, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     token2,
		ExpiresAt: time.Now().UTC().Add(a.tokenTTL),
		User:      user,
	})
}

func handleInviteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, invite.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, invite.ErrDenied):
		obs.CountDenial("invitation")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, invite.ErrConsumed), errors.Is(err, invite.ErrExpired):
		writeError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, invite.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, invite.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
