package httpapi

import (
	"errors"
	"net/http"
	"time"

	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/covenant"
	"sanctum.org/internal/obs"
)

type updateSeatRequest struct {
	HolderUserID *string `json:"holder_user_id"`
	MemberName   *string `json:"member_name"`
}

type issueCovenantInvitationRequest struct {
	DisplayName    string  `json:"display_name"`
	Role           string  `json:"role"`
	Title          string  `json:"title"`
	Sigil          string  `json:"sigil"`
	ClearanceLevel int     `json:"clearance_level"`
	SeatID         *string `json:"seat_id"`
	TTLHours       int     `json:"ttl_hours"`
}

type acceptCovenantInvitationRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleSeatsCollection(w http.ResponseWriter, r *http.Request) {
	if _, ok := principalOr401(w, r); !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	seats, err := a.covenant.ListSeats(r.Context())
	if err != nil {
		handleCovenantError(w, r, err)
		return
	}
	writeItems(w, seats)
}

func (a *API) handleSeatResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id, rest := shiftPath(r.URL.Path[len("/v1/covenant/seats/"):])
	if id == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		seat, err := a.covenant.GetSeat(r.Context(), id)
		if err != nil {
			handleCovenantError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, seat)
	case http.MethodPatch:
		var req updateSeatRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		seat, err := a.covenant.UpdateSeat(r.Context(), principal, id, covenant.SeatUpdate{
			HolderUserID: req.HolderUserID,
			MemberName:   req.MemberName,
		})
		if err != nil {
			handleCovenantError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "covenant.seat.update", map[string]any{
			"seat_id": seat.ID,
		})
		writeJSON(w, http.StatusOK, seat)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) handleCovenantInvitationsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		invitations, err := a.covenant.ListInvitations(r.Context(), principal)
		if err != nil {
			handleCovenantError(w, r, err)
			return
		}
		writeItems(w, invitations)
	case http.MethodPost:
		var req issueCovenantInvitationRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		inv, err := a.covenant.Issue(r.Context(), principal, covenant.IssueInput{
			DisplayName:    req.DisplayName,
			Role:           req.Role,
			Title:          req.Title,
			Sigil:          req.Sigil,
			ClearanceLevel: req.ClearanceLevel,
			SeatID:         req.SeatID,
			TTL:            time.Duration(req.TTLHours) * time.Hour,
		})
		if err != nil {
			handleCovenantError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "covenant.invite.issue", map[string]any{
			"invitation_id": inv.ID,
		})
		writeJSON(w, http.StatusCreated, inv)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCovenantInvitationResource(w http.ResponseWriter, r *http.Request) {
	key, rest := shiftPath(r.URL.Path[len("/v1/covenant/invitations/"):])
	if key == "" || rest != "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		inv, err := a.covenant.Inspect(r.Context(), key)
		if err != nil {
			handleCovenantError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, inv)
	case http.MethodPost:
		a.acceptCovenantInvitation(w, r, key)
	case http.MethodDelete:
		principal, ok := principalOr401(w, r)
		if !ok {
			return
		}
		if err := a.covenant.Revoke(r.Context(), principal, key); err != nil {
			handleCovenantError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost, http.MethodDelete)
	}
}

func (a *API) acceptCovenantInvitation(w http.ResponseWriter, r *http.Request, token string) {
	var req acceptCovenantInvitationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := a.covenant.Accept(r.Context(), token, covenant.AcceptInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleCovenantError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "covenant.invite.accept", map[string]any{
		"user_id": user.ID,
	})

	sessionToken, err := auth.GenerateToken(user.ID, user.ClearanceLevel, a.tokenTTL)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "token generation failed")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{
		Token:     sessionToken,
		ExpiresAt: time.Now().UTC().Add(a.tokenTTL),
		User:      user,
	})
}

func handleCovenantError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, covenant.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, covenant.ErrDenied):
		obs.CountDenial("covenant")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, covenant.ErrConsumed), errors.Is(err, covenant.ErrExpired):
		writeError(w, r, http.StatusGone, err.Error())
	case errors.Is(err, covenant.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, covenant.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
