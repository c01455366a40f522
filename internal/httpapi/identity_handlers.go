package httpapi

import (
	"errors"
	"net/http"

	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/obs"
)

type updateUserRequest struct {
	DisplayName *string `json:"display_name"`
	Title       *string `json:"title"`
	Email       *string `json:"email"`
	Password    *string `json:"password"`
	Clearance   *int    `json:"clearance_level"`
	IsActive    *bool   `json:"is_active"`
	IsVerified  *bool   `json:"is_verified"`
}

type setMembershipsRequest struct {
	Memberships         []identity.MembershipSpec `json:"memberships"`
	PrimaryDepartmentID *string                   `json:"primary_department_id"`
}

type createDepartmentRequest struct {
	Name     string `json:"name"`
	Codename string `json:"codename"`
	Icon     string `json:"icon"`
	Color    string `json:"color"`
}

type createRankRequest struct {
	Name      string `json:"name"`
	Clearance int    `json:"clearance_level"`
	SortOrder int    `json:"sort_order"`
}

func principalOr401(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
	}
	return principal, ok
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		users, err := a.identity.List(r.Context(), principal)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeItems(w, users)
	default:
		methodNotAllowed(w, r, http.MethodGet)
	}
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id, rest := shiftPath(r.URL.Path[len("/v1/users/"):])
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if id == "me" {
		id = principal.UserID
	}

	switch rest {
	case "":
	case "memberships":
		a.handleUserMemberships(w, r, principal, id)
		return
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		user, err := a.identity.Get(r.Context(), id)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPatch:
		a.updateUser(w, r, principal, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch)
	}
}

func (a *API) updateUser(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	var req updateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	input := identity.AdminUpdateInput{
		UpdateProfileInput: identity.UpdateProfileInput{
			DisplayName: req.DisplayName,
			Title:       req.Title,
			Email:       req.Email,
			Password:    req.Password,
		},
		Clearance:  req.Clearance,
		IsActive:   req.IsActive,
		IsVerified: req.IsVerified,
	}
	user, err := a.identity.Update(r.Context(), principal, id, input)
	if err != nil {
		handleIdentityError(w, r, err)
		return
	}
	if req.Clearance != nil {
		_ = audit.LogEvent(r.Context(), "identity.clearance.set", map[string]any{
			"user_id":   user.ID,
			"clearance": *req.Clearance,
		})
	}
	writeJSON(w, http.StatusOK, user)
}

func (a *API) handleUserMemberships(w http.ResponseWriter, r *http.Request, principal auth.Principal, userID string) {
	switch r.Method {
	case http.MethodGet:
		memberships, err := a.identity.ListMemberships(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeItems(w, memberships)
	case http.MethodPut:
		var req setMembershipsRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		if err := a.identity.SetMemberships(r.Context(), principal, userID, req.Memberships, req.PrimaryDepartmentID); err != nil {
			handleIdentityError(w, r, err)
			return
		}
		memberships, err := a.identity.ListMemberships(r.Context(), userID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "identity.memberships.set", map[string]any{
			"user_id": userID,
			"count":   len(memberships),
		})
		writeItems(w, memberships)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) handleDepartmentsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		departments, err := a.identity.ListDepartments(r.Context())
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeItems(w, departments)
	case http.MethodPost:
		var req createDepartmentRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		dept, err := a.identity.CreateDepartment(r.Context(), principal, req.Name, req.Codename, req.Icon, req.Color)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		w.Header().Set("Location", "/v1/departments/"+dept.ID)
		writeJSON(w, http.StatusCreated, dept)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleDepartmentResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id, rest := shiftPath(r.URL.Path[len("/v1/departments/"):])
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		dept, err := a.identity.GetDepartment(r.Context(), id)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, dept)
	case "ranks":
		a.handleDepartmentRanks(w, r, principal, id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) handleDepartmentRanks(w http.ResponseWriter, r *http.Request, principal auth.Principal, departmentID string) {
	switch r.Method {
	case http.MethodGet:
		ranks, err := a.identity.ListRanks(r.Context(), departmentID)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeItems(w, ranks)
	case http.MethodPost:
		var req createRankRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rank, err := a.identity.CreateRank(r.Context(), principal, departmentID, req.Name, req.Clearance, req.SortOrder)
		if err != nil {
			handleIdentityError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rank)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func handleIdentityError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, identity.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, identity.ErrDenied):
		obs.CountDenial("identity")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, identity.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
