package httpapi

import (
	"errors"
	"net/http"

	"sanctum.org/internal/access"
	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/obs"
	"sanctum.org/internal/project"
)

type createProjectRequest struct {
	Name          string `json:"name"`
	Codename      string `json:"codename"`
	ObjectClass   string `json:"object_class"`
	SecurityClass string `json:"security_class"`
	ThreatLevel   string `json:"threat_level"`
	Description   string `json:"description"`
	Procedures    string `json:"procedures"`
	Protocols     string `json:"protocols"`
}

type updateProjectRequest struct {
	Name          *string `json:"name"`
	Codename      *string `json:"codename"`
	ObjectClass   *string `json:"object_class"`
	SecurityClass *string `json:"security_class"`
	ThreatLevel   *string `json:"threat_level"`
	Status        *string `json:"status"`
	Progress      *int    `json:"progress"`
	Description   *string `json:"description"`
	Procedures    *string `json:"procedures"`
	Protocols     *string `json:"protocols"`
}

type assignRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

type accessRuleRequest struct {
	Kind         string `json:"kind"`
	SubjectID    string `json:"subject_id"`
	MinClearance int    `json:"min_clearance"`
	Role         string `json:"role"`
}

type logbookEntryRequest struct {
	EntryType          string  `json:"entry_type"`
	Text               string  `json:"text"`
	RedactedText       *string `json:"redacted_text"`
	MinClearanceToView int     `json:"min_clearance_to_view"`
}

func (a *API) handleProjectsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		status := project.Status(r.URL.Query().Get("status"))
		class := access.SecurityClass(r.URL.Query().Get("security"))
		projects, err := a.projects.List(r.Context(), principal, status, class)
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeItems(w, projects)
	case http.MethodPost:
		a.createProject(w, r, principal)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createProject(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	var req createProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.projects.Create(r.Context(), principal, project.CreateInput{
		Name:          req.Name,
		Codename:      req.Codename,
		ObjectClass:   req.ObjectClass,
		SecurityClass: access.SecurityClass(req.SecurityClass),
		ThreatLevel:   project.ThreatLevel(req.ThreatLevel),
		Description:   req.Description,
		Procedures:    req.Procedures,
		Protocols:     req.Protocols,
	})
	if err != nil {
		handleProjectError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "project.create", map[string]any{
		"project_id":     p.ID,
		"security_class": string(p.SecurityClass),
	})

	w.Header().Set("Location", "/v1/projects/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleProjectResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id, rest := shiftPath(r.URL.Path[len("/v1/projects/"):])
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch {
	case rest == "":
		a.projectResource(w, r, principal, id)
	case rest == "logbook":
		a.projectLogbook(w, r, principal, id)
	case rest == "assignments":
		a.projectAssignments(w, r, principal, id)
	case rest == "rules":
		a.projectRules(w, r, principal, id)
	default:
		head, tail := shiftPath(rest)
		if head == "assignments" && tail != "" && r.Method == http.MethodDelete {
			a.unassign(w, r, principal, id, tail)
			return
		}
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}

func (a *API) projectResource(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	switch r.Method {
	case http.MethodGet:
		p, err := a.projects.Get(r.Context(), principal, id)
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		a.updateProject(w, r, principal, id)
	case http.MethodDelete:
		if err := a.projects.Expunge(r.Context(), principal, id); err != nil {
			handleProjectError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "project.expunge", map[string]any{
			"project_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) updateProject(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	var req updateProjectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	upd := project.Update{
		Name:        req.Name,
		Codename:    req.Codename,
		ObjectClass: req.ObjectClass,
		Progress:    req.Progress,
		Description: req.Description,
		Procedures:  req.Procedures,
		Protocols:   req.Protocols,
	}
	if req.SecurityClass != nil {
		class := access.SecurityClass(*req.SecurityClass)
		upd.SecurityClass = &class
	}
	if req.ThreatLevel != nil {
		level := project.ThreatLevel(*req.ThreatLevel)
		upd.ThreatLevel = &level
	}
	if req.Status != nil {
		status := project.Status(*req.Status)
		upd.Status = &status
	}
	p, err := a.projects.Update(r.Context(), principal, id, upd)
	if err != nil {
		handleProjectError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) projectAssignments(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	switch r.Method {
	case http.MethodGet:
		assignments, err := a.projects.Assignments(r.Context(), principal, id)
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeItems(w, assignments)
	case http.MethodPut:
		var req assignRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		assignment, err := a.projects.Assign(r.Context(), principal, id, req.UserID, project.Role(req.Role))
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, assignment)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

func (a *API) unassign(w http.ResponseWriter, r *http.Request, principal auth.Principal, projectID, userID string) {
	if err := a.projects.Unassign(r.Context(), principal, projectID, userID); err != nil {
		handleProjectError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) projectRules(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	switch r.Method {
	case http.MethodGet:
		rules, err := a.projects.Rules(r.Context(), principal, id)
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeItems(w, rules)
	case http.MethodPost:
		var req accessRuleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		rule, err := a.projects.AddAccessRule(r.Context(), principal, access.Rule{
			Kind:         access.RuleKind(req.Kind),
			SubjectID:    req.SubjectID,
			MinClearance: req.MinClearance,
			TargetID:     id,
			Role:         req.Role,
		})
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, rule)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) projectLogbook(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	switch r.Method {
	case http.MethodGet:
		entries, err := a.projects.Logbook(r.Context(), principal, id)
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeItems(w, entries)
	case http.MethodPost:
		var req logbookEntryRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		entry, err := a.projects.AppendLogbook(r.Context(), principal, id, project.AppendLogbookInput{
			EntryType:          project.EntryType(req.EntryType),
			Text:               req.Text,
			RedactedText:       req.RedactedText,
			MinClearanceToView: req.MinClearanceToView,
		})
		if err != nil {
			handleProjectError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, entry)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func handleProjectError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, project.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, project.ErrDenied):
		obs.CountDenial("project")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, project.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, project.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
