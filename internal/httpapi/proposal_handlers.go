package httpapi

import (
	"errors"
	"net/http"

	"sanctum.org/internal/access"
	"sanctum.org/internal/audit"
	"sanctum.org/internal/auth"
	"sanctum.org/internal/obs"
	"sanctum.org/internal/project"
	"sanctum.org/internal/proposal"
)

type createProposalRequest struct {
	Name          string                          `json:"name"`
	Codename      string                          `json:"codename"`
	ObjectClass   string                          `json:"object_class"`
	SecurityClass string                          `json:"security_class"`
	ThreatLevel   string                          `json:"threat_level"`
	Description   string                          `json:"description"`
	Justification string                          `json:"justification"`
	EstimatedRes  string                          `json:"estimated_resources"`
	Timeline      string                          `json:"timeline"`
	Departments   []proposal.DepartmentLink       `json:"departments"`
	Requirements  []proposal.ClearanceRequirement `json:"requirements"`
}

// updateProposalRequest serves both sides of the workflow: owners send
// content fields, reviewers send a status with its required notes.
type updateProposalRequest struct {
	Status          *string `json:"status"`
	AdminNotes      string  `json:"admin_notes"`
	RevisionNotes   string  `json:"revision_notes"`
	RejectionReason string  `json:"rejection_reason"`

	Name          *string                         `json:"name"`
	Codename      *string                         `json:"codename"`
	ObjectClass   *string                         `json:"object_class"`
	SecurityClass *string                         `json:"security_class"`
	ThreatLevel   *string                         `json:"threat_level"`
	Description   *string                         `json:"description"`
	Justification *string                         `json:"justification"`
	EstimatedRes  *string                         `json:"estimated_resources"`
	Timeline      *string                         `json:"timeline"`
	Departments   []proposal.DepartmentLink       `json:"departments"`
	Requirements  []proposal.ClearanceRequirement `json:"requirements"`
}

func (a *API) handleProposalsCollection(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		proposals, err := a.proposals.List(r.Context(), principal)
		if err != nil {
			handleProposalError(w, r, err)
			return
		}
		writeItems(w, proposals)
	case http.MethodPost:
		a.createProposal(w, r, principal)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) createProposal(w http.ResponseWriter, r *http.Request, principal auth.Principal) {
	var req createProposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	p, err := a.proposals.Create(r.Context(), principal, proposal.CreateInput{
		Name:          req.Name,
		Codename:      req.Codename,
		ObjectClass:   req.ObjectClass,
		SecurityClass: access.SecurityClass(req.SecurityClass),
		ThreatLevel:   project.ThreatLevel(req.ThreatLevel),
		Description:   req.Description,
		Justification: req.Justification,
		EstimatedRes:  req.EstimatedRes,
		Timeline:      req.Timeline,
		Departments:   req.Departments,
		Requirements:  req.Requirements,
	})
	if err != nil {
		handleProposalError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "proposal.submit", map[string]any{
		"proposal_id": p.ID,
	})

	w.Header().Set("Location", "/v1/proposals/"+p.ID)
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleProposalResource(w http.ResponseWriter, r *http.Request) {
	principal, ok := principalOr401(w, r)
	if !ok {
		return
	}
	id, rest := shiftPath(r.URL.Path[len("/v1/proposals/"):])
	if id == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch rest {
	case "":
	case "approve":
		if r.Method != http.MethodPost {
			methodNotAllowed(w, r, http.MethodPost)
			return
		}
		a.approveProposal(w, r, principal, id)
		return
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		p, err := a.proposals.Get(r.Context(), principal, id)
		if err != nil {
			handleProposalError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	case http.MethodPatch:
		a.updateProposal(w, r, principal, id)
	case http.MethodDelete:
		if err := a.proposals.Delete(r.Context(), principal, id); err != nil {
			handleProposalError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) updateProposal(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	var req updateProposalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	if req.Status != nil {
		var (
			p   *proposal.Proposal
			err error
		)
		switch proposal.Status(*req.Status) {
		case proposal.StatusUnderReview:
			p, err = a.proposals.StartReview(r.Context(), principal, id, req.AdminNotes)
		case proposal.StatusRevision:
			p, err = a.proposals.RequestRevision(r.Context(), principal, id, req.RevisionNotes)
		case proposal.StatusRejected:
			p, err = a.proposals.Reject(r.Context(), principal, id, req.RejectionReason)
		case proposal.StatusApproved:
			writeError(w, r, http.StatusBadRequest, "approval has its own endpoint")
			return
		default:
			writeError(w, r, http.StatusBadRequest, "unknown target status")
			return
		}
		if err != nil {
			handleProposalError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "proposal.transition", map[string]any{
			"proposal_id": p.ID,
			"status":      string(p.Status),
		})
		writeJSON(w, http.StatusOK, p)
		return
	}

	upd := proposal.ContentUpdate{
		Name:          req.Name,
		Codename:      req.Codename,
		ObjectClass:   req.ObjectClass,
		Description:   req.Description,
		Justification: req.Justification,
		EstimatedRes:  req.EstimatedRes,
		Timeline:      req.Timeline,
		Departments:   req.Departments,
		Requirements:  req.Requirements,
	}
	if req.SecurityClass != nil {
		class := access.SecurityClass(*req.SecurityClass)
		upd.SecurityClass = &class
	}
	if req.ThreatLevel != nil {
		level := project.ThreatLevel(*req.ThreatLevel)
		upd.ThreatLevel = &level
	}
	p, err := a.proposals.UpdateContent(r.Context(), principal, id, upd)
	if err != nil {
		handleProposalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (a *API) approveProposal(w http.ResponseWriter, r *http.Request, principal auth.Principal, id string) {
	p, created, err := a.proposals.Approve(r.Context(), principal, id)
	if err != nil {
		handleProposalError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "proposal.approve", map[string]any{
		"proposal_id": p.ID,
		"project_id":  created.ID,
	})

	w.Header().Set("Location", "/v1/projects/"+created.ID)
	writeJSON(w, http.StatusOK, map[string]any{
		"proposal": p,
		"project":  created,
	})
}

func handleProposalError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, proposal.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, proposal.ErrDenied):
		obs.CountDenial("proposal")
		writeError(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, proposal.ErrNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	case errors.Is(err, proposal.ErrInvalidTransition), errors.Is(err, proposal.ErrConflict):
		writeError(w, r, http.StatusConflict, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
