package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"sanctum.org/internal/covenant"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/invite"
	"sanctum.org/internal/obs"
	"sanctum.org/internal/project"
	"sanctum.org/internal/proposal"
)

// ReadyProbe reports backing-store readiness, normally a DB ping.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer over the domain services.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string
	tokenTTL   time.Duration

	identity  *identity.Service
	projects  *project.Service
	proposals *proposal.Service
	invites   *invite.Service
	covenant  *covenant.Service
}

// Deps carries the services the API dispatches to.
type Deps struct {
	Identity  *identity.Service
	Projects  *project.Service
	Proposals *proposal.Service
	Invites   *invite.Service
	Covenant  *covenant.Service
	TokenTTL  time.Duration
}

func New(rp ReadyProbe, version string, deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		tokenTTL:   deps.TokenTTL,
		identity:   deps.Identity,
		projects:   deps.Projects,
		proposals:  deps.Proposals,
		invites:    deps.Invites,
		covenant:   deps.Covenant,
	}
	if a.tokenTTL <= 0 {
		a.tokenTTL = 60 * time.Minute
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)

	a.mux.HandleFunc("/v1/users", a.handleUsersCollection)
	a.mux.HandleFunc("/v1/users/", a.handleUserResource)
	a.mux.HandleFunc("/v1/departments", a.handleDepartmentsCollection)
	a.mux.HandleFunc("/v1/departments/", a.handleDepartmentResource)

	a.mux.HandleFunc("/v1/projects", a.handleProjectsCollection)
	a.mux.HandleFunc("/v1/projects/", a.handleProjectResource)

	a.mux.HandleFunc("/v1/proposals", a.handleProposalsCollection)
	a.mux.HandleFunc("/v1/proposals/", a.handleProposalResource)

	a.mux.HandleFunc("/v1/invitations", a.handleInvitationsCollection)
	a.mux.HandleFunc("/v1/invitations/", a.handleInvitationResource)

	a.mux.HandleFunc("/v1/covenant/seats", a.handleSeatsCollection)
	a.mux.HandleFunc("/v1/covenant/seats/", a.handleSeatResource)
	a.mux.HandleFunc("/v1/covenant/invitations", a.handleCovenantInvitationsCollection)
	a.mux.HandleFunc("/v1/covenant/invitations/", a.handleCovenantInvitationResource)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the instrumented handler with request ids and
// authentication applied. Transport middleware (logging, CORS, limits)
// wraps this at server assembly.
func (a *API) Handler() http.Handler {
	return obs.Instrument(RequestID(a.withAuth(a.mux)))
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "sanctum-api",
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "sanctum-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeItems serializes a collection response. Empty collections come out
// as [] rather than null whatever the store handed back.
func writeItems[T any](w http.ResponseWriter, items []T) {
	if items == nil {
		items = []T{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

// shiftPath splits the first path segment from the rest.
func shiftPath(p string) (head, rest string) {
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}
