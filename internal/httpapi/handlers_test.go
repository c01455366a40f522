package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"sanctum.org/internal/auth"
	"sanctum.org/internal/covenant"
	"sanctum.org/internal/identity"
	"sanctum.org/internal/invite"
	"sanctum.org/internal/project"
	"sanctum.org/internal/proposal"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T

	identityStore *fakeIdentityStore
	covenantStore *fakeCovenantStore
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("SANCTUM_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	idStore := newFakeIdentityStore()
	projStore := newFakeProjectStore()
	propStore := newFakeProposalStore(projStore)
	invStore := newFakeInviteStore(idStore)
	covStore := newFakeCovenantStore(idStore)

	identitySvc, err := identity.NewService(idStore)
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}
	projectSvc, err := project.NewService(projStore, identitySvc)
	if err != nil {
		t.Fatalf("project.NewService: %v", err)
	}
	proposalSvc, err := proposal.NewService(propStore)
	if err != nil {
		t.Fatalf("proposal.NewService: %v", err)
	}
	inviteSvc, err := invite.NewService(invStore, identitySvc)
	if err != nil {
		t.Fatalf("invite.NewService: %v", err)
	}
	covenantSvc, err := covenant.NewService(covStore)
	if err != nil {
		t.Fatalf("covenant.NewService: %v", err)
	}

	api := New(ReadyProbe{}, "test", Deps{
		Identity:  identitySvc,
		Projects:  projectSvc,
		Proposals: proposalSvc,
		Invites:   inviteSvc,
		Covenant:  covenantSvc,
	})

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:       srv.URL,
		client:        srv.Client(),
		t:             t,
		identityStore: idStore,
		covenantStore: covStore,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	if params != nil {
		path = path + "?" + params.Encode()
	}
	return c.do(http.MethodGet, path, nil, headers)
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func asBearer(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

// register creates an account and returns its session token and user id.
func (c *apiClient) register(username string) (string, string) {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"username": username,
		"email":    username + "@sanctum.test",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("register %s: status %d", username, resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](c.t, resp)
	return tok.Token, tok.User.ID
}

// loginAt registers an account, promotes it to the given clearance in the
// store, and logs in again so the session reflects the new level.
func (c *apiClient) loginAt(username string, clearance int) (string, string) {
	c.t.Helper()
	_, userID := c.register(username)

	c.identityStore.mu.Lock()
	c.identityStore.users[userID].ClearanceLevel = clearance
	c.identityStore.mu.Unlock()

	resp := c.post("/v1/auth/login", map[string]any{
		"username": username,
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](c.t, resp)
	return tok.Token, userID
}

func TestHealthAndInfoArePublic(t *testing.T) {
	c := newTestAPI(t)
	for _, path := range []string{"/healthz", "/readyz", "/v1/info"} {
		resp := c.get(path, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}
}

func TestRegisterAndLogin(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/v1/auth/register", map[string]any{
		"username": "mirela",
		"email":    "mirela@sanctum.test",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("register: status %d", resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](t, resp)
	if tok.Token == "" {
		t.Fatal("register must return a session token")
	}
	if tok.User.ClearanceLevel != 0 {
		t.Fatalf("walk-up registration clearance = %d, want 0", tok.User.ClearanceLevel)
	}

	resp = c.post("/v1/auth/login", map[string]any{
		"username": "mirela",
		"password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestAuthenticationRequired(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/projects", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/projects", nil, asBearer("not-a-jwt"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("garbage token: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDeactivatedAccountIsRejected(t *testing.T) {
	c := newTestAPI(t)
	token, userID := c.register("ghost")

	c.identityStore.mu.Lock()
	c.identityStore.users[userID].IsActive = false
	c.identityStore.mu.Unlock()

	resp := c.get("/v1/users/me", nil, asBearer(token))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("deactivated account: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestMeEndpoint(t *testing.T) {
	c := newTestAPI(t)
	token, userID := c.register("aster")

	resp := c.get("/v1/users/me", nil, asBearer(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me: status %d", resp.StatusCode)
	}
	user := decodeBody[identity.User](t, resp)
	if user.ID != userID || user.Username != "aster" {
		t.Fatalf("me returned %s/%s", user.ID, user.Username)
	}
}

func TestProjectClearanceGateOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	adminToken, _ := c.loginAt("overseer", 5)
	lowToken, _ := c.register("novice")

	resp := c.post("/v1/projects", map[string]any{
		"name":           "Crimson Ledger",
		"security_class": "RED",
	}, asBearer(adminToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status %d", resp.StatusCode)
	}
	created := decodeBody[project.Project](t, resp)

	// Insufficient clearance reads an existing project as forbidden, not
	// missing.
	resp = c.get("/v1/projects/"+created.ID, nil, asBearer(lowToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("low-clearance read: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()

	// Listings silently omit what the caller cannot read.
	resp = c.get("/v1/projects", nil, asBearer(lowToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list: status %d", resp.StatusCode)
	}
	list := decodeBody[struct {
		Items []project.Project `json:"items"`
	}](t, resp)
	if len(list.Items) != 0 {
		t.Fatalf("clearance-0 list has %d items, want 0", len(list.Items))
	}

	// Creation is gated too.
	resp = c.post("/v1/projects", map[string]any{
		"name":           "Pet Project",
		"security_class": "GREEN",
	}, asBearer(lowToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("low-clearance create: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestProposalWorkflowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	ownerToken, ownerID := c.register("petra")
	reviewerToken, _ := c.loginAt("magistra", 4)

	resp := c.post("/v1/proposals", map[string]any{
		"name":           "Echo Chamber",
		"security_class": "AMBER",
		"justification":  "the hum is getting louder",
	}, asBearer(ownerToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("submit: status %d", resp.StatusCode)
	}
	p := decodeBody[proposal.Proposal](t, resp)

	resp = c.do(http.MethodPatch, "/v1/proposals/"+p.ID, map[string]any{
		"status": "under_review",
	}, asBearer(reviewerToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("start review: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Approval has a dedicated endpoint; the generic status PATCH refuses it.
	resp = c.do(http.MethodPatch, "/v1/proposals/"+p.ID, map[string]any{
		"status": "approved",
	}, asBearer(reviewerToken))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("approve via patch: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/proposals/"+p.ID+"/approve", nil, asBearer(reviewerToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("approve: status %d", resp.StatusCode)
	}
	out := decodeBody[struct {
		Proposal proposal.Proposal `json:"proposal"`
		Project  project.Project   `json:"project"`
	}](t, resp)
	if out.Proposal.Status != proposal.StatusApproved {
		t.Fatalf("proposal status = %s", out.Proposal.Status)
	}
	if out.Project.ID == "" || out.Project.CreatedBy != ownerID {
		t.Fatalf("materialized project wrong: %+v", out.Project)
	}

	// Approval is single-shot.
	resp = c.post("/v1/proposals/"+p.ID+"/approve", nil, asBearer(reviewerToken))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("re-approve: status %d, want 409", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvitationFlowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	adminToken, _ := c.loginAt("director", 5)

	resp := c.post("/v1/invitations", map[string]any{
		"display_name":    "Dr. Halev",
		"clearance_level": 3,
	}, asBearer(adminToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue: status %d", resp.StatusCode)
	}
	inv := decodeBody[invite.Invitation](t, resp)

	// Token routes are public: no Authorization header.
	resp = c.get("/v1/invitations/"+inv.Token, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("inspect: status %d", resp.StatusCode)
	}
	inspected := decodeBody[invite.Invitation](t, resp)
	if inspected.ClearanceLevel != 3 || inspected.DisplayName != "Dr. Halev" {
		t.Fatalf("inspect returned %+v", inspected)
	}

	resp = c.post("/v1/invitations/"+inv.Token, map[string]any{
		"username": "halev",
		"email":    "halev@sanctum.test",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("redeem: status %d", resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](t, resp)
	if tok.User.ClearanceLevel != 3 {
		t.Fatalf("redeemed clearance = %d, want the bound 3", tok.User.ClearanceLevel)
	}

	// The fresh session token works immediately.
	resp = c.get("/v1/users/me", nil, asBearer(tok.Token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("me with redeemed token: status %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Single use: a second redemption is gone.
	resp = c.post("/v1/invitations/"+inv.Token, map[string]any{
		"username": "other",
		"email":    "other@sanctum.test",
		"password": "p",
	}, nil)
	if resp.StatusCode != http.StatusGone {
		t.Fatalf("second redeem: status %d, want 410", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestInvitationIssuanceGates(t *testing.T) {
	c := newTestAPI(t)
	seniorToken, _ := c.loginAt("warden", 4)

	// Level 4 cannot bind level 4.
	resp := c.post("/v1/invitations", map[string]any{
		"display_name":    "Peer",
		"clearance_level": 4,
	}, asBearer(seniorToken))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("peer-level issue: status %d, want 400", resp.StatusCode)
	}
	resp.Body.Close()

	lowToken, _ := c.register("clerk")
	resp = c.post("/v1/invitations", map[string]any{
		"display_name":    "Friend",
		"clearance_level": 0,
	}, asBearer(lowToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("clearance-0 issue: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestCovenantFlowOverHTTP(t *testing.T) {
	c := newTestAPI(t)
	c.covenantStore.addSeat(&covenant.Seat{
		ID: "seat-coil", SeatName: "First Coil", Tier: covenant.TierOuterCoil,
	})
	adminToken, _ := c.loginAt("sovereign", 5)
	memberToken, _ := c.register("initiate")

	// The roster is visible to any authenticated member.
	resp := c.get("/v1/covenant/seats", nil, asBearer(memberToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seats: status %d", resp.StatusCode)
	}
	resp.Body.Close()
	resp = c.get("/v1/covenant/seats", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous seats: status %d, want 401", resp.StatusCode)
	}
	resp.Body.Close()

	seatID := "seat-coil"
	resp = c.post("/v1/covenant/invitations", map[string]any{
		"display_name":    "Sister Vex",
		"role":            "Coilsman",
		"clearance_level": 2,
		"seat_id":         seatID,
	}, asBearer(adminToken))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("issue: status %d", resp.StatusCode)
	}
	inv := decodeBody[covenant.Invitation](t, resp)

	resp = c.post("/v1/covenant/invitations/"+inv.Token, map[string]any{
		"username": "vex",
		"email":    "vex@sanctum.test",
		"password": "correct horse",
	}, nil)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("accept: status %d", resp.StatusCode)
	}
	tok := decodeBody[tokenResponse](t, resp)
	if tok.User.ClearanceLevel != 2 {
		t.Fatalf("accepted clearance = %d, want 2", tok.User.ClearanceLevel)
	}

	// The bound seat now shows the new member.
	resp = c.get("/v1/covenant/seats/"+seatID, nil, asBearer(memberToken))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("seat: status %d", resp.StatusCode)
	}
	seat := decodeBody[covenant.Seat](t, resp)
	if seat.HolderUserID == nil || *seat.HolderUserID != tok.User.ID {
		t.Fatalf("seat holder = %v, want the new member", seat.HolderUserID)
	}

	// Covenant issuance is closed below the top of the scale.
	seniorToken, _ := c.loginAt("elder", 4)
	resp = c.post("/v1/covenant/invitations", map[string]any{
		"display_name":    "Someone",
		"role":            "Archivist",
		"clearance_level": 1,
	}, asBearer(seniorToken))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("clearance-4 covenant issue: status %d, want 403", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestEmptyCollectionsSerializeAsArrays(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.register("novice")

	for _, path := range []string{"/v1/projects", "/v1/proposals"} {
		resp := c.get(path, nil, asBearer(token))
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("GET %s: status %d", path, resp.StatusCode)
		}
		raw, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		if !bytes.Contains(raw, []byte(`"items":[]`)) {
			t.Fatalf("GET %s body = %s, want an empty items array", path, raw)
		}
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	c := newTestAPI(t)
	token, _ := c.register("wanderer")
	resp := c.get("/v1/nonsense", nil, asBearer(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status %d, want 404", resp.StatusCode)
	}
	resp.Body.Close()
}
