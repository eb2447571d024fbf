package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"ngoportal.org/internal/auth"
	"ngoportal.org/internal/auth/authtest"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	store   *authtest.Store
	t       *testing.T
}

type apiResponse[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
	Error   string `json:"error"`
}

type memDenylist struct {
	mu      sync.Mutex
	revoked map[string]time.Time
}

func (d *memDenylist) Revoke(_ context.Context, id string, until time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.revoked == nil {
		d.revoked = make(map[string]time.Time)
	}
	d.revoked[id] = until
	return nil
}

func (d *memDenylist) IsRevoked(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.revoked[id]
	return ok, nil
}

func newTestService(t *testing.T, opts ...auth.Option) (*auth.Service, *authtest.Store) {
	t.Helper()
	store := authtest.New()
	tokens, err := auth.NewTokenIssuer("http-test-secret")
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	svc, err := auth.NewService(store, tokens, opts...)
	if err != nil {
		t.Fatalf("service: %v", err)
	}
	return svc, store
}

func newTestAPI(t *testing.T, opts ...auth.Option) *apiClient {
	t.Helper()

	svc, store := newTestService(t, opts...)
	api := New(svc, "test", WithRateLimit(1000, 1000))
	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		store:   store,
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, token string) *http.Response {
	c.t.Helper()
	var payload io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, c.baseURL+path, payload)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPost, path, body, token)
}

func (c *apiClient) get(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodGet, path, nil, token)
}

func (c *apiClient) put(path, token string) *http.Response {
	c.t.Helper()
	return c.do(http.MethodPut, path, nil, token)
}

func decode[T any](t *testing.T, resp *http.Response) apiResponse[T] {
	t.Helper()
	defer resp.Body.Close()
	var out apiResponse[T]
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("expected %d, got %d: %s", want, resp.StatusCode, body)
	}
}

func (c *apiClient) register(username, email, password string) registerResponse {
	c.t.Helper()
	resp := c.post("/api/auth/register", map[string]any{
		"Name":     "Ada Lovelace",
		"Email":    email,
		"Username": username,
		"Password": password,
	}, "")
	expectStatus(c.t, resp, http.StatusCreated)
	return decode[registerResponse](c.t, resp).Data
}

// admin registers a user and grants it the Admin role directly in the store.
func (c *apiClient) admin() registerResponse {
	c.t.Helper()
	reg := c.register("root", "root@ngo.org", "RootPass1!")
	if err := c.store.AssignRole(context.Background(), reg.UserID, 1); err != nil {
		c.t.Fatalf("grant admin: %v", err)
	}
	return reg
}

func TestRegisterLoginProfile(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/api/auth/register", map[string]any{
		"Name":       "Ada Lovelace",
		"Email":      "ada@x.com",
		"Username":   "ada1",
		"Password":   "Secret1!",
		"Contact_No": "555-0100",
		"Age":        "36",
	}, "")
	expectStatus(t, resp, http.StatusCreated)
	reg := decode[registerResponse](t, resp)
	if !reg.Success || reg.Message != "User registered successfully" {
		t.Fatalf("unexpected envelope %+v", reg)
	}
	if reg.Data.Token == "" || reg.Data.UserID == 0 || reg.Data.Username != "ada1" {
		t.Fatalf("unexpected data %+v", reg.Data)
	}

	resp = c.post("/api/auth/login", map[string]string{"Username": "ada1", "Password": "Secret1!"}, "")
	expectStatus(t, resp, http.StatusOK)
	login := decode[loginResponse](t, resp)
	if login.Message != "Login successful" {
		t.Fatalf("unexpected message %q", login.Message)
	}
	if len(login.Data.Roles) != 1 || login.Data.Roles[0] != "Staff" {
		t.Fatalf("expected [Staff], got %v", login.Data.Roles)
	}
	if login.Data.Name != "Ada Lovelace" || login.Data.Email != "ada@x.com" {
		t.Fatalf("unexpected person fields %+v", login.Data)
	}

	resp = c.get("/api/auth/profile", login.Data.Token)
	expectStatus(t, resp, http.StatusOK)
	profile := decode[profileResponse](t, resp)
	if profile.Data.User.Username != "ada1" || !profile.Data.User.IsActive {
		t.Fatalf("unexpected account %+v", profile.Data.User)
	}
	if profile.Data.User.LastLogin == nil {
		t.Fatalf("expected last login after a successful login")
	}
	if profile.Data.Person.ContactNo != "555-0100" || profile.Data.Person.Age == nil || *profile.Data.Person.Age != 36 {
		t.Fatalf("unexpected person %+v", profile.Data.Person)
	}
	if len(profile.Data.Roles) != 1 || profile.Data.Roles[0].Name != "Staff" {
		t.Fatalf("unexpected roles %+v", profile.Data.Roles)
	}
}

func TestRegisterValidation(t *testing.T) {
	c := newTestAPI(t)

	resp := c.post("/api/auth/register", map[string]string{"Name": "Ada"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Email, Username, and Password are required" {
		t.Fatalf("unexpected message %q", got)
	}

	c.register("ada1", "ada@x.com", "Secret1!")

	resp = c.post("/api/auth/register", map[string]string{
		"Name": "Other", "Email": "other@x.com", "Username": "ada1", "Password": "x",
	}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Username already exists" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/register", map[string]string{
		"Name": "Other", "Email": "ada@x.com", "Username": "ada2", "Password": "x",
	}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Email already registered" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/register", map[string]any{
		"Name": "Other", "Email": "o@x.com", "Username": "o", "Password": "x", "Age": "old",
	}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	c := newTestAPI(t)
	c.register("ada1", "ada@x.com", "Secret1!")

	read := func(resp *http.Response) string {
		t.Helper()
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Fatalf("expected 401, got %d", resp.StatusCode)
		}
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			t.Fatalf("read body: %v", err)
		}
		return string(b)
	}

	unknown := read(c.post("/api/auth/login", map[string]string{"Username": "nobody", "Password": "Secret1!"}, ""))
	wrong := read(c.post("/api/auth/login", map[string]string{"Username": "ada1", "Password": "nope"}, ""))
	if unknown != wrong {
		t.Fatalf("bodies differ:\n%s\n%s", unknown, wrong)
	}

	resp := c.post("/api/auth/login", map[string]string{"Username": "ada1"}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Username and Password are required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestProtectRejectsMissingAndInvalidTokens(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/api/auth/profile", "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Fatalf("expected WWW-Authenticate header")
	}
	if got := decode[any](t, resp).Message; got != "Access denied. No token provided." {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.get("/api/auth/profile", "garbage")
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[any](t, resp).Message; got != "Invalid token" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestStaffForbiddenOnAdminRoutes(t *testing.T) {
	c := newTestAPI(t)
	staff := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.get("/api/roles", staff.Token)
	expectStatus(t, resp, http.StatusForbidden)
	if got := decode[any](t, resp).Message; got != "Insufficient permissions" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestAdminRoleManagement(t *testing.T) {
	c := newTestAPI(t)
	admin := c.admin()
	staff := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.get("/api/roles", admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if roles := decode[[]roleView](t, resp).Data; len(roles) != len(authtest.SeedRoles) {
		t.Fatalf("expected %d roles, got %d", len(authtest.SeedRoles), len(roles))
	}

	// Assign Manager using string ids the way form clients send them.
	resp = c.post("/api/roles/assign", map[string]string{
		"userId": strconv.FormatInt(staff.UserID, 10),
		"roleId": "3",
	}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if got := decode[any](t, resp).Message; got != "Role assigned successfully" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.get("/api/roles/user/"+strconv.FormatInt(staff.UserID, 10), admin.Token)
	expectStatus(t, resp, http.StatusOK)
	if roles := decode[[]assignmentView](t, resp).Data; len(roles) != 2 {
		t.Fatalf("expected Staff and Manager, got %+v", roles)
	}

	resp = c.post("/api/roles/remove", map[string]int64{"userId": staff.UserID, "roleId": 3}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/api/roles/remove", map[string]int64{"userId": staff.UserID, "roleId": 3}, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.post("/api/roles/assign", map[string]int64{"userId": staff.UserID}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Role ID is required" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/roles/assign", map[string]any{}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "User ID and Role ID are required" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/roles/assign", map[string]int64{"userId": 9999, "roleId": 3}, admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()

	resp = c.get("/api/roles/user/abc", admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()
}

func TestRoleRemovalTakesEffectImmediately(t *testing.T) {
	c := newTestAPI(t)
	admin := c.admin()
	other := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.post("/api/roles/assign", map[string]int64{"userId": other.UserID, "roleId": 1}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/roles", other.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/api/roles/remove", map[string]int64{"userId": other.UserID, "roleId": 1}, admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/roles", other.Token)
	expectStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestCreateRole(t *testing.T) {
	c := newTestAPI(t)
	admin := c.admin()

	resp := c.post("/api/roles", map[string]string{"Role_Name": "Auditor", "Role_Description": "Reads reports"}, admin.Token)
	expectStatus(t, resp, http.StatusCreated)
	created := decode[map[string]int64](t, resp)
	if created.Message != "Role created successfully" || created.Data["Role_ID"] == 0 {
		t.Fatalf("unexpected response %+v", created)
	}

	resp = c.post("/api/roles", map[string]string{"Role_Name": "auditor"}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Role already exists" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/roles", map[string]string{}, admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Role name is required" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestDeactivationRejectsExistingToken(t *testing.T) {
	c := newTestAPI(t)
	admin := c.admin()
	user := c.register("ada1", "ada@x.com", "Secret1!")
	path := "/api/users/" + strconv.FormatInt(user.UserID, 10)

	resp := c.put(path+"/deactivate", admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/auth/profile", user.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[any](t, resp).Message; got != "User not found or inactive" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/login", map[string]string{"Username": "ada1", "Password": "Secret1!"}, "")
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[any](t, resp).Message; got != "Account is deactivated" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.put(path+"/activate", admin.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/auth/profile", user.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.put("/api/users/"+strconv.FormatInt(admin.UserID, 10)+"/deactivate", admin.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	resp = c.put("/api/users/9999/activate", admin.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestChangePassword(t *testing.T) {
	c := newTestAPI(t, auth.WithPasswordPolicy(auth.MinLength(8)))
	user := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.post("/api/auth/change-password", map[string]string{}, user.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Current password and new password are required" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/change-password", map[string]string{
		"currentPassword": "wrong", "newPassword": "Another1!",
	}, user.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[any](t, resp).Message; got != "Current password is incorrect" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/change-password", map[string]string{
		"currentPassword": "Secret1!", "newPassword": "short",
	}, user.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Password must be at least 8 characters" {
		t.Fatalf("unexpected message %q", got)
	}

	resp = c.post("/api/auth/change-password", map[string]string{
		"currentPassword": "Secret1!", "newPassword": "Another1!",
	}, user.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.post("/api/auth/login", map[string]string{"Username": "ada1", "Password": "Another1!"}, "")
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()
}

func TestOverlongPasswordIsBadRequest(t *testing.T) {
	c := newTestAPI(t)
	long := strings.Repeat("p", 80)

	resp := c.post("/api/auth/register", map[string]string{
		"Name": "Ada", "Email": "ada@x.com", "Username": "ada1", "Password": long,
	}, "")
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Password must be at most 72 bytes" {
		t.Fatalf("unexpected message %q", got)
	}

	user := c.register("ada1", "ada@x.com", "Secret1!")
	resp = c.post("/api/auth/change-password", map[string]string{
		"currentPassword": "Secret1!", "newPassword": long,
	}, user.Token)
	expectStatus(t, resp, http.StatusBadRequest)
	if got := decode[any](t, resp).Message; got != "Password must be at most 72 bytes" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestLogout(t *testing.T) {
	c := newTestAPI(t, auth.WithDenylist(&memDenylist{}))
	user := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.post("/api/auth/logout", nil, user.Token)
	expectStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = c.get("/api/auth/profile", user.Token)
	expectStatus(t, resp, http.StatusUnauthorized)
	if got := decode[any](t, resp).Message; got != "Token revoked" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestLogoutRouteRequiresRevocation(t *testing.T) {
	c := newTestAPI(t)
	user := c.register("ada1", "ada@x.com", "Secret1!")

	resp := c.post("/api/auth/logout", nil, user.Token)
	expectStatus(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func TestStoreOutageIsServiceUnavailable(t *testing.T) {
	c := newTestAPI(t)
	user := c.register("ada1", "ada@x.com", "Secret1!")
	c.store.SetDown(true)

	resp := c.post("/api/auth/login", map[string]string{"Username": "ada1", "Password": "Secret1!"}, "")
	expectStatus(t, resp, http.StatusServiceUnavailable)
	resp.Body.Close()

	resp = c.get("/api/auth/profile", user.Token)
	expectStatus(t, resp, http.StatusServiceUnavailable)
	if got := decode[any](t, resp).Message; got != "Service temporarily unavailable" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestHealthAndUnknownRoute(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/health", "")
	expectStatus(t, resp, http.StatusOK)
	var health map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	resp.Body.Close()
	if health["status"] != "OK" || health["version"] != "test" {
		t.Fatalf("unexpected health %v", health)
	}

	resp = c.get("/api/nothing-here", "")
	expectStatus(t, resp, http.StatusNotFound)
	if resp.Header.Get("X-Request-Id") == "" {
		t.Fatalf("expected X-Request-Id header")
	}
	if got := decode[any](t, resp).Message; got != "Route not found" {
		t.Fatalf("unexpected message %q", got)
	}
}
