package auth

// wiring_test.go
//
// Catches bugs where middleware components hand data to each other incorrectly.
//
// Routes requests through APIRoutes so the real chain runs:
//
//   - Cookie:      Register/Login (set sid) -> LoadSession (read sid) -> Me
//   - Context:     LoadSession (inject session) -> RequireSession -> ChangePassword
//   - Guards:      per-IP register and login limits, reset on successful login
//   - Logout:      Logout (destroy session) -> LoadSession treats the old cookie as anonymous
//

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

// --- Seam test helpers ---

func newWiredRouter(env *testEnv) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", env.h.APIRoutes)
	return r
}

// send routes a request, attaching cookie when non-nil.
func send(router http.Handler, method, path, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, path, nil)
	} else {
		r = jsonRequest(method, path, body)
	}
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	return w
}

// --- Cookie and session seams ---

func TestWiring_RegisterMeLogoutMe(t *testing.T) {
	env := newTestEnv(t)
	router := newWiredRouter(env)

	w := send(router, http.MethodPost, "/api/auth/register", `{"username":"alice","email":"a@x.io","password":"secret123"}`, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	cookie := assertSessionCookie(t, w)

	w = send(router, http.MethodGet, "/api/auth/me", "", cookie)
	if !strings.Contains(w.Body.String(), `"authenticated":true`) || !strings.Contains(w.Body.String(), `"username":"alice"`) {
		t.Fatalf("me after register: unexpected body %s", w.Body.String())
	}

	w = send(router, http.MethodPost, "/api/auth/logout", "", cookie)
	if w.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", w.Code)
	}

	w = send(router, http.MethodGet, "/api/auth/me", "", cookie)
	assertJSON(t, w, http.StatusOK, `{"authenticated":false,"success":false}`)
}

func TestWiring_LoginCookieAuthorizesChangePassword(t *testing.T) {
	env := newTestEnv(t, newPasswordUser(t, "alice", "a@x.io", "secret123"))
	router := newWiredRouter(env)

	w := send(router, http.MethodPost, "/api/auth/change-password", `{"currentPassword":"secret123","newPassword":"newsecret"}`, nil)
	assertError(t, w, http.StatusUnauthorized, "Unauthorized")

	w = send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"secret123"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}
	cookie := assertSessionCookie(t, w)

	w = send(router, http.MethodPost, "/api/auth/change-password", `{"currentPassword":"secret123","newPassword":"newsecret"}`, cookie)
	assertJSON(t, w, http.StatusOK, `{"message":"Password updated successfully","success":true}`)
}

func TestWiring_BillingRoutesRequireSession(t *testing.T) {
	env := newTestEnv(t)
	router := newWiredRouter(env)

	for _, path := range []string{"/api/billing/subscription", "/api/billing/balance", "/api/billing/transactions"} {
		w := send(router, http.MethodGet, path, "", nil)
		assertError(t, w, http.StatusUnauthorized, "Unauthorized")
	}
	w := send(router, http.MethodPost, "/api/create-checkout", "", nil)
	assertError(t, w, http.StatusUnauthorized, "Unauthorized")
}

// --- Guard seams ---

func TestWiring_APIGuardHeaders(t *testing.T) {
	env := newTestEnv(t)
	router := newWiredRouter(env)

	w := send(router, http.MethodGet, "/api/auth/me", "", nil)

	if got := w.Header().Get("X-RateLimit-Limit"); got != "1000" {
		t.Errorf("X-RateLimit-Limit: expected 1000, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "999" {
		t.Errorf("X-RateLimit-Remaining: expected 999, got %q", got)
	}
	if !env.redis.Server.Exists("rl:/api/auth/me") {
		t.Error("expected per-endpoint counter rl:/api/auth/me")
	}
}

func TestWiring_RegisterGuard(t *testing.T) {
	env := newTestEnv(t)
	router := newWiredRouter(env)
	body := `{"username":"alice","email":"a@x.io","password":"secret123"}`

	for i := range 5 {
		w := send(router, http.MethodPost, "/api/auth/register", body, nil)
		if w.Code == http.StatusTooManyRequests {
			t.Fatalf("attempt %d: limited too early", i+1)
		}
	}

	w := send(router, http.MethodPost, "/api/auth/register", body, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("6th attempt: expected 429, got %d", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "3600" {
		t.Errorf("Retry-After: expected 3600, got %q", got)
	}
}

func TestWiring_LoginGuardResetOnSuccess(t *testing.T) {
	env := newTestEnv(t, newPasswordUser(t, "alice", "a@x.io", "secret123"))
	router := newWiredRouter(env)
	bad := `{"username":"alice","password":"wrongpass"}`

	for range 10 {
		if w := send(router, http.MethodPost, "/api/auth/login", bad, nil); w.Code != http.StatusUnauthorized {
			t.Fatalf("failed login: expected 401, got %d", w.Code)
		}
	}

	// 11th attempt is the last one allowed; success clears the counters.
	w := send(router, http.MethodPost, "/api/auth/login", `{"username":"alice","password":"secret123"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("login: expected 200, got %d", w.Code)
	}

	if w := send(router, http.MethodPost, "/api/auth/login", bad, nil); w.Code != http.StatusUnauthorized {
		t.Errorf("after reset: expected 401, got %d", w.Code)
	}
}

func TestWiring_LoginGuardLimits(t *testing.T) {
	env := newTestEnv(t)
	router := newWiredRouter(env)
	bad := `{"username":"nobody","password":"wrongpass"}`

	for range 11 {
		send(router, http.MethodPost, "/api/auth/login", bad, nil)
	}

	w := send(router, http.MethodPost, "/api/auth/login", bad, nil)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("12th attempt: expected 429, got %d", w.Code)
	}
}
