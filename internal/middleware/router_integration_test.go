package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/chatfront/internal/navigation"
)

// TestRouterIntegration_CSRFTokenEndpoint はCSRFトークン取得エンドポイントが
// chi.Routerで正しく動作することを検証する。
func TestRouterIntegration_CSRFTokenEndpoint(t *testing.T) {
	r := chi.NewRouter()

	csrfConfig := CSRFConfig{CookieSecure: false}
	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body.Token == "" {
		t.Error("expected non-empty token")
	}
}

// TestRouterIntegration_GuardedRoutes_WithMiddlewareChain は
// SessionContext -> CSRF -> ガード のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_GuardedRoutes_WithMiddlewareChain(t *testing.T) {
	sessions := &mockSessionReader{}
	guard := navigation.NewGuard(sessions)

	r := chi.NewRouter()

	csrfConfig := CSRFConfig{CookieSecure: false}

	r.Get("/api/csrf-token", NewCSRFTokenHandler(csrfConfig).ServeHTTP)

	r.Group(func(r chi.Router) {
		r.Use(NewSessionContextMiddleware(sessions))
		r.Use(NewCSRFMiddleware(csrfConfig))

		r.With(NewAPIGuardMiddleware(guard, navigation.RouteChat)).Get("/api/protected", func(w http.ResponseWriter, r *http.Request) {
			identityID, _ := IdentityIDFromContext(r.Context())
			json.NewEncoder(w).Encode(map[string]string{"identity_id": identityID})
		})

		r.With(NewNavigationGuardMiddleware(guard, navigation.RouteSignIn)).Post("/signin", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})
	})

	t.Run("GET_protected_no_session", func(t *testing.T) {
		sessions.sess = nil
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/protected", nil))

		if w.Result().StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("GET_protected_with_session", func(t *testing.T) {
		sessions.sess = activeSession()
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/protected", nil))

		if w.Result().StatusCode != http.StatusOK {
			t.Fatalf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
		var body map[string]string
		json.NewDecoder(w.Result().Body).Decode(&body)
		if body["identity_id"] != testIdentityID.String() {
			t.Errorf("identity_id = %q, want %q", body["identity_id"], testIdentityID.String())
		}
	})

	t.Run("POST_signin_without_csrf", func(t *testing.T) {
		sessions.sess = nil
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/signin", nil))

		if w.Result().StatusCode != http.StatusForbidden {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusForbidden)
		}
	})

	t.Run("POST_signin_with_csrf", func(t *testing.T) {
		sessions.sess = nil
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
		req.Header.Set(csrfHeaderName, "test-csrf-token")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusOK)
		}
	})

	t.Run("POST_signin_already_authenticated_redirects_to_chat", func(t *testing.T) {
		sessions.sess = activeSession()
		req := httptest.NewRequest(http.MethodPost, "/signin", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "test-csrf-token"})
		req.Header.Set(csrfHeaderName, "test-csrf-token")
		w := httptest.NewRecorder()

		r.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusSeeOther {
			t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusSeeOther)
		}
		if got := w.Result().Header.Get("Location"); got != "/" {
			t.Errorf("Location = %q, want /", got)
		}
	})
}
