// security_test.go

// unit tests for SecurityHeaders, BlockScanners, SameOriginWrites and CORS.
package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func TestSecurityHeaders(t *testing.T) {
	w := httptest.NewRecorder()
	SecurityHeaders(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	csp := w.Header().Get("Content-Security-Policy")
	for _, want := range []string{
		"default-src 'self'",
		"connect-src 'self' wss://*.peerjs.com https://*.peerjs.com",
		"object-src 'none'",
		"frame-src 'none'",
	} {
		if !strings.Contains(csp, want) {
			t.Errorf("CSP: expected %q in %q", want, csp)
		}
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options: expected nosniff, got %q", got)
	}
}

func TestBlockScanners(t *testing.T) {
	blocked := []string{
		"/wp-admin/setup.php",
		"/wp-includes/x.js",
		"/wordpress/",
		"/xmlrpc.php",
		"/.env",
		"/.git/config",
		"/backup.sql",
		"/index.php",
		"/WP-ADMIN/",
		"/x.PHP",
		"/.ENV",
	}
	for _, path := range blocked {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			BlockScanners(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			assertError(t, w, http.StatusNotFound, "Not Found")
		})
	}

	allowed := []string{"/", "/chat", "/api/auth/me", "/static/chat.js", "/php/readme"}
	for _, path := range allowed {
		t.Run(path, func(t *testing.T) {
			w := httptest.NewRecorder()
			BlockScanners(okHandler).ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
			if w.Code != http.StatusOK {
				t.Errorf("status: expected 200, got %d", w.Code)
			}
		})
	}
}

func TestSameOriginWrites(t *testing.T) {
	mw := SameOriginWrites("localhost", "example.com")

	tests := []struct {
		name   string
		method string
		origin string
		want   int
	}{
		{"GET from anywhere", http.MethodGet, "https://evil.test", http.StatusOK},
		{"POST without origin", http.MethodPost, "", http.StatusOK},
		{"POST from localhost", http.MethodPost, "http://localhost:3000", http.StatusOK},
		{"PUT from allowed host", http.MethodPut, "https://app.example.com", http.StatusOK},
		{"POST cross-origin", http.MethodPost, "https://evil.test", http.StatusForbidden},
		{"DELETE cross-origin", http.MethodDelete, "https://evil.test", http.StatusForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, "/api/auth/login", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			w := httptest.NewRecorder()

			mw(okHandler).ServeHTTP(w, r)

			if w.Code != tt.want {
				t.Errorf("status: expected %d, got %d", tt.want, w.Code)
			}
			if tt.want == http.StatusForbidden {
				assertError(t, w, http.StatusForbidden, "Cross-origin requests disabled")
			}
		})
	}
}

func TestCORS(t *testing.T) {
	const origin = "http://localhost:3000"
	h := CORS(origin)(okHandler)

	t.Run("preflight from allowed origin", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
		r.Header.Set("Origin", origin)
		r.Header.Set("Access-Control-Request-Method", http.MethodPost)
		r.Header.Set("Access-Control-Request-Headers", "Content-Type")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, r)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != origin {
			t.Errorf("Allow-Origin: expected %q, got %q", origin, got)
		}
		if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
			t.Errorf("Allow-Credentials: expected true, got %q", got)
		}
	})

	t.Run("other origin gets no allow header", func(t *testing.T) {
		r := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
		r.Header.Set("Origin", "https://evil.test")
		w := httptest.NewRecorder()

		h.ServeHTTP(w, r)

		if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
			t.Errorf("Allow-Origin: expected empty, got %q", got)
		}
	})
}
