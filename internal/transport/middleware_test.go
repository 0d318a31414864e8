package transport

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAccessControl(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	tests := []struct {
		name    string
		allowed []string
		method  string
		path    string
		origin  string
		referer string
		status  int
		acao    string
	}{
		{"empty list allows all", nil, http.MethodGet, "/sse", "https://anywhere.test", "", http.StatusOK, "*"},
		{"allowed origin", []string{"example.com"}, http.MethodGet, "/sse", "https://app.example.com", "", http.StatusOK, "https://app.example.com"},
		{"allowed referer", []string{"example.com"}, http.MethodPost, "/message", "", "https://example.com/chat", http.StatusOK, "*"},
		{"foreign origin", []string{"example.com"}, http.MethodGet, "/sse", "https://evil.test", "", http.StatusForbidden, ""},
		{"no origin", []string{"example.com"}, http.MethodGet, "/healthz", "", "", http.StatusForbidden, ""},
		{"preflight", []string{"example.com"}, http.MethodOptions, "/message", "https://evil.test", "", http.StatusNoContent, ""},
		{"discovery", []string{"example.com"}, http.MethodGet, "/.well-known/oauth-protected-resource", "", "", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}

			if tt.referer != "" {
				req.Header.Set("Referer", tt.referer)
			}

			rec := httptest.NewRecorder()
			accessControl(tt.allowed)(ok).ServeHTTP(rec, req)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.acao, rec.Header().Get("Access-Control-Allow-Origin"))

			if tt.status == http.StatusForbidden {
				assert.JSONEq(t, `{"error":"forbidden","message":"origin not allowed"}`, rec.Body.String())
			}
		})
	}
}
