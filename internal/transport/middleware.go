package transport

import (
	"net/http"
	"strings"
)

const wellKnownPrefix = "/.well-known/"

// accessControl admits requests whose Origin, or Referer when Origin is
// absent, contains one of allowed. Preflights and discovery documents are
// always admitted. An empty list admits everything.
func accessControl(allowed []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			permitted := originAllowed(allowed, origin, r.Header.Get("Referer"))

			if permitted {
				setCORSHeaders(w, allowed, origin)
			}

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if !permitted && !strings.HasPrefix(r.URL.Path, wellKnownPrefix) {
				writeError(w, http.StatusForbidden, "forbidden", "origin not allowed")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(allowed []string, origin, referer string) bool {
	if len(allowed) == 0 {
		return true
	}

	source := origin
	if source == "" {
		source = referer
	}

	if source == "" {
		return false
	}

	for _, candidate := range allowed {
		if candidate != "" && strings.Contains(source, candidate) {
			return true
		}
	}

	return false
}

func setCORSHeaders(w http.ResponseWriter, allowed []string, origin string) {
	h := w.Header()

	if len(allowed) == 0 || origin == "" {
		h.Set("Access-Control-Allow-Origin", "*")
	} else {
		h.Set("Access-Control-Allow-Origin", origin)
		h.Add("Vary", "Origin")
	}

	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Mcp-Session-Id")
}
