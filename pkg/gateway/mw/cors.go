package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-relay/pkg/gateway/config"
)

var corsAllowedMethods = "GET, POST, OPTIONS"

var corsAllowedHeaders = strings.Join([]string{
	"Content-Type",
	"X-Request-ID",
	apiVersionHeader,
}, ", ")

var corsExposedHeaders = strings.Join([]string{
	"X-Request-ID",
	"X-Transcript",
	"X-Reply",
}, ", ")

// OriginAllowed reports whether origin passes the configured allowlist. An
// allowlist containing "*" admits every origin.
func OriginAllowed(cfg config.Config, origin string) bool {
	if cfg.AllowsAnyOrigin() {
		return true
	}
	for _, o := range cfg.CORSAllowedOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

func CORS(cfg config.Config, next http.Handler) http.Handler {
	anyOrigin := cfg.AllowsAnyOrigin()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := strings.TrimSpace(r.Header.Get("Origin"))

		if r.Method == http.MethodOptions && strings.TrimSpace(r.Header.Get("Access-Control-Request-Method")) != "" {
			if !anyOrigin && (origin == "" || !OriginAllowed(cfg, origin)) {
				http.Error(w, "cors preflight not allowed", http.StatusForbidden)
				return
			}
			setAllowOrigin(w, anyOrigin, origin)
			w.Header().Set("Access-Control-Allow-Methods", corsAllowedMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowedHeaders)
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		if anyOrigin || (origin != "" && OriginAllowed(cfg, origin)) {
			setAllowOrigin(w, anyOrigin, origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposedHeaders)
		}
		next.ServeHTTP(w, r)
	})
}

func setAllowOrigin(w http.ResponseWriter, anyOrigin bool, origin string) {
	if anyOrigin {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		return
	}
	w.Header().Set("Access-Control-Allow-Origin", origin)
	w.Header().Add("Vary", "Origin")
}
