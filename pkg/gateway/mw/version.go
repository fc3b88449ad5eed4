package mw

import (
	"net/http"
	"strings"

	"github.com/vango-go/vai-relay/pkg/core"
)

const (
	apiVersionHeader    = "X-VAI-Version"
	supportedAPIVersion = "1"
)

// APIVersion rejects /v1 HTTP requests that pin an unsupported version.
// Websocket upgrades and preflights pass through.
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || IsWebSocketUpgrade(r) || !isV1Path(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		for _, v := range headerCSV(r.Header.Values(apiVersionHeader)) {
			if v == supportedAPIVersion {
				continue
			}
			reqID, _ := RequestIDFrom(r.Context())
			writeJSONError(w, http.StatusBadRequest, &core.Error{
				Type:      core.ErrInvalidRequest,
				Message:   "unsupported API version",
				Param:     apiVersionHeader,
				Code:      "unsupported_version",
				RequestID: reqID,
			})
			return
		}
		w.Header().Set(apiVersionHeader, supportedAPIVersion)
		next.ServeHTTP(w, r)
	})
}

func isV1Path(path string) bool {
	return path == "/v1" || strings.HasPrefix(path, "/v1/")
}

// IsWebSocketUpgrade reports whether r asks for a websocket upgrade.
func IsWebSocketUpgrade(r *http.Request) bool {
	if !headerHasToken(r.Header, "Connection", "upgrade") {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(r.Header.Get("Upgrade")), "websocket")
}

func headerHasToken(h http.Header, name, token string) bool {
	for _, part := range headerCSV(h.Values(name)) {
		if strings.EqualFold(part, token) {
			return true
		}
	}
	return false
}

func headerCSV(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}
