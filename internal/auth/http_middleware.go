package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// Middleware adapts StaticAuthenticator to the chi-compatible
// `func(http.Handler) http.Handler` shape, the HTTP equivalent of
// UnaryInterceptor/StreamInterceptor for the orchestrator's HTTP+SSE
// transport. healthPath is exempted the same way
// "/airborne.v1.AdminService/Health" is exempted from the gRPC
// interceptor.
func (a *StaticAuthenticator) Middleware(healthPath string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if healthPath != "" && r.URL.Path == healthPath {
				next.ServeHTTP(w, r)
				return
			}

			token := extractHTTPToken(r)
			if token == "" {
				http.Error(w, "missing API key", http.StatusUnauthorized)
				return
			}
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
				http.Error(w, "invalid API key", http.StatusUnauthorized)
				return
			}

			client := &ClientKey{
				ClientID:    "admin",
				ClientName:  "static-admin",
				Permissions: []Permission{PermissionChat, PermissionChatStream, PermissionFiles, PermissionAdmin},
			}
			ctx := context.WithValue(r.Context(), ClientContextKey, client)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// extractHTTPToken mirrors extractStaticToken's header precedence
// (authorization, then x-api-key) over net/http's header type instead
// of gRPC metadata.
func extractHTTPToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token := normalizeAuthHeader(auth); token != "" {
			return token
		}
	}
	if key := r.Header.Get("X-Api-Key"); key != "" {
		return strings.TrimSpace(key)
	}
	return ""
}
