package auth

import "context"

// contextKey namespaces values StaticAuthenticator stores on a request
// context, so they can't collide with keys set by unrelated packages.
type contextKey string

// ClientContextKey is the context key StaticAuthenticator stores the
// authenticated ClientKey under.
const ClientContextKey contextKey = "orchestrator_client"

// Permission names an action a ClientKey is allowed to perform.
type Permission string

const (
	PermissionChat       Permission = "chat"
	PermissionChatStream Permission = "chat:stream"
	PermissionFiles      Permission = "files"
	PermissionAdmin      Permission = "admin"
)

// ClientKey identifies the caller an authenticated request acted as.
// StaticAuthenticator always injects the same admin identity; this
// type stays separate from the authenticator so handlers that read it
// off the context don't need to know how the token was validated.
type ClientKey struct {
	ClientID    string
	ClientName  string
	Permissions []Permission
}

// HasPermission reports whether k carries perm, or the blanket admin
// permission that implies every other one.
func (k *ClientKey) HasPermission(perm Permission) bool {
	for _, p := range k.Permissions {
		if p == perm || p == PermissionAdmin {
			return true
		}
	}
	return false
}

// ClientFromContext returns the ClientKey StaticAuthenticator's
// Middleware stored on ctx, or nil if the request was never
// authenticated through it.
func ClientFromContext(ctx context.Context) *ClientKey {
	if client, ok := ctx.Value(ClientContextKey).(*ClientKey); ok {
		return client
	}
	return nil
}
