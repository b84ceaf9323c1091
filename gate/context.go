package gate

import (
	"context"
	"mime"
	"net/http"
	"strings"

	"github.com/jrsteele09/wastekonnect-admin/identity"
)

type contextKey string

const contextKeyIdentity contextKey = "identity"

// WithIdentity returns ctx carrying the signed-in identity.
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	return context.WithValue(ctx, contextKeyIdentity, id.Clone())
}

// IdentityFromContext returns the identity placed by Require.
func IdentityFromContext(ctx context.Context) (*identity.Identity, bool) {
	id, ok := ctx.Value(contextKeyIdentity).(*identity.Identity)
	return id, ok && id != nil
}

func wantsJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(part))
		if err == nil && mediaType == "application/json" {
			return true
		}
	}
	return false
}
