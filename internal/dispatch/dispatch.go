// Package dispatch implements RequestDispatcher: the Gin-based front door
// that accepts inbound RPC-style requests and routes them to the
// conference/worker/auth subsystems (spec.md §4.H).
package dispatch

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/meetfocus/focus/internal/auth"
	"github.com/meetfocus/focus/internal/supervisor"
	"github.com/meetfocus/focus/internal/worker"
)

// Dispatcher bundles the collaborators every handler needs. Built once per
// process and injected into the Gin router (spec.md §9 "services struct,
// not module-level singletons").
type Dispatcher struct {
	Supervisor      *supervisor.Supervisor
	Workers         *worker.Manager
	Auth            auth.Authority
	TrustedDomains  []string
	SipGatewayReady bool
}

// claimsFrom pulls the authenticated claims gin's auth middleware attached to
// the request context.
func claimsFrom(c *gin.Context) (*auth.Claims, bool) {
	v, ok := c.Get(claimsContextKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*auth.Claims)
	return claims, ok
}

const claimsContextKey = "focus.claims"

// RequireAuth validates the bearer token via d.Auth and stores the claims
// on the request context for downstream handlers.
func (d *Dispatcher) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		claims, ok := d.Auth.IsAuthenticated(c.Request.Context(), token)
		if !ok || claims == nil {
			writeError(c, http.StatusUnauthorized, "forbidden", "missing or invalid credentials")
			c.Abort()
			return
		}
		c.Set(claimsContextKey, claims)
		c.Next()
	}
}

// isTrustedDomain reports whether a jid's domain is on the configured
// trusted-domain allowlist used for accept-jibri-request/accept-jigasi-request
// (spec.md §4.G "decides whether an external request... is authorized").
func (d *Dispatcher) isTrustedDomain(jid string) bool {
	parts := strings.SplitN(jid, "@", 2)
	if len(parts) != 2 {
		return false
	}
	domain := parts[1]
	for _, trusted := range d.TrustedDomains {
		if domain == trusted {
			return true
		}
	}
	return false
}
