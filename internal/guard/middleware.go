package guard

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
)

type contextKey struct{}

// securityContextKey stores the SecurityContext in the request context.
var securityContextKey = contextKey{}

// FromContext returns the SecurityContext of a protected request.
func FromContext(ctx context.Context) (*SecurityContext, bool) {
	secCtx, ok := ctx.Value(securityContextKey).(*SecurityContext)
	return secCtx, ok
}

// Middleware wraps a handler with the protection pipeline. Rejected requests
// receive a JSON error and never reach the handler.
func (o *Orchestrator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		secCtx, secErr := o.Protect(w, r)
		if secErr != nil {
			WriteError(w, secErr)
			return
		}

		ctx := context.WithValue(r.Context(), securityContextKey, secCtx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GinContextKey stores the SecurityContext in the gin context.
const GinContextKey = "guard.securityContext"

// GinMiddleware adapts the pipeline to gin.
func (o *Orchestrator) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		secCtx, secErr := o.Protect(c.Writer, c.Request)
		if secErr != nil {
			c.Abort()
			WriteError(c.Writer, secErr)
			return
		}

		c.Set(GinContextKey, secCtx)
		c.Request = c.Request.WithContext(
			context.WithValue(c.Request.Context(), securityContextKey, secCtx),
		)
		c.Next()
	}
}

// FromGinContext returns the SecurityContext of a protected gin request.
func FromGinContext(c *gin.Context) (*SecurityContext, bool) {
	v, ok := c.Get(GinContextKey)
	if !ok {
		return nil, false
	}
	secCtx, ok := v.(*SecurityContext)
	return secCtx, ok
}

// WriteError writes a structured rejection as JSON.
func WriteError(w http.ResponseWriter, secErr *SecurityError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(secErr.Status)

	_ = json.NewEncoder(w).Encode(secErr)
}
