package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/Quagm/ios-aquatics/internal/core/domain"
	"github.com/Quagm/ios-aquatics/internal/port"
)

const identityKey = "identity"

const adminModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// AdminPolicy decides which roles may call which admin routes.
type AdminPolicy struct {
	enforcer *casbin.Enforcer
}

// NewAdminPolicy grants the admin role every method under /api/admin.
func NewAdminPolicy() (*AdminPolicy, error) {
	m, err := model.NewModelFromString(adminModel)
	if err != nil {
		return nil, fmt.Errorf("load casbin model: %w", err)
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("create casbin enforcer: %w", err)
	}
	if _, err := e.AddPolicy(domain.RoleAdmin, "/api/admin/*", "*"); err != nil {
		return nil, fmt.Errorf("add admin policy: %w", err)
	}
	return &AdminPolicy{enforcer: e}, nil
}

func (p *AdminPolicy) Allowed(role, path, method string) (bool, error) {
	if role == "" {
		return false, nil
	}
	return p.enforcer.Enforce(role, path, method)
}

// Authenticate resolves the caller from the bearer token. Without
// requireToken a missing token passes as an anonymous caller.
func Authenticate(verifier port.TokenVerifier, requireToken bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			if requireToken {
				writeError(c, domain.ErrUnauthorized)
				return
			}
			log.Warn().Str("path", c.FullPath()).Msg("request without token accepted outside production")
			c.Set(identityKey, domain.Identity{})
			c.Next()
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			writeError(c, fmt.Errorf("%w: malformed authorization header", domain.ErrUnauthorized))
			return
		}
		if verifier == nil {
			writeError(c, fmt.Errorf("%w: token verification is not configured", domain.ErrUnauthorized))
			return
		}

		id, err := verifier.Verify(token)
		if err != nil {
			writeError(c, err)
			return
		}
		c.Set(identityKey, id)
		c.Next()
	}
}

// RequireAdmin must run after Authenticate.
func RequireAdmin(policy *AdminPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := identityFrom(c)
		if id.IsAnonymous() {
			writeError(c, domain.ErrUnauthorized)
			return
		}

		allowed, err := policy.Allowed(id.Role, c.Request.URL.Path, c.Request.Method)
		if err != nil {
			writeError(c, fmt.Errorf("authorization check: %w", err))
			return
		}
		if !allowed {
			log.Warn().Str("userId", id.UserID).Str("role", id.Role).Str("path", c.Request.URL.Path).Msg("admin access denied")
			writeError(c, domain.ErrForbidden)
			return
		}
		c.Next()
	}
}

func identityFrom(c *gin.Context) domain.Identity {
	if v, ok := c.Get(identityKey); ok {
		if id, ok := v.(domain.Identity); ok {
			return id
		}
	}
	return domain.Identity{}
}

// RequestLogger writes one zerolog line per request.
func RequestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		event.Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("clientIp", c.ClientIP()).
			Msg("http request")
	}
}
