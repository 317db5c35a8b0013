package rest

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nnipa/authz-service/internal/config"
	"github.com/nnipa/authz-service/internal/engine"
	"github.com/nnipa/authz-service/pkg/types"
)

// Context keys for the authenticated identity.
const (
	ctxUserID   = "authz.user_id"
	ctxTenantID = "authz.tenant_id"
)

// guard authenticates requests and gates administrative routes on
// permissions decided by the engine itself. With auth disabled both
// middlewares pass everything through.
type guard struct {
	engine *engine.Engine
	cfg    config.AuthConfig
	logger *zap.Logger
}

func newGuard(eng *engine.Engine, cfg config.AuthConfig, logger *zap.Logger) *guard {
	return &guard{engine: eng, cfg: cfg, logger: logger}
}

// authenticate parses the bearer token and stores the caller's identity
// on the request context. Tokens are HS256 with the caller in "sub" and
// the tenant in "tenant_id"; this service never issues them.
func (g *guard) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.Enabled {
			c.Next()
			return
		}

		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			unauthenticated(c, err.Error())
			return
		}

		opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"HS256"})}
		if g.cfg.JWTIssuer != "" {
			opts = append(opts, jwt.WithIssuer(g.cfg.JWTIssuer))
		}
		token, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(g.cfg.JWTSecret), nil
		}, opts...)
		if err != nil || !token.Valid {
			g.logger.Warn("Rejected bearer token",
				zap.Error(err),
				zap.String("remote_addr", c.ClientIP()))
			unauthenticated(c, "invalid token")
			return
		}

		userID, tenantID, err := identityClaims(token)
		if err != nil {
			unauthenticated(c, err.Error())
			return
		}

		c.Set(ctxUserID, userID)
		c.Set(ctxTenantID, tenantID)
		c.Next()
	}
}

// require gates a route on one permission, decided by the engine for the
// authenticated caller. The check request carries no IP or user agent so
// repeats are served from the decision cache.
func (g *guard) require(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !g.cfg.Enabled {
			c.Next()
			return
		}

		userID, tenantID, ok := identity(c)
		if !ok {
			unauthenticated(c, "missing identity")
			return
		}

		resp := g.engine.Authorize(c.Request.Context(), &types.AuthzRequest{
			UserID:   userID,
			TenantID: tenantID,
			Resource: resource,
			Action:   action,
		})
		if !resp.Allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, errorBody{
				Error:   "forbidden",
				Message: fmt.Sprintf("%s permission required", types.PermissionName(resource, action)),
			})
			return
		}
		c.Next()
	}
}

// identity returns the authenticated caller, when the guard stored one.
func identity(c *gin.Context) (userID, tenantID uuid.UUID, ok bool) {
	u, uok := c.Get(ctxUserID)
	t, tok := c.Get(ctxTenantID)
	if !uok || !tok {
		return uuid.Nil, uuid.Nil, false
	}
	uid, uok := u.(uuid.UUID)
	tid, tok := t.(uuid.UUID)
	if !uok || !tok {
		return uuid.Nil, uuid.Nil, false
	}
	return uid, tid, true
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", fmt.Errorf("missing authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", fmt.Errorf("authorization header is not a bearer token")
	}
	return strings.TrimSpace(parts[1]), nil
}

func identityClaims(token *jwt.Token) (userID, tenantID uuid.UUID, err error) {
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, uuid.Nil, fmt.Errorf("unexpected claims type")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("token has no subject")
	}
	userID, err = uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("subject is not a user id")
	}
	rawTenant, _ := claims["tenant_id"].(string)
	if rawTenant == "" {
		return uuid.Nil, uuid.Nil, fmt.Errorf("token has no tenant_id")
	}
	tenantID, err = uuid.Parse(rawTenant)
	if err != nil {
		return uuid.Nil, uuid.Nil, fmt.Errorf("tenant_id is not a tenant id")
	}
	return userID, tenantID, nil
}

func unauthenticated(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{
		Error:   "unauthenticated",
		Message: msg,
	})
}
