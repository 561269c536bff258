package middlewares

import (
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/hankstore/ebms_backend/utils"
)

// IdentityMiddleware copies caller identity headers into the request
// context: the issuing TIN and device default the declaration payloads when
// the body omits them, the operator shows up in the access log, and an
// optional per-request OBR session token takes precedence over the
// configured credential.
func IdentityMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if v := strings.TrimSpace(c.GetHeader("x-obr-token")); v != "" {
			ctx = utils.SetTokenInContext(ctx, v)
		}
		if v := strings.TrimSpace(c.GetHeader("x-issuer-tin")); v != "" {
			ctx = utils.SetIssuerTINInContext(ctx, v)
		}
		if v := strings.TrimSpace(c.GetHeader("x-system-id")); v != "" {
			ctx = utils.SetSystemIdInContext(ctx, v)
		}
		if v := strings.TrimSpace(c.GetHeader("x-actor-id")); v != "" {
			if id, err := strconv.Atoi(v); err == nil {
				ctx = utils.SetActorIdInContext(ctx, id)
			}
		}
		if v := strings.TrimSpace(c.GetHeader("x-actor-name")); v != "" {
			ctx = utils.SetActorNameInContext(ctx, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
