package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nicoladebbia/CredLink-sub020/internal/application/dto"
	"github.com/nicoladebbia/CredLink-sub020/pkg/constants"
)

// APIKey returns the tenant API key from X-API-Key or "Authorization: ApiKey <key>".
func APIKey(c *gin.Context) string {
	if key := strings.TrimSpace(c.GetHeader(constants.HeaderAPIKey)); key != "" {
		return key
	}
	return authorizationCredential(c, constants.AuthSchemeAPIKey)
}

// BearerToken returns the credential of "Authorization: Bearer <token>".
func BearerToken(c *gin.Context) string {
	return authorizationCredential(c, constants.AuthSchemeBearer)
}

func authorizationCredential(c *gin.Context, scheme string) string {
	header := c.GetHeader(constants.HeaderAuthorization)
	prefix, rest, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(prefix, scheme) {
		return ""
	}
	return strings.TrimSpace(rest)
}

// AdminAuthorizer verifies admin bearer tokens.
type AdminAuthorizer interface {
	AuthorizeAdmin(ctx context.Context, token string) error
}

// AdminAuth rejects requests without a valid admin bearer token.
func AdminAuth(admin AdminAuthorizer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := admin.AuthorizeAdmin(c.Request.Context(), BearerToken(c)); err != nil {
			dto.SendError(c, err)
			return
		}
		c.Next()
	}
}
