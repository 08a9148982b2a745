package http

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/PolicyRouter/internal/models"
	"github.com/router-for-me/PolicyRouter/internal/security"
	log "github.com/sirupsen/logrus"
)

// Realm is announced in WWW-Authenticate challenges.
const Realm = "Policy Router"

const credentialKey = "credential"

// CredentialVerifier checks a basic auth username and password.
type CredentialVerifier interface {
	Verify(ctx context.Context, username, password string) (*models.Credential, error)
}

// BasicAuthMiddleware authenticates HTTP Basic credentials and injects the credential.
// With requireAdmin set, authenticated non-admin credentials are refused with 403.
func BasicAuthMiddleware(verifier CredentialVerifier, requireAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		scheme, encoded, _ := strings.Cut(header, " ")
		if header == "" || scheme != "Basic" {
			challenge(c, "Authentication required")
			return
		}
		decoded, errDecode := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
		if errDecode != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid Authorization header"})
			return
		}
		username, password, ok := strings.Cut(string(decoded), ":")
		if !ok {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Invalid Authorization header"})
			return
		}

		cred, errVerify := verifier.Verify(c.Request.Context(), username, password)
		switch {
		case errVerify == nil:
		case errors.Is(errVerify, security.ErrInvalidCredentials):
			challenge(c, "Unauthorized")
			return
		default:
			log.WithError(errVerify).Error("basic auth middleware error")
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Authentication service error"})
			return
		}
		if requireAdmin && !cred.IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin credential required"})
			return
		}
		c.Set(credentialKey, cred)
		c.Next()
	}
}

// CredentialFromContext returns the credential set by BasicAuthMiddleware.
func CredentialFromContext(c *gin.Context) *models.Credential {
	if v, ok := c.Get(credentialKey); ok {
		if cred, okCred := v.(*models.Credential); okCred {
			return cred
		}
	}
	return nil
}

func challenge(c *gin.Context, message string) {
	c.Header("WWW-Authenticate", `Basic realm="`+Realm+`"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
}
