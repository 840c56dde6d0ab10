package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

const ContextKeyUID = "uid"

var errMissingBearer = errors.New("missing bearer token")

// Middleware verifies the Authorization bearer token and stores the user id
// in both the gin context and the request context.
func Middleware(verifier Verifier, log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			log.WithField("path", c.FullPath()).Debug(errMissingBearer.Error())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errMissingBearer.Error()})
			return
		}

		userID, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			log.WithError(err).Debug("token verification failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(ContextKeyUID, userID)
		c.Request = c.Request.WithContext(WithUserID(c.Request.Context(), userID))
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
