package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/danmuck/qmuxd/internal/observability"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

var ErrUnauthorized = errors.New("admin: unauthorized")

// Validator checks the bearer token sent with a control request.
type Validator interface {
	Validate(token string) error
}

// StaticToken accepts exactly one shared token. An empty token denies all.
type StaticToken struct {
	Token string
}

func (s StaticToken) Validate(token string) error {
	if s.Token == "" {
		return ErrUnauthorized
	}
	if subtle.ConstantTimeCompare([]byte(s.Token), []byte(token)) != 1 {
		return ErrUnauthorized
	}
	return nil
}

// ValidatorFunc adapts a function into a Validator.
type ValidatorFunc func(token string) error

func (f ValidatorFunc) Validate(token string) error {
	return f(token)
}

// RequireToken rejects requests whose Authorization header does not carry a
// bearer token accepted by v.
func RequireToken(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok || v.Validate(token) != nil {
			observability.RecordAuthRejected("admin", observability.RouteLabel(c))
			log.Warn().Str("path", c.FullPath()).Str("client", c.ClientIP()).Msg("admin.auth rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrUnauthorized.Error()})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}
