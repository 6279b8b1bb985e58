package http

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/linkarr/config"
)

// Auth accepts a matching token query parameter or basic auth credentials.
// Requests pass freely when neither is configured.
func Auth(cfg *config.Auth) gin.HandlerFunc {
	l := log.Logger.With().Str("component", "auth").Logger()

	return func(c *gin.Context) {
		if cfg == nil || (cfg.Token == "" && (cfg.Username == "" || cfg.Password == "")) {
			c.Next()
			return
		}

		if cfg.Token != "" && equal(c.Query("token"), cfg.Token) {
			c.Next()
			return
		}

		if cfg.Username != "" && cfg.Password != "" {
			u, p, ok := c.Request.BasicAuth()
			if ok && equal(u, cfg.Username) && equal(p, cfg.Password) {
				c.Next()
				return
			}
		}

		l.Warn().Str("remote", c.ClientIP()).Str("path", c.Request.URL.Path).Msg("authentication failed")
		c.AbortWithStatusJSON(http.StatusUnauthorized, Error{Error: "Invalid authentication"})
	}
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
