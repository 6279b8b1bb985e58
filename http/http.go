package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/linkarr/config"
)

const requestIDHeader = "X-Request-ID"

// New builds the webhook receiver. j may be nil when the history is disabled.
func New(m Monitor, j Journal, auth *config.Auth, version string) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.ErrorLogger())
	r.Use(RequestID())
	r.Use(Logger())

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "online",
			"info":    "linkarr webhook receiver",
			"version": version,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", Auth(auth))
	{
		api.POST("/", apiWebhookHandler(m, j, ""))
		api.POST("/webhook", apiWebhookHandler(m, j, ""))
		api.POST("/webhook/radarr", apiWebhookHandler(m, j, sourceRadarr))
		api.POST("/webhook/sonarr", apiWebhookHandler(m, j, sourceSonarr))

		api.GET("/status", apiStatusHandler(m))
		api.GET("/torrent/:hash", apiTorrentHandler(m))

		api.GET("/history", apiHistoryHandler(j))
		api.GET("/history/latest", apiLatestWebhookHandler(j))
	}

	return r
}

// RequestID reuses the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func Logger() gin.HandlerFunc {
	l := log.Logger.With().Str("component", "http").Logger()
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		q := c.Request.URL.Query()
		q.Del("token")
		raw := q.Encode()
		c.Next()
		if raw != "" {
			path = path + "?" + raw
		}
		msg := c.Errors.String()
		if msg == "" {
			msg = "Request"
		}

		s := c.Writer.Status()
		e := l.Debug()
		switch {
		case s >= 400 && s < 500:
			e = l.Warn()
		case s >= 500:
			e = l.Error()
		}

		e.Str("path", path).
			Str("method", c.Request.Method).
			Str("request_id", c.GetString("request_id")).
			Int("status", s).
			Msg(msg)
	}
}
