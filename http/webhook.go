package http

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"regexp"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jkaberg/linkarr/media"
	"github.com/jkaberg/linkarr/torrent"
	"github.com/jkaberg/linkarr/torrent/store"
)

// Monitor is the download monitor as seen by the webhook handlers.
type Monitor interface {
	AcceptGrab(ctx context.Context, ev *media.Event) bool
	AcceptCompletion(ev *media.Event) bool
	AcceptDeletion(ctx context.Context, ev *media.Event) bool
	ListActiveSessions(ctx context.Context) map[string]*torrent.SessionSummary
	GetSessionOrRecord(ctx context.Context, id string) *torrent.DownloadView
}

// Journal records raw webhook payloads. It may be nil.
type Journal interface {
	Append(source string, payload []byte) (*store.Entry, error)
	Latest(limit int) ([]*store.Entry, error)
}

const (
	maxPayloadSize      = 1 << 20
	defaultHistoryLimit = 50
)

var nonHex = regexp.MustCompile(`[^0-9a-fA-F]`)

var apiWebhookHandler = func(m Monitor, j Journal, source string) gin.HandlerFunc {
	l := log.Logger.With().Str("component", "webhook").Logger()

	return func(ctx *gin.Context) {
		mt, _, _ := mime.ParseMediaType(ctx.GetHeader("Content-Type"))
		if mt != "application/json" {
			l.Warn().Str("remote", ctx.ClientIP()).Msg("non-json webhook request")
			ctx.JSON(http.StatusBadRequest, Error{Error: "JSON content expected"})
			return
		}

		body, err := io.ReadAll(io.LimitReader(ctx.Request.Body, maxPayloadSize))
		if err != nil {
			ctx.AbortWithError(http.StatusBadRequest, err)
			return
		}

		p, err := parsePayload(body)
		if err != nil {
			l.Warn().Err(err).Msg("invalid webhook payload")
			ctx.JSON(http.StatusBadRequest, Error{Error: "JSON content expected"})
			return
		}

		src := source
		if src == "" {
			src = p.detectSource()
		}

		if j != nil {
			if _, err := j.Append(src, body); err != nil {
				l.Warn().Err(err).Msg("error saving webhook to history")
			}
		}

		torrent.WebhookEvents.WithLabelValues(sourceLabel(src), p.EventType).Inc()

		ev := p.event(src)
		l.Debug().Str("source", src).Str("event", ev.String()).Msg("webhook received")

		msg, ok := dispatch(ctx.Request.Context(), m, src, ev, l)
		status := "success"
		if !ok {
			status = "warning"
		}

		ctx.JSON(http.StatusOK, Result{Status: status, Message: msg})
	}
}

func dispatch(ctx context.Context, m Monitor, source string, ev *media.Event, l zerolog.Logger) (string, bool) {
	app := appName(source)
	title := ev.Title()

	switch ev.Kind {
	case media.KindTest:
		l.Info().Str("source", source).Msg("test webhook received")
		return "Test webhook received successfully!", true

	case media.KindGrab:
		if m.AcceptGrab(ctx, ev) {
			msg := fmt.Sprintf("'%s' scheduled for download. Monitoring for hardlinking.", title)
			l.Info().Str("source", source).Msg(msg)
			return msg, true
		}
		msg := fmt.Sprintf("'%s' scheduled for download, but monitoring could not be started.", title)
		l.Warn().Str("source", source).Msg(msg)
		return msg, false

	case media.KindDownload:
		m.AcceptCompletion(ev)
		kind := "new download"
		if ev.Upgrade {
			kind = "upgrade"
		}
		msg := fmt.Sprintf("'%s' downloaded (%s)", title, kind)
		l.Info().Str("source", source).Msg(msg)
		return msg, true

	case media.KindDelete:
		if m.AcceptDeletion(ctx, ev) {
			msg := fmt.Sprintf("'%s' deleted, downloads removed", title)
			l.Info().Str("source", source).Msg(msg)
			return msg, true
		}
		msg := fmt.Sprintf("'%s' deleted, no downloads removed", title)
		l.Warn().Str("source", source).Msg(msg)
		return msg, false

	case media.KindRename:
		msg := fmt.Sprintf("'%s' renamed", title)
		l.Info().Str("source", source).Msg(msg)
		return msg, true
	}

	l.Warn().Str("source", source).Str("event", ev.Name).Msg("unknown event type")
	return fmt.Sprintf("Unknown %s event: %s", app, ev.Name), false
}

var apiStatusHandler = func(m Monitor) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{
			"active_downloads": m.ListActiveSessions(ctx.Request.Context()),
		})
	}
}

var apiTorrentHandler = func(m Monitor) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		hash := nonHex.ReplaceAllString(ctx.Param("hash"), "")
		if hash == "" {
			ctx.JSON(http.StatusBadRequest, Error{Error: "Invalid torrent hash"})
			return
		}

		ctx.JSON(http.StatusOK, gin.H{
			"torrent_hash": hash,
			"result":       m.GetSessionOrRecord(ctx.Request.Context(), hash),
		})
	}
}

var apiHistoryHandler = func(j Journal) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if j == nil {
			ctx.JSON(http.StatusNotFound, Error{Error: "webhook history disabled"})
			return
		}

		limit := defaultHistoryLimit
		if v := ctx.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				ctx.JSON(http.StatusBadRequest, Error{Error: "invalid limit"})
				return
			}
			limit = n
		}

		entries, err := j.Latest(limit)
		if err != nil {
			ctx.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if entries == nil {
			entries = []*store.Entry{}
		}

		ctx.JSON(http.StatusOK, entries)
	}
}

var apiLatestWebhookHandler = func(j Journal) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		if j == nil {
			ctx.JSON(http.StatusNotFound, Error{Error: "webhook history disabled"})
			return
		}

		entries, err := j.Latest(1)
		if err != nil {
			ctx.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		if len(entries) == 0 {
			ctx.JSON(http.StatusNotFound, Error{Error: "no webhook received yet"})
			return
		}

		ctx.JSON(http.StatusOK, entries[0])
	}
}

func appName(source string) string {
	switch source {
	case sourceRadarr:
		return "Radarr"
	case sourceSonarr:
		return "Sonarr"
	}
	return "webhook"
}

func sourceLabel(source string) string {
	if source == "" {
		return "unknown"
	}
	return source
}
