// Package http wires the REST and WebSocket surfaces.
package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stagehall/stagehall/internal/adapters/ws"
	"github.com/stagehall/stagehall/internal/auth"
	"github.com/stagehall/stagehall/internal/config"
)

const identityKey = "identity"

// AuthRequired validates the bearer token and stores the identity on
// the request context.
func AuthRequired(verifier *auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		identity, err := verifier.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func identityFrom(c *gin.Context) auth.Identity {
	v, _ := c.Get(identityKey)
	id, _ := v.(auth.Identity)
	return id
}

func SetupRouter(ctx context.Context, cfg *config.Config, wsCtl *ws.Controller, h *Handlers) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/ws", func(c *gin.Context) {
		wsCtl.Handle(ctx, c)
	})

	authed := r.Group("/", AuthRequired(h.Verifier))
	authed.POST("/events/:id/attachments", h.UploadAttachment)
	authed.GET("/events/:id/attachments/:name", h.DownloadAttachment)
	authed.POST("/events/:id/livestream/start", h.StartLivestream)
	authed.POST("/events/:id/livestream/stop", h.StopLivestream)
	authed.GET("/events/:id/livestream", h.LivestreamStatus)
	authed.POST("/events/:id/end", h.EndEvent)
	authed.GET("/rooms", h.ListRooms)

	return r
}
