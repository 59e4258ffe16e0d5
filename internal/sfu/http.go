package sfu

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/config"
	"github.com/hollowgrid/reverb/internal/domain"
)

// Internal API request bodies (hub → SFU).
type joinRequest struct {
	UserID domain.UserID `json:"user_id" binding:"required"`
}

type signalRequest struct {
	UserID domain.UserID `json:"user_id" binding:"required"`
	Signal Signal        `json:"signal" binding:"required"`
}

type leaveRequest struct {
	UserID domain.UserID `json:"user_id" binding:"required"`
}

// SetupRouter builds the SFU node's internal HTTP API. The hub is the
// only intended caller; this listener is not exposed externally.
func SetupRouter(cfg *config.Config, m *Manager) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true, "rooms": m.RoomCount()})
	})

	rooms := r.Group("/rooms")
	rooms.POST("/:channel/join", func(c *gin.Context) {
		var req joinRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		channel := domain.ChannelID(c.Param("channel"))

		info, err := m.Join(channel, req.UserID)
		if err != nil {
			log.Error().Str("module", "sfu.http").
				Str("channel_id", string(channel)).
				Str("user_id", string(req.UserID)).
				Err(err).Msg("join failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
			return
		}
		c.JSON(http.StatusOK, info)
	})

	rooms.POST("/:channel/signal", func(c *gin.Context) {
		var req signalRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and signal required"})
			return
		}
		channel := domain.ChannelID(c.Param("channel"))

		resp, err := m.Signal(channel, req.UserID, req.Signal)
		if err != nil {
			if IsNotFound(err) {
				log.Warn().Str("module", "sfu.http").
					Str("channel_id", string(channel)).
					Str("user_id", string(req.UserID)).
					Str("type", string(req.Signal.Type)).
					Err(err).Msg("signal target not found")
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Error().Str("module", "sfu.http").
				Str("channel_id", string(channel)).
				Str("user_id", string(req.UserID)).
				Str("type", string(req.Signal.Type)).
				Err(err).Msg("signal failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "signal failed"})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	rooms.DELETE("/:channel/leave", func(c *gin.Context) {
		var req leaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user_id required"})
			return
		}
		m.Leave(domain.ChannelID(c.Param("channel")), req.UserID)
		c.Status(http.StatusNoContent)
	})

	return r
}
