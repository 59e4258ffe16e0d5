package hub

import (
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hollowgrid/reverb/internal/config"
	"github.com/hollowgrid/reverb/internal/domain"
)

// ClientTokenMiddleware assigns a stable per-browser token. It is the
// identity fallback for deployments that run the hub without the auth
// layer in front: the reverse proxy normally injects X-User-ID after
// validating the access token, which is out of scope here.
func ClientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter builds the hub's HTTP surface: the WebSocket endpoint plus
// a health probe. The REST/CRUD API mounts elsewhere.
func SetupRouter(cfg *config.Config, h *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Hub.Secret))
	r.Use(sessions.Sessions("ReverbSessions", store))
	r.Use(ClientTokenMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	r.GET("/ws", func(c *gin.Context) {
		userID := c.GetHeader("X-User-ID")
		if userID == "" {
			userID = c.GetString("client_token")
		}
		log.Info().Str("module", "hub").Str("user_id", userID).Msg("ws endpoint hit")
		h.ServeWS(c.Writer, c.Request, domain.UserID(userID))
	})

	return r
}
