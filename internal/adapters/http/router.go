package http

import (
	"context"

	"github.com/dkeye/VoiceChat/internal/adapters/signal"
	"github.com/dkeye/VoiceChat/internal/config"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

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

func newEngine(cfg *config.Config) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	return r
}

func serveStatic(r *gin.Engine, path string) {
	r.Static("/static", path)
	r.GET("/", func(c *gin.Context) {
		c.File(path + "/index.html")
	})
}

// SetupRouter builds the admission backend.
func SetupRouter(cfg *config.Config, b *Backend) *gin.Engine {
	r := newEngine(cfg)

	store := cookie.NewStore([]byte(cfg.Secret))
	store.Options(sessions.Options{Path: "/", MaxAge: int(cfg.LeaseTTL.Seconds()), HttpOnly: true})
	r.Use(sessions.Sessions("VoiceSessions", store))
	r.Use(ClientTokenMiddleware())

	serveStatic(r, cfg.StaticPath)

	r.POST("/token", b.handleToken)
	r.POST("/end", b.handleEnd)
	r.GET("/prompt", b.handlePrompt)
	r.GET("/health", handleHealth)

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Int("max_sessions", b.Gate.Max()).Msg("router setup")
	return r
}

// SetupControlRouter builds the client's local control surface.
func SetupControlRouter(ctx context.Context, cfg *config.Config, ctl *signal.ControlWSController) *gin.Engine {
	r := newEngine(cfg)
	r.Use(ClientTokenMiddleware())
	serveStatic(r, cfg.StaticPath)

	r.GET("/health", handleHealth)
	r.GET("/api/ws/control", func(c *gin.Context) {
		log.Info().Str("module", "adapters.http").Str("sid", c.GetString("client_token")).Msg("ws control endpoint hit")
		ctl.HandleControl(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Str("static", cfg.StaticPath).Msg("control router setup")
	return r
}
